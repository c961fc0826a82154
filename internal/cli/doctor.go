package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rentscout/internal/config"
	"github.com/ppiankov/rentscout/internal/privacy"
	"github.com/ppiankov/rentscout/internal/store"
)

// healthWindow is how far back doctor looks for failing channels.
const healthWindow = 7 * 24 * time.Hour

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, session and journal health",
	RunE:  doctorAction,
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%d channels, %d days, cache ttl %s)",
		len(cfg.Telegram.Channels), cfg.Fetch.Days, cfg.Fetch.CacheTTL.Duration)
	if len(cfg.Telegram.Channels) == 0 {
		printInfo("no channels configured; set telegram.channels or %s", cfg.Telegram.ChannelEnv)
	}

	// Telegram credentials
	if err := cfg.RequireTelegram(); err != nil {
		printCheck(false, "%v", err)
		ok = false
	} else {
		printCheck(true, "telegram api credentials")
	}

	// Session
	if info, err := os.Stat(cfg.Telegram.SessionPath); err != nil || info.Size() == 0 {
		printCheck(false, "telegram session %s (run 'rentscout login')", cfg.Telegram.SessionPath)
		ok = false
	} else {
		printCheck(true, "telegram session %s", cfg.Telegram.SessionPath)
	}

	// Journal
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "journal: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "journal %s", cfg.Storage.Path)
	}

	// Photo dir
	if err := os.MkdirAll(cfg.Photos.Dir, 0o755); err != nil {
		printCheck(false, "photo dir: %v", err)
		ok = false
	} else {
		printCheck(true, "photo dir %s", cfg.Photos.Dir)
	}
	if cfg.Photos.S3.Enabled() {
		if cfg.Photos.S3.AccessKey == "" {
			printInfo("s3 mirror %s uses the default AWS credential chain (%s not set)", cfg.Photos.S3.Bucket, cfg.Photos.S3.AccessKeyEnv)
		} else {
			printCheck(true, "s3 mirror %s", cfg.Photos.S3.Bucket)
		}
	}

	// Schedule
	if spec := cfg.Fetch.RefreshCron; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			printCheck(false, "fetch.refresh_cron %q: %v", spec, err)
			ok = false
		} else {
			printCheck(true, "refresh schedule %q", spec)
		}
	}

	// Redaction
	if cfg.Privacy.Redact.Enabled {
		if _, err := privacy.Compile(cfg.Privacy.Redact.Patterns); err != nil {
			printCheck(false, "privacy.redact: %v", err)
			ok = false
		} else {
			printCheck(true, "redaction (%d patterns)", len(cfg.Privacy.Redact.Patterns))
		}
	}

	// Channel health (info-level, non-fatal)
	if db != nil {
		checkChannelHealth(commandContext(cmd), db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkChannelHealth(ctx context.Context, db *store.Store) {
	stats, err := db.GetChannelStats(ctx, time.Now().Add(-healthWindow))
	if err != nil || len(stats) == 0 {
		return
	}

	fmt.Println()
	for _, cs := range stats {
		switch {
		case cs.Failures == cs.Runs:
			printInfo("failing: %s: all %d fetches failed, last error: %s", cs.Channel, cs.Runs, cs.LastError)
		case cs.Listings == 0:
			printInfo("quiet: %s: no listings in %d fetches", cs.Channel, cs.Runs)
		}
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
