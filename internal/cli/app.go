package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ppiankov/rentscout/internal/auth"
	"github.com/ppiankov/rentscout/internal/config"
	"github.com/ppiankov/rentscout/internal/ingest"
	"github.com/ppiankov/rentscout/internal/logging"
	"github.com/ppiankov/rentscout/internal/photo"
	"github.com/ppiankov/rentscout/internal/privacy"
	"github.com/ppiankov/rentscout/internal/store"
	"github.com/ppiankov/rentscout/internal/telegram"
)

// transport bundles the Telegram capabilities the app needs.
type transport struct {
	primary telegram.Primary
	dialer  telegram.Dialer
	linker  telegram.Linker
}

// openTransport connects the primary account. Tests replace it.
var openTransport = func(ctx context.Context, cfg *config.Config) (*transport, error) {
	if err := cfg.RequireTelegram(); err != nil {
		return nil, err
	}
	mt, err := telegram.NewMTProto(cfg.Telegram.APIID, cfg.Telegram.APIHash)
	if err != nil {
		return nil, err
	}
	acct, err := mt.Account(cfg.Telegram.SessionPath)
	if err != nil {
		return nil, err
	}
	if err := acct.Start(ctx); err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return &transport{primary: acct, dialer: mt, linker: mt}, nil
}

// loadConfig reads the config and builds the logger it describes.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logging.New(logging.Options{Level: level, Format: cfg.Log.Format, Writer: os.Stderr})
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, log, nil
}

// app is the wired core shared by serve, fetch and login.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	journal *store.Store
	tr      *transport
	auth    *auth.Manager
	photos  *photo.Cache
	ingest  *ingest.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.journal, err = store.Open(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if a.tr, err = openTransport(ctx, cfg); err != nil {
		return nil, err
	}
	a.auth, err = auth.New(a.tr.primary, a.tr.linker, auth.Options{
		LinkTimeout: cfg.Auth.LinkTimeout.Duration,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	var mirror photo.Mirror
	if s3 := cfg.Photos.S3; s3.Enabled() {
		m, err := photo.NewS3Mirror(ctx, photo.S3Config{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKey,
			SecretAccessKey: s3.SecretKey,
			PublicBaseURL:   s3.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init photo mirror: %w", err)
		}
		mirror = m
	}
	a.photos, err = photo.New(a.tr.primary, photo.Options{
		Dir:       cfg.Photos.Dir,
		URLPrefix: cfg.Photos.URLPrefix,
		Mirror:    mirror,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	var redactor *privacy.Redactor
	if cfg.Privacy.Redact.Enabled {
		if redactor, err = privacy.Compile(cfg.Privacy.Redact.Patterns); err != nil {
			return nil, fmt.Errorf("privacy.redact: %w", err)
		}
	}

	a.ingest, err = ingest.NewOrchestrator(ingest.NewFetcher(a.tr.dialer, ingest.FetcherOptions{Logger: log}), a.auth, ingest.Options{
		TTL:         cfg.Fetch.CacheTTL.Duration,
		MaxParallel: cfg.Fetch.MaxParallel,
		Photos:      a.photos,
		Journal:     a.journal,
		Redactor:    redactor,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.auth != nil {
		a.auth.Close()
	}
	if a.tr != nil {
		if err := a.tr.primary.Close(); err != nil {
			a.log.Warn("close telegram session", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("close journal", "error", err)
		}
	}
}

// notLinked adds a hint to authorization failures.
func notLinked(err error) error {
	if errors.Is(err, auth.ErrNotAuthorized) {
		return fmt.Errorf("%w (run 'rentscout login' first)", err)
	}
	return err
}
