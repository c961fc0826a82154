package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rentscout/internal/api"
	"github.com/ppiankov/rentscout/internal/schedule"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	ctx := commandContext(cmd)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.Photos.Dir, 0o755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}

	sched, err := schedule.New(a.ingest, schedule.Options{
		Spec:       cfg.Fetch.RefreshCron,
		Channels:   cfg.Telegram.Channels,
		Days:       cfg.Fetch.Days,
		Pruner:     a.journal,
		RetainDays: cfg.Storage.RetainDays,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("fetch.refresh_cron: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	srv := api.NewServer(cfg.Server.Addr, api.NewRouter(api.Options{
		Ingest:          a.ingest,
		Photos:          a.photos,
		Auth:            a.auth,
		DefaultChannels: cfg.Telegram.Channels,
		DefaultDays:     cfg.Fetch.Days,
		AdminToken:      cfg.Auth.AdminToken,
		CORSOrigins:     cfg.Server.CORSOrigins,
		StaticDir:       cfg.Server.StaticDir,
		Logger:          log,
	}))

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "channels", len(cfg.Telegram.Channels))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
