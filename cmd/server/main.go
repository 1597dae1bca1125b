// Command server runs the course sync HTTP API and the auto-sync schedule.
//
// Configuration comes from config.yaml (or $COURSESYNC_CONFIG) and the
// environment; see internal/config for the variable names.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lms-course-sync/internal/api"
	"lms-course-sync/internal/app"
	"lms-course-sync/internal/config"
)

const (
	logFlushInterval = 5 * time.Second
	logRetention     = 30 * 24 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.Build(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "shutdown:", err)
		}
	}()
	log := a.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.HasCanvasCredentials() {
		log.Warn().Msg("canvas domain or token not configured; listing and sync will fail until set")
	}

	on, err := a.Scheduler.Reconcile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read auto-sync flag, leaving schedule off")
	}
	a.Scheduler.Start()
	log.Info().Bool("auto_sync", on).Time("next_run", a.Scheduler.Next()).Msg("scheduler ready")

	go maintainLogs(ctx, a)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewHandler(a.Service, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	return nil
}

// maintainLogs flushes buffered log lines and prunes old ones until ctx ends.
func maintainLogs(ctx context.Context, a *app.App) {
	flush := time.NewTicker(logFlushInterval)
	defer flush.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			if err := a.FlushLogs(); err != nil {
				fmt.Fprintln(os.Stderr, "flush sync log:", err)
			}
		case <-prune.C:
			n, err := a.Store.Logs().Prune(ctx, time.Now().Add(-logRetention))
			if err != nil {
				a.Log.Error().Err(err).Msg("prune sync log")
				continue
			}
			if n > 0 {
				a.Log.Info().Int64("removed", n).Msg("pruned sync log")
			}
		}
	}
}
