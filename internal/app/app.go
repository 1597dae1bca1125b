// Package app assembles the sync components from a loaded configuration.
// The server and the command line tools share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"lms-course-sync/internal/catalog"
	"lms-course-sync/internal/config"
	"lms-course-sync/internal/coursesync"
	"lms-course-sync/internal/importer"
	"lms-course-sync/internal/kvstore"
	"lms-course-sync/internal/logging"
	"lms-course-sync/internal/media"
	"lms-course-sync/internal/notify"
	"lms-course-sync/internal/progress"
	"lms-course-sync/internal/providers/canvas"
	"lms-course-sync/internal/scheduler"
	"lms-course-sync/internal/sftpclient"
	"lms-course-sync/internal/store"
	"lms-course-sync/internal/sync"
)

// App owns every long-lived component. Close releases them in reverse
// order of construction.
type App struct {
	Config    config.Config
	Log       zerolog.Logger
	Store     *store.Store
	KV        *kvstore.Store
	Canvas    *canvas.Client
	Validator *catalog.Validator
	Engine    *sync.Engine
	Importer  *importer.Importer
	Progress  *progress.Reporter
	Pipeline  *scheduler.Pipeline
	Scheduler *scheduler.Scheduler
	Service   *coursesync.Service

	logSink *logging.BufferedWriter
}

// Build opens storage and wires the components. The logger writes to out
// and also persists warnings and above to the log table, readable through
// Service.RecentLogs.
func Build(cfg config.Config, out io.Writer) (*App, error) {
	lc := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: out}
	base := logging.New(lc)

	st, err := store.Open(cfg.Storage.DBPath, base)
	if err != nil {
		return nil, err
	}

	var kv *kvstore.Store
	if cfg.Storage.KVDir == "" {
		kv, err = kvstore.OpenMemory()
	} else {
		kv, err = kvstore.Open(cfg.Storage.KVDir)
	}
	if err != nil {
		st.Close()
		return nil, err
	}

	sink := logging.NewBufferedWriter(st.Logs(), 20, zerolog.WarnLevel)
	a := &App{Config: cfg, Log: logging.New(lc, sink), Store: st, KV: kv, logSink: sink}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config

	a.Canvas = canvas.New(cfg.Canvas.Domain, cfg.Canvas.Token,
		canvas.WithHTTPClient(&http.Client{Timeout: cfg.Canvas.Timeout}),
		canvas.WithMaxPages(cfg.Canvas.MaxPages),
		canvas.WithPageInterval(cfg.Canvas.PageInterval),
		canvas.WithLogger(a.Log),
	)

	a.Validator = catalog.NewValidator(a.Store, catalog.Options{
		SourceURL: cfg.Catalog.URL,
		HTTP:      &http.Client{Timeout: cfg.Catalog.Timeout},
		Cache:     a.KV,
		CacheTTL:  cfg.Catalog.CacheTTL,
		Matcher: catalog.Matcher{
			Threshold:    cfg.Catalog.SimilarityThreshold,
			LengthRatio:  cfg.Catalog.LengthRatio,
			LongTitleMin: cfg.Catalog.LongTitleMin,
		},
		Log: a.Log,
	})

	a.Engine = sync.NewEngine(a.Store, a.Store, cfg.Sync.Workers, a.Log)
	a.Progress = progress.NewReporter(a.KV, cfg.Sync.StatusTTL)

	att, err := a.mediaAttacher()
	if err != nil {
		return err
	}
	a.Importer = importer.New(a.Canvas, a.Store, importer.Options{
		Media:  att,
		Status: a.Progress,
		Log:    a.Log,
	})

	a.Pipeline = &scheduler.Pipeline{
		Lister:    a.Canvas,
		PageSize:  cfg.Canvas.PageSize,
		Validator: a.Validator,
		Engine:    a.Engine,
		Importer:  a.Importer,
		Notifier:  a.notifier(),
		Recipient: a.recipient,
		SiteURL:   cfg.Notify.SiteURL,
		Log:       a.Log,
	}

	a.Scheduler, err = scheduler.New(cfg.Sync.Schedule, a.Pipeline.Run, a.Store, scheduler.Options{
		DefaultEnabled: cfg.Sync.AutoSyncEnabled,
		RunTimeout:     cfg.Sync.RunTimeout,
		Log:            a.Log,
	})
	if err != nil {
		return err
	}

	a.Service = coursesync.New(coursesync.Deps{
		Remote:    a.Canvas,
		Store:     a.Store,
		Validator: a.Validator,
		Engine:    a.Engine,
		Importer:  a.Importer,
		Progress:  a.Progress,
		Pipeline:  a.Pipeline,
		Scheduler: a.Scheduler,
		Limits: coursesync.Limits{
			PageSize:         cfg.Canvas.PageSize,
			ManualBatchLimit: cfg.Sync.ManualBatchLimit,
			CleanupBatch:     cfg.Sync.CleanupBatch,
		},
		Log: a.Log,
	})
	return nil
}

// mediaAttacher picks the image backend. "none" keeps the remote URL.
func (a *App) mediaAttacher() (*media.Attacher, error) {
	cfg := a.Config
	switch cfg.Media.Backend {
	case "sftp":
		up, err := a.SFTP()
		if err != nil {
			return nil, err
		}
		return media.NewAttacher(a.Store, up, cfg.Media.PublicBaseURL, a.Log), nil
	case "dir":
		if cfg.Media.LocalDir == "" {
			return nil, errors.New("app: media.local_dir is required for the dir backend")
		}
		return media.NewAttacher(a.Store, media.DirUploader{Dir: cfg.Media.LocalDir}, cfg.Media.PublicBaseURL, a.Log), nil
	default:
		return media.NewAttacher(a.Store, nil, "", a.Log), nil
	}
}

// SFTP builds an uploader from the sftp section.
func (a *App) SFTP() (*sftpclient.Uploader, error) {
	c := a.Config.SFTP
	up, err := sftpclient.New(sftpclient.Config{
		Host:                  c.Host,
		Port:                  c.Port,
		User:                  c.User,
		Pass:                  c.Pass,
		RemoteDir:             c.Dir,
		KnownHostsPath:        c.KnownHosts,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
	})
	if err != nil {
		return nil, fmt.Errorf("app: sftp: %w", err)
	}
	return up, nil
}

func (a *App) notifier() notify.Notifier {
	n := a.Config.Notify
	if n.SMTPHost == "" {
		return notify.LogNotifier{Log: a.Log}
	}
	smtp, err := notify.NewSMTP(notify.SMTPConfig{
		Host:       n.SMTPHost,
		Port:       n.SMTPPort,
		User:       n.SMTPUser,
		Password:   n.SMTPPassword,
		From:       n.SMTPFrom,
		RequireTLS: n.UseTLS,
	})
	if err != nil {
		a.Log.Warn().Err(err).Msg("smtp notifier disabled, logging notifications instead")
		return notify.LogNotifier{Log: a.Log}
	}
	return smtp
}

// recipient prefers the runtime option over the configured address.
func (a *App) recipient(ctx context.Context) string {
	v, ok, err := a.Store.GetString(ctx, store.OptNotificationEmail)
	if err != nil {
		a.Log.Warn().Err(err).Msg("read notification email option")
	}
	if ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return a.Config.Notify.Email
}

// FlushLogs persists buffered log lines without waiting for a full batch.
func (a *App) FlushLogs() error { return a.logSink.Flush() }

// Close stops the scheduler, flushes buffered log lines and closes storage.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	if a.logSink != nil {
		errs = append(errs, a.logSink.Close())
	}
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
