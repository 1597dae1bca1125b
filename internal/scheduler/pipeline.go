package scheduler

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lms-course-sync/internal/catalog"
	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/metrics"
	"lms-course-sync/internal/notify"
	"lms-course-sync/internal/providers"
	"lms-course-sync/internal/providers/canvas"
	"lms-course-sync/internal/sync"
)

var ErrRunInProgress = errors.New("scheduler: a scheduled sync is already running")

type CatalogValidator interface {
	Validate(ctx context.Context, courses []domain.RemoteCourse) (catalog.Result, error)
}

type Classifier interface {
	Classify(ctx context.Context, courses []domain.RemoteCourse) ([]domain.AnnotatedCourse, error)
}

type Importer interface {
	ImportCourses(ctx context.Context, remoteIDs []int64) domain.SyncSummary
}

// Pipeline is one unattended sync: fetch, validate, reconcile, import the
// new courses and notify.
type Pipeline struct {
	Lister    providers.CourseLister
	PageSize  int
	Validator CatalogValidator
	Engine    Classifier
	Importer  Importer
	Notifier  notify.Notifier
	// Recipient resolves the notification address at run time.
	Recipient func(ctx context.Context) string
	SiteURL   string
	Log       zerolog.Logger

	mu stdsync.Mutex
}

// Run executes the pipeline and reports success. It never panics and
// never returns an error; failures are logged.
func (p *Pipeline) Run(ctx context.Context) (ok bool) {
	runID := uuid.NewString()
	log := p.Log.With().Str("component", "scheduled_sync").Str("run_id", runID).Logger()

	defer func() { metrics.RecordScheduledRun(ok) }()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scheduled sync crashed")
			ok = false
		}
	}()

	if !p.mu.TryLock() {
		log.Warn().Err(ErrRunInProgress).Msg("scheduled sync skipped")
		return false
	}
	defer p.mu.Unlock()

	if err := p.run(ctx, log); err != nil {
		log.Error().Err(err).Msg("scheduled sync failed")
		return false
	}
	return true
}

func (p *Pipeline) run(ctx context.Context, log zerolog.Logger) error {
	start := time.Now()
	log.Info().Msg("scheduled sync started")

	courses, err := p.Lister.ListCourses(ctx, p.PageSize)
	if err != nil {
		// A later page failing still leaves usable data.
		if !canvas.IsDataError(err) || len(courses) == 0 {
			return fmt.Errorf("fetch courses: %w", err)
		}
		log.Warn().Err(err).Int("courses", len(courses)).Msg("continuing with a partial course list")
	}
	log.Info().Int("courses", len(courses)).Msg("remote courses fetched")

	res, err := p.Validator.Validate(ctx, courses)
	if err != nil {
		log.Error().Err(err).Msg("catalog validation could not persist omissions")
	}
	if res.AllowListEmpty {
		return catalog.ErrAllowListEmpty
	}
	log.Info().
		Int("validated", len(res.Validated)).
		Int("omitted", len(res.Omitted)).
		Int("newly_omitted", len(res.NewlyOmitted)).
		Msg("catalog validation done")

	annotated, err := p.Engine.Classify(ctx, res.Validated)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	counts := sync.Counts(annotated)
	ids := sync.NewOnly(annotated)
	if len(ids) == 0 {
		log.Info().Int("exists", counts.Exists).Int("synced", counts.Synced).Msg("no new courses to import")
		return nil
	}

	sum := p.Importer.ImportCourses(ctx, ids)
	log.Info().
		Int("imported", sum.Imported).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Dur("took", time.Since(start)).
		Msg("scheduled sync finished")

	p.notify(ctx, log, sum)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, log zerolog.Logger, sum domain.SyncSummary) {
	if p.Notifier == nil || p.Recipient == nil {
		return
	}
	to := p.Recipient(ctx)
	if to == "" {
		log.Warn().Msg("no notification address configured, summary not sent")
		return
	}
	subject, body := notify.Summary(sum, p.SiteURL, time.Now())
	if err := p.Notifier.Send(ctx, to, subject, body); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("summary notification failed")
		return
	}
	log.Info().Str("to", to).Msg("summary notification sent")
}
