// Package importer materializes approved remote courses as local content.
//
// Each course moves through a small state machine:
//
//	pending -> detail_fetched -> content_prepared -> persisted -> media_attached -> done
//
// and drops to failed at any step. A failed course is tallied and the batch
// moves on; one course never aborts the run.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/mappers"
	"lms-course-sync/internal/metrics"
	"lms-course-sync/internal/providers"
	"lms-course-sync/internal/store"
)

type Stage string

const (
	StagePending         Stage = "pending"
	StageDetailFetched   Stage = "detail_fetched"
	StageContentPrepared Stage = "content_prepared"
	StagePersisted       Stage = "persisted"
	StageMediaAttached   Stage = "media_attached"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

// Outcome labels, also used as metric label values.
const (
	OutcomeImported = "imported"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// CourseStore is the tracking store surface used during import.
type CourseStore interface {
	CourseExists(ctx context.Context, remoteID int64, title string) domain.ExistenceResult
	CreateWithTransaction(ctx context.Context, c domain.LocalCourse) (store.CreateResult, error)
}

type MediaAttacher interface {
	Attach(ctx context.Context, localID, remoteID int64, imageURL string) (string, error)
}

// StatusReporter receives progress snapshots while a run is in flight.
type StatusReporter interface {
	Start(ctx context.Context, runID string, total int) error
	Update(ctx context.Context, s domain.SyncStatusSnapshot) error
	Clear(ctx context.Context) error
}

type Options struct {
	Media  MediaAttacher
	Status StatusReporter
	// Source is recorded on every imported item. Default "canvas".
	Source string
	Log    zerolog.Logger
}

type Importer struct {
	remote providers.CourseDetailer
	store  CourseStore
	media  MediaAttacher
	status StatusReporter
	source string
	log    zerolog.Logger
	now    func() time.Time
}

func New(remote providers.CourseDetailer, st CourseStore, opts Options) *Importer {
	if opts.Source == "" {
		opts.Source = "canvas"
	}
	return &Importer{
		remote: remote,
		store:  st,
		media:  opts.Media,
		status: opts.Status,
		source: opts.Source,
		log:    opts.Log.With().Str("component", "importer").Logger(),
		now:    time.Now,
	}
}

// courseResult is the final state of one course.
type courseResult struct {
	stage   Stage
	outcome string
	course  domain.ImportedCourse
	reason  string
	err     error
}

// ImportCourses imports remoteIDs in order. The returned summary always
// satisfies Imported+Skipped+Errors == Total, including when ctx is
// canceled mid-batch: courses not yet started count as errors.
func (im *Importer) ImportCourses(ctx context.Context, remoteIDs []int64) domain.SyncSummary {
	sum := domain.SyncSummary{
		RunID: uuid.NewString(),
		Total: len(remoteIDs),
	}
	log := im.log.With().Str("run_id", sum.RunID).Logger()
	if sum.Total == 0 {
		sum.Message = "No courses selected for import"
		return sum
	}

	start := time.Now()
	defer func() { metrics.ImportRunDuration.Observe(time.Since(start).Seconds()) }()

	im.report(ctx, log, func(ctx context.Context) error { return im.status.Start(ctx, sum.RunID, sum.Total) })
	defer im.report(context.WithoutCancel(ctx), log, im.clearStatus)

	log.Info().Int("total", sum.Total).Msg("import run started")

	for i, id := range remoteIDs {
		if err := ctx.Err(); err != nil {
			rest := sum.Total - i
			sum.Errors += rest
			for range rest {
				metrics.RecordImport(OutcomeError)
			}
			log.Error().Err(err).Int("remaining", rest).Msg("import run interrupted")
			break
		}

		im.snapshot(ctx, log, sum, i, fmt.Sprintf("Importing course %d (%d of %d)", id, i+1, sum.Total))

		res := im.importOne(ctx, id)
		switch res.outcome {
		case OutcomeImported:
			sum.Imported++
			sum.Courses = append(sum.Courses, res.course)
			log.Info().Int64("remote_id", id).Int64("local_id", res.course.LocalID).Str("title", res.course.Title).Msg("course imported")
		case OutcomeSkipped:
			sum.Skipped++
			log.Info().Int64("remote_id", id).Str("reason", res.reason).Msg("course skipped")
		default:
			sum.Errors++
			log.Error().Err(res.err).Int64("remote_id", id).Str("stage", string(res.stage)).Msg("course import failed")
		}
		metrics.RecordImport(res.outcome)

		im.snapshot(ctx, log, sum, i+1, fmt.Sprintf("Processed %d of %d courses", i+1, sum.Total))
	}

	sum.Message = SummaryMessage(sum)
	log.Info().
		Int("imported", sum.Imported).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Dur("took", time.Since(start)).
		Msg("import run finished")
	return sum
}

// SummaryMessage is the display line for a finished batch.
func SummaryMessage(sum domain.SyncSummary) string {
	return fmt.Sprintf("Sync complete. Imported: %d, Skipped: %d, Errors: %d", sum.Imported, sum.Skipped, sum.Errors)
}

func (im *Importer) importOne(ctx context.Context, remoteID int64) (res courseResult) {
	res.stage = StagePending
	defer func() {
		if r := recover(); r != nil {
			res.outcome = OutcomeError
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()
	advance := func(s Stage) {
		res.stage = s
		im.log.Debug().Int64("remote_id", remoteID).Str("stage", string(s)).Msg("import stage")
	}
	fail := func(err error) courseResult {
		res.outcome = OutcomeError
		res.err = fmt.Errorf("%s -> %s: %w", res.stage, StageFailed, err)
		return res
	}
	skip := func(reason string) courseResult {
		res.outcome = OutcomeSkipped
		res.reason = reason
		return res
	}

	if remoteID <= 0 {
		return fail(fmt.Errorf("invalid remote id %d", remoteID))
	}
	if ex := im.store.CourseExists(ctx, remoteID, ""); ex.Exists {
		return skip(fmt.Sprintf("already linked to item %d (%s)", ex.LocalID, ex.MatchType))
	}

	rc, err := im.remote.GetCourse(ctx, remoteID)
	if err != nil {
		return fail(fmt.Errorf("fetch detail: %w", err))
	}
	advance(StageDetailFetched)

	if ex := im.store.CourseExists(ctx, remoteID, rc.Title); ex.Exists {
		return skip(fmt.Sprintf("matches item %d by %s", ex.LocalID, ex.MatchType))
	}
	if len(rc.Modules) == 0 {
		mods, err := im.remote.ListModules(ctx, remoteID)
		if err != nil {
			im.log.Warn().Err(err).Int64("remote_id", remoteID).Msg("modules unavailable, using syllabus and description")
		} else {
			rc.Modules = mods
		}
	}

	local := mappers.BuildLocalCourse(rc, im.source, im.now())
	advance(StageContentPrepared)

	created, err := im.store.CreateWithTransaction(ctx, local)
	if errors.Is(err, store.ErrAlreadyExists) {
		return skip(fmt.Sprintf("created concurrently as item %d", created.ExistingLocalID))
	}
	if err != nil {
		return fail(fmt.Errorf("persist: %w", err))
	}
	advance(StagePersisted)
	res.course = domain.ImportedCourse{
		RemoteID: remoteID,
		LocalID:  created.LocalID,
		Title:    local.Title,
		Slug:     created.Slug,
	}

	if im.media != nil && rc.ImageURL != "" {
		if _, err := im.media.Attach(ctx, created.LocalID, remoteID, rc.ImageURL); err != nil {
			im.log.Warn().Err(err).Int64("remote_id", remoteID).Msg("course image not attached")
		}
	}
	advance(StageMediaAttached)
	advance(StageDone)
	res.outcome = OutcomeImported
	return res
}

func (im *Importer) snapshot(ctx context.Context, log zerolog.Logger, sum domain.SyncSummary, processed int, msg string) {
	im.report(ctx, log, func(ctx context.Context) error {
		return im.status.Update(ctx, domain.SyncStatusSnapshot{
			RunID:     sum.RunID,
			Running:   true,
			Message:   msg,
			Processed: processed,
			Total:     sum.Total,
			Imported:  sum.Imported,
			Skipped:   sum.Skipped,
			Errors:    sum.Errors,
		})
	})
}

func (im *Importer) clearStatus(ctx context.Context) error { return im.status.Clear(ctx) }

// report runs a status write; failures only cost observability.
func (im *Importer) report(ctx context.Context, log zerolog.Logger, fn func(context.Context) error) {
	if im.status == nil {
		return
	}
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Msg("progress snapshot not written")
	}
}
