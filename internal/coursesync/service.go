// Package coursesync is the entry point for every administrator-facing
// operation: connection test, listing, manual sync, omission management,
// orphan cleanup and the scheduled run. Each operation returns a result or
// an *Error with a display-safe message; panics are recovered.
package coursesync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lms-course-sync/internal/catalog"
	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/importer"
	"lms-course-sync/internal/logging"
	"lms-course-sync/internal/metrics"
	"lms-course-sync/internal/progress"
	"lms-course-sync/internal/providers"
	"lms-course-sync/internal/providers/canvas"
	"lms-course-sync/internal/scheduler"
	"lms-course-sync/internal/store"
	"lms-course-sync/internal/sync"
)

type Limits struct {
	PageSize         int
	ManualBatchLimit int
	CleanupBatch     int
}

func DefaultLimits() Limits {
	return Limits{PageSize: 100, ManualBatchLimit: 20, CleanupBatch: 100}
}

type Deps struct {
	Remote    providers.CourseSource
	Store     *store.Store
	Validator *catalog.Validator
	Engine    *sync.Engine
	Importer  *importer.Importer
	Progress  *progress.Reporter
	Pipeline  *scheduler.Pipeline
	// Scheduler is optional; without it SetAutoSync only persists the flag.
	Scheduler *scheduler.Scheduler
	Limits    Limits
	Log       zerolog.Logger
}

type Service struct {
	remote    providers.CourseSource
	store     *store.Store
	validator *catalog.Validator
	engine    *sync.Engine
	importer  *importer.Importer
	progress  *progress.Reporter
	pipeline  *scheduler.Pipeline
	scheduler *scheduler.Scheduler
	limits    Limits
	log       zerolog.Logger
}

func New(d Deps) *Service {
	def := DefaultLimits()
	if d.Limits.PageSize <= 0 {
		d.Limits.PageSize = def.PageSize
	}
	if d.Limits.ManualBatchLimit <= 0 {
		d.Limits.ManualBatchLimit = def.ManualBatchLimit
	}
	if d.Limits.CleanupBatch <= 0 {
		d.Limits.CleanupBatch = def.CleanupBatch
	}
	return &Service{
		remote:    d.Remote,
		store:     d.Store,
		validator: d.Validator,
		engine:    d.Engine,
		importer:  d.Importer,
		progress:  d.Progress,
		pipeline:  d.Pipeline,
		scheduler: d.Scheduler,
		limits:    d.Limits,
		log:       d.Log.With().Str("component", "coursesync").Logger(),
	}
}

// guard turns a panic in op into a generic *Error.
func (s *Service) guard(op string, err *error) {
	if r := recover(); r != nil {
		s.log.Error().Str("op", op).Interface("panic", r).Msg("operation crashed")
		*err = &Error{Op: op, Message: "An unexpected error occurred. Check the sync log for details.", cause: fmt.Errorf("panic: %v", r)}
	}
}

func (s *Service) fail(op string, cause error, msg string) *Error {
	s.log.Error().Err(cause).Str("op", op).Msg(msg)
	return &Error{Op: op, Message: msg, cause: cause}
}

type ConnectionResult struct {
	Message string `json:"message"`
	User    string `json:"user,omitempty"`
}

func (s *Service) TestConnection(ctx context.Context) (res ConnectionResult, err error) {
	const op = "test_connection"
	defer s.guard(op, &err)

	user, err := s.remote.TestConnection(ctx)
	if err != nil {
		return ConnectionResult{}, s.fail(op, err, remoteMessage(err))
	}
	return ConnectionResult{Message: "Connection successful.", User: user}, nil
}

type CourseList struct {
	Courses []domain.AnnotatedCourse `json:"courses"`
	Counts  sync.StatusCounts        `json:"counts"`
	// Warning is set when only part of the listing could be fetched or
	// the approved catalog was empty.
	Warning string `json:"warning,omitempty"`
}

// GetCourses fetches the remote listing, validates it against the approved
// catalog (auto-omitting unapproved courses) and labels every course.
// refresh drops the cached catalog first.
func (s *Service) GetCourses(ctx context.Context, refresh bool) (res CourseList, err error) {
	const op = "get_courses"
	defer s.guard(op, &err)

	if refresh {
		if err := s.validator.Invalidate(ctx); err != nil {
			s.log.Warn().Err(err).Msg("catalog cache not invalidated")
		}
	}

	courses, err := s.remote.ListCourses(ctx, s.limits.PageSize)
	if err != nil {
		if !canvas.IsDataError(err) || len(courses) == 0 {
			return CourseList{}, s.fail(op, err, remoteMessage(err))
		}
		s.log.Warn().Err(err).Int("courses", len(courses)).Msg("course listing is partial")
		res.Warning = fmt.Sprintf("Only %d courses could be loaded; a later page was malformed.", len(courses))
	}

	vres, err := s.validator.Validate(ctx, courses)
	if err != nil {
		s.log.Error().Err(err).Msg("catalog validation could not persist omissions")
	}
	if vres.AllowListEmpty && len(courses) > 0 {
		res.Warning = joinWarning(res.Warning, remoteMessage(catalog.ErrAllowListEmpty)+" Every course was omitted.")
	}

	annotated, err := s.engine.Classify(ctx, courses)
	if err != nil {
		return CourseList{}, s.fail(op, err, "Could not compare courses against the local site.")
	}
	if annotated == nil {
		annotated = []domain.AnnotatedCourse{}
	}
	res.Courses = annotated
	res.Counts = sync.Counts(annotated)
	return res, nil
}

// SyncCourses imports a manual selection. Ids already synced by stable id
// are not handed to the importer; they count as skipped and are listed in
// AlreadySynced with a warning.
func (s *Service) SyncCourses(ctx context.Context, remoteIDs []int64) (sum domain.SyncSummary, err error) {
	const op = "sync_courses"
	defer s.guard(op, &err)

	ids, verr := s.selection(op, remoteIDs)
	if verr != nil {
		return domain.SyncSummary{}, verr
	}
	dupes := len(remoteIDs) - len(ids)

	toImport, already := s.engine.FilterManualSelection(ctx, ids)
	sum = s.importer.ImportCourses(ctx, toImport)

	sum.AlreadySynced = already
	sum.Skipped += len(already) + dupes
	sum.Total += len(already) + dupes
	sum.Message = importer.SummaryMessage(sum)
	if len(already) > 0 {
		sum.Warning = fmt.Sprintf("%d selected course(s) were already synced and were skipped.", len(already))
		s.log.Warn().Ints64("remote_ids", already).Msg("manual sync selection included synced courses")
	}
	if dupes > 0 {
		sum.Warning = joinWarning(sum.Warning, fmt.Sprintf("%d duplicate selection(s) were skipped.", dupes))
	}
	return sum, nil
}

func joinWarning(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// selection validates and de-duplicates a manual id list. Duplicates are
// dropped here and counted as skipped by the caller.
func (s *Service) selection(op string, remoteIDs []int64) ([]int64, *Error) {
	if len(remoteIDs) == 0 {
		return nil, invalid(op, "No courses selected.")
	}
	seen := make(map[int64]bool, len(remoteIDs))
	ids := make([]int64, 0, len(remoteIDs))
	for _, id := range remoteIDs {
		if id <= 0 {
			return nil, invalid(op, fmt.Sprintf("Invalid course id %d.", id))
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > s.limits.ManualBatchLimit {
		return nil, invalid(op, fmt.Sprintf("Select at most %d courses per sync (got %d).", s.limits.ManualBatchLimit, len(ids)))
	}
	return ids, nil
}

// GetSyncStatus never fails; storage trouble reads as idle.
func (s *Service) GetSyncStatus(ctx context.Context) (snap domain.SyncStatusSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("status read crashed")
			snap = domain.IdleSnapshot()
		}
	}()
	snap, err := s.progress.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("sync status unavailable")
		return domain.IdleSnapshot()
	}
	return snap
}

type OmitResult struct {
	Message      string `json:"message"`
	OmittedCount int    `json:"omitted_count"`
	TotalOmitted int    `json:"total_omitted"`
}

func (s *Service) OmitCourses(ctx context.Context, remoteIDs []int64) (res OmitResult, err error) {
	const op = "omit_courses"
	defer s.guard(op, &err)

	if len(remoteIDs) == 0 {
		return OmitResult{}, invalid(op, "No courses selected.")
	}
	for _, id := range remoteIDs {
		if id <= 0 {
			return OmitResult{}, invalid(op, fmt.Sprintf("Invalid course id %d.", id))
		}
	}
	added, total, err := s.store.AddOmitted(ctx, remoteIDs)
	if err != nil {
		return OmitResult{}, s.fail(op, err, "Could not save the omitted course list.")
	}
	s.log.Info().Int("added", added).Int("total", total).Msg("courses omitted")
	return OmitResult{
		Message:      fmt.Sprintf("%d course(s) omitted from sync.", added),
		OmittedCount: added,
		TotalOmitted: total,
	}, nil
}

type RestoreResult struct {
	Message       string `json:"message"`
	RestoredCount int    `json:"restored_count"`
}

func (s *Service) RestoreOmitted(ctx context.Context) (res RestoreResult, err error) {
	const op = "restore_omitted"
	defer s.guard(op, &err)

	n, err := s.store.ClearOmitted(ctx)
	if err != nil {
		return RestoreResult{}, s.fail(op, err, "Could not restore omitted courses.")
	}
	s.log.Info().Int("restored", n).Msg("omitted courses restored")
	return RestoreResult{
		Message:       fmt.Sprintf("%d omitted course(s) restored.", n),
		RestoredCount: n,
	}, nil
}

type CleanupResult struct {
	Message string               `json:"message"`
	Checked int                  `json:"checked"`
	Updated int                  `json:"updated"`
	Details []store.OrphanDetail `json:"details"`
}

func (s *Service) CleanupOrphaned(ctx context.Context) (res CleanupResult, err error) {
	const op = "cleanup_orphaned"
	defer s.guard(op, &err)

	r, err := s.store.CleanupOrphaned(ctx, s.limits.CleanupBatch)
	if err != nil {
		return CleanupResult{}, s.fail(op, err, "Could not clean up tracking records.")
	}
	for _, d := range r.Details {
		metrics.OrphansDemoted.WithLabelValues(d.Reason).Inc()
	}
	msg := fmt.Sprintf("Checked %d tracking record(s); %d orphaned record(s) marked available.", r.Checked, r.Updated)
	if r.Updated > 0 {
		s.log.Info().Int("checked", r.Checked).Int("updated", r.Updated).Msg("orphaned tracking records cleaned")
	}
	return CleanupResult{Message: msg, Checked: r.Checked, Updated: r.Updated, Details: r.Details}, nil
}

// RunScheduledSync runs the unattended pipeline once.
func (s *Service) RunScheduledSync(ctx context.Context) bool {
	return s.pipeline.Run(ctx)
}

type AutoSyncResult struct {
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"next_run,omitempty"`
	Message string     `json:"message"`
}

func (s *Service) SetAutoSync(ctx context.Context, enabled bool) (res AutoSyncResult, err error) {
	const op = "set_auto_sync"
	defer s.guard(op, &err)

	if s.scheduler != nil {
		err = s.scheduler.Set(ctx, enabled)
	} else {
		err = s.store.SetBool(ctx, store.OptAutoSyncEnabled, enabled)
	}
	if err != nil {
		return AutoSyncResult{}, s.fail(op, err, "Could not change the automatic sync setting.")
	}

	res = AutoSyncResult{Enabled: enabled, Message: "Automatic sync disabled."}
	if enabled {
		res.Message = "Automatic sync enabled."
		if s.scheduler != nil {
			if next := s.scheduler.Next(); !next.IsZero() {
				res.NextRun = &next
			}
		}
	}
	return res, nil
}

func (s *Service) RecentLogs(ctx context.Context, n int) (lines []logging.Line, err error) {
	const op = "recent_logs"
	defer s.guard(op, &err)

	if n <= 0 || n > 500 {
		n = 100
	}
	lines, err = s.store.Logs().Recent(ctx, n)
	if err != nil {
		return nil, s.fail(op, err, "Could not read the sync log.")
	}
	if lines == nil {
		lines = []logging.Line{}
	}
	return lines, nil
}

// Ping checks the local store for health probes.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
