// Package sync is the reconciliation engine: it labels remote courses
// against local state and decides what an import run may touch.
package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"lms-course-sync/internal/concurrency"
	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/metrics"
)

// ExistenceChecker answers whether a remote course has a local counterpart.
type ExistenceChecker interface {
	CourseExists(ctx context.Context, remoteID int64, title string) domain.ExistenceResult
}

// OmittedSource reads the omitted set.
type OmittedSource interface {
	OmittedSet(ctx context.Context) (map[int64]struct{}, error)
}

type Engine struct {
	exists  ExistenceChecker
	omitted OmittedSource
	workers int
	log     zerolog.Logger
}

func NewEngine(exists ExistenceChecker, omitted OmittedSource, workers int, log zerolog.Logger) *Engine {
	return &Engine{
		exists:  exists,
		omitted: omitted,
		workers: workers,
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Decide applies the status matrix: omitted, then synced (id linkage), then
// exists (title only), else new.
func Decide(omitted bool, ex domain.ExistenceResult) domain.CourseStatus {
	if omitted {
		return domain.StatusOmitted
	}
	if !ex.Exists {
		return domain.StatusNew
	}
	switch ex.MatchType {
	case domain.MatchTracking, domain.MatchDirectMeta:
		return domain.StatusSynced
	case domain.MatchTitle:
		return domain.StatusExists
	default:
		return domain.StatusNew
	}
}

// Classify labels every course exactly once. Duplicate remote ids keep their
// first occurrence; order is otherwise preserved.
func (e *Engine) Classify(ctx context.Context, courses []domain.RemoteCourse) ([]domain.AnnotatedCourse, error) {
	omitted, err := e.omitted.OmittedSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: read omitted set: %w", err)
	}

	unique := make([]domain.RemoteCourse, 0, len(courses))
	seen := make(map[int64]bool, len(courses))
	for _, c := range courses {
		if seen[c.RemoteID] {
			e.log.Debug().Int64("remote_id", c.RemoteID).Msg("duplicate remote course dropped")
			continue
		}
		seen[c.RemoteID] = true
		unique = append(unique, c)
	}

	out, errs := concurrency.ProcessParallel(ctx, unique, concurrency.ParallelOptions{MaxWorkers: e.workers},
		func(ctx context.Context, _ int, c domain.RemoteCourse) (domain.AnnotatedCourse, error) {
			a := domain.AnnotatedCourse{RemoteCourse: c}
			if _, ok := omitted[c.RemoteID]; ok {
				a.Status = domain.StatusOmitted
				return a, nil
			}
			ex := e.exists.CourseExists(ctx, c.RemoteID, c.Title)
			if ex.Degraded {
				e.log.Warn().Int64("remote_id", c.RemoteID).Msg("existence check degraded, course treated as new")
			}
			a.Status = Decide(false, ex)
			a.LocalID = ex.LocalID
			return a, nil
		})
	if len(errs) > 0 {
		return nil, fmt.Errorf("reconcile: classify: %w", errs[0])
	}

	for _, a := range out {
		metrics.CoursesClassified.WithLabelValues(a.Status.String()).Inc()
	}
	return out, nil
}

// FilterManualSelection splits a user selection into ids to import and ids
// that are already synced by stable id. Duplicates are dropped.
func (e *Engine) FilterManualSelection(ctx context.Context, ids []int64) (toImport, alreadySynced []int64) {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ex := e.exists.CourseExists(ctx, id, "")
		if Decide(false, ex) == domain.StatusSynced {
			alreadySynced = append(alreadySynced, id)
			continue
		}
		toImport = append(toImport, id)
	}
	return toImport, alreadySynced
}

// NewOnly returns the ids of courses labeled new, in order.
func NewOnly(courses []domain.AnnotatedCourse) []int64 {
	var ids []int64
	for _, c := range courses {
		if c.Status == domain.StatusNew {
			ids = append(ids, c.RemoteID)
		}
	}
	return ids
}

// StatusCounts tallies courses per status.
type StatusCounts struct {
	New     int `json:"new"`
	Exists  int `json:"exists"`
	Synced  int `json:"synced"`
	Omitted int `json:"omitted"`
	Total   int `json:"total"`
}

func Counts(courses []domain.AnnotatedCourse) StatusCounts {
	var c StatusCounts
	for _, a := range courses {
		switch a.Status {
		case domain.StatusNew:
			c.New++
		case domain.StatusExists:
			c.Exists++
		case domain.StatusSynced:
			c.Synced++
		case domain.StatusOmitted:
			c.Omitted++
		}
		c.Total++
	}
	return c
}
