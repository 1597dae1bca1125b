// Package progress publishes the state of an in-flight import run so that
// pollers can observe it. Only one run is tracked; the last writer wins.
package progress

import (
	"context"
	"fmt"
	"time"

	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/kvstore"
)

const statusKey = "sync:status"

// DefaultTTL bounds how long a snapshot survives a crashed run.
const DefaultTTL = 10 * time.Minute

type Reporter struct {
	kv  *kvstore.Store
	ttl time.Duration
	now func() time.Time
}

func NewReporter(kv *kvstore.Store, ttl time.Duration) *Reporter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reporter{kv: kv, ttl: ttl, now: time.Now}
}

// Start publishes the initial snapshot of a run over total courses.
func (r *Reporter) Start(ctx context.Context, runID string, total int) error {
	return r.Update(ctx, domain.SyncStatusSnapshot{
		RunID:   runID,
		Running: true,
		Message: fmt.Sprintf("Starting import of %d courses", total),
		Total:   total,
	})
}

// Update overwrites the current snapshot and refreshes its expiry.
func (r *Reporter) Update(ctx context.Context, s domain.SyncStatusSnapshot) error {
	s.UpdatedAt = r.now().UTC()
	return r.kv.Set(ctx, statusKey, s, r.ttl)
}

// Clear removes the snapshot; subsequent reads report idle.
func (r *Reporter) Clear(ctx context.Context) error {
	return r.kv.Delete(ctx, statusKey)
}

// Get returns the current snapshot, or the idle snapshot when none exists.
func (r *Reporter) Get(ctx context.Context) (domain.SyncStatusSnapshot, error) {
	var s domain.SyncStatusSnapshot
	ok, err := r.kv.Get(ctx, statusKey, &s)
	if err != nil {
		return domain.IdleSnapshot(), err
	}
	if !ok {
		return domain.IdleSnapshot(), nil
	}
	return s, nil
}
