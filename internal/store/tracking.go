package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lms-course-sync/internal/domain"
)

// MetaRemoteID is the metadata key linking a content item to its remote course.
const MetaRemoteID = "_remote_course_id"

// CreateResult reports the outcome of CreateWithTransaction.
type CreateResult struct {
	LocalID         int64
	TrackingID      int64
	Slug            string
	ExistingLocalID int64
}

// OrphanDetail describes one tracking record demoted by CleanupOrphaned.
type OrphanDetail struct {
	TrackingID int64  `json:"tracking_id"`
	RemoteID   int64  `json:"remote_id"`
	LocalID    int64  `json:"local_id"`
	Title      string `json:"title"`
	Reason     string `json:"reason"`
}

type CleanupResult struct {
	Checked int            `json:"checked"`
	Updated int            `json:"updated"`
	Details []OrphanDetail `json:"details"`
}

// CourseExists reports whether a remote course has a live local counterpart.
// Lookup order is tracking record, direct metadata link, then normalized
// title. Storage errors are logged and answered with a degraded "not found".
func (s *Store) CourseExists(ctx context.Context, remoteID int64, title string) domain.ExistenceResult {
	res, err := existsIn(ctx, s.db, remoteID, title)
	if err != nil {
		s.log.Error().Err(err).Int64("remote_id", remoteID).Msg("course existence check failed")
		return domain.ExistenceResult{Degraded: true}
	}
	return res
}

func existsIn(ctx context.Context, q dbtx, remoteID int64, title string) (domain.ExistenceResult, error) {
	var id int64

	if remoteID > 0 {
		err := q.QueryRowContext(ctx,
			`SELECT c.id FROM course_tracking t
			 JOIN content_items c ON c.id = t.local_content_id
			 WHERE t.remote_id = ? AND t.sync_status = ? AND c.status <> ?
			 LIMIT 1`,
			remoteID, string(domain.TrackingSynced), ItemTrash,
		).Scan(&id)
		switch {
		case err == nil:
			return domain.ExistenceResult{Exists: true, MatchType: domain.MatchTracking, LocalID: id}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return domain.ExistenceResult{}, fmt.Errorf("tracking lookup: %w", err)
		}

		err = q.QueryRowContext(ctx,
			`SELECT c.id FROM content_meta m
			 JOIN content_items c ON c.id = m.item_id
			 WHERE m.meta_key = ? AND m.meta_value = ? AND c.item_type = ? AND c.status <> ?
			 ORDER BY c.id LIMIT 1`,
			MetaRemoteID, strconv.FormatInt(remoteID, 10), ItemTypeCourse, ItemTrash,
		).Scan(&id)
		switch {
		case err == nil:
			return domain.ExistenceResult{Exists: true, MatchType: domain.MatchDirectMeta, LocalID: id}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return domain.ExistenceResult{}, fmt.Errorf("meta lookup: %w", err)
		}
	}

	norm := domain.NormalizeTitle(title)
	if norm == "" {
		return domain.ExistenceResult{}, nil
	}
	err := q.QueryRowContext(ctx,
		`SELECT id FROM content_items
		 WHERE norm_title = ? AND item_type = ? AND status <> ?
		 ORDER BY id LIMIT 1`,
		norm, ItemTypeCourse, ItemTrash,
	).Scan(&id)
	switch {
	case err == nil:
		return domain.ExistenceResult{Exists: true, MatchType: domain.MatchTitle, LocalID: id}, nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ExistenceResult{}, nil
	default:
		return domain.ExistenceResult{}, fmt.Errorf("title lookup: %w", err)
	}
}

// CreateWithTransaction persists a prepared course: content item, metadata
// and tracking record commit together or not at all. Existence is checked
// again inside the transaction so concurrent runs cannot double-create.
func (s *Store) CreateWithTransaction(ctx context.Context, c domain.LocalCourse) (res CreateResult, err error) {
	if strings.TrimSpace(c.Title) == "" {
		return CreateResult{}, ErrMissingTitle
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CreateResult{}, fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := existsIn(ctx, tx, c.RemoteID, c.Title)
	if err != nil {
		return CreateResult{}, fmt.Errorf("store: recheck: %w", err)
	}
	if existing.Exists {
		return CreateResult{ExistingLocalID: existing.LocalID}, ErrAlreadyExists
	}

	localID, err := s.createItem(ctx, tx, Item{
		Type:    ItemTypeCourse,
		Title:   c.Title,
		Slug:    c.Slug,
		Body:    c.Body,
		Excerpt: c.Excerpt,
		Status:  ItemDraft,
	})
	if err != nil {
		return CreateResult{}, err
	}

	var slug string
	if err = tx.QueryRowContext(ctx, `SELECT slug FROM content_items WHERE id = ?`, localID).Scan(&slug); err != nil {
		return CreateResult{}, fmt.Errorf("store: read slug: %w", err)
	}

	for _, k := range sortedKeys(c.Meta) {
		if err = setMeta(ctx, tx, localID, k, c.Meta[k]); err != nil {
			return CreateResult{}, err
		}
	}
	if c.RemoteID > 0 {
		if err = setMeta(ctx, tx, localID, MetaRemoteID, strconv.FormatInt(c.RemoteID, 10)); err != nil {
			return CreateResult{}, err
		}
	}

	trackingID, err := s.upsertTracking(ctx, tx, c, localID, slug)
	if err != nil {
		return CreateResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return CreateResult{}, fmt.Errorf("store: commit: %w", err)
	}
	return CreateResult{LocalID: localID, TrackingID: trackingID, Slug: slug}, nil
}

func (s *Store) upsertTracking(ctx context.Context, q dbtx, c domain.LocalCourse, localID int64, slug string) (int64, error) {
	now := s.stamp()
	var remote any
	if c.RemoteID > 0 {
		remote = c.RemoteID
	}
	var catalog any
	if c.CatalogID != nil {
		catalog = *c.CatalogID
	}

	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO course_tracking
			(remote_id, catalog_id, local_content_id, title, slug, sync_status, status_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)
		 ON CONFLICT(remote_id) DO UPDATE SET
			catalog_id = COALESCE(excluded.catalog_id, course_tracking.catalog_id),
			local_content_id = excluded.local_content_id,
			title = excluded.title,
			slug = excluded.slug,
			sync_status = excluded.sync_status,
			status_reason = '',
			updated_at = excluded.updated_at
		 RETURNING id`,
		remote, catalog, localID, c.Title, slug, string(domain.TrackingSynced), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert tracking: %w", err)
	}
	return id, nil
}

// GetTracking returns the tracking record for a remote id.
func (s *Store) GetTracking(ctx context.Context, remoteID int64) (domain.TrackingRecord, bool, error) {
	recs, err := s.queryTracking(ctx, `WHERE remote_id = ?`, remoteID)
	if err != nil {
		return domain.TrackingRecord{}, false, err
	}
	if len(recs) == 0 {
		return domain.TrackingRecord{}, false, nil
	}
	return recs[0], true, nil
}

// ListTracking returns every tracking record ordered by id.
func (s *Store) ListTracking(ctx context.Context) ([]domain.TrackingRecord, error) {
	return s.queryTracking(ctx, ``)
}

func (s *Store) queryTracking(ctx context.Context, where string, args ...any) ([]domain.TrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote_id, catalog_id, local_content_id, title, slug, sync_status, status_reason, created_at, updated_at
		 FROM course_tracking `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tracking: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackingRecord
	for rows.Next() {
		var (
			r                        domain.TrackingRecord
			remote, catalog, local   sql.NullInt64
			status, created, updated string
		)
		if err := rows.Scan(&r.ID, &remote, &catalog, &local, &r.Title, &r.Slug, &status, &r.StatusReason, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan tracking: %w", err)
		}
		r.RemoteID = nullableID(remote)
		r.CatalogID = nullableID(catalog)
		r.LocalContentID = nullableID(local)
		r.SyncStatus = domain.TrackingStatus(status)
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// CleanupOrphaned checks up to limit synced tracking records and demotes
// those whose content item was deleted or trashed to available. Orphans are
// examined before live records so a full batch of healthy rows cannot hide them.
func (s *Store) CleanupOrphaned(ctx context.Context, limit int) (CleanupResult, error) {
	if limit <= 0 {
		limit = 100
	}

	type candidate struct {
		id, remote, local int64
		title             string
		itemStatus        sql.NullString
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, COALESCE(t.remote_id, 0), COALESCE(t.local_content_id, 0), t.title, c.status
		 FROM course_tracking t
		 LEFT JOIN content_items c ON c.id = t.local_content_id
		 WHERE t.sync_status = ?
		 ORDER BY (c.id IS NOT NULL AND c.status <> ?), t.id
		 LIMIT ?`,
		string(domain.TrackingSynced), ItemTrash, limit)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("store: scan tracking: %w", err)
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.remote, &c.local, &c.title, &c.itemStatus); err != nil {
			rows.Close()
			return CleanupResult{}, fmt.Errorf("store: scan tracking: %w", err)
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return CleanupResult{}, err
	}

	res := CleanupResult{Checked: len(cands), Details: []OrphanDetail{}}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.stamp()
	for _, c := range cands {
		var reason string
		switch {
		case !c.itemStatus.Valid:
			reason = domain.ReasonDeleted
		case c.itemStatus.String == ItemTrash:
			reason = domain.ReasonTrashed
		default:
			continue
		}
		r, err := tx.ExecContext(ctx,
			`UPDATE course_tracking SET sync_status = ?, status_reason = ?, updated_at = ?
			 WHERE id = ? AND sync_status = ?`,
			string(domain.TrackingAvailable), reason, now, c.id, string(domain.TrackingSynced))
		if err != nil {
			return CleanupResult{}, fmt.Errorf("store: demote tracking %d: %w", c.id, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			continue
		}
		res.Updated++
		res.Details = append(res.Details, OrphanDetail{
			TrackingID: c.id,
			RemoteID:   c.remote,
			LocalID:    c.local,
			Title:      c.title,
			Reason:     reason,
		})
	}

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("store: commit: %w", err)
	}
	if res.Updated > 0 {
		s.log.Info().Int("checked", res.Checked).Int("updated", res.Updated).Msg("orphaned tracking records demoted")
	}
	return res, nil
}
