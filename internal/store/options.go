package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// Runtime option keys.
const (
	OptOmittedCourses    = "omitted_courses"
	OptAutoSyncEnabled   = "auto_sync_enabled"
	OptNotificationEmail = "notification_email"
)

func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	return getOption(ctx, s.db, key)
}

func getOption(ctx context.Context, q dbtx, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM options WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get option %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.setOption(ctx, s.db, key, value)
}

func (s *Store) setOption(ctx context.Context, q dbtx, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO options (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.stamp())
	if err != nil {
		return fmt.Errorf("store: set option %s: %w", key, err)
	}
	return nil
}

// GetBool returns def when the option is unset or unparsable.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return def, nil
	}
	return b, nil
}

func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(v))
}

// OmittedIDs returns the omitted remote course ids in ascending order.
func (s *Store) OmittedIDs(ctx context.Context) ([]int64, error) {
	return omittedIn(ctx, s.db)
}

// OmittedSet returns the omitted ids as a set for membership tests.
func (s *Store) OmittedSet(ctx context.Context) (map[int64]struct{}, error) {
	ids, err := s.OmittedIDs(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func omittedIn(ctx context.Context, q dbtx) ([]int64, error) {
	raw, ok, err := getOption(ctx, q, OptOmittedCourses)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("store: decode omitted set: %w", err)
	}
	return ids, nil
}

// AddOmitted adds ids to the omitted set. It returns how many were new and
// the resulting set size. Ids already present are not duplicated.
func (s *Store) AddOmitted(ctx context.Context, ids []int64) (added, total int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	current, err := omittedIn(ctx, tx)
	if err != nil {
		return 0, 0, err
	}
	set := make(map[int64]struct{}, len(current)+len(ids))
	for _, id := range current {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		added++
	}
	if added == 0 {
		return 0, len(set), nil
	}

	merged := make([]int64, 0, len(set))
	for id := range set {
		merged = append(merged, id)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

	data, err := json.Marshal(merged)
	if err != nil {
		return 0, 0, fmt.Errorf("store: encode omitted set: %w", err)
	}
	if err := s.setOption(ctx, tx, OptOmittedCourses, string(data)); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("store: commit: %w", err)
	}
	return added, len(merged), nil
}

// ClearOmitted empties the omitted set and returns how many ids it held.
func (s *Store) ClearOmitted(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	current, err := omittedIn(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := s.setOption(ctx, tx, OptOmittedCourses, "[]"); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return len(current), nil
}
