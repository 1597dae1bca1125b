package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"lms-course-sync/internal/domain"
)

// Content item statuses.
const (
	ItemDraft   = "draft"
	ItemPublish = "publish"
	ItemTrash   = "trash"
)

// ItemTypeCourse is the content type imported courses are stored under.
const ItemTypeCourse = "course"

// Item is one local content item.
type Item struct {
	ID        int64
	Type      string
	Title     string
	Slug      string
	Body      string
	Excerpt   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemQuery filters QueryItems. Zero fields do not filter.
type ItemQuery struct {
	Type          string
	Status        string
	ExcludeStatus string
	MetaKey       string
	MetaValue     string
	Limit         int
}

// CreateItem inserts a content item and returns its id. Status defaults to draft.
func (s *Store) CreateItem(ctx context.Context, it Item) (int64, error) {
	return s.createItem(ctx, s.db, it)
}

func (s *Store) createItem(ctx context.Context, q dbtx, it Item) (int64, error) {
	if it.Type == "" {
		it.Type = ItemTypeCourse
	}
	if it.Status == "" {
		it.Status = ItemDraft
	}
	if it.Slug == "" {
		it.Slug = domain.Slugify(it.Title)
	}
	slug, err := uniqueSlug(ctx, q, it.Slug)
	if err != nil {
		return 0, err
	}
	now := s.stamp()
	var id int64
	err = q.QueryRowContext(ctx,
		`INSERT INTO content_items (item_type, title, norm_title, slug, body, excerpt, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		it.Type, it.Title, domain.NormalizeTitle(it.Title), slug, it.Body, it.Excerpt, it.Status, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert item: %w", err)
	}
	return id, nil
}

// GetItem returns the item with id; ok is false when it does not exist.
func (s *Store) GetItem(ctx context.Context, id int64) (Item, bool, error) {
	var it Item
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, item_type, title, slug, body, excerpt, status, created_at, updated_at
		 FROM content_items WHERE id = ?`, id,
	).Scan(&it.ID, &it.Type, &it.Title, &it.Slug, &it.Body, &it.Excerpt, &it.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("store: get item %d: %w", id, err)
	}
	it.CreatedAt = parseTime(created)
	it.UpdatedAt = parseTime(updated)
	return it, true, nil
}

// SetItemStatus changes an item's status, e.g. to ItemTrash.
func (s *Store) SetItemStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET status = ?, updated_at = ? WHERE id = ?`, status, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("store: set item %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: item %d not found", id)
	}
	return nil
}

// DeleteItem removes an item and its metadata.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete item %d: %w", id, err)
	}
	return nil
}

func (s *Store) SetMeta(ctx context.Context, id int64, key, value string) error {
	return setMeta(ctx, s.db, id, key, value)
}

func setMeta(ctx context.Context, q dbtx, id int64, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO content_meta (item_id, meta_key, meta_value) VALUES (?, ?, ?)
		 ON CONFLICT(item_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		id, key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s on %d: %w", key, id, err)
	}
	return nil
}

func (s *Store) GetMeta(ctx context.Context, id int64, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM content_meta WHERE item_id = ? AND meta_key = ?`, id, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get meta %s on %d: %w", key, id, err)
	}
	return v, true, nil
}

// AllMeta returns every metadata field of an item.
func (s *Store) AllMeta(ctx context.Context, id int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT meta_key, meta_value FROM content_meta WHERE item_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list meta on %d: %w", id, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// QueryItems returns matching item ids in ascending order.
func (s *Store) QueryItems(ctx context.Context, f ItemQuery) ([]int64, error) {
	var (
		where []string
		args  []any
		from  = "content_items c"
	)
	if f.MetaKey != "" {
		from += " JOIN content_meta m ON m.item_id = c.id"
		where = append(where, "m.meta_key = ?", "m.meta_value = ?")
		args = append(args, f.MetaKey, f.MetaValue)
	}
	if f.Type != "" {
		where = append(where, "c.item_type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, f.Status)
	}
	if f.ExcludeStatus != "" {
		where = append(where, "c.status <> ?")
		args = append(args, f.ExcludeStatus)
	}

	query := "SELECT c.id FROM " + from
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func uniqueSlug(ctx context.Context, q dbtx, base string) (string, error) {
	if base == "" {
		base = "course"
	}
	slug := base
	for i := 2; ; i++ {
		var n int
		if err := q.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM content_items WHERE slug = ?`, slug).Scan(&n); err != nil {
			return "", fmt.Errorf("store: check slug: %w", err)
		}
		if n == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
