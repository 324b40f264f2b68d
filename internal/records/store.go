// Package records persists resource targets and plugin state in SQLite.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultMaxBytes bounds the encoded size of one record or state blob.
const DefaultMaxBytes = 1 << 20

// Key addresses a record. Resource is the slash-joined tree path of the
// resource node; Parent is the slash-joined chain of ancestor ids.
type Key struct {
	Resource string `json:"resource"`
	Parent   string `json:"parent,omitempty"`
	ID       string `json:"id"`
}

func (k Key) String() string {
	if k.Parent == "" {
		return k.Resource + "#" + k.ID
	}
	return k.Resource + "#" + k.Parent + "/" + k.ID
}

// Record is one stored resource instance.
type Record struct {
	Key       Key            `json:"key"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Store struct {
	db       *sql.DB
	maxBytes int
	now      func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		maxBytes: DefaultMaxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new record; an existing key fails with ErrExists.
func (s *Store) Create(ctx context.Context, key Key, data map[string]any) (*Record, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	raw, err := s.encode(data)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO records(resource, parent, id, data, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(resource, parent, id) DO NOTHING;
`, key.Resource, key.Parent, key.ID, raw, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert record %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExists, key)
	}
	return &Record{Key: key, Data: orEmpty(data), CreatedAt: now, UpdatedAt: now}, nil
}

// Get returns the record under key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key Key) (*Record, error) {
	return get(ctx, s.db, key)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, key Key) (*Record, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	var raw, created, updated string
	err := q.QueryRowContext(ctx,
		"SELECT data, created_at, updated_at FROM records WHERE resource = ? AND parent = ? AND id = ?;",
		key.Resource, key.Parent, key.ID).Scan(&raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", key, err)
	}
	return decodeRecord(key, raw, created, updated)
}

// Merge applies updates as a shallow merge (top-level keys replaced) onto an
// existing record and returns the result. Missing records fail with
// ErrNotFound.
func (s *Store) Merge(ctx context.Context, key Key, updates map[string]any) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := get(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	maps.Copy(rec.Data, updates)

	raw, err := s.encode(rec.Data)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE records SET data = ?, updated_at = ? WHERE resource = ? AND parent = ? AND id = ?;",
		raw, formatTime(rec.UpdatedAt), key.Resource, key.Parent, key.ID); err != nil {
		return nil, fmt.Errorf("update record %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return rec, nil
}

// Delete removes the record under key, failing with ErrNotFound if absent.
// Records nested beneath it are removed too.
func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE resource = ? AND parent = ? AND id = ?;",
		key.Resource, key.Parent, key.ID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	chain := key.ID
	if key.Parent != "" {
		chain = key.Parent + "/" + key.ID
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE resource LIKE ? AND (parent = ? OR parent LIKE ?);",
		key.Resource+"/%", chain, chain+"/%"); err != nil {
		return fmt.Errorf("delete nested records of %s: %w", key, err)
	}
	return tx.Commit()
}

// Find lists the records of resource under parent whose top-level fields
// equal every query value (compared as strings), ordered by id. Query keys
// with several values match any of them.
func (s *Store) Find(ctx context.Context, resource, parent string, query url.Values) ([]*Record, error) {
	if resource == "" {
		return nil, fmt.Errorf("resource is empty")
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data, created_at, updated_at FROM records WHERE resource = ? AND parent = ? ORDER BY id;",
		resource, parent)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", resource, err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		var id, raw, created, updated string
		if err := rows.Scan(&id, &raw, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(Key{Resource: resource, Parent: parent, ID: id}, raw, created, updated)
		if err != nil {
			return nil, err
		}
		if matches(rec.Data, query) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Resources lists the distinct resource paths with at least one record.
func (s *Store) Resources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT resource FROM records;")
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	sort.Strings(out)
	return out, rows.Err()
}

func matches(data map[string]any, query url.Values) bool {
	for field, want := range query {
		v, ok := data[field]
		if !ok {
			return false
		}
		got := fmt.Sprint(v)
		hit := false
		for _, w := range want {
			if got == w {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Resource) == "" || strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("record key needs resource and id (got %s)", k)
	}
	return nil
}

func (s *Store) encode(data map[string]any) (string, error) {
	b, err := json.Marshal(orEmpty(data))
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	if len(b) > s.maxBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxBytes)
	}
	return string(b), nil
}

func decodeRecord(key Key, raw, created, updated string) (*Record, error) {
	rec := &Record{Key: key}
	if err := json.Unmarshal([]byte(raw), &rec.Data); err != nil {
		return nil, fmt.Errorf("stored record %s is invalid JSON: %w", key, err)
	}
	rec.Data = orEmpty(rec.Data)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
