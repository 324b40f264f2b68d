package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// PluginState returns the state blob of a plugin, or {} if none is stored.
func (s *Store) PluginState(ctx context.Context, plugin string) (json.RawMessage, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM plugin_state WHERE plugin_name = ?;", plugin).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin state: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("stored plugin state is invalid JSON for plugin=%q", plugin)
	}
	return json.RawMessage(raw), nil
}

// MergePluginState shallow-merges updates into a plugin's state and returns
// the persisted result.
func (s *Store) MergePluginState(ctx context.Context, plugin string, updates json.RawMessage) (json.RawMessage, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is empty")
	}
	upd, err := decodeObject(updates)
	if err != nil {
		return nil, fmt.Errorf("decode state updates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, "SELECT state FROM plugin_state WHERE plugin_name = ?;", plugin).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, fmt.Errorf("read plugin state: %w", err)
	}
	cur, err := decodeObject(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored state: %w", err)
	}
	maps.Copy(cur, upd)

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}
	if len(merged) > s.maxBytes {
		return nil, fmt.Errorf("plugin state: %w (%d bytes)", ErrTooLarge, s.maxBytes)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO plugin_state(plugin_name, state, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(plugin_name) DO UPDATE SET
  state = excluded.state,
  updated_at = excluded.updated_at;
`, plugin, string(merged), formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("upsert plugin state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

func decodeObject(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
