package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// LoadConfigs returns user-defined configs in creation order.
func (s *Store) LoadConfigs(ctx context.Context) ([]invoice.Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record_json FROM user_configs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invoice.Config
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, err
		}
		var c invoice.Config
		if err := json.Unmarshal([]byte(record), &c); err != nil {
			return nil, fmt.Errorf("decoding config %s: %w", id, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveConfig inserts or replaces a user config. The original creation time
// is kept on update so listing order is stable.
func (s *Store) SaveConfig(ctx context.Context, c invoice.Config) error {
	record, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config %s: %w", c.ID, err)
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_configs (id, name, record_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			record_json = excluded.record_json,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, string(record), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving config %s: %w", c.ID, err)
	}
	return nil
}

// DeleteConfig removes a user config.
func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_configs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
