package store

import (
	"context"
	"time"

	"github.com/dataforge/platform/internal/apperr"
)

// GetSetting fetches a single durable setting value, if present.
func (s *Store) GetSetting(ctx context.Context, q Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", false, nil
	}
	return value, true, nil
}

// UpsertSetting persists a single durable setting value.
func (s *Store) UpsertSetting(ctx context.Context, q Querier, key, value string, now time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, now)
	if err != nil {
		return apperr.UpstreamDB(err, "upsert setting")
	}
	return nil
}

// LoadSettings returns every durable setting as a map.
func (s *Store) LoadSettings(ctx context.Context, q Querier) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "load settings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.UpstreamDB(err, "scan setting")
		}
		out[k] = v
	}
	return out, rows.Err()
}
