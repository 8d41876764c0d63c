package postgres

import (
	"context"
	"fmt"
)

// SettingsStore persists the flat settings map.
type SettingsStore struct {
	db DB
}

// NewSettingsStore constructs a SettingsStore over the given pool.
func NewSettingsStore(db DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Load returns all stored settings.
func (s *SettingsStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM bot_settings`)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Save upserts the given settings.
func (s *SettingsStore) Save(ctx context.Context, values map[string]string) error {
	for k, v := range values {
		_, err := s.db.Exec(ctx,
			`INSERT INTO bot_settings (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			k, v,
		)
		if err != nil {
			return fmt.Errorf("saving setting %s: %w", k, err)
		}
	}
	return nil
}
