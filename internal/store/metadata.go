package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"omrgrader/internal/model"
)

const answerKeyMetaKey = "answer_key"

// SetMetadata upserts a key-value pair.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetAnswerKey stores the active answer key so exports and restarted runs
// can reproduce the key reference sheet.
func (s *Store) SetAnswerKey(ctx context.Context, cfg model.AnswerKeyConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode answer key: %w", err)
	}
	return s.SetMetadata(ctx, answerKeyMetaKey, string(data))
}

// GetAnswerKey returns the stored answer key. ok is false when none is stored.
func (s *Store) GetAnswerKey(ctx context.Context) (cfg model.AnswerKeyConfig, ok bool, err error) {
	raw, err := s.GetMetadata(ctx, answerKeyMetaKey)
	if err != nil || raw == "" {
		return cfg, false, err
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, false, fmt.Errorf("decode answer key: %w", err)
	}
	return cfg, true, nil
}
