package store

import (
	"context"
	"database/sql"
	"fmt"

	"chatbot/internal/build"
	"chatbot/internal/codec"
	"chatbot/internal/repository"
)

// LoadRecord returns the build record of a repository, or nil if the
// repository was never checked.
func (s *Store) LoadRecord(ctx context.Context, id repository.ID) (*build.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM repository_builds WHERE repository_id = ?
	`, string(id)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query build record: %w", err)
	}

	record := &build.Record{RepositoryID: id}
	if len(payload) > 0 {
		var state build.BuildState
		if err := codec.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("failed to decode build state for %s: %w", id, err)
		}
		record.LastState = &state
	}

	return record, nil
}

// SaveRecord replaces the build record of a repository
func (s *Store) SaveRecord(ctx context.Context, record *build.Record) error {
	var payload []byte
	if record.LastState != nil {
		var err error
		payload, err = codec.Marshal(record.LastState)
		if err != nil {
			return fmt.Errorf("failed to encode build state for %s: %w", record.RepositoryID, err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repository_builds (repository_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(repository_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, string(record.RepositoryID), payload, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save build record: %w", err)
	}

	return nil
}
