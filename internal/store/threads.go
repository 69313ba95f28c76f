package store

import (
	"context"
	"database/sql"
	"fmt"

	"chatbot/internal/chat"
	"chatbot/internal/notify"
	"chatbot/internal/repository"
)

// LoadNotificationState returns the coordinator state of a repository
func (s *Store) LoadNotificationState(ctx context.Context, id repository.ID) (*notify.State, error) {
	state := &notify.State{RepositoryID: id}
	var space, resource string

	err := s.db.QueryRowContext(ctx, `
		SELECT space_id, thread_resource FROM notification_state WHERE repository_id = ?
	`, string(id)).Scan(&space, &resource)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification state: %w", err)
	}

	state.SpaceID = chat.SpaceID(space)
	state.Resource = chat.ThreadResource(resource)
	return state, nil
}

// SaveNotificationState replaces the coordinator state of a repository
func (s *Store) SaveNotificationState(ctx context.Context, state *notify.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_state (repository_id, space_id, thread_resource, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository_id) DO UPDATE SET
			space_id = excluded.space_id,
			thread_resource = excluded.thread_resource,
			updated_at = excluded.updated_at
	`, string(state.RepositoryID), string(state.SpaceID), string(state.Resource), s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save notification state: %w", err)
	}
	return nil
}

// LoadThread returns a thread with its messages in insertion order
func (s *Store) LoadThread(ctx context.Context, id chat.ThreadID) (*chat.Thread, error) {
	thread := &chat.Thread{ID: id}
	var space, resource string

	err := s.db.QueryRowContext(ctx, `
		SELECT space_id, thread_resource FROM threads WHERE thread_id = ?
	`, string(id)).Scan(&space, &resource)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	thread.SpaceID = chat.SpaceID(space)
	thread.Resource = chat.ThreadResource(resource)

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id FROM thread_messages
		WHERE thread_id = ?
		ORDER BY position ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query thread messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var message string
		if err := rows.Scan(&message); err != nil {
			return nil, fmt.Errorf("failed to scan thread message: %w", err)
		}
		thread.Messages = append(thread.Messages, chat.MessageID(message))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return thread, nil
}

// SaveThread writes the thread row and any messages not yet stored in a
// single transaction. Stored messages are never rewritten or removed.
func (s *Store) SaveThread(ctx context.Context, thread *chat.Thread) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (thread_id, space_id, thread_resource, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			space_id = excluded.space_id,
			thread_resource = excluded.thread_resource,
			updated_at = excluded.updated_at
	`, string(thread.ID), string(thread.SpaceID), string(thread.Resource), s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}

	for position, message := range thread.Messages {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO thread_messages (thread_id, position, message_id)
			VALUES (?, ?, ?)
		`, string(thread.ID), position, string(message))
		if err != nil {
			return fmt.Errorf("failed to save thread message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit thread: %w", err)
	}
	return nil
}
