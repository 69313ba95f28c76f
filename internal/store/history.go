package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatbot/internal/chat"
	"chatbot/internal/repository"
)

// RecordCheck appends a check to the history
func (s *Store) RecordCheck(ctx context.Context, record *CheckRecord) (int64, error) {
	checkedAt := record.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO check_history
		(run_id, repository_id, outcome, build_number, build_state, error_message, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.RepositoryID,
		record.Outcome,
		record.BuildNumber,
		record.BuildState,
		record.ErrorMessage,
		checkedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert check record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatestCheck returns the most recent check of a repository
func (s *Store) GetLatestCheck(ctx context.Context, id repository.ID) (*CheckRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, repository_id, outcome, build_number, build_state, error_message, checked_at
		FROM check_history
		WHERE repository_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, string(id))

	record, err := scanCheckRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest check: %w", err)
	}

	return record, nil
}

// GetCheckHistory returns the most recent checks of a repository, newest first
func (s *Store) GetCheckHistory(ctx context.Context, id repository.ID, limit int) ([]CheckRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, repository_id, outcome, build_number, build_state, error_message, checked_at
		FROM check_history
		WHERE repository_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query check history: %w", err)
	}
	defer rows.Close()

	var records []CheckRecord
	for rows.Next() {
		record, err := scanCheckRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// GetRepositoryStatus assembles the stored view of a repository
func (s *Store) GetRepositoryStatus(ctx context.Context, id repository.ID, limit int) (*RepositoryStatus, error) {
	status := &RepositoryStatus{Repository: string(id)}

	record, err := s.LoadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record != nil && record.LastState != nil {
		status.BuildState = string(record.LastState.State)
		status.BuildNumber = record.LastState.Build.Number
	}

	thread, err := s.LoadThread(ctx, chat.ThreadIDOf(id))
	if err != nil {
		return nil, err
	}
	if thread != nil {
		status.ThreadResource = string(thread.Resource)
		status.MessageCount = len(thread.Messages)
	}

	if status.LatestCheck, err = s.GetLatestCheck(ctx, id); err != nil {
		return nil, err
	}

	history, err := s.GetCheckHistory(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	status.RecentHistory = history
	if status.RecentHistory == nil {
		status.RecentHistory = []CheckRecord{}
	}

	return status, nil
}

// scanCheckRecord scans a database row into a CheckRecord
// Works with both *sql.Row and *sql.Rows
func scanCheckRecord(s scanner) (*CheckRecord, error) {
	var record CheckRecord
	var checkedAtStr string

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.RepositoryID,
		&record.Outcome,
		&record.BuildNumber,
		&record.BuildState,
		&record.ErrorMessage,
		&checkedAtStr,
	)
	if err != nil {
		return nil, err
	}

	checkedAt, err := time.Parse(timeFormat, checkedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checked_at timestamp: %w", err)
	}
	record.CheckedAt = checkedAt

	return &record, nil
}
