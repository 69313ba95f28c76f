package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatbot/internal/bus"
)

// Append journals an event and the deliveries it is owed in one
// transaction. An event or delivery already present is left untouched, so
// a republished event keeps its delivery state.
func (s *Store) Append(ctx context.Context, envelope bus.Envelope, deliveries []bus.Delivery) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO event_journal (event_id, kind, payload, recorded_at)
		VALUES (?, ?, ?, ?)
	`, envelope.ID, envelope.Kind, envelope.Payload, envelope.RecordedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to journal event: %w", err)
	}

	for _, delivery := range deliveries {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO event_deliveries (event_id, process, instance)
			VALUES (?, ?, ?)
		`, envelope.ID, delivery.Process, delivery.Instance)
		if err != nil {
			return fmt.Errorf("failed to journal delivery to %s: %w", delivery.Process, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal transaction: %w", err)
	}
	return nil
}

// Pending returns undelivered events of instance in publication order. An
// empty instance returns the backlog of every instance.
func (s *Store) Pending(ctx context.Context, instance string) ([]bus.Pending, error) {
	query := `
		SELECT j.event_id, j.kind, j.payload, j.recorded_at, d.process, d.instance
		FROM event_deliveries d
		JOIN event_journal j ON j.event_id = d.event_id
		WHERE d.delivered_at IS NULL`
	args := []any{}
	if instance != "" {
		query += ` AND d.instance = ?`
		args = append(args, instance)
	}
	query += ` ORDER BY d.seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deliveries: %w", err)
	}
	defer rows.Close()

	var pending []bus.Pending
	for rows.Next() {
		var p bus.Pending
		var recordedAt string
		if err := rows.Scan(&p.ID, &p.Kind, &p.Payload, &recordedAt, &p.Process, &p.Instance); err != nil {
			return nil, fmt.Errorf("failed to scan pending delivery: %w", err)
		}
		if p.RecordedAt, err = time.Parse(timeFormat, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at timestamp: %w", err)
		}
		pending = append(pending, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return pending, nil
}

// MarkDelivered records that process handled the event
func (s *Store) MarkDelivered(ctx context.Context, eventID, process string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_deliveries
		SET delivered_at = ?, attempts = attempts + 1, last_error = NULL
		WHERE event_id = ? AND process = ? AND delivered_at IS NULL
	`, s.timestamp(), eventID, process)
	if err != nil {
		return fmt.Errorf("failed to mark delivery of %s to %s: %w", eventID, process, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt; the event stays pending
func (s *Store) MarkFailed(ctx context.Context, eventID, process string, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_deliveries
		SET attempts = attempts + 1, last_error = ?
		WHERE event_id = ? AND process = ? AND delivered_at IS NULL
	`, cause.Error(), eventID, process)
	if err != nil {
		return fmt.Errorf("failed to record failed delivery of %s to %s: %w", eventID, process, err)
	}
	return nil
}

// RecentEvents returns the latest journaled events, newest first, with how
// many of their deliveries are still pending
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.event_id, j.kind, j.recorded_at,
			COUNT(d.seq),
			COUNT(d.seq) - COUNT(d.delivered_at),
			MAX(d.last_error)
		FROM event_journal j
		LEFT JOIN event_deliveries d ON d.event_id = j.event_id
		GROUP BY j.event_id
		ORDER BY j.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query event journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var entry JournalEntry
		var recordedAt string
		var lastError sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Kind, &recordedAt, &entry.Deliveries, &entry.Pending, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if entry.RecordedAt, err = time.Parse(timeFormat, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at timestamp: %w", err)
		}
		if lastError.Valid {
			entry.LastError = &lastError.String
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}
