package database

import (
	"context"
	"database/sql"
	"fmt"

	"carebridge/pkg/models"
)

// SaveCall persists a terminal call record.
func (db *DB) SaveCall(ctx context.Context, c *models.Call) error {
	query := `
		INSERT INTO calls (call_id, caller_id, receiver_id, caller_name, call_type,
		                   status, start_time, accept_time, end_time, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := db.conn.QueryRowContext(ctx, query,
		c.CallID, c.CallerID, c.ReceiverID, c.CallerName, c.CallType,
		c.Status, c.StartTime, c.AcceptTime, c.EndTime, c.Duration,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}

	return nil
}

func (db *DB) GetCallByCallID(ctx context.Context, callID string) (*models.Call, error) {
	query := `
		SELECT id, call_id, caller_id, receiver_id, caller_name, call_type,
		       status, start_time, accept_time, end_time, COALESCE(duration, 0)
		FROM calls
		WHERE call_id = $1
	`

	var c models.Call
	err := db.conn.QueryRowContext(ctx, query, callID).Scan(
		&c.ID, &c.CallID, &c.CallerID, &c.ReceiverID, &c.CallerName, &c.CallType,
		&c.Status, &c.StartTime, &c.AcceptTime, &c.EndTime, &c.Duration,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query call: %w", err)
	}

	return &c, nil
}

// ListCallsForUser returns calls where the user was either party, newest first.
func (db *DB) ListCallsForUser(ctx context.Context, userID int64, page, limit int) ([]models.Call, error) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}

	query := `
		SELECT id, call_id, caller_id, receiver_id, caller_name, call_type,
		       status, start_time, accept_time, end_time, COALESCE(duration, 0)
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.conn.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		err := rows.Scan(
			&c.ID, &c.CallID, &c.CallerID, &c.ReceiverID, &c.CallerName, &c.CallType,
			&c.Status, &c.StartTime, &c.AcceptTime, &c.EndTime, &c.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, c)
	}

	return calls, rows.Err()
}
