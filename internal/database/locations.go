package database

import (
	"context"
	"database/sql"
	"fmt"

	"carebridge/pkg/models"
)

// UpsertLocation stores a user's latest position, one row per user.
func (db *DB) UpsertLocation(ctx context.Context, l *models.Location) error {
	query := `
		INSERT INTO locations (user_id, latitude, longitude, recorded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET latitude = $2, longitude = $3, recorded_at = $4, updated_at = $5
	`

	if _, err := db.conn.ExecContext(ctx, query,
		l.UserID, l.Latitude, l.Longitude, l.Timestamp, l.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}

	return nil
}

func (db *DB) GetLocation(ctx context.Context, userID int64) (*models.Location, error) {
	query := `
		SELECT user_id, latitude, longitude, recorded_at, updated_at
		FROM locations
		WHERE user_id = $1
	`

	var l models.Location
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&l.UserID, &l.Latitude, &l.Longitude, &l.Timestamp, &l.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query location: %w", err)
	}

	return &l, nil
}
