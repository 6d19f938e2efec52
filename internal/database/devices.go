package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"carebridge/pkg/models"
)

func (db *DB) CreateDevice(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (patient_id, device_id, status, last_active)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING id, last_active, created_at
	`

	err := db.conn.QueryRowContext(ctx, query, d.PatientID, d.DeviceID, d.Status).
		Scan(&d.ID, &d.LastActive, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}

	return nil
}

func (db *DB) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	return db.queryDevice(ctx, `
		SELECT id, patient_id, device_id, status, last_active, created_at
		FROM devices WHERE id = $1
	`, id)
}

func (db *DB) GetDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	return db.queryDevice(ctx, `
		SELECT id, patient_id, device_id, status, last_active, created_at
		FROM devices WHERE device_id = $1
	`, deviceID)
}

func (db *DB) queryDevice(ctx context.Context, query string, arg interface{}) (*models.Device, error) {
	var d models.Device
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(
		&d.ID, &d.PatientID, &d.DeviceID, &d.Status, &d.LastActive, &d.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return &d, nil
}

func (db *DB) ListDevicesForPatient(ctx context.Context, patientID int64) ([]models.Device, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, patient_id, device_id, status, last_active, created_at
		FROM devices WHERE patient_id = $1
		ORDER BY created_at ASC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.PatientID, &d.DeviceID, &d.Status, &d.LastActive, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// GetActiveDevicesFor returns device ids with status active for a patient.
func (db *DB) GetActiveDevicesFor(ctx context.Context, patientID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT device_id FROM devices WHERE patient_id = $1 AND status = $2`,
		patientID, models.DeviceActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *DB) UpdateDeviceStatus(ctx context.Context, id int64, status string) (*models.Device, error) {
	query := `
		UPDATE devices
		SET status = $1, last_active = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING id, patient_id, device_id, status, last_active, created_at
	`

	var d models.Device
	err := db.conn.QueryRowContext(ctx, query, status, id).Scan(
		&d.ID, &d.PatientID, &d.DeviceID, &d.Status, &d.LastActive, &d.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	return &d, nil
}

func (db *DB) TouchDevice(ctx context.Context, deviceID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE devices SET last_active = CURRENT_TIMESTAMP WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

func (db *DB) DeleteDevice(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (db *DB) InsertSensorReading(ctx context.Context, r *models.SensorReading) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("failed to encode sensor data: %w", err)
	}

	query := `
		INSERT INTO sensor_data (device_id, sensor_type, data, recorded_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := db.conn.ExecContext(ctx, query, r.DeviceID, r.SensorType, data, r.Timestamp); err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}

	return nil
}
