package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"carebridge/pkg/models"
)

func (db *DB) CreateUser(ctx context.Context, u *models.User, passwordHash string) error {
	query := `
		INSERT INTO users (name, email, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := db.conn.QueryRowContext(ctx, query, u.Name, u.Email, u.Role, passwordHash).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, name, email, role, COALESCE(device_token, ''), created_at
		FROM users
		WHERE id = $1
	`

	var u models.User
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &u.DeviceToken, &u.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return &u, nil
}

// GetUserByEmail also returns the stored password hash for login checks.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, string, error) {
	query := `
		SELECT id, name, email, role, COALESCE(device_token, ''), password_hash, created_at
		FROM users
		WHERE email = $1
	`

	var u models.User
	var hash string
	err := db.conn.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &u.DeviceToken, &hash, &u.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", models.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to query user by email: %w", err)
	}

	return &u, hash, nil
}

func (db *DB) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (db *DB) UpdateUserDeviceToken(ctx context.Context, id int64, token string) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE users SET device_token = $1 WHERE id = $2`, token, id); err != nil {
		return fmt.Errorf("failed to update device token: %w", err)
	}
	return nil
}

// GetCareCircle resolves the recipients for a patient: the patient, every
// assigned caregiver and the linked family member (if any).
func (db *DB) GetCareCircle(ctx context.Context, patientID int64) (*models.CareCircle, error) {
	circle := &models.CareCircle{PatientID: patientID}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT caregiver_id FROM caregiver_assignments WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query caregivers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan caregiver: %w", err)
		}
		circle.CaregiverIDs = append(circle.CaregiverIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT family_id FROM family_links WHERE patient_id = $1 LIMIT 1`, patientID).
		Scan(&circle.FamilyID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query family link: %w", err)
	}

	return circle, nil
}

// GetLinkedPatients returns the patient ids a caregiver or family member is
// linked to. Patients are linked to themselves.
func (db *DB) GetLinkedPatients(ctx context.Context, userID int64, role string) ([]int64, error) {
	switch role {
	case models.RolePatient:
		return []int64{userID}, nil
	case models.RoleCaregiver:
		return db.queryIDs(ctx,
			`SELECT patient_id FROM caregiver_assignments WHERE caregiver_id = $1`, userID)
	case models.RoleFamily:
		return db.queryIDs(ctx,
			`SELECT patient_id FROM family_links WHERE family_id = $1`, userID)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

func (db *DB) AssignCaregiver(ctx context.Context, caregiverID, patientID int64, relationship string) error {
	query := `
		INSERT INTO caregiver_assignments (caregiver_id, patient_id, relationship)
		VALUES ($1, $2, $3)
		ON CONFLICT (caregiver_id, patient_id) DO UPDATE SET relationship = $3
	`
	if _, err := db.conn.ExecContext(ctx, query, caregiverID, patientID, relationship); err != nil {
		return fmt.Errorf("failed to assign caregiver: %w", err)
	}
	return nil
}

func (db *DB) LinkFamily(ctx context.Context, familyID, patientID int64, relationship string) error {
	query := `
		INSERT INTO family_links (family_id, patient_id, relationship)
		VALUES ($1, $2, $3)
		ON CONFLICT (family_id, patient_id) DO UPDATE SET relationship = $3
	`
	if _, err := db.conn.ExecContext(ctx, query, familyID, patientID, relationship); err != nil {
		return fmt.Errorf("failed to link family member: %w", err)
	}
	return nil
}

// GetDeviceTokens maps user ids to their FCM tokens; users without a token
// are omitted.
func (db *DB) GetDeviceTokens(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	tokens := make(map[int64]string)
	if len(userIDs) == 0 {
		return tokens, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, device_token FROM users WHERE id = ANY($1) AND device_token IS NOT NULL AND device_token <> ''`,
		pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var token string
		if err := rows.Scan(&id, &token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens[id] = token
	}

	return tokens, rows.Err()
}

func (db *DB) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
