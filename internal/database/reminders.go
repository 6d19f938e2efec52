package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carebridge/pkg/models"
)

// ReminderFilter narrows reminder listings. Zero values mean "no filter".
type ReminderFilter struct {
	PatientID int64
	CreatedBy int64
	Status    string
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
}

func (db *DB) CreateReminder(ctx context.Context, r *models.Reminder) error {
	query := `
		INSERT INTO reminders (patient_id, created_by, title, description, scheduled_time, recurrence, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		r.PatientID, r.CreatedBy, r.Title, r.Description, r.ScheduledTime, r.Recurrence, r.Status,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}

	return nil
}

func (db *DB) GetReminder(ctx context.Context, id int64) (*models.Reminder, error) {
	query := `
		SELECT id, patient_id, created_by, title, description, scheduled_time,
		       recurrence, status, notification_sent, created_at, updated_at
		FROM reminders
		WHERE id = $1
	`

	var r models.Reminder
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.PatientID, &r.CreatedBy, &r.Title, &r.Description, &r.ScheduledTime,
		&r.Recurrence, &r.Status, &r.NotificationSent, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query reminder: %w", err)
	}

	return &r, nil
}

// MarkReminderTriggered flips a scheduled reminder to triggered. The WHERE
// clause re-checks the status so a cancel racing a fire loses cleanly.
func (db *DB) MarkReminderTriggered(ctx context.Context, id int64) error {
	query := `
		UPDATE reminders
		SET status = $1, notification_sent = true, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3
	`

	result, err := db.conn.ExecContext(ctx, query, models.ReminderTriggered, id, models.ReminderScheduled)
	if err != nil {
		return fmt.Errorf("failed to mark reminder triggered: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrTerminalState
	}

	return nil
}

func (db *DB) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	query := `
		UPDATE reminders
		SET title = $1, description = $2, scheduled_time = $3, recurrence = $4,
		    status = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $6
	`

	if _, err := db.conn.ExecContext(ctx, query,
		r.Title, r.Description, r.ScheduledTime, r.Recurrence, r.Status, r.ID,
	); err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}

	return nil
}

func (db *DB) CancelReminder(ctx context.Context, id int64) error {
	query := `
		UPDATE reminders
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3
	`

	result, err := db.conn.ExecContext(ctx, query, models.ReminderCancelled, id, models.ReminderScheduled)
	if err != nil {
		return fmt.Errorf("failed to cancel reminder: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.ErrTerminalState
	}

	return nil
}

// FindAllScheduled returns every reminder still in the scheduled state,
// ordered by scheduled time. Used for startup reconciliation.
func (db *DB) FindAllScheduled(ctx context.Context) ([]models.Reminder, error) {
	query := `
		SELECT id, patient_id, created_by, title, description, scheduled_time,
		       recurrence, status, notification_sent, created_at, updated_at
		FROM reminders
		WHERE status = $1
		ORDER BY scheduled_time ASC
	`

	return db.queryReminders(ctx, query, models.ReminderScheduled)
}

// FindDue returns scheduled reminders whose time has already passed.
func (db *DB) FindDue(ctx context.Context, before time.Time) ([]models.Reminder, error) {
	query := `
		SELECT id, patient_id, created_by, title, description, scheduled_time,
		       recurrence, status, notification_sent, created_at, updated_at
		FROM reminders
		WHERE status = $1 AND scheduled_time < $2
		ORDER BY scheduled_time ASC
	`

	return db.queryReminders(ctx, query, models.ReminderScheduled, before)
}

func (db *DB) ListReminders(ctx context.Context, f ReminderFilter) ([]models.Reminder, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0

	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, v)
	}

	if f.PatientID != 0 {
		add("patient_id =", f.PatientID)
	}
	if f.CreatedBy != 0 {
		add("created_by =", f.CreatedBy)
	}
	if f.Status != "" {
		add("status =", f.Status)
	}
	if !f.From.IsZero() {
		add("scheduled_time >=", f.From)
	}
	if !f.To.IsZero() {
		add("scheduled_time <=", f.To)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM reminders " + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reminders: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	query := fmt.Sprintf(`
		SELECT id, patient_id, created_by, title, description, scheduled_time,
		       recurrence, status, notification_sent, created_at, updated_at
		FROM reminders %s
		ORDER BY scheduled_time ASC
		LIMIT $%d OFFSET $%d
	`, where, n+1, n+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	reminders, err := db.queryReminders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	return reminders, total, nil
}

func (db *DB) queryReminders(ctx context.Context, query string, args ...interface{}) ([]models.Reminder, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		err := rows.Scan(
			&r.ID, &r.PatientID, &r.CreatedBy, &r.Title, &r.Description, &r.ScheduledTime,
			&r.Recurrence, &r.Status, &r.NotificationSent, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}

	return reminders, rows.Err()
}
