// Package postgres provides the PostgreSQL implementation of the roster
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements roster.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const shiftColumns = `s.id, s.assignee_id, a.name, COALESCE(a.email, ''), s.date, s.start_time,
		s.station, s.status, COALESCE(s.description, ''),
		s.last_notification_sent, s.last_notification_error, s.last_sent_at`

// ListShiftsBetween returns shifts whose date falls in [from, to], joined
// with assignee name and email, excluding the given statuses.
func (r *Repository) ListShiftsBetween(ctx context.Context, from, to time.Time, exclude []domain.ShiftStatus) ([]domain.Shift, error) {
	if exclude == nil {
		exclude = []domain.ShiftStatus{}
	}
	query := `
		SELECT ` + shiftColumns + `
		FROM shifts s
		JOIN assignees a ON a.id = s.assignee_id
		WHERE s.date >= $1 AND s.date <= $2 AND s.status <> ALL($3)
		ORDER BY s.date ASC, s.start_time ASC NULLS LAST
	`
	rows, err := r.db.Query(ctx, query, from, to, exclude)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		shifts = append(shifts, *shift)
	}
	return shifts, rows.Err()
}

// GetShift retrieves one shift with its assignee.
func (r *Repository) GetShift(ctx context.Context, id uuid.UUID) (*domain.Shift, error) {
	query := `
		SELECT ` + shiftColumns + `
		FROM shifts s
		JOIN assignees a ON a.id = s.assignee_id
		WHERE s.id = $1
	`
	shift, err := scanShift(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roster.ErrShiftNotFound
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return shift, nil
}

// NextAssignedShift returns the assignee's earliest assigned shift on or
// after the given date.
func (r *Repository) NextAssignedShift(ctx context.Context, assigneeID uuid.UUID, from time.Time) (*domain.Shift, error) {
	query := `
		SELECT ` + shiftColumns + `
		FROM shifts s
		JOIN assignees a ON a.id = s.assignee_id
		WHERE s.assignee_id = $1 AND s.status = $2 AND s.date >= $3
		ORDER BY s.date ASC, s.start_time ASC NULLS LAST
		LIMIT 1
	`
	shift, err := scanShift(r.db.QueryRow(ctx, query, assigneeID, domain.ShiftStatusAssigned, from))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roster.ErrShiftNotFound
		}
		return nil, fmt.Errorf("next assigned shift: %w", err)
	}
	return shift, nil
}

// ListDevices returns the assignee's registered equipment.
func (r *Repository) ListDevices(ctx context.Context, assigneeID uuid.UUID) ([]domain.Device, error) {
	query := `
		SELECT id, assignee_id, COALESCE(internal_code, ''), COALESCE(brand, ''),
			COALESCE(model, ''), COALESCE(description, '')
		FROM devices
		WHERE assignee_id = $1
		ORDER BY internal_code ASC
	`
	rows, err := r.db.Query(ctx, query, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]domain.Device, 0)
	for rows.Next() {
		var d domain.Device
		err := rows.Scan(
			&d.ID,
			&d.AssigneeID,
			&d.InternalCode,
			&d.Brand,
			&d.Model,
			&d.Description,
		)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateAssigneeEmail sets the assignee's email address.
func (r *Repository) UpdateAssigneeEmail(ctx context.Context, assigneeID uuid.UUID, email string) error {
	query := `UPDATE assignees SET email = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, email, assigneeID)
	if err != nil {
		return fmt.Errorf("update assignee email: %w", err)
	}
	if result.RowsAffected() == 0 {
		return roster.ErrAssigneeNotFound
	}
	return nil
}

// MarkNotified stamps the shift's notification flags after a successful
// delivery.
func (r *Repository) MarkNotified(ctx context.Context, shiftID uuid.UUID, at time.Time) error {
	query := `
		UPDATE shifts
		SET last_notification_sent = TRUE, last_notification_error = FALSE, last_sent_at = $1, updated_at = NOW()
		WHERE id = $2
	`
	result, err := r.db.Exec(ctx, query, at, shiftID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return roster.ErrShiftNotFound
	}
	return nil
}

// MarkNotifyError raises the shift's error flag after a terminal delivery
// failure.
func (r *Repository) MarkNotifyError(ctx context.Context, shiftID uuid.UUID) error {
	query := `
		UPDATE shifts
		SET last_notification_error = TRUE, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, shiftID)
	if err != nil {
		return fmt.Errorf("mark notify error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return roster.ErrShiftNotFound
	}
	return nil
}

func scanShift(row pgx.Row) (*domain.Shift, error) {
	var (
		shift domain.Shift
		start pgtype.Time
	)
	err := row.Scan(
		&shift.ID,
		&shift.AssigneeID,
		&shift.AssigneeName,
		&shift.AssigneeEmail,
		&shift.Date,
		&start,
		&shift.Station,
		&shift.Status,
		&shift.Description,
		&shift.LastNotificationSent,
		&shift.LastNotificationError,
		&shift.LastSentAt,
	)
	if err != nil {
		return nil, err
	}
	shift.Start = timeOfDay(start)
	return &shift, nil
}

// timeOfDay converts a nullable TIME column to a clock reading on an
// anchor date, so midnight stays distinguishable from a missing time.
func timeOfDay(t pgtype.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	us := t.Microseconds
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(us) * time.Microsecond)
}
