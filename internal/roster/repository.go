// Package roster provides read access to shifts and assignees, plus the
// denormalized notification flags the delivery processor writes back.
package roster

import (
	"context"
	"errors"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/google/uuid"
)

// Repository errors.
var (
	ErrShiftNotFound    = errors.New("shift not found")
	ErrAssigneeNotFound = errors.New("assignee not found")
)

// Repository defines the shift/assignee read model consumed by the
// notifications core. Writes are limited to the assignee email (operator
// corrections) and the per-shift notification flags.
type Repository interface {
	// ListShiftsBetween returns shifts whose date falls in [from, to],
	// excluding the given statuses, joined with assignee name and email.
	ListShiftsBetween(ctx context.Context, from, to time.Time, exclude []domain.ShiftStatus) ([]domain.Shift, error)

	GetShift(ctx context.Context, id uuid.UUID) (*domain.Shift, error)

	// NextAssignedShift returns the assignee's earliest assigned shift on or
	// after the given date, or ErrShiftNotFound.
	NextAssignedShift(ctx context.Context, assigneeID uuid.UUID, from time.Time) (*domain.Shift, error)

	ListDevices(ctx context.Context, assigneeID uuid.UUID) ([]domain.Device, error)

	UpdateAssigneeEmail(ctx context.Context, assigneeID uuid.UUID, email string) error

	// MarkNotified stamps the shift's last_notification_sent flags after a
	// successful delivery.
	MarkNotified(ctx context.Context, shiftID uuid.UUID, at time.Time) error

	// MarkNotifyError raises the shift's error flag after a terminal
	// delivery failure.
	MarkNotifyError(ctx context.Context, shiftID uuid.UUID) error
}
