package notifications

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus represents the delivery state of a queue entry.
type QueueStatus string

// Queue entry statuses.
const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusClaimed   QueueStatus = "claimed"
	QueueStatusSent      QueueStatus = "sent"
	QueueStatusRetryable QueueStatus = "retryable_error"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further automatic
// transitions. Cancelled and sent entries are never auto-resurrected.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed || s == QueueStatusCancelled
}

// ReminderKind categorizes a reminder relative to its shift.
type ReminderKind string

// Reminder kinds.
const (
	KindAdvance ReminderKind = "advance" // N days before the shift
	KindDayOf   ReminderKind = "day_of"  // M minutes before the shift
	KindManual  ReminderKind = "manual"  // explicit operator-requested send
)

// Label returns a human-readable name for the kind.
func (k ReminderKind) Label() string {
	switch k {
	case KindAdvance:
		return "Advance Reminder"
	case KindDayOf:
		return "Same-Day Reminder"
	case KindManual:
		return "Manual Notification"
	default:
		return "Notification"
	}
}

// QueueEntry is the unit of delivery work. At most one authoritative entry
// exists per (shift, kind) pair; the synchronizer enforces this with an
// existence-checked insert rather than a uniqueness constraint, since rows
// may pre-date the rule.
type QueueEntry struct {
	ID           uuid.UUID    `json:"id"`
	ShiftID      *uuid.UUID   `json:"shift_id,omitempty"` // nil only for broadcast sends
	Kind         ReminderKind `json:"kind"`
	ScheduledFor time.Time    `json:"scheduled_for"`
	Status       QueueStatus  `json:"status"`
	Attempts     int          `json:"attempts"`
	MaxAttempts  int          `json:"max_attempts"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DefaultMaxAttempts is the retry budget for new queue entries.
const DefaultMaxAttempts = 3

// QueueStats holds per-status queue counters for metrics and the dashboard.
type QueueStats struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Retryable int `json:"retryable_error"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
