package notifications

import (
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome is the recorded result of one delivery attempt.
type AttemptOutcome string

// Attempt outcomes.
const (
	OutcomeSent   AttemptOutcome = "sent"
	OutcomeFailed AttemptOutcome = "failed"
)

// DeliveryAttempt is an immutable audit snapshot written on every send
// outcome. Rows are never updated or deleted.
type DeliveryAttempt struct {
	ID        uuid.UUID      `json:"id"`
	QueueID   *uuid.UUID     `json:"queue_id,omitempty"`
	ShiftID   *uuid.UUID     `json:"shift_id,omitempty"`
	Kind      ReminderKind   `json:"kind"`
	AttemptNo int            `json:"attempt_no"`
	Outcome   AttemptOutcome `json:"outcome"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body,omitempty"`
	ErrorLog  string         `json:"error_log,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AdminAction records a human-triggered administrative action on the queue
// (cancel, email edit, manual resend) or a whole-run summary. Automatic
// delivery failures are never logged here; those live in DeliveryAttempt.
type AdminAction struct {
	ID        uuid.UUID  `json:"id"`
	QueueID   *uuid.UUID `json:"queue_id,omitempty"` // nil for run summaries
	Action    string     `json:"action"`
	Actor     string     `json:"actor,omitempty"`
	Details   string     `json:"details,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AttemptFilter narrows audit-trail queries.
type AttemptFilter struct {
	From    *time.Time
	To      *time.Time
	Outcome AttemptOutcome // empty matches all
	Search  string         // matches recipient or subject, case-insensitive
	Limit   int
}
