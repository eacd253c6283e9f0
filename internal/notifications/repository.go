// Package notifications implements the reminder scheduling and delivery
// engine: policy rules, queue synchronization, projection, and the
// concurrent delivery processor with its audit trail.
package notifications

import (
	"context"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/google/uuid"
)

// ShiftKind identifies the authoritative (shift, kind) pair of a queue entry.
type ShiftKind struct {
	ShiftID uuid.UUID
	Kind    ReminderKind
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	Statuses []QueueStatus
	Kind     ReminderKind // empty matches all
	Limit    int
}

// Repository defines persistence for the notifications core.
type Repository interface {
	// Policy (singleton, created with defaults on first access).
	GetPolicy(ctx context.Context) (*domain.Policy, error)
	SavePolicy(ctx context.Context, policy *domain.Policy) error

	// CreateEntryIfAbsent inserts the entry unless one already exists for
	// its (shift, kind) pair; reports whether a row was created. Existing
	// rows are never modified, whatever their status.
	CreateEntryIfAbsent(ctx context.Context, entry *QueueEntry) (bool, error)

	CreateEntry(ctx context.Context, entry *QueueEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	GetEntryByShiftKind(ctx context.Context, shiftID uuid.UUID, kind ReminderKind) (*QueueEntry, error)

	// SelectDue returns entries with status pending or retryable_error whose
	// scheduled_for is at or before now, oldest first.
	SelectDue(ctx context.Context, now time.Time) ([]QueueEntry, error)
	SelectByIDs(ctx context.Context, ids []uuid.UUID) ([]QueueEntry, error)
	ListEntries(ctx context.Context, filter QueueFilter) ([]QueueEntry, error)

	// Claim performs the conditional update "status=claimed where id=? and
	// status=?" and reports whether exactly one row changed. This is the
	// sole concurrency-safety mechanism of the processor.
	Claim(ctx context.Context, id uuid.UUID, observed QueueStatus) (bool, error)

	// Release puts a claimed entry back without touching its attempt
	// counter (used for soft skips such as a missing recipient address).
	Release(ctx context.Context, id uuid.UUID, to QueueStatus) error

	// MarkSent resolves a claimed entry: status=sent, attempts+1, error
	// cleared.
	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailed resolves a failed attempt: attempts+1, last_error set,
	// status failed when final, retryable_error otherwise.
	MarkFailed(ctx context.Context, id uuid.UUID, sendErr error, final bool) error

	// Reactivate forces an entry back to pending with attempts reset. Used
	// only by explicit human actions; claimed entries must not be touched.
	Reactivate(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error

	// CancelEntry moves a non-terminal entry to cancelled; reports whether
	// the transition happened.
	CancelEntry(ctx context.Context, id uuid.UUID) (bool, error)

	// StatusesForShifts returns the current queue status per (shift, kind)
	// pair for the given shifts.
	StatusesForShifts(ctx context.Context, shiftIDs []uuid.UUID) (map[ShiftKind]QueueStatus, error)

	// Audit trail (append-only).
	RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error
	RecordAdminAction(ctx context.Context, action *AdminAction) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]DeliveryAttempt, error)
	ListAttemptsForEntry(ctx context.Context, queueID uuid.UUID) ([]DeliveryAttempt, error)

	GetQueueStats(ctx context.Context) (*QueueStats, error)
}
