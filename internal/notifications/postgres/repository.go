// Package postgres provides the PostgreSQL implementation of the
// notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const policyColumns = `advance_enabled, advance_lead_days, day_of_enabled, day_of_lead_minutes,
		subject_template, body_template, bcc_email, default_activity, slot_duration_minutes, updated_at`

// GetPolicy returns the singleton policy, creating it with defaults on
// first access.
func (r *Repository) GetPolicy(ctx context.Context) (*domain.Policy, error) {
	def := domain.DefaultPolicy()
	insert := `
		INSERT INTO notification_policies (id, ` + policyColumns + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, insert,
		def.AdvanceEnabled,
		def.AdvanceLeadDays,
		def.DayOfEnabled,
		def.DayOfLeadMinutes,
		def.SubjectTemplate,
		def.BodyTemplate,
		def.BCCEmail,
		def.DefaultActivity,
		def.SlotDurationMinutes,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure default policy: %w", err)
	}

	query := `SELECT ` + policyColumns + ` FROM notification_policies WHERE id = 1`
	var policy domain.Policy
	err = r.db.QueryRow(ctx, query).Scan(
		&policy.AdvanceEnabled,
		&policy.AdvanceLeadDays,
		&policy.DayOfEnabled,
		&policy.DayOfLeadMinutes,
		&policy.SubjectTemplate,
		&policy.BodyTemplate,
		&policy.BCCEmail,
		&policy.DefaultActivity,
		&policy.SlotDurationMinutes,
		&policy.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &policy, nil
}

// SavePolicy persists the singleton policy.
func (r *Repository) SavePolicy(ctx context.Context, policy *domain.Policy) error {
	query := `
		UPDATE notification_policies
		SET advance_enabled = $1, advance_lead_days = $2, day_of_enabled = $3,
			day_of_lead_minutes = $4, subject_template = $5, body_template = $6,
			bcc_email = $7, default_activity = $8, slot_duration_minutes = $9,
			updated_at = $10
		WHERE id = 1
	`
	result, err := r.db.Exec(ctx, query,
		policy.AdvanceEnabled,
		policy.AdvanceLeadDays,
		policy.DayOfEnabled,
		policy.DayOfLeadMinutes,
		policy.SubjectTemplate,
		policy.BodyTemplate,
		policy.BCCEmail,
		policy.DefaultActivity,
		policy.SlotDurationMinutes,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrPolicyNotFound
	}
	return nil
}

const entryColumns = `id, shift_id, kind, scheduled_for, status, attempts, max_attempts,
		last_error, created_at, updated_at`

// CreateEntryIfAbsent inserts the entry unless one already exists for its
// (shift, kind) pair. The existence check is deliberate: rows predating the
// rule mean a unique constraint cannot be trusted, and existing rows must
// never be modified regardless of status.
func (r *Repository) CreateEntryIfAbsent(ctx context.Context, entry *notifications.QueueEntry) (bool, error) {
	query := `
		INSERT INTO notification_queue (id, shift_id, kind, scheduled_for, status, attempts, max_attempts, last_error)
		SELECT $1, $2, $3, $4, $5, 0, $6, ''
		WHERE NOT EXISTS (
			SELECT 1 FROM notification_queue WHERE shift_id = $2 AND kind = $3
		)
	`
	result, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.ShiftID,
		entry.Kind,
		entry.ScheduledFor,
		entry.Status,
		entry.MaxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("create entry if absent: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CreateEntry inserts a queue entry unconditionally.
func (r *Repository) CreateEntry(ctx context.Context, entry *notifications.QueueEntry) error {
	query := `
		INSERT INTO notification_queue (id, shift_id, kind, scheduled_for, status, attempts, max_attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.ShiftID,
		entry.Kind,
		entry.ScheduledFor,
		entry.Status,
		entry.Attempts,
		entry.MaxAttempts,
		entry.LastError,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a queue entry by ID.
func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (*notifications.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM notification_queue WHERE id = $1`
	entry, err := r.scanEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// GetEntryByShiftKind retrieves the authoritative entry for a (shift, kind)
// pair. When legacy duplicates exist the newest row wins.
func (r *Repository) GetEntryByShiftKind(ctx context.Context, shiftID uuid.UUID, kind notifications.ReminderKind) (*notifications.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM notification_queue
		WHERE shift_id = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	entry, err := r.scanEntry(r.db.QueryRow(ctx, query, shiftID, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry by shift and kind: %w", err)
	}
	return entry, nil
}

// SelectDue returns deliverable entries whose schedule has arrived, oldest
// first.
func (r *Repository) SelectDue(ctx context.Context, now time.Time) ([]notifications.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM notification_queue
		WHERE status IN ($1, $2) AND scheduled_for <= $3
		ORDER BY scheduled_for ASC
	`
	rows, err := r.db.Query(ctx, query,
		notifications.QueueStatusPending, notifications.QueueStatusRetryable, now)
	if err != nil {
		return nil, fmt.Errorf("select due: %w", err)
	}
	return r.collectEntries(rows)
}

// SelectByIDs returns the given entries in scheduled order.
func (r *Repository) SelectByIDs(ctx context.Context, ids []uuid.UUID) ([]notifications.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM notification_queue
		WHERE id = ANY($1)
		ORDER BY scheduled_for ASC
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select by ids: %w", err)
	}
	return r.collectEntries(rows)
}

// ListEntries lists queue entries with optional filters.
func (r *Repository) ListEntries(ctx context.Context, filter notifications.QueueFilter) ([]notifications.QueueEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		args = append(args, filter.Statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM notification_queue`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY scheduled_for ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return r.collectEntries(rows)
}

// Claim transitions an entry to claimed only when its status still matches
// what the caller observed. Exactly one concurrent caller can win.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, observed notifications.QueueStatus) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, notifications.QueueStatusClaimed, id, observed)
	if err != nil {
		return false, fmt.Errorf("claim entry: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Release puts a claimed entry back without touching its attempt counter.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, to notifications.QueueStatus) error {
	query := `
		UPDATE notification_queue
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, to, id, notifications.QueueStatusClaimed)
	if err != nil {
		return fmt.Errorf("release entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrEntryNotFound
	}
	return nil
}

// MarkSent resolves a claimed entry as delivered. A cancel that won the
// race leaves the entry cancelled; the update is then a no-op.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notification_queue
		SET status = $1, attempts = attempts + 1, last_error = '', updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.Exec(ctx, query, notifications.QueueStatusSent, id, notifications.QueueStatusClaimed)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed resolves a failed attempt against the retry budget.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, sendErr error, final bool) error {
	status := notifications.QueueStatusRetryable
	if final {
		status = notifications.QueueStatusFailed
	}
	query := `
		UPDATE notification_queue
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.Exec(ctx, query, status, sendErr.Error(), id, notifications.QueueStatusClaimed)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Reactivate forces an entry back to pending with a fresh attempt budget.
// Claimed entries are never touched.
func (r *Repository) Reactivate(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = $1, attempts = 0, last_error = '', scheduled_for = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $4
	`
	result, err := r.db.Exec(ctx, query,
		notifications.QueueStatusPending, scheduledFor, id, notifications.QueueStatusClaimed)
	if err != nil {
		return fmt.Errorf("reactivate entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrEntryNotFound
	}
	return nil
}

// CancelEntry moves a non-terminal entry to cancelled and reports whether
// the transition happened.
func (r *Repository) CancelEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4, $5)
	`
	result, err := r.db.Exec(ctx, query,
		notifications.QueueStatusCancelled, id,
		notifications.QueueStatusSent,
		notifications.QueueStatusFailed,
		notifications.QueueStatusCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("cancel entry: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_queue WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("cancel entry: %w", err)
	}
	if !exists {
		return false, notifications.ErrEntryNotFound
	}
	return false, nil
}

// StatusesForShifts returns the current queue status per (shift, kind)
// pair. The newest row wins when legacy duplicates exist.
func (r *Repository) StatusesForShifts(ctx context.Context, shiftIDs []uuid.UUID) (map[notifications.ShiftKind]notifications.QueueStatus, error) {
	statuses := make(map[notifications.ShiftKind]notifications.QueueStatus)
	if len(shiftIDs) == 0 {
		return statuses, nil
	}

	query := `
		SELECT DISTINCT ON (shift_id, kind) shift_id, kind, status
		FROM notification_queue
		WHERE shift_id = ANY($1)
		ORDER BY shift_id, kind, created_at DESC
	`
	rows, err := r.db.Query(ctx, query, shiftIDs)
	if err != nil {
		return nil, fmt.Errorf("statuses for shifts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			shiftID uuid.UUID
			kind    notifications.ReminderKind
			status  notifications.QueueStatus
		)
		if err := rows.Scan(&shiftID, &kind, &status); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses[notifications.ShiftKind{ShiftID: shiftID, Kind: kind}] = status
	}
	return statuses, rows.Err()
}

// RecordAttempt appends an immutable delivery attempt row.
func (r *Repository) RecordAttempt(ctx context.Context, attempt *notifications.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, queue_id, shift_id, kind, attempt_no, outcome, recipient, subject, body, error_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		attempt.ID,
		attempt.QueueID,
		attempt.ShiftID,
		attempt.Kind,
		attempt.AttemptNo,
		attempt.Outcome,
		attempt.Recipient,
		attempt.Subject,
		attempt.Body,
		attempt.ErrorLog,
	).Scan(&attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// RecordAdminAction appends an admin action row.
func (r *Repository) RecordAdminAction(ctx context.Context, action *notifications.AdminAction) error {
	query := `
		INSERT INTO admin_actions (id, queue_id, action, actor, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		action.ID,
		action.QueueID,
		action.Action,
		action.Actor,
		action.Details,
	).Scan(&action.CreatedAt)
	if err != nil {
		return fmt.Errorf("record admin action: %w", err)
	}
	return nil
}

const attemptColumns = `id, queue_id, shift_id, kind, attempt_no, outcome, recipient, subject, body, error_log, created_at`

// ListAttempts returns the delivery audit trail with optional filters,
// newest first.
func (r *Repository) ListAttempts(ctx context.Context, filter notifications.AttemptFilter) ([]notifications.DeliveryAttempt, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		conds = append(conds, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(recipient ILIKE $%d OR subject ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return r.collectAttempts(rows)
}

// ListAttemptsForEntry returns one entry's attempt history, oldest first.
func (r *Repository) ListAttemptsForEntry(ctx context.Context, queueID uuid.UUID) ([]notifications.DeliveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM delivery_attempts
		WHERE queue_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, queueID)
	if err != nil {
		return nil, fmt.Errorf("list attempts for entry: %w", err)
	}
	return r.collectAttempts(rows)
}

// GetQueueStats returns per-status queue counters.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	var stats notifications.QueueStats
	for rows.Next() {
		var (
			status notifications.QueueStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case notifications.QueueStatusPending:
			stats.Pending = count
		case notifications.QueueStatusClaimed:
			stats.Claimed = count
		case notifications.QueueStatusSent:
			stats.Sent = count
		case notifications.QueueStatusRetryable:
			stats.Retryable = count
		case notifications.QueueStatusFailed:
			stats.Failed = count
		case notifications.QueueStatusCancelled:
			stats.Cancelled = count
		}
	}
	return &stats, rows.Err()
}

func (r *Repository) scanEntry(row pgx.Row) (*notifications.QueueEntry, error) {
	var entry notifications.QueueEntry
	err := row.Scan(
		&entry.ID,
		&entry.ShiftID,
		&entry.Kind,
		&entry.ScheduledFor,
		&entry.Status,
		&entry.Attempts,
		&entry.MaxAttempts,
		&entry.LastError,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Repository) collectEntries(rows pgx.Rows) ([]notifications.QueueEntry, error) {
	defer rows.Close()

	entries := make([]notifications.QueueEntry, 0)
	for rows.Next() {
		var entry notifications.QueueEntry
		err := rows.Scan(
			&entry.ID,
			&entry.ShiftID,
			&entry.Kind,
			&entry.ScheduledFor,
			&entry.Status,
			&entry.Attempts,
			&entry.MaxAttempts,
			&entry.LastError,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *Repository) collectAttempts(rows pgx.Rows) ([]notifications.DeliveryAttempt, error) {
	defer rows.Close()

	attempts := make([]notifications.DeliveryAttempt, 0)
	for rows.Next() {
		var attempt notifications.DeliveryAttempt
		err := rows.Scan(
			&attempt.ID,
			&attempt.QueueID,
			&attempt.ShiftID,
			&attempt.Kind,
			&attempt.AttemptNo,
			&attempt.Outcome,
			&attempt.Recipient,
			&attempt.Subject,
			&attempt.Body,
			&attempt.ErrorLog,
			&attempt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}
