package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/google/uuid"
)

// defaultActor is recorded when an action arrives without an operator name.
const defaultActor = "operator"

// EntryDetails is a queue entry with its shift context and audit history.
type EntryDetails struct {
	Entry    *QueueEntry       `json:"entry"`
	Shift    *domain.Shift     `json:"shift,omitempty"`
	Attempts []DeliveryAttempt `json:"attempts"`
}

// Selection references one (shift, kind) pair picked from the projection.
type Selection struct {
	ShiftID uuid.UUID    `json:"shift_id"`
	Kind    ReminderKind `json:"kind"`
}

// Service exposes the operator-facing queue operations: resends, cancels,
// email corrections, manual sends and forecast generation. Every mutation
// here is human-triggered and leaves an admin action record.
type Service struct {
	repo      Repository
	roster    roster.Repository
	rules     *RuleStore
	sync      *Synchronizer
	calc      *Calculator
	renderer  *Renderer
	processor *Processor
	loc       *time.Location
	now       func() time.Time
}

// NewService creates the notifications service.
func NewService(repo Repository, rosterRepo roster.Repository, rules *RuleStore,
	sync *Synchronizer, calc *Calculator, renderer *Renderer, processor *Processor, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:      repo,
		roster:    rosterRepo,
		rules:     rules,
		sync:      sync,
		calc:      calc,
		renderer:  renderer,
		processor: processor,
		loc:       loc,
		now:       time.Now,
	}
}

// Rules returns the policy store.
func (s *Service) Rules() *RuleStore { return s.rules }

// Sync materializes queue entries for upcoming shifts.
func (s *Service) Sync(ctx context.Context) (int, error) {
	return s.sync.Sync(ctx)
}

// Project computes the reminder forecast for a window.
func (s *Service) Project(ctx context.Context, query ProjectionQuery) ([]ProjectedEvent, error) {
	return s.calc.Project(ctx, query)
}

// RenderedPreview is the rendered content for one shift, produced without
// queueing or sending anything.
type RenderedPreview struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Recipient string `json:"recipient,omitempty"`
}

// RenderPreview renders a shift's reminder with the current policy so
// operators can vet templates before saving or sending.
func (s *Service) RenderPreview(ctx context.Context, shiftID uuid.UUID, kind ReminderKind) (*RenderedPreview, error) {
	policy, err := s.rules.Get(ctx)
	if err != nil {
		return nil, err
	}

	shift, err := s.roster.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	devices, err := s.roster.ListDevices(ctx, shift.AssigneeID)
	if err != nil {
		return nil, err
	}

	subject, body, err := s.renderer.Render(RenderInput{Shift: shift, Devices: devices, Kind: kind}, policy)
	if err != nil {
		return nil, err
	}

	return &RenderedPreview{
		Subject:   subject,
		Body:      body,
		Recipient: shift.AssigneeEmail,
	}, nil
}

// Run triggers a blocking delivery run over everything currently due.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	return s.processor.Run(ctx, nil)
}

// RunStream triggers a delivery run and streams progress reports.
func (s *Service) RunStream(ctx context.Context) (<-chan Progress, error) {
	return s.processor.RunStream(ctx, nil)
}

// ListQueue lists queue entries.
func (s *Service) ListQueue(ctx context.Context, filter QueueFilter) ([]QueueEntry, error) {
	return s.repo.ListEntries(ctx, filter)
}

// EntryDetails returns one entry with its shift and attempt history.
func (s *Service) EntryDetails(ctx context.Context, id uuid.UUID) (*EntryDetails, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &EntryDetails{Entry: entry}

	if entry.ShiftID != nil {
		shift, err := s.roster.GetShift(ctx, *entry.ShiftID)
		if err != nil && !errors.Is(err, roster.ErrShiftNotFound) {
			return nil, err
		}
		details.Shift = shift
	}

	attempts, err := s.repo.ListAttemptsForEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	details.Attempts = attempts

	return details, nil
}

// Resend reactivates one entry and runs it immediately. Claimed entries
// cannot be resent; everything else, including sent and failed entries, can.
func (s *Service) Resend(ctx context.Context, id uuid.UUID, actor string) (*RunResult, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == QueueStatusClaimed {
		return nil, ErrRunInProgress
	}

	if err := s.repo.Reactivate(ctx, id, s.now()); err != nil {
		return nil, err
	}
	s.recordAction(ctx, &id, "resend", actor, fmt.Sprintf("previous status %s", entry.Status))

	return s.processor.Run(ctx, []uuid.UUID{id})
}

// Cancel moves a non-terminal entry to cancelled. Cancelled entries stay
// cancelled; subsequent syncs never resurrect them.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) error {
	ok, err := s.repo.CancelEntry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEntryTerminal
	}
	s.recordAction(ctx, &id, "cancel", actor, "")
	return nil
}

// CorrectEmail updates the assignee's email behind an entry and optionally
// reactivates and resends it in the same action.
func (s *Service) CorrectEmail(ctx context.Context, id uuid.UUID, email string, autoRetry bool, actor string) (*RunResult, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.ShiftID == nil {
		return nil, ErrNoShift
	}

	shift, err := s.roster.GetShift(ctx, *entry.ShiftID)
	if err != nil {
		return nil, err
	}

	if err := s.roster.UpdateAssigneeEmail(ctx, shift.AssigneeID, email); err != nil {
		return nil, fmt.Errorf("update assignee email: %w", err)
	}
	s.recordAction(ctx, &id, "email_corrected", actor, fmt.Sprintf("new address %s", email))

	if !autoRetry {
		return nil, nil
	}
	if entry.Status == QueueStatusClaimed {
		return nil, ErrRunInProgress
	}
	if err := s.repo.Reactivate(ctx, id, s.now()); err != nil {
		return nil, err
	}
	return s.processor.Run(ctx, []uuid.UUID{id})
}

// SendManual queues an immediate manual reminder for each assignee's next
// assigned shift and runs them. Assignees without an upcoming shift are
// reported back, not treated as errors.
func (s *Service) SendManual(ctx context.Context, assigneeIDs []uuid.UUID, actor string) (*RunResult, []uuid.UUID, error) {
	if len(assigneeIDs) == 0 {
		return nil, nil, ErrEmptySelection
	}

	now := s.now().In(s.loc)
	today := localMidnight(now, s.loc)

	var (
		entryIDs []uuid.UUID
		noShift  []uuid.UUID
	)
	for _, assigneeID := range assigneeIDs {
		shift, err := s.roster.NextAssignedShift(ctx, assigneeID, today)
		if err != nil {
			if errors.Is(err, roster.ErrShiftNotFound) {
				noShift = append(noShift, assigneeID)
				continue
			}
			return nil, nil, err
		}

		shiftID := shift.ID
		entry := &QueueEntry{
			ID:           uuid.New(),
			ShiftID:      &shiftID,
			Kind:         KindManual,
			ScheduledFor: now,
			Status:       QueueStatusPending,
			MaxAttempts:  DefaultMaxAttempts,
		}
		if err := s.repo.CreateEntry(ctx, entry); err != nil {
			return nil, nil, fmt.Errorf("create manual entry: %w", err)
		}
		entryIDs = append(entryIDs, entry.ID)
	}

	s.recordAction(ctx, nil, "manual_send", actor,
		fmt.Sprintf("assignees=%d queued=%d no_upcoming_shift=%d", len(assigneeIDs), len(entryIDs), len(noShift)))

	if len(entryIDs) == 0 {
		return &RunResult{}, noShift, nil
	}

	result, err := s.processor.Run(ctx, entryIDs)
	if err != nil {
		return nil, noShift, err
	}
	return result, noShift, nil
}

// GenerateFromForecast materializes the selected (shift, kind) pairs from
// the projection and delivers them immediately. Existing non-claimed
// entries are reactivated; claimed ones are left alone.
func (s *Service) GenerateFromForecast(ctx context.Context, selections []Selection, actor string) (*RunResult, error) {
	if len(selections) == 0 {
		return nil, ErrEmptySelection
	}

	policy, err := s.rules.Get(ctx)
	if err != nil {
		return nil, err
	}

	var entryIDs []uuid.UUID
	for _, sel := range selections {
		shift, err := s.roster.GetShift(ctx, sel.ShiftID)
		if err != nil {
			return nil, err
		}
		if !shift.HasSchedule() {
			continue
		}

		trigger := shift.StartsAt(s.loc).Add(-leadFor(policy, sel.Kind))

		shiftID := shift.ID
		entry := &QueueEntry{
			ID:           uuid.New(),
			ShiftID:      &shiftID,
			Kind:         sel.Kind,
			ScheduledFor: trigger,
			Status:       QueueStatusPending,
			MaxAttempts:  DefaultMaxAttempts,
		}

		created, err := s.repo.CreateEntryIfAbsent(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("create entry for shift %s: %w", shift.ID, err)
		}
		if created {
			entryIDs = append(entryIDs, entry.ID)
			continue
		}

		existing, err := s.repo.GetEntryByShiftKind(ctx, sel.ShiftID, sel.Kind)
		if err != nil {
			return nil, err
		}
		if existing.Status == QueueStatusClaimed {
			slog.Warn("skipping claimed entry in forecast generation", "entry_id", existing.ID)
			continue
		}
		if err := s.repo.Reactivate(ctx, existing.ID, trigger); err != nil {
			return nil, err
		}
		entryIDs = append(entryIDs, existing.ID)
	}

	s.recordAction(ctx, nil, "forecast_generate", actor,
		fmt.Sprintf("selected=%d queued=%d", len(selections), len(entryIDs)))

	if len(entryIDs) == 0 {
		return &RunResult{}, nil
	}
	return s.processor.Run(ctx, entryIDs)
}

// BulkResult summarizes a bulk queue operation.
type BulkResult struct {
	Affected int        `json:"affected"`
	Skipped  int        `json:"skipped"`
	Run      *RunResult `json:"run,omitempty"`
}

// BulkCancel cancels every non-terminal entry in the selection. Terminal
// and claimed entries are counted as skipped.
func (s *Service) BulkCancel(ctx context.Context, ids []uuid.UUID, actor string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}

	result := &BulkResult{}
	for _, id := range ids {
		ok, err := s.repo.CancelEntry(ctx, id)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		if ok {
			result.Affected++
		} else {
			result.Skipped++
		}
	}

	s.recordAction(ctx, nil, "bulk_cancel", actor,
		fmt.Sprintf("selected=%d cancelled=%d skipped=%d", len(ids), result.Affected, result.Skipped))
	return result, nil
}

// BulkResend reactivates every resendable entry in the selection and runs
// them in one delivery pass.
func (s *Service) BulkResend(ctx context.Context, ids []uuid.UUID, actor string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}

	result := &BulkResult{}
	var runIDs []uuid.UUID
	for _, id := range ids {
		entry, err := s.repo.GetEntry(ctx, id)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		if entry.Status == QueueStatusClaimed {
			result.Skipped++
			continue
		}
		if err := s.repo.Reactivate(ctx, id, s.now()); err != nil {
			return nil, err
		}
		result.Affected++
		runIDs = append(runIDs, id)
	}

	s.recordAction(ctx, nil, "bulk_resend", actor,
		fmt.Sprintf("selected=%d queued=%d skipped=%d", len(ids), result.Affected, result.Skipped))

	if len(runIDs) > 0 {
		run, err := s.processor.Run(ctx, runIDs)
		if err != nil {
			return nil, err
		}
		result.Run = run
	}
	return result, nil
}

// ListAttempts returns the delivery audit trail.
func (s *Service) ListAttempts(ctx context.Context, filter AttemptFilter) ([]DeliveryAttempt, error) {
	return s.repo.ListAttempts(ctx, filter)
}

// Stats returns queue counters and refreshes the queue gauges.
func (s *Service) Stats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.repo.GetQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	RecordQueueStats(stats)
	return stats, nil
}

func (s *Service) recordAction(ctx context.Context, queueID *uuid.UUID, action, actor, details string) {
	if actor == "" {
		actor = defaultActor
	}
	rec := &AdminAction{
		ID:      uuid.New(),
		QueueID: queueID,
		Action:  action,
		Actor:   actor,
		Details: details,
	}
	if err := s.repo.RecordAdminAction(ctx, rec); err != nil {
		slog.Error("failed to record admin action", "action", action, "error", err)
	}
}
