package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/google/uuid"
)

// Grace windows: a reminder whose trigger already passed is still queued if
// the miss is small, so a sync running slightly late does not drop sends.
const (
	advanceGracePeriod = time.Hour
	dayOfGracePeriod   = 30 * time.Minute
)

// defaultSyncWindowDays is the minimum lookahead of one sync pass.
const defaultSyncWindowDays = 7

// Synchronizer materializes queue entries for upcoming shifts according to
// the current policy. Sync is idempotent: the (shift, kind) pair is the
// authoritative identity and existing entries are never modified, whatever
// their status. Cancelling an entry therefore sticks across syncs.
type Synchronizer struct {
	rules  *RuleStore
	roster roster.Repository
	repo   Repository
	loc    *time.Location
	now    func() time.Time
}

// NewSynchronizer creates a queue synchronizer.
func NewSynchronizer(rules *RuleStore, rosterRepo roster.Repository, repo Repository, loc *time.Location) *Synchronizer {
	if loc == nil {
		loc = time.Local
	}
	return &Synchronizer{
		rules:  rules,
		roster: rosterRepo,
		repo:   repo,
		loc:    loc,
		now:    time.Now,
	}
}

// Sync scans upcoming shifts and inserts the queue entries the policy calls
// for, returning how many entries were created. Shifts without a schedule or
// without an assignee email are skipped; they surface in the projection
// instead.
func (s *Synchronizer) Sync(ctx context.Context) (int, error) {
	policy, err := s.rules.Get(ctx)
	if err != nil {
		return 0, err
	}

	kinds := enabledKinds(policy)
	if len(kinds) == 0 {
		return 0, nil
	}

	now := s.now().In(s.loc)
	today := localMidnight(now, s.loc)

	windowDays := defaultSyncWindowDays
	if policy.AdvanceEnabled && policy.AdvanceLeadDays > windowDays {
		windowDays = policy.AdvanceLeadDays
	}

	// Yesterday is included so a day-of reminder for an early shift still
	// lands when the sync runs right after midnight.
	from := today.AddDate(0, 0, -1)
	to := today.AddDate(0, 0, windowDays+1)

	shifts, err := s.roster.ListShiftsBetween(ctx, from, to,
		[]domain.ShiftStatus{domain.ShiftStatusCompleted, domain.ShiftStatusCancelled})
	if err != nil {
		return 0, fmt.Errorf("list shifts: %w", err)
	}

	created := 0
	for i := range shifts {
		shift := &shifts[i]
		if !shift.HasSchedule() || shift.AssigneeEmail == "" {
			continue
		}

		startsAt := shift.StartsAt(s.loc)
		for _, kind := range kinds {
			trigger := startsAt.Add(-leadFor(policy, kind))
			if trigger.Before(now.Add(-gracePeriod(kind))) {
				continue
			}

			shiftID := shift.ID
			entry := &QueueEntry{
				ID:           uuid.New(),
				ShiftID:      &shiftID,
				Kind:         kind,
				ScheduledFor: trigger,
				Status:       QueueStatusPending,
				MaxAttempts:  DefaultMaxAttempts,
			}

			ok, err := s.repo.CreateEntryIfAbsent(ctx, entry)
			if err != nil {
				return created, fmt.Errorf("create entry for shift %s: %w", shift.ID, err)
			}
			if ok {
				created++
			}
		}
	}

	slog.Info("queue synchronized",
		"shifts_scanned", len(shifts),
		"entries_created", created,
		"window_days", windowDays,
	)

	return created, nil
}

// gracePeriod returns how far past its trigger a reminder may still be
// queued by a sync pass.
func gracePeriod(kind ReminderKind) time.Duration {
	if kind == KindDayOf {
		return dayOfGracePeriod
	}
	return advanceGracePeriod
}
