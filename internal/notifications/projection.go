package notifications

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/google/uuid"
)

// projectionLookaheadBuffer widens the shift fetch window beyond the
// projection window: a reminder's trigger date is always earlier than its
// shift date, so shifts past the window end can still project into it.
const projectionLookaheadBuffer = 24 * time.Hour

// shiftGracePeriod keeps shifts projectable for a short while after their
// start time, matching operator expectations for same-day handling.
const shiftGracePeriod = 2 * time.Hour

// ProjectionQuery describes the window to forecast.
type ProjectionQuery struct {
	WindowDays int
	OffsetDays int
	Overrides  *domain.PolicyPatch // what-if preview, never persisted
}

// ProjectedEvent is one reminder that should exist in the queried window
// and still needs action. Already-processed pairs (sent, claimed or
// cancelled) are excluded entirely.
type ProjectedEvent struct {
	ShiftID       uuid.UUID   `json:"shift_id"`
	Kind          ReminderKind `json:"kind"`
	KindLabel     string      `json:"kind_label"`
	TriggerAt     time.Time   `json:"trigger_at"`
	ShiftDate     time.Time   `json:"shift_date"`
	ShiftStartsAt time.Time   `json:"shift_starts_at"`
	AssigneeID    uuid.UUID   `json:"assignee_id"`
	AssigneeName  string      `json:"assignee_name"`
	AssigneeEmail string      `json:"assignee_email,omitempty"`
	MissingEmail  bool        `json:"missing_email"`
	Queued        bool        `json:"queued"` // an entry already exists for the pair
	QueuedStatus  QueueStatus `json:"queued_status,omitempty"`
}

// Calculator computes the virtual set of reminder events implied by the
// current shifts and policy. It performs no writes and is safe to call on
// every page view.
type Calculator struct {
	rules  *RuleStore
	roster roster.Repository
	repo   Repository
	loc    *time.Location
	now    func() time.Time
}

// NewCalculator creates a projection calculator.
func NewCalculator(rules *RuleStore, rosterRepo roster.Repository, repo Repository, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{
		rules:  rules,
		roster: rosterRepo,
		repo:   repo,
		loc:    loc,
		now:    time.Now,
	}
}

// Project returns the reminders whose trigger date falls inside the window
// [today+offset, today+offset+windowDays), sorted by trigger ascending.
func (c *Calculator) Project(ctx context.Context, query ProjectionQuery) ([]ProjectedEvent, error) {
	if query.WindowDays <= 0 {
		query.WindowDays = 7
	}

	policy, err := c.rules.Effective(ctx, query.Overrides)
	if err != nil {
		return nil, err
	}

	kinds := enabledKinds(policy)
	if len(kinds) == 0 {
		return []ProjectedEvent{}, nil
	}

	now := c.now().In(c.loc)
	start := localMidnight(now, c.loc).AddDate(0, 0, query.OffsetDays)
	end := start.AddDate(0, 0, query.WindowDays)

	// Shifts up to end + max lead + buffer can still trigger inside the
	// window; shifts before start cannot (triggers only move earlier).
	maxLead := maxLeadTime(policy, kinds)
	fetchEnd := end.Add(maxLead + projectionLookaheadBuffer)

	shifts, err := c.roster.ListShiftsBetween(ctx, start, fetchEnd,
		[]domain.ShiftStatus{domain.ShiftStatusCancelled})
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}

	shiftIDs := make([]uuid.UUID, 0, len(shifts))
	for _, s := range shifts {
		shiftIDs = append(shiftIDs, s.ID)
	}

	queued, err := c.repo.StatusesForShifts(ctx, shiftIDs)
	if err != nil {
		return nil, fmt.Errorf("queue statuses: %w", err)
	}

	events := make([]ProjectedEvent, 0, len(shifts))
	for i := range shifts {
		shift := &shifts[i]
		if !shift.HasSchedule() {
			continue
		}

		startsAt := shift.StartsAt(c.loc)
		if startsAt.Before(now.Add(-shiftGracePeriod)) {
			continue
		}

		for _, kind := range kinds {
			trigger := startsAt.Add(-leadFor(policy, kind))
			triggerDay := localMidnight(trigger, c.loc)
			if triggerDay.Before(start) || !triggerDay.Before(end) {
				continue
			}

			status, exists := queued[ShiftKind{ShiftID: shift.ID, Kind: kind}]
			if exists && alreadyProcessed(status) {
				continue
			}

			event := ProjectedEvent{
				ShiftID:       shift.ID,
				Kind:          kind,
				KindLabel:     kind.Label(),
				TriggerAt:     trigger,
				ShiftDate:     shift.Date,
				ShiftStartsAt: startsAt,
				AssigneeID:    shift.AssigneeID,
				AssigneeName:  shift.AssigneeName,
				AssigneeEmail: shift.AssigneeEmail,
				MissingEmail:  shift.AssigneeEmail == "",
				Queued:        exists,
			}
			if exists {
				event.QueuedStatus = status
			}
			events = append(events, event)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].TriggerAt.Before(events[j].TriggerAt)
	})

	return events, nil
}

// alreadyProcessed reports whether a queue status means the pair needs no
// further operator action and must be dropped from the projection.
func alreadyProcessed(status QueueStatus) bool {
	return status == QueueStatusSent || status == QueueStatusClaimed || status == QueueStatusCancelled
}

func maxLeadTime(policy *domain.Policy, kinds []ReminderKind) time.Duration {
	var max time.Duration
	for _, kind := range kinds {
		if lead := leadFor(policy, kind); lead > max {
			max = lead
		}
	}
	return max
}

func localMidnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
