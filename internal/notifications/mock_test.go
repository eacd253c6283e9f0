package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/google/uuid"
)

type mockRepository struct {
	mu       sync.Mutex
	policy   *domain.Policy
	entries  map[uuid.UUID]*QueueEntry
	attempts []DeliveryAttempt
	actions  []AdminAction
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		entries: make(map[uuid.UUID]*QueueEntry),
	}
}

func (m *mockRepository) GetPolicy(_ context.Context) (*domain.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		m.policy = domain.DefaultPolicy()
	}
	p := *m.policy
	return &p, nil
}

func (m *mockRepository) SavePolicy(_ context.Context, policy *domain.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *policy
	m.policy = &p
	return nil
}

func (m *mockRepository) CreateEntryIfAbsent(_ context.Context, entry *QueueEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ShiftID != nil && entry.ShiftID != nil && *e.ShiftID == *entry.ShiftID && e.Kind == entry.Kind {
			return false, nil
		}
	}
	e := *entry
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	m.entries[e.ID] = &e
	return true, nil
}

func (m *mockRepository) CreateEntry(_ context.Context, entry *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	m.entries[e.ID] = &e
	return nil
}

func (m *mockRepository) GetEntry(_ context.Context, id uuid.UUID) (*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepository) GetEntryByShiftKind(_ context.Context, shiftID uuid.UUID, kind ReminderKind) (*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ShiftID != nil && *e.ShiftID == shiftID && e.Kind == kind {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (m *mockRepository) SelectDue(_ context.Context, now time.Time) ([]QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []QueueEntry
	for _, e := range m.entries {
		if (e.Status == QueueStatusPending || e.Status == QueueStatusRetryable) && !e.ScheduledFor.After(now) {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	return due, nil
}

func (m *mockRepository) SelectByIDs(_ context.Context, ids []uuid.UUID) ([]QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []QueueEntry
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (m *mockRepository) ListEntries(_ context.Context, filter QueueFilter) ([]QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []QueueEntry
	for _, e := range m.entries {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				if e.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockRepository) Claim(_ context.Context, id uuid.UUID, observed QueueStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != observed {
		return false, nil
	}
	e.Status = QueueStatusClaimed
	e.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepository) Release(_ context.Context, id uuid.UUID, to QueueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != QueueStatusClaimed {
		return ErrEntryNotFound
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) MarkSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != QueueStatusClaimed {
		return nil
	}
	e.Status = QueueStatusSent
	e.Attempts++
	e.LastError = ""
	e.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id uuid.UUID, sendErr error, final bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != QueueStatusClaimed {
		return nil
	}
	if final {
		e.Status = QueueStatusFailed
	} else {
		e.Status = QueueStatusRetryable
	}
	e.Attempts++
	e.LastError = sendErr.Error()
	e.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) Reactivate(_ context.Context, id uuid.UUID, scheduledFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status == QueueStatusClaimed {
		return ErrEntryNotFound
	}
	e.Status = QueueStatusPending
	e.Attempts = 0
	e.LastError = ""
	e.ScheduledFor = scheduledFor
	e.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) CancelEntry(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, ErrEntryNotFound
	}
	if e.Status.IsTerminal() {
		return false, nil
	}
	e.Status = QueueStatusCancelled
	e.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepository) StatusesForShifts(_ context.Context, shiftIDs []uuid.UUID) (map[ShiftKind]QueueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ShiftKind]QueueStatus)
	for _, id := range shiftIDs {
		for _, e := range m.entries {
			if e.ShiftID != nil && *e.ShiftID == id {
				out[ShiftKind{ShiftID: id, Kind: e.Kind}] = e.Status
			}
		}
	}
	return out, nil
}

func (m *mockRepository) RecordAttempt(_ context.Context, attempt *DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := *attempt
	a.CreatedAt = time.Now()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *mockRepository) RecordAdminAction(_ context.Context, action *AdminAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := *action
	a.CreatedAt = time.Now()
	m.actions = append(m.actions, a)
	return nil
}

func (m *mockRepository) ListAttempts(_ context.Context, filter AttemptFilter) ([]DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeliveryAttempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		if filter.Outcome != "" && a.Outcome != filter.Outcome {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockRepository) ListAttemptsForEntry(_ context.Context, queueID uuid.UUID) ([]DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryAttempt
	for _, a := range m.attempts {
		if a.QueueID != nil && *a.QueueID == queueID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats QueueStats
	for _, e := range m.entries {
		switch e.Status {
		case QueueStatusPending:
			stats.Pending++
		case QueueStatusClaimed:
			stats.Claimed++
		case QueueStatusSent:
			stats.Sent++
		case QueueStatusRetryable:
			stats.Retryable++
		case QueueStatusFailed:
			stats.Failed++
		case QueueStatusCancelled:
			stats.Cancelled++
		}
	}
	return &stats, nil
}

func (m *mockRepository) entrySnapshot(id uuid.UUID) QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.entries[id]
}

func (m *mockRepository) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *mockRepository) actionNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.actions))
	for _, a := range m.actions {
		names = append(names, a.Action)
	}
	return names
}

type mockRoster struct {
	mu       sync.Mutex
	shifts   map[uuid.UUID]*domain.Shift
	devices  map[uuid.UUID][]domain.Device
	notified map[uuid.UUID]time.Time
	errored  map[uuid.UUID]bool
	emails   map[uuid.UUID]string
}

func newMockRoster() *mockRoster {
	return &mockRoster{
		shifts:   make(map[uuid.UUID]*domain.Shift),
		devices:  make(map[uuid.UUID][]domain.Device),
		notified: make(map[uuid.UUID]time.Time),
		errored:  make(map[uuid.UUID]bool),
		emails:   make(map[uuid.UUID]string),
	}
}

func (m *mockRoster) addShift(shift domain.Shift) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := shift
	m.shifts[s.ID] = &s
}

func (m *mockRoster) ListShiftsBetween(_ context.Context, from, to time.Time, exclude []domain.ShiftStatus) ([]domain.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Shift
	for _, s := range m.shifts {
		if s.Date.Before(from) || s.Date.After(to) {
			continue
		}
		excluded := false
		for _, st := range exclude {
			if s.Status == st {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockRoster) GetShift(_ context.Context, id uuid.UUID) (*domain.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shifts[id]
	if !ok {
		return nil, roster.ErrShiftNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRoster) NextAssignedShift(_ context.Context, assigneeID uuid.UUID, from time.Time) (*domain.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *domain.Shift
	for _, s := range m.shifts {
		if s.AssigneeID != assigneeID || s.Status != domain.ShiftStatusAssigned || s.Date.Before(from) {
			continue
		}
		if next == nil || s.Date.Before(next.Date) {
			next = s
		}
	}
	if next == nil {
		return nil, roster.ErrShiftNotFound
	}
	cp := *next
	return &cp, nil
}

func (m *mockRoster) ListDevices(_ context.Context, assigneeID uuid.UUID) ([]domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Device(nil), m.devices[assigneeID]...), nil
}

func (m *mockRoster) UpdateAssigneeEmail(_ context.Context, assigneeID uuid.UUID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[assigneeID] = email
	for _, s := range m.shifts {
		if s.AssigneeID == assigneeID {
			s.AssigneeEmail = email
		}
	}
	return nil
}

func (m *mockRoster) MarkNotified(_ context.Context, shiftID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shifts[shiftID]; ok {
		s.LastNotificationSent = true
		s.LastNotificationError = false
		s.LastSentAt = &at
	}
	m.notified[shiftID] = at
	return nil
}

func (m *mockRoster) MarkNotifyError(_ context.Context, shiftID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shifts[shiftID]; ok {
		s.LastNotificationError = true
	}
	m.errored[shiftID] = true
	return nil
}

type mockTransport struct {
	mu        sync.Mutex
	openErr   error
	openFails int
	sendErr   error
	opened    int
	sent      []Message
}

func (m *mockTransport) Open(_ context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	if m.openErr != nil && (m.openFails == 0 || m.opened <= m.openFails) {
		return nil, m.openErr
	}
	return &mockConn{transport: m}, nil
}

func (m *mockTransport) sentMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

type mockConn struct {
	transport *mockTransport
}

func (c *mockConn) Send(_ context.Context, msg Message) error {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	if c.transport.sendErr != nil {
		return c.transport.sendErr
	}
	c.transport.sent = append(c.transport.sent, msg)
	return nil
}

func (c *mockConn) Close() error { return nil }
