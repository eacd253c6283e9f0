package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(repo *mockRepository, rosterMock *mockRoster, transport *mockTransport) *Service {
	rules := NewRuleStore(repo)
	sync := NewSynchronizer(rules, rosterMock, repo, time.UTC)
	sync.now = func() time.Time { return testNow }
	calc := NewCalculator(rules, rosterMock, repo, time.UTC)
	calc.now = func() time.Time { return testNow }

	svc := NewService(repo, rosterMock, rules, sync, calc, NewRenderer(time.UTC),
		newTestProcessor(repo, rosterMock, transport), time.UTC)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestService_Resend_DeliversSentEntryAgain(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	transport := &mockTransport{}
	ctx := context.Background()

	shift := testShift("maria@example.com")
	rosterMock.addShift(shift)

	entry := pendingEntry(shift.ID, KindAdvance, testNow.Add(-time.Hour))
	entry.Status = QueueStatusSent
	entry.Attempts = 1
	require.NoError(t, repo.CreateEntry(ctx, entry))

	svc := newTestService(repo, rosterMock, transport)
	result, err := svc.Resend(ctx, entry.ID, "gely")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	got := repo.entrySnapshot(entry.ID)
	assert.Equal(t, QueueStatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts, "reactivation resets the attempt counter")
	require.Len(t, transport.sentMessages(), 1)
	assert.Contains(t, repo.actionNames(), "resend")
}

func TestService_Resend_ClaimedEntryRejected(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	entry := pendingEntry(uuid.New(), KindAdvance, testNow)
	entry.Status = QueueStatusClaimed
	require.NoError(t, repo.CreateEntry(ctx, entry))

	svc := newTestService(repo, newMockRoster(), &mockTransport{})
	_, err := svc.Resend(ctx, entry.ID, "gely")
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestService_Cancel(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	entry := pendingEntry(uuid.New(), KindAdvance, testNow)
	require.NoError(t, repo.CreateEntry(ctx, entry))

	svc := newTestService(repo, newMockRoster(), &mockTransport{})
	require.NoError(t, svc.Cancel(ctx, entry.ID, ""))

	got := repo.entrySnapshot(entry.ID)
	assert.Equal(t, QueueStatusCancelled, got.Status)

	// Cancelling again hits a terminal entry
	err := svc.Cancel(ctx, entry.ID, "")
	assert.ErrorIs(t, err, ErrEntryTerminal)

	// Anonymous actions fall back to the default actor
	for _, a := range repo.actions {
		assert.Equal(t, defaultActor, a.Actor)
	}
}

func TestService_CorrectEmail_WithAutoRetry(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	transport := &mockTransport{}
	ctx := context.Background()

	shift := testShift("")
	rosterMock.addShift(shift)

	entry := pendingEntry(shift.ID, KindAdvance, testNow.Add(-time.Hour))
	entry.Status = QueueStatusFailed
	entry.Attempts = 3
	require.NoError(t, repo.CreateEntry(ctx, entry))

	svc := newTestService(repo, rosterMock, transport)
	result, err := svc.CorrectEmail(ctx, entry.ID, "fixed@example.com", true, "gely")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.Sent)
	msgs := transport.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"fixed@example.com"}, msgs[0].To)
	assert.Contains(t, repo.actionNames(), "email_corrected")
}

func TestService_CorrectEmail_WithoutRetry(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	ctx := context.Background()

	shift := testShift("")
	rosterMock.addShift(shift)

	entry := pendingEntry(shift.ID, KindAdvance, testNow)
	entry.Status = QueueStatusFailed
	require.NoError(t, repo.CreateEntry(ctx, entry))

	svc := newTestService(repo, rosterMock, &mockTransport{})
	result, err := svc.CorrectEmail(ctx, entry.ID, "fixed@example.com", false, "gely")
	require.NoError(t, err)
	assert.Nil(t, result)

	// Email is updated but the entry stays put
	assert.Equal(t, "fixed@example.com", rosterMock.emails[shift.AssigneeID])
	assert.Equal(t, QueueStatusFailed, repo.entrySnapshot(entry.ID).Status)
}

func TestService_SendManual(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	transport := &mockTransport{}
	ctx := context.Background()

	shift := testShift("maria@example.com")
	rosterMock.addShift(shift)

	withoutShift := uuid.New()

	svc := newTestService(repo, rosterMock, transport)
	result, noShift, err := svc.SendManual(ctx, []uuid.UUID{shift.AssigneeID, withoutShift}, "gely")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []uuid.UUID{withoutShift}, noShift)

	entries := allEntries(t, repo)
	require.Len(t, entries, 1)
	assert.Equal(t, KindManual, entries[0].Kind)
	assert.Equal(t, QueueStatusSent, entries[0].Status)
	assert.Contains(t, repo.actionNames(), "manual_send")
}

func TestService_SendManual_EmptySelection(t *testing.T) {
	svc := newTestService(newMockRepository(), newMockRoster(), &mockTransport{})
	_, _, err := svc.SendManual(context.Background(), nil, "gely")
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func TestService_GenerateFromForecast(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	transport := &mockTransport{}
	ctx := context.Background()

	fresh := testShift("a@example.com")
	rosterMock.addShift(fresh)

	// Existing failed entry for this pair gets reactivated
	resend := testShift("b@example.com")
	rosterMock.addShift(resend)
	failedEntry := pendingEntry(resend.ID, KindAdvance, testNow.Add(-time.Hour))
	failedEntry.Status = QueueStatusFailed
	failedEntry.Attempts = 3
	require.NoError(t, repo.CreateEntry(ctx, failedEntry))

	// Claimed entries are left alone
	busy := testShift("c@example.com")
	rosterMock.addShift(busy)
	claimedEntry := pendingEntry(busy.ID, KindAdvance, testNow.Add(-time.Hour))
	claimedEntry.Status = QueueStatusClaimed
	require.NoError(t, repo.CreateEntry(ctx, claimedEntry))

	svc := newTestService(repo, rosterMock, transport)
	result, err := svc.GenerateFromForecast(ctx, []Selection{
		{ShiftID: fresh.ID, Kind: KindAdvance},
		{ShiftID: resend.ID, Kind: KindAdvance},
		{ShiftID: busy.ID, Kind: KindAdvance},
	}, "gely")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, QueueStatusSent, repo.entrySnapshot(failedEntry.ID).Status)
	assert.Equal(t, QueueStatusClaimed, repo.entrySnapshot(claimedEntry.ID).Status)
	assert.Contains(t, repo.actionNames(), "forecast_generate")
}

func TestService_BulkCancel(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	pending := pendingEntry(uuid.New(), KindAdvance, testNow)
	require.NoError(t, repo.CreateEntry(ctx, pending))

	sent := pendingEntry(uuid.New(), KindAdvance, testNow)
	sent.Status = QueueStatusSent
	require.NoError(t, repo.CreateEntry(ctx, sent))

	svc := newTestService(repo, newMockRoster(), &mockTransport{})
	result, err := svc.BulkCancel(ctx, []uuid.UUID{pending.ID, sent.ID, uuid.New()}, "gely")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Affected)
	assert.Equal(t, 2, result.Skipped, "terminal and unknown entries are skipped")
	assert.Equal(t, QueueStatusCancelled, repo.entrySnapshot(pending.ID).Status)
	assert.Equal(t, QueueStatusSent, repo.entrySnapshot(sent.ID).Status)
}

func TestService_BulkResend(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	transport := &mockTransport{}
	ctx := context.Background()

	shiftA := testShift("a@example.com")
	shiftB := testShift("b@example.com")
	rosterMock.addShift(shiftA)
	rosterMock.addShift(shiftB)

	failed := pendingEntry(shiftA.ID, KindAdvance, testNow.Add(-time.Hour))
	failed.Status = QueueStatusFailed
	require.NoError(t, repo.CreateEntry(ctx, failed))

	sent := pendingEntry(shiftB.ID, KindAdvance, testNow.Add(-time.Hour))
	sent.Status = QueueStatusSent
	require.NoError(t, repo.CreateEntry(ctx, sent))

	claimed := pendingEntry(uuid.New(), KindAdvance, testNow)
	claimed.Status = QueueStatusClaimed
	require.NoError(t, repo.CreateEntry(ctx, claimed))

	svc := newTestService(repo, rosterMock, transport)
	result, err := svc.BulkResend(ctx, []uuid.UUID{failed.ID, sent.ID, claimed.ID}, "gely")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Affected)
	assert.Equal(t, 1, result.Skipped)
	require.NotNil(t, result.Run)
	assert.Equal(t, 2, result.Run.Sent)
	assert.Len(t, transport.sentMessages(), 2)
}

func TestService_EntryDetails(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	ctx := context.Background()

	shift := testShift("maria@example.com")
	rosterMock.addShift(shift)

	entry := pendingEntry(shift.ID, KindAdvance, testNow)
	require.NoError(t, repo.CreateEntry(ctx, entry))

	queueID := entry.ID
	require.NoError(t, repo.RecordAttempt(ctx, &DeliveryAttempt{
		ID:      uuid.New(),
		QueueID: &queueID,
		Outcome: OutcomeFailed,
	}))

	svc := newTestService(repo, rosterMock, &mockTransport{})
	details, err := svc.EntryDetails(ctx, entry.ID)
	require.NoError(t, err)

	assert.Equal(t, entry.ID, details.Entry.ID)
	require.NotNil(t, details.Shift)
	assert.Equal(t, shift.ID, details.Shift.ID)
	require.Len(t, details.Attempts, 1)
	assert.Equal(t, OutcomeFailed, details.Attempts[0].Outcome)
}

func TestService_Stats(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	for _, status := range []QueueStatus{QueueStatusPending, QueueStatusPending, QueueStatusSent} {
		e := pendingEntry(uuid.New(), KindAdvance, testNow)
		e.Status = status
		require.NoError(t, repo.CreateEntry(ctx, e))
	}

	svc := newTestService(repo, newMockRoster(), &mockTransport{})
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Sent)
}
