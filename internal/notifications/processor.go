package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/google/uuid"
)

// ProcessorConfig contains delivery processor configuration.
type ProcessorConfig struct {
	Workers         int
	BatchSize       int
	MaxOpenAttempts int
	OpenRetryDelay  time.Duration
}

// DefaultProcessorConfig returns default processor configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Workers:         8,
		BatchSize:       10,
		MaxOpenAttempts: 3,
		OpenRetryDelay:  2 * time.Second,
	}
}

// Progress is one progress report of a delivery run. A report with Final
// set is always emitted exactly once, even when the run had no candidates.
type Progress struct {
	Total   int     `json:"total"`
	Done    int     `json:"done"`
	Sent    int     `json:"sent"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Percent float64 `json:"percent"`
	Final   bool    `json:"final"`
}

// RunResult summarizes a finished delivery run.
type RunResult struct {
	Total   int           `json:"total"`
	Sent    int           `json:"sent"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Elapsed time.Duration `json:"-"`
}

// Processor drains the queue: it claims due entries, renders them and
// delivers them over the transport with a bounded worker pool. Each worker
// opens its own transport connection per batch of entries.
//
// Claiming is the sole concurrency guard. Overlapping runs are additionally
// rejected up front so progress accounting stays meaningful.
type Processor struct {
	config      ProcessorConfig
	repo        Repository
	roster      roster.Repository
	rules       *RuleStore
	renderer    *Renderer
	transport   Transport
	headerImage []byte
	loc         *time.Location
	now         func() time.Time

	running atomic.Bool
}

// NewProcessor creates a delivery processor. headerImage may be nil; when
// present it is embedded inline at the top of the HTML body.
func NewProcessor(config ProcessorConfig, repo Repository, rosterRepo roster.Repository,
	rules *RuleStore, renderer *Renderer, transport Transport, headerImage []byte, loc *time.Location) *Processor {
	if config.Workers <= 0 {
		config.Workers = DefaultProcessorConfig().Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.MaxOpenAttempts <= 0 {
		config.MaxOpenAttempts = DefaultProcessorConfig().MaxOpenAttempts
	}
	if loc == nil {
		loc = time.Local
	}
	return &Processor{
		config:      config,
		repo:        repo,
		roster:      rosterRepo,
		rules:       rules,
		renderer:    renderer,
		transport:   transport,
		headerImage: headerImage,
		loc:         loc,
		now:         time.Now,
	}
}

// Run executes a delivery run to completion and returns its summary. A nil
// or empty ids slice processes everything currently due.
func (p *Processor) Run(ctx context.Context, ids []uuid.UUID) (*RunResult, error) {
	return p.run(ctx, ids, nil)
}

// RunStream executes a delivery run in the background and streams progress
// reports on the returned channel. The channel is closed after the final
// report. Cancelling ctx stops the reports, not the run: claimed entries
// are always driven to a resolved status.
func (p *Processor) RunStream(ctx context.Context, ids []uuid.UUID) (<-chan Progress, error) {
	if p.running.Load() {
		return nil, ErrRunInProgress
	}

	// A dropped stream stops progress reporting only. The run itself keeps
	// going on a detached context so every claimed entry is still resolved.
	runCtx := context.WithoutCancel(ctx)

	out := make(chan Progress, 16)
	go func() {
		defer close(out)
		_, err := p.run(runCtx, ids, func(pr Progress) {
			select {
			case out <- pr:
			case <-ctx.Done():
			}
		})
		if err != nil {
			slog.Error("delivery run failed", "error", err)
		}
	}()
	return out, nil
}

type runState struct {
	mu      sync.Mutex
	total   int
	done    int
	sent    int
	failed  int
	skipped int
}

func (st *runState) record(sent, failed, skipped int) Progress {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.done += sent + failed + skipped
	st.sent += sent
	st.failed += failed
	st.skipped += skipped
	return st.snapshot(false)
}

func (st *runState) snapshot(final bool) Progress {
	pr := Progress{
		Total:   st.total,
		Done:    st.done,
		Sent:    st.sent,
		Failed:  st.failed,
		Skipped: st.skipped,
		Percent: 100,
		Final:   final,
	}
	if st.total > 0 {
		pr.Percent = float64(st.done) / float64(st.total) * 100
	}
	return pr
}

func (p *Processor) run(ctx context.Context, ids []uuid.UUID, progress func(Progress)) (*RunResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := p.now()

	policy, err := p.rules.Get(ctx)
	if err != nil {
		return nil, err
	}

	claimed, err := p.claimCandidates(ctx, ids)
	if err != nil {
		return nil, err
	}
	recordFetched(len(claimed))

	st := &runState{total: len(claimed)}

	jobs := make(chan []QueueEntry)
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batch := range jobs {
				p.processBatch(ctx, workerID, batch, policy, st, progress)
			}
		}(i)
	}

	for i := 0; i < len(claimed); i += p.config.BatchSize {
		end := min(i+p.config.BatchSize, len(claimed))
		jobs <- claimed[i:end]
	}
	close(jobs)
	wg.Wait()

	elapsed := p.now().Sub(start)
	result := &RunResult{
		Total:   st.total,
		Sent:    st.sent,
		Failed:  st.failed,
		Skipped: st.skipped,
		Elapsed: elapsed,
	}

	p.recordRunSummary(ctx, result)

	if progress != nil {
		st.mu.Lock()
		final := st.snapshot(true)
		st.mu.Unlock()
		progress(final)
	}

	slog.Info("delivery run finished",
		"total", result.Total,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"elapsed", elapsed,
	)

	return result, nil
}

// claimCandidates selects the run's candidates and claims each one with a
// conditional status update. Entries claimed by a concurrent run, or in any
// state other than pending or retryable_error, are skipped silently.
func (p *Processor) claimCandidates(ctx context.Context, ids []uuid.UUID) ([]QueueEntry, error) {
	var (
		candidates []QueueEntry
		err        error
	)
	if len(ids) == 0 {
		candidates, err = p.repo.SelectDue(ctx, p.now())
	} else {
		candidates, err = p.repo.SelectByIDs(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}

	claimed := make([]QueueEntry, 0, len(candidates))
	for _, entry := range candidates {
		if entry.Status != QueueStatusPending && entry.Status != QueueStatusRetryable {
			continue
		}
		ok, err := p.repo.Claim(ctx, entry.ID, entry.Status)
		if err != nil {
			return nil, fmt.Errorf("claim entry %s: %w", entry.ID, err)
		}
		if !ok {
			continue
		}
		entry.Status = QueueStatusClaimed
		claimed = append(claimed, entry)
	}
	return claimed, nil
}

func (p *Processor) processBatch(ctx context.Context, workerID int, batch []QueueEntry,
	policy *domain.Policy, st *runState, progress func(Progress)) {

	conn, err := p.openConn(ctx)
	if err != nil {
		slog.Error("transport open failed, failing batch",
			"worker", workerID, "batch_size", len(batch), "error", err)
		var failed int
		for i := range batch {
			p.failEntry(ctx, &batch[i], "", NewRetryableError(err))
			failed++
		}
		p.report(st, progress, 0, failed, 0)
		return
	}
	defer func() { _ = conn.Close() }()

	var sent, failed, skipped int
	for i := range batch {
		switch p.processEntry(ctx, conn, &batch[i], policy) {
		case outcomeDelivered:
			sent++
		case outcomeFailed:
			failed++
		case outcomeSkipped:
			skipped++
		}
	}
	p.report(st, progress, sent, failed, skipped)
}

func (p *Processor) report(st *runState, progress func(Progress), sent, failed, skipped int) {
	pr := st.record(sent, failed, skipped)
	if progress != nil {
		progress(pr)
	}
}

func (p *Processor) openConn(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxOpenAttempts; attempt++ {
		conn, err := p.transport.Open(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("transport open attempt failed",
			"attempt", attempt, "max_attempts", p.config.MaxOpenAttempts, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.config.OpenRetryDelay):
		}
	}
	return nil, fmt.Errorf("open transport after %d attempts: %w", p.config.MaxOpenAttempts, lastErr)
}

type entryOutcome int

const (
	outcomeDelivered entryOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (p *Processor) processEntry(ctx context.Context, conn Conn, entry *QueueEntry, policy *domain.Policy) entryOutcome {
	if entry.ShiftID == nil {
		p.failEntry(ctx, entry, "", NewPermanentError(ErrNoShift))
		return outcomeFailed
	}

	shift, err := p.roster.GetShift(ctx, *entry.ShiftID)
	if err != nil {
		if errors.Is(err, roster.ErrShiftNotFound) {
			p.failEntry(ctx, entry, "", NewPermanentError(err))
		} else {
			p.failEntry(ctx, entry, "", NewRetryableError(err))
		}
		return outcomeFailed
	}

	// Missing address is an operator problem, not a delivery failure: the
	// claim is released and the attempt counter stays untouched.
	if shift.AssigneeEmail == "" {
		if err := p.repo.Release(ctx, entry.ID, QueueStatusPending); err != nil {
			slog.Error("failed to release entry", "entry_id", entry.ID, "error", err)
		}
		slog.Warn("skipping entry, assignee has no email",
			"entry_id", entry.ID, "shift_id", shift.ID, "assignee", shift.AssigneeName)
		return outcomeSkipped
	}

	devices, err := p.roster.ListDevices(ctx, shift.AssigneeID)
	if err != nil {
		p.failEntry(ctx, entry, shift.AssigneeEmail, NewRetryableError(err))
		return outcomeFailed
	}

	subject, body, err := p.renderer.Render(RenderInput{
		Shift:   shift,
		Devices: devices,
		Kind:    entry.Kind,
	}, policy)
	if err != nil {
		p.failEntry(ctx, entry, shift.AssigneeEmail, err)
		return outcomeFailed
	}

	msg := Message{
		To:       []string{shift.AssigneeEmail},
		Subject:  subject,
		TextBody: body,
		HTMLBody: p.htmlBody(body),
	}
	if bcc := policy.BCCEmail; bcc != "" {
		msg.BCC = []string{bcc}
	}
	if len(p.headerImage) > 0 {
		msg.Inline = []InlineImage{{Name: "header.png", ContentID: "header", Data: p.headerImage}}
	}

	sendStart := p.now()
	err = conn.Send(ctx, msg)
	observeSendDuration(p.now().Sub(sendStart).Seconds())

	if err != nil {
		p.recordFailure(ctx, entry, shift, msg, err)
		return outcomeFailed
	}

	if err := p.repo.MarkSent(ctx, entry.ID); err != nil {
		slog.Error("failed to mark entry sent", "entry_id", entry.ID, "error", err)
	}
	if err := p.roster.MarkNotified(ctx, shift.ID, p.now()); err != nil {
		slog.Error("failed to flag shift as notified", "shift_id", shift.ID, "error", err)
	}
	p.recordAttempt(ctx, entry, msg.To[0], subject, body, OutcomeSent, "")
	recordDelivery(entry.Kind, string(OutcomeSent))

	slog.Info("reminder delivered",
		"entry_id", entry.ID, "shift_id", shift.ID, "kind", entry.Kind, "recipient", msg.To[0])
	return outcomeDelivered
}

// failEntry resolves a failed attempt against the retry budget and writes
// the audit row. Attempts where the shift could not even be resolved carry
// an empty recipient.
func (p *Processor) failEntry(ctx context.Context, entry *QueueEntry, recipient string, sendErr error) {
	final := !isRetryable(sendErr) || entry.Attempts+1 >= entry.MaxAttempts

	if err := p.repo.MarkFailed(ctx, entry.ID, sendErr, final); err != nil {
		slog.Error("failed to mark entry failed", "entry_id", entry.ID, "error", err)
	}
	if final && entry.ShiftID != nil {
		if err := p.roster.MarkNotifyError(ctx, *entry.ShiftID); err != nil {
			slog.Error("failed to flag shift notify error", "shift_id", *entry.ShiftID, "error", err)
		}
	}

	p.recordAttempt(ctx, entry, recipient, "", "", OutcomeFailed, sendErr.Error())
	recordDelivery(entry.Kind, string(OutcomeFailed))

	slog.Warn("delivery attempt failed",
		"entry_id", entry.ID,
		"attempt", entry.Attempts+1,
		"max_attempts", entry.MaxAttempts,
		"final", final,
		"error", sendErr,
	)
}

func (p *Processor) recordFailure(ctx context.Context, entry *QueueEntry, shift *domain.Shift, msg Message, sendErr error) {
	final := !isRetryable(sendErr) || entry.Attempts+1 >= entry.MaxAttempts

	if err := p.repo.MarkFailed(ctx, entry.ID, sendErr, final); err != nil {
		slog.Error("failed to mark entry failed", "entry_id", entry.ID, "error", err)
	}
	if final {
		if err := p.roster.MarkNotifyError(ctx, shift.ID); err != nil {
			slog.Error("failed to flag shift notify error", "shift_id", shift.ID, "error", err)
		}
	}

	p.recordAttempt(ctx, entry, msg.To[0], msg.Subject, msg.TextBody, OutcomeFailed, sendErr.Error())
	recordDelivery(entry.Kind, string(OutcomeFailed))

	slog.Warn("delivery attempt failed",
		"entry_id", entry.ID,
		"attempt", entry.Attempts+1,
		"final", final,
		"error", sendErr,
	)
}

func (p *Processor) recordAttempt(ctx context.Context, entry *QueueEntry,
	recipient, subject, body string, outcome AttemptOutcome, errorLog string) {

	queueID := entry.ID
	attempt := &DeliveryAttempt{
		ID:        uuid.New(),
		QueueID:   &queueID,
		ShiftID:   entry.ShiftID,
		Kind:      entry.Kind,
		AttemptNo: entry.Attempts + 1,
		Outcome:   outcome,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		ErrorLog:  errorLog,
	}
	if err := p.repo.RecordAttempt(ctx, attempt); err != nil {
		slog.Error("failed to record delivery attempt", "entry_id", entry.ID, "error", err)
	}
}

func (p *Processor) recordRunSummary(ctx context.Context, result *RunResult) {
	action := &AdminAction{
		ID:     uuid.New(),
		Action: "delivery_run",
		Actor:  "system",
		Details: fmt.Sprintf("total=%d sent=%d failed=%d skipped=%d elapsed=%s",
			result.Total, result.Sent, result.Failed, result.Skipped,
			result.Elapsed.Round(time.Millisecond)),
	}
	if err := p.repo.RecordAdminAction(ctx, action); err != nil {
		slog.Error("failed to record run summary", "error", err)
	}
}

// htmlBody wraps the plain-text body for the HTML alternative, embedding
// the header image when one is configured.
func (p *Processor) htmlBody(text string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if len(p.headerImage) > 0 {
		b.WriteString(`<img src="cid:header" alt="" style="max-width:100%"><br>`)
	}
	b.WriteString("<p>")
	b.WriteString(strings.ReplaceAll(htmlEscape(text), "\n", "<br>"))
	b.WriteString("</p></body></html>")
	return b.String()
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
