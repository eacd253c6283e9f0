package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// PollerConfig contains background poller configuration.
type PollerConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

// DefaultPollerConfig returns default poller configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Enabled:      true,
		PollInterval: 5 * time.Minute,
	}
}

// Poller periodically synchronizes the queue and triggers a delivery run
// for whatever is due. Manual runs started from the API take precedence; a
// tick that collides with one is skipped.
type Poller struct {
	config    PollerConfig
	sync      *Synchronizer
	processor *Processor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPoller creates a background poller.
func NewPoller(config PollerConfig, sync *Synchronizer, processor *Processor) *Poller {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollerConfig().PollInterval
	}
	return &Poller{
		config:    config,
		sync:      sync,
		processor: processor,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop. No-op when disabled.
func (p *Poller) Start(ctx context.Context) {
	if !p.config.Enabled {
		slog.Info("notification poller disabled")
		return
	}

	slog.Info("starting notification poller", "poll_interval", p.config.PollInterval)

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	slog.Info("notification poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	created, err := p.sync.Sync(ctx)
	if err != nil {
		slog.Error("scheduled sync failed", "error", err)
		return
	}

	result, err := p.processor.Run(ctx, nil)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			slog.Debug("skipping scheduled run, another run in progress")
			return
		}
		slog.Error("scheduled delivery run failed", "error", err)
		return
	}

	if created > 0 || result.Total > 0 {
		slog.Info("scheduled tick complete",
			"entries_created", created,
			"processed", result.Total,
			"sent", result.Sent,
			"failed", result.Failed,
		)
	}
}
