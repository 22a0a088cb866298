// Package outbox drains committed change events from the primary store's outbox table.
package outbox

import (
	"context"
	"sync"
	"time"

	"searchsync/internal/storage"
	"searchsync/internal/transport"

	"github.com/rs/zerolog"
)

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	SendTimeout  time.Duration
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
}

type Relay struct {
	cfg    Config
	store  storage.Outbox
	sender transport.Sender
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRelay(cfg Config, store storage.Outbox, sender transport.Sender, log zerolog.Logger) *Relay {
	cfg.withDefaults()
	return &Relay{cfg: cfg, store: store, sender: sender, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Start runs the poll loop in the background until ctx is done or Stop is called.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)
}

// Stop waits for the in-flight tick to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Relay) loop(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("outbox drain")
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Drain sends one batch of due entries and reports how many were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	entries, err := r.store.PendingOutbox(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	blocked := map[int64]bool{}
	for _, e := range entries {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if blocked[e.Event.RecordID] {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		err := r.sender.Send(sctx, e.Event)
		cancel()
		if err != nil {
			blocked[e.Event.RecordID] = true
			next := r.now().Add(Backoff(e.Attempts, r.cfg.BaseBackoff, r.cfg.MaxBackoff))
			r.log.Warn().Err(err).Int64("outbox_id", e.ID).Int64("record_id", e.Event.RecordID).Int("attempts", e.Attempts+1).Time("next_attempt", next).Msg("outbox send failed")
			if merr := r.store.MarkOutboxFailed(ctx, e.ID, err, next); merr != nil {
				return sent, merr
			}
			continue
		}
		if err := r.store.MarkOutboxPublished(ctx, e.ID, r.now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Backoff doubles base per prior attempt, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
