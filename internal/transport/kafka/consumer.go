package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"searchsync/internal/transport"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	ClientID        string
	MaxPollRecords  int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	TLS             TLSConfig
	Fetch           FetchConfig
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

type FetchConfig struct {
	MinBytes int32
	MaxBytes int32
	MaxWait  time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = 10 * time.Second
	}
	if c.Fetch.MaxWait <= 0 {
		c.Fetch.MaxWait = time.Second
	}
	if c.Fetch.MinBytes <= 0 {
		c.Fetch.MinBytes = 1
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 50 << 20
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Topic == "" {
		return errors.New("kafka topic is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	return nil
}

func (c Config) tlsOpt() []kgo.Opt {
	if !c.TLS.Enabled {
		return nil
	}
	return []kgo.Opt{kgo.DialTLSConfig(&tls.Config{InsecureSkipVerify: c.TLS.InsecureSkipVerify})}
}

// Consumer reads change events from a consumer group. Records of one partition are applied
// in offset order; an offset is committed only once its record was applied or dropped as
// poison. A temporary failure is retried in place, so an offset is never skipped.
type Consumer struct {
	cfg     Config
	client  *kgo.Client
	handler transport.Handler
	log     zerolog.Logger

	commit func(context.Context, ...*kgo.Record) error
	sleep  func(context.Context, time.Duration) error
}

func NewConsumer(cfg Config, handler transport.Handler, log zerolog.Logger, opts ...kgo.Opt) (*Consumer, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(cfg.Fetch.MaxWait),
		kgo.FetchMinBytes(cfg.Fetch.MinBytes),
		kgo.FetchMaxBytes(cfg.Fetch.MaxBytes),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, cfg.tlsOpt()...)
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	c := &Consumer{cfg: cfg, client: cl, handler: handler, log: log.With().Str("transport", "kafka").Logger()}
	c.commit = func(ctx context.Context, recs ...*kgo.Record) error { return cl.CommitRecords(ctx, recs...) }
	c.sleep = sleepCtx
	return c, nil
}

// Start polls until ctx is done. In-flight partitions finish or stop at their first
// unapplied record before Start returns.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.client.Close()
	for {
		if ctx.Err() != nil {
			return nil
		}
		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if ctx.Err() != nil {
			c.client.AllowRebalance()
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, kgo.ErrClientClosed) {
					return nil
				}
				c.log.Warn().Err(fe.Err).Str("topic", fe.Topic).Int32("partition", fe.Partition).Msg("fetch error")
			}
		}

		var (
			mu   sync.Mutex
			done []*kgo.Record
			wg   sync.WaitGroup
		)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			wg.Add(1)
			go func(recs []*kgo.Record) {
				defer wg.Done()
				applied := c.processPartition(ctx, recs)
				mu.Lock()
				done = append(done, applied...)
				mu.Unlock()
			}(p.Records)
		})
		wg.Wait()

		if len(done) > 0 {
			if err := c.commit(context.WithoutCancel(ctx), done...); err != nil {
				c.log.Error().Err(err).Int("records", len(done)).Msg("commit offsets")
			}
		}
		c.client.AllowRebalance()
	}
}

// processPartition applies recs in order and returns the prefix that may be committed.
func (c *Consumer) processPartition(ctx context.Context, recs []*kgo.Record) []*kgo.Record {
	for i, rec := range recs {
		if !c.apply(ctx, rec) {
			return recs[:i]
		}
	}
	return recs
}

// apply reports whether rec is settled: applied, or dropped as poison.
func (c *Consumer) apply(ctx context.Context, rec *kgo.Record) bool {
	log := c.log.With().Int32("partition", rec.Partition).Int64("offset", rec.Offset).Logger()
	ev, err := transport.Decode(rec.Value)
	if err != nil {
		log.Warn().Err(err).Msg("dropping poison record")
		return true
	}
	backoff := c.cfg.RetryBackoff
	for {
		err := c.handler.Handle(ctx, ev)
		if err == nil {
			return true
		}
		if !transport.IsTemporary(err) {
			log.Warn().Err(err).Int64("record_id", ev.RecordID).Msg("dropping unapplicable record")
			return true
		}
		log.Warn().Err(err).Int64("record_id", ev.RecordID).Dur("backoff", backoff).Msg("retrying record")
		if err := c.sleep(ctx, backoff); err != nil {
			return false
		}
		backoff *= 2
		if backoff > c.cfg.MaxRetryBackoff {
			backoff = c.cfg.MaxRetryBackoff
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
