package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"searchsync/internal/domain"
	"searchsync/internal/hashroute"
	"searchsync/internal/transport"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer reads change events from a durable queue with manual acks. Deliveries are
// routed to a worker by record partition, so events for one record are handled in order.
type Consumer struct {
	cfg      Config
	handler  transport.Handler
	log      zerolog.Logger
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	deliver  <-chan amqp091.Delivery
	workers  []chan delivery
	closed   chan struct{}
	closeErr atomic.Value
	wg       sync.WaitGroup
}

type delivery struct {
	ctx context.Context
	ev  domain.ChangeEvent
	d   amqp091.Delivery
}

func NewConsumer(cfg Config, handler transport.Handler, log zerolog.Logger) (*Consumer, error) {
	cfg.withDefaults()
	if err := cfg.validateConsumer(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	c := &Consumer{
		cfg:     cfg,
		handler: handler,
		log:     log.With().Str("transport", "rabbitmq").Logger(),
		closed:  make(chan struct{}),
		workers: make([]chan delivery, cfg.Workers),
	}
	for i := range c.workers {
		c.workers[i] = make(chan delivery, cfg.WorkerQueue)
	}
	return c, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	conn, ch, err := c.cfg.dial()
	if err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range c.cfg.RoutingKeys {
		if err := ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("bind queue key=%s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume queue: %w", err)
	}
	c.conn, c.ch, c.deliver = conn, ch, deliveries

	c.wg.Add(1)
	go c.readLoop(ctx)
	for i := range c.workers {
		c.wg.Add(1)
		go c.workerLoop(ctx, c.workers[i])
	}
	return nil
}

func (c *Consumer) Close() error {
	select {
	case <-c.closed:
		if v := c.closeErr.Load(); v != nil {
			return v.(error)
		}
		return nil
	default:
		close(c.closed)
	}
	if c.ch != nil {
		_ = c.ch.Cancel(c.cfg.ConsumerTag, false)
	}
	c.wg.Wait()
	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	c.closeErr.Store(err)
	return err
}

func (c *Consumer) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case d, ok := <-c.deliver:
			if !ok {
				return
			}
			c.dispatch(ctx, d)
		}
	}
}

// dispatch decodes d and queues it on its record's worker. Poison is dropped here.
func (c *Consumer) dispatch(ctx context.Context, d amqp091.Delivery) {
	ev, err := transport.Decode(d.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Uint64("delivery_tag", d.DeliveryTag).Msg("dropping poison delivery")
		_ = d.Nack(false, false)
		return
	}
	w := c.workers[workerFor(ev.RecordID, len(c.workers))]
	select {
	case w <- delivery{ctx: ctx, ev: ev, d: d}:
	case <-ctx.Done():
	case <-c.closed:
	}
}

func workerFor(recordID int64, workers int) int {
	return hashroute.PartitionForRecord(recordID) % workers
}

func (c *Consumer) workerLoop(ctx context.Context, in <-chan delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case task := <-in:
			c.process(task.ctx, task.ev, task.d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, ev domain.ChangeEvent, d amqp091.Delivery) {
	log := c.log.With().Int64("record_id", ev.RecordID).Str("kind", string(ev.Kind)).Logger()
	err := c.handler.Handle(ctx, ev)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case transport.IsTemporary(err):
		log.Warn().Err(err).Msg("requeueing delivery")
		wait(ctx, c.cfg.RetryDelay)
		_ = d.Nack(false, true)
	default:
		log.Warn().Err(err).Msg("dropping unapplicable delivery")
		_ = d.Nack(false, false)
	}
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
