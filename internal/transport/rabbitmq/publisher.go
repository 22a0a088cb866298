package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"searchsync/internal/domain"
	"searchsync/internal/hashroute"
	"searchsync/internal/transport"

	"github.com/rabbitmq/amqp091-go"
)

const routingKeyPrefix = "record."

// RoutingKey is record.<partition>, so all events for a record share one key.
func RoutingKey(recordID int64) string {
	return routingKeyPrefix + strconv.Itoa(hashroute.PartitionForRecord(recordID))
}

// Publisher sends change events as persistent messages and waits for the broker confirm.
type Publisher struct {
	cfg  Config
	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

func NewPublisher(cfg Config) (*Publisher, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, ch, err := cfg.dial()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{cfg: cfg, conn: conn, ch: ch}, nil
}

func (p *Publisher) Send(ctx context.Context, ev domain.ChangeEvent) error {
	msg, err := publishing(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, RoutingKey(ev.RecordID), false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish record %d: %w", ev.RecordID, err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm record %d: %w", ev.RecordID, err)
	}
	if !ok {
		return fmt.Errorf("broker nacked record %d", ev.RecordID)
	}
	return nil
}

func publishing(ev domain.ChangeEvent) (amqp091.Publishing, error) {
	body, err := transport.Encode(ev)
	if err != nil {
		return amqp091.Publishing{}, err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.EventID,
		Body:         body,
	}
	if !ev.OccurredAt.IsZero() {
		msg.Timestamp = ev.OccurredAt
	}
	return msg, nil
}

func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
