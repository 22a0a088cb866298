package kafka

import (
	"context"
	"fmt"

	"searchsync/internal/domain"
	"searchsync/internal/hashroute"
	"searchsync/internal/transport"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes change events keyed by record id, so every event for a record lands
// on the same partition.
type Producer struct {
	topic   string
	client  *kgo.Client
	produce func(context.Context, *kgo.Record) error
}

func NewProducer(cfg Config, opts ...kgo.Opt) (*Producer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka producer needs brokers and topic")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, cfg.tlsOpt()...)
	kopts = append(kopts, opts...)
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka producer: %w", err)
	}
	p := &Producer{topic: cfg.Topic, client: cl}
	p.produce = func(ctx context.Context, r *kgo.Record) error { return cl.ProduceSync(ctx, r).FirstErr() }
	return p, nil
}

func (p *Producer) Send(ctx context.Context, ev domain.ChangeEvent) error {
	rec, err := p.record(ev)
	if err != nil {
		return err
	}
	if err := p.produce(ctx, rec); err != nil {
		return fmt.Errorf("produce record %d: %w", ev.RecordID, err)
	}
	return nil
}

func (p *Producer) record(ev domain.ChangeEvent) (*kgo.Record, error) {
	payload, err := transport.Encode(ev)
	if err != nil {
		return nil, err
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(hashroute.RecordKey(ev.RecordID)),
		Value: payload,
	}
	if ev.EventID != "" {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: "event_id", Value: []byte(ev.EventID)})
	}
	return rec, nil
}

func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
