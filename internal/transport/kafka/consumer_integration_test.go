package kafka

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"searchsync/internal/domain"

	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"
)

type captureHandler struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (c *captureHandler) Handle(_ context.Context, ev domain.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureHandler) snapshot() []domain.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChangeEvent(nil), c.events...)
}

func TestKafkaContainerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.8",
		ExposedPorts: []string{"9092/tcp"},
		Cmd:          []string{"redpanda", "start", "--overprovisioned", "--smp", "1", "--memory", "512M", "--reserve-memory", "0M", "--check=false", "--node-id", "0", "--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "127.0.0.1:9092"},
		WaitingFor:   wait.ForLog("Successfully started Redpanda"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "9092")
	broker := fmt.Sprintf("%s:%s", host, port.Port())
	cfg := Config{Brokers: []string{broker}, Topic: "record-events", GroupID: "searchsync-it"}

	producer, err := NewProducer(cfg, kgo.AllowAutoTopicCreation())
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer producer.Close()

	sent := []domain.ChangeEvent{
		{RecordID: 1, Kind: domain.EventCreated},
		{RecordID: 1, Kind: domain.EventUpdated},
		{RecordID: 1, Kind: domain.EventDeleted},
	}
	for _, ev := range sent {
		if err := producer.Send(ctx, ev); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	h := &captureHandler{}
	consumer, err := NewConsumer(cfg, h, zerolog.Nop(), kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	consumeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	go func() { _ = consumer.Start(consumeCtx) }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-consumeCtx.Done():
			t.Fatalf("timed out waiting for consumed events, got %d", len(h.snapshot()))
		case <-ticker.C:
			got := h.snapshot()
			if len(got) < len(sent) {
				continue
			}
			for i := range sent {
				if got[i].RecordID != sent[i].RecordID || got[i].Kind != sent[i].Kind {
					t.Fatalf("event %d = %+v, want %+v", i, got[i], sent[i])
				}
			}
			return
		}
	}
}
