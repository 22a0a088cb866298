// Package app assembles the primary store, the search replica and the configured transport
// into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"searchsync/internal/config"
	"searchsync/internal/domain"
	"searchsync/internal/logging"
	"searchsync/internal/outbox"
	"searchsync/internal/publisher"
	"searchsync/internal/records"
	"searchsync/internal/search"
	"searchsync/internal/searchindex"
	"searchsync/internal/storage/sqlite"
	"searchsync/internal/syncer"
	"searchsync/internal/transport"
	"searchsync/internal/transport/inproc"
	"searchsync/internal/transport/kafka"
	"searchsync/internal/transport/rabbitmq"
	"searchsync/internal/transport/socket"

	"github.com/rs/zerolog"
)

type Option func(*options)

type options struct {
	writeOnly bool
	logger    *zerolog.Logger
}

// WriteOnly skips the search replica and the transport consumers. It is meant for
// short-lived commands that only mutate records while a separate serve process syncs.
func WriteOnly() Option { return func(o *options) { o.writeOnly = true } }

// WithLogger replaces the logger built from the log config section.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = &l } }

type runner struct {
	name string
	run  func(context.Context) error
}

type App struct {
	cfg config.Config
	Log zerolog.Logger

	Store    *sqlite.Store
	Index    *searchindex.Index
	Consumer *syncer.Consumer
	Records  *records.Service
	Search   *search.Service

	sender  transport.Sender
	relay   *outbox.Relay
	runners []runner
	closers []io.Closer
}

func New(cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.writeOnly && cfg.Transport.Mode == config.TransportInProcess && !cfg.Transport.Outbox.Enabled {
		return nil, errors.New("write-only mode needs a broker transport or the outbox")
	}

	a := &App{cfg: cfg}
	if o.logger != nil {
		a.Log = *o.logger
	} else {
		log, closer, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Path: cfg.Log.Path})
		if err != nil {
			return nil, err
		}
		a.Log = log.With().Str("node_id", cfg.Server.NodeID).Logger()
		a.closers = append(a.closers, closer)
	}

	if err := a.build(o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(o options) error {
	store, err := sqlite.NewStore(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store)

	if !o.writeOnly {
		idx, err := searchindex.Open(a.cfg.Index.Path, a.Log.With().Str("component", "index").Logger())
		if err != nil {
			return err
		}
		a.Index = idx
		a.closers = append(a.closers, idx)
		a.Consumer = syncer.NewConsumer(store, idx, a.cfg.Sync.OperationTimeout, a.Log.With().Str("component", "syncer").Logger())
		a.Search = search.NewService(idx, a.cfg.Search.DefaultPageSize, a.cfg.Search.MaxPageSize)
	}

	if err := a.buildTransport(o.writeOnly); err != nil {
		return err
	}
	if a.cfg.Socket.Enabled && a.cfg.Transport.Mode != config.TransportSocket && !o.writeOnly {
		a.addSocketServer()
	}

	mode := publisher.ModeAfterCommit
	if a.cfg.Transport.Outbox.Enabled {
		mode = publisher.ModeOutbox
		a.relay = outbox.NewRelay(outbox.Config{
			PollInterval: a.cfg.Transport.Outbox.PollInterval,
			BatchSize:    a.cfg.Transport.Outbox.BatchSize,
			MaxBackoff:   a.cfg.Transport.Outbox.MaxBackoff,
			SendTimeout:  a.cfg.Sync.OperationTimeout,
		}, store, a.sender, a.Log.With().Str("component", "outbox").Logger())
	}
	pub := publisher.New(mode, a.sender, a.cfg.Sync.OperationTimeout, a.Log.With().Str("component", "publisher").Logger())
	a.Records = records.NewService(store, pub)
	return nil
}

func (a *App) buildTransport(writeOnly bool) error {
	log := a.Log.With().Str("component", "transport").Logger()
	switch a.cfg.Transport.Mode {
	case config.TransportInProcess:
		if a.Consumer != nil {
			a.sender = inproc.New(a.Consumer)
		}

	case config.TransportKafka:
		kcfg := kafka.Config{
			Brokers:         a.cfg.Kafka.Brokers,
			Topic:           a.cfg.Transport.Topic,
			GroupID:         a.cfg.Kafka.GroupID,
			ClientID:        a.cfg.Kafka.ClientID,
			RetryBackoff:    a.cfg.Sync.RetryBackoff,
			MaxRetryBackoff: a.cfg.Sync.MaxRetryBackoff,
			TLS:             kafka.TLSConfig{Enabled: a.cfg.Kafka.TLS},
		}
		producer, err := kafka.NewProducer(kcfg)
		if err != nil {
			return err
		}
		a.sender = producer
		a.closers = append(a.closers, closerFunc(func() error { producer.Close(); return nil }))
		if writeOnly {
			return nil
		}
		consumer, err := kafka.NewConsumer(kcfg, a.Consumer, log)
		if err != nil {
			return err
		}
		a.runners = append(a.runners, runner{name: "kafka consumer", run: consumer.Start})

	case config.TransportRabbitMQ:
		rcfg := rabbitmq.Config{
			URL:           a.cfg.RabbitMQ.URL,
			Exchange:      a.cfg.RabbitMQ.Exchange,
			Queue:         a.cfg.RabbitMQ.Queue,
			PrefetchCount: a.cfg.RabbitMQ.PrefetchCount,
			Workers:       a.cfg.RabbitMQ.Workers,
			RetryDelay:    a.cfg.Sync.RetryBackoff,
		}
		pub, err := rabbitmq.NewPublisher(rcfg)
		if err != nil {
			return err
		}
		a.sender = pub
		a.closers = append(a.closers, pub)
		if writeOnly {
			return nil
		}
		consumer, err := rabbitmq.NewConsumer(rcfg, a.Consumer, log)
		if err != nil {
			return err
		}
		a.runners = append(a.runners, runner{name: "rabbitmq consumer", run: func(ctx context.Context) error {
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return consumer.Close()
		}})

	case config.TransportSocket:
		a.sender = &socket.Client{
			Network:   a.cfg.Socket.Network,
			Address:   a.cfg.Socket.Address,
			AuthToken: a.cfg.Socket.AuthToken,
			Timeout:   a.cfg.Sync.OperationTimeout,
		}
		if !writeOnly {
			a.addSocketServer()
		}

	default:
		return fmt.Errorf("unsupported transport mode %q", a.cfg.Transport.Mode)
	}
	return nil
}

func (a *App) addSocketServer() {
	srv := socket.NewServer(socket.Config{
		Network:   a.cfg.Socket.Network,
		Address:   a.cfg.Socket.Address,
		AuthToken: a.cfg.Socket.AuthToken,
	}, &socketEngine{consumer: a.Consumer, search: a.Search, index: a.Index}, a.Log)
	a.runners = append(a.runners, runner{name: "socket server", run: srv.Start})
}

// Run starts the transport consumers and the outbox relay, and blocks until ctx is done
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.runners))
	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			a.Log.Info().Str("runner", r.name).Msg("starting")
			if err := r.run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", r.name, err)
			}
		}(r)
	}
	if a.relay != nil {
		a.relay.Start(ctx)
	}
	a.Log.Info().Str("transport", a.cfg.Transport.Mode).Bool("outbox", a.relay != nil).Msg("searchsync running")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.Log.Error().Err(runErr).Msg("runner failed, shutting down")
	}
	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(a.cfg.Server.ShutdownTimeout):
		a.Log.Warn().Dur("timeout", a.cfg.Server.ShutdownTimeout).Msg("runners did not stop in time")
	}
	if a.relay != nil {
		a.relay.Stop()
	}
	return runErr
}

// Reindex rebuilds the search replica from the primary store.
func (a *App) Reindex(ctx context.Context) (int, error) {
	if a.Index == nil {
		return 0, errors.New("search index not opened")
	}
	return syncer.Reindex(ctx, a.Store, a.Index, a.cfg.Sync.ReindexBatchSize, a.Log.With().Str("component", "reindex").Logger())
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type socketEngine struct {
	consumer *syncer.Consumer
	search   *search.Service
	index    *searchindex.Index
}

func (e *socketEngine) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	return e.consumer.Handle(ctx, ev)
}

func (e *socketEngine) Search(ctx context.Context, keyword string, page, size int) (domain.Page[domain.SearchDocument], error) {
	return e.search.Search(ctx, keyword, page, size)
}

func (e *socketEngine) Health(ctx context.Context) (bool, string) {
	if err := e.index.Health(ctx); err != nil {
		return false, err.Error()
	}
	n, _ := e.index.Count(ctx)
	return true, fmt.Sprintf("ok documents=%d", n)
}
