package socket

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"searchsync/internal/apperr"
	"searchsync/internal/domain"
	"searchsync/internal/hashroute"
	"searchsync/internal/transport"

	"github.com/rs/zerolog"
)

// Engine is what the socket endpoint serves: event delivery into the sync consumer,
// keyword search and a health check.
type Engine interface {
	transport.Handler
	Search(ctx context.Context, keyword string, page, size int) (domain.Page[domain.SearchDocument], error)
	Health(ctx context.Context) (bool, string)
}

type Config struct {
	Network, Address, UnixSocketPath, AuthToken string
	MaxInflight, GlobalQueueLimit               int
	PartitionQueue                              int
	TLSConfig                                   *tls.Config
}

// Server accepts framed protobuf requests. Publish requests are queued per record
// partition and applied in arrival order; queries run as they arrive.
type Server struct {
	cfg     Config
	engine  Engine
	log     zerolog.Logger
	ln      net.Listener
	addr    atomic.Value
	globalQ chan struct{}
	partQ   []chan queuedRequest
	closed  atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	connWG   sync.WaitGroup
	workerWG sync.WaitGroup
}

type queuedRequest struct {
	ctx     context.Context
	req     *SocketRequest
	conn    *connection
	release func()
}

type connection struct {
	c        net.Conn
	writerQ  chan *SocketResponse
	inflight chan struct{}
	pending  sync.WaitGroup
}

func NewServer(cfg Config, engine Engine, log zerolog.Logger) *Server {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 64
	}
	if cfg.GlobalQueueLimit <= 0 {
		cfg.GlobalQueueLimit = 4096
	}
	if cfg.PartitionQueue <= 0 {
		cfg.PartitionQueue = 128
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		log:     log.With().Str("transport", "socket").Logger(),
		globalQ: make(chan struct{}, cfg.GlobalQueueLimit),
		partQ:   make([]chan queuedRequest, hashroute.PartitionCount),
		conns:   make(map[net.Conn]struct{}),
	}
	for i := range s.partQ {
		s.partQ[i] = make(chan queuedRequest, cfg.PartitionQueue)
	}
	return s
}

func (s *Server) Addr() string {
	if v := s.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Start listens and serves until ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Address
	if s.cfg.Network == "unix" {
		addr = s.cfg.UnixSocketPath
	}
	ln, err := net.Listen(s.cfg.Network, addr)
	if err != nil {
		return err
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.ln = ln
	s.addr.Store(ln.Addr().String())
	s.log.Info().Str("addr", ln.Addr().String()).Msg("socket endpoint listening")

	for i := range s.partQ {
		s.workerWG.Add(1)
		go s.runPartitionWorker(s.partQ[i])
	}
	go func() { <-ctx.Done(); _ = s.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops accepting, closes open connections, and waits for queued requests to finish.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.connWG.Wait()
	for _, q := range s.partQ {
		close(q)
	}
	s.workerWG.Wait()
	return nil
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	conn := &connection{c: raw, writerQ: make(chan *SocketResponse, 256), inflight: make(chan struct{}, s.cfg.MaxInflight)}
	s.connWG.Add(2)
	go func() { defer s.connWG.Done(); s.writeLoop(conn) }()
	go func() {
		defer s.connWG.Done()
		defer s.untrack(raw)
		defer raw.Close()
		s.readLoop(ctx, conn)
		conn.pending.Wait()
		close(conn.writerQ)
	}()
}

func (s *Server) writeLoop(conn *connection) {
	w := bufio.NewWriter(conn.c)
	for res := range conn.writerQ {
		payload, err := MarshalMessage(res)
		if err != nil {
			s.log.Error().Err(err).Str("request_id", res.RequestId).Msg("marshal response")
			continue
		}
		if err := WriteFrame(w, payload); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *connection) {
	r := bufio.NewReader(conn.c)
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			return
		}
		req, err := UnmarshalRequest(payload)
		if err != nil {
			s.send(conn, &SocketResponse{ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if err := ValidateRequest(req); err != nil {
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: err.Error()})
			continue
		}
		if s.cfg.AuthToken != "" && req.AuthToken != s.cfg.AuthToken {
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeUnauthenticated), ErrorMessage: "invalid auth token"})
			continue
		}

		select {
		case conn.inflight <- struct{}{}:
		default:
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "connection inflight limit exceeded"})
			continue
		}
		releaseInflight := func() { <-conn.inflight }
		select {
		case s.globalQ <- struct{}{}:
		default:
			releaseInflight()
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "endpoint queue overloaded"})
			continue
		}

		conn.pending.Add(1)
		qr := queuedRequest{ctx: ctx, req: req, conn: conn, release: func() { <-s.globalQ; releaseInflight(); conn.pending.Done() }}
		if Operation(req.Operation) != OperationPublish {
			go s.serve(qr)
			continue
		}
		q := s.partQ[hashroute.PartitionForRecord(req.Publish.Event.RecordId)]
		select {
		case q <- qr:
		default:
			qr.release()
			s.send(conn, &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOverloaded), ErrorMessage: "partition queue overloaded"})
		}
	}
}

func (s *Server) runPartitionWorker(q chan queuedRequest) {
	defer s.workerWG.Done()
	for req := range q {
		s.serve(req)
	}
}

func (s *Server) serve(qr queuedRequest) {
	res := s.handleRequest(qr.ctx, qr.req)
	s.send(qr.conn, res)
	qr.release()
}

func (s *Server) send(conn *connection, res *SocketResponse) {
	select {
	case conn.writerQ <- res:
	default:
		s.log.Warn().Str("request_id", res.RequestId).Msg("dropping response, writer queue full")
	}
}

func (s *Server) handleRequest(ctx context.Context, req *SocketRequest) *SocketResponse {
	res := &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeOK)}
	switch Operation(req.Operation) {
	case OperationPing:
		res.Pong = &PongResponse{UnixTimeNs: time.Now().UTC().UnixNano()}
	case OperationHealth:
		ok, msg := s.engine.Health(ctx)
		res.Health = &HealthResponse{Ok: ok, Message: msg}
	case OperationPublish:
		return s.handlePublish(ctx, req, res)
	case OperationSearch:
		return s.handleSearch(ctx, req, res)
	default:
		return badReq(req, "unknown operation")
	}
	return res
}

func badReq(req *SocketRequest, msg string) *SocketResponse {
	return &SocketResponse{RequestId: req.RequestId, ErrorCode: int32(ErrorCodeBadRequest), ErrorMessage: msg}
}

func (s *Server) handlePublish(ctx context.Context, req *SocketRequest, res *SocketResponse) *SocketResponse {
	ev, err := ToDomain(req.Publish.Event)
	if err != nil {
		return badReq(req, err.Error())
	}
	if err := s.engine.Handle(ctx, ev); err != nil {
		switch {
		case transport.IsTemporary(err):
			res.ErrorCode = int32(ErrorCodeUnavailable)
		case errors.Is(err, transport.ErrMalformedEvent):
			res.ErrorCode = int32(ErrorCodeBadRequest)
		default:
			res.ErrorCode = int32(ErrorCodeInternal)
		}
		res.ErrorMessage = err.Error()
		return res
	}
	res.Publish = &PublishResponse{Accepted: true, PartitionId: uint32(hashroute.PartitionForRecord(ev.RecordID))}
	return res
}

func (s *Server) handleSearch(ctx context.Context, req *SocketRequest, res *SocketResponse) *SocketResponse {
	page, err := s.engine.Search(ctx, req.Search.Keyword, int(req.Search.Page), int(req.Search.Size))
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeInvalidArgument:
			res.ErrorCode = int32(ErrorCodeBadRequest)
		case apperr.CodeUnavailable:
			res.ErrorCode = int32(ErrorCodeUnavailable)
		default:
			res.ErrorCode = int32(ErrorCodeInternal)
		}
		res.ErrorMessage = err.Error()
		return res
	}
	res.Search = toSearchResponse(page)
	return res
}

// ToDomain converts a wire event, rejecting unknown kinds and missing ids as malformed.
func ToDomain(e *ChangeEvent) (domain.ChangeEvent, error) {
	if e == nil {
		return domain.ChangeEvent{}, transport.ErrMalformedEvent
	}
	kind, err := domain.ParseEventKind(e.Kind)
	if err != nil {
		return domain.ChangeEvent{}, errors.Join(transport.ErrMalformedEvent, err)
	}
	ev := domain.ChangeEvent{RecordID: e.RecordId, Kind: kind, EventID: e.EventId}
	if e.OccurredAtUtcNs != 0 {
		ev.OccurredAt = time.Unix(0, e.OccurredAtUtcNs).UTC()
	}
	if err := ev.Validate(); err != nil {
		return domain.ChangeEvent{}, errors.Join(transport.ErrMalformedEvent, err)
	}
	return ev, nil
}

func fromDomain(ev domain.ChangeEvent) *ChangeEvent {
	out := &ChangeEvent{RecordId: ev.RecordID, Kind: string(ev.Kind), EventId: ev.EventID}
	if !ev.OccurredAt.IsZero() {
		out.OccurredAtUtcNs = ev.OccurredAt.UnixNano()
	}
	return out
}

func toSearchResponse(p domain.Page[domain.SearchDocument]) *SearchResponse {
	out := &SearchResponse{TotalElements: p.TotalElements, TotalPages: int32(p.TotalPages), Number: int32(p.Number), Size: int32(p.Size)}
	for _, d := range p.Content {
		out.Documents = append(out.Documents, &Document{
			Id:             d.ID,
			Title:          d.Title,
			Contents:       d.Contents,
			CreatedAtUtcNs: d.CreatedAt.UnixNano(),
			UpdatedAtUtcNs: d.UpdatedAt.UnixNano(),
			Version:        d.Version,
		})
	}
	return out
}

func fromSearchResponse(r *SearchResponse) domain.Page[domain.SearchDocument] {
	p := domain.Page[domain.SearchDocument]{
		Content:       make([]domain.SearchDocument, 0, len(r.Documents)),
		TotalElements: r.TotalElements,
		TotalPages:    int(r.TotalPages),
		Number:        int(r.Number),
		Size:          int(r.Size),
	}
	for _, d := range r.Documents {
		p.Content = append(p.Content, domain.SearchDocument{
			ID:        d.Id,
			Title:     d.Title,
			Contents:  d.Contents,
			CreatedAt: time.Unix(0, d.CreatedAtUtcNs).UTC(),
			UpdatedAt: time.Unix(0, d.UpdatedAtUtcNs).UTC(),
			Version:   d.Version,
		})
	}
	return p
}
