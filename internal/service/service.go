package service

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var instanceSeq atomic.Uint64

type Option func(*Service)

func WithAPI(api schema.Map) Option {
	return func(s *Service) {
		s.api = api
	}
}

func WithDialer(d Dialer) Option {
	return func(s *Service) {
		s.dialer = d
	}
}

func WithConfig(cfg session.Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// Service is the client-side handle of one remote service. All invocations
// share a single connection, established lazily by racing the endpoints.
type Service struct {
	name      string
	endpoints []protocol.Endpoint
	cfg       session.Config
	dialer    Dialer
	log       zerolog.Logger

	connecting singleflight.Group

	mu         sync.Mutex
	api        schema.Map
	pipe       *pipe
	address    protocol.Endpoint
	generation uint64
	nextID     uint64
	sessions   *session.Table
}

func New(name string, endpoints []protocol.Endpoint, opts ...Option) (*Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	s := &Service{
		name:      name,
		endpoints: append([]protocol.Endpoint(nil), endpoints...),
		cfg:       session.DefaultConfig(),
		log:       log.Logger,
		nextID:    1,
		sessions:  session.NewTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.WithDefaults()
	if s.dialer == nil {
		s.dialer = NewNetDialer(s.cfg)
	}
	s.log = s.log.With().
		Str("service", name).
		Uint64("id", instanceSeq.Add(1)).
		Logger()
	return s, nil
}

func (s *Service) Name() string {
	return s.name
}

func (s *Service) Endpoints() []protocol.Endpoint {
	return append([]protocol.Endpoint(nil), s.endpoints...)
}

func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe != nil
}

// Address returns the endpoint of the live connection.
func (s *Service) Address() (protocol.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.pipe != nil
}

// Sessions reports how many invocations are awaiting replies.
func (s *Service) Sessions() int {
	return s.sessions.Len()
}

// Connect establishes the connection if there is none. Concurrent callers
// share one in-flight attempt and its outcome. A caller whose ctx ends while
// waiting gets ctx.Err(); the shared attempt keeps going, bounded by the
// configured connect timeout.
func (s *Service) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	ch := s.connecting.DoChan("connect", func() (any, error) {
		return nil, s.establish(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) establish(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	raceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ConnectTimeout)
	conn, ep, err := s.race(raceCtx, cancel)
	observability.RecordConnect(s.name, err)
	if err != nil {
		return err
	}
	s.attach(conn, ep)
	return nil
}

func (s *Service) attach(conn net.Conn, ep protocol.Endpoint) {
	s.mu.Lock()
	s.generation++
	p := newPipe(conn, ep, s.generation, s.cfg)
	s.pipe = p
	s.address = ep
	s.mu.Unlock()

	s.log.Debug().
		Str("endpoint", ep.String()).
		Uint64("generation", p.generation).
		Msg("connection has been established")
	go s.readLoop(p)
}

// Disconnect closes the connection and fails every open session with a
// *session.DisconnectionError. It is a no-op when not connected.
func (s *Service) Disconnect() {
	s.log.Debug().Msg("disconnect has been called")
	s.teardown(nil)
}

// Close implements io.Closer.
func (s *Service) Close() error {
	s.Disconnect()
	return nil
}

// teardown detaches expected (or whatever pipe is live when expected is
// nil). Sessions are drained under the same lock dispatch registers under,
// so no session can be registered on a pipe that is going away.
func (s *Service) teardown(expected *pipe) bool {
	s.mu.Lock()
	p := s.pipe
	if p == nil || (expected != nil && p != expected) {
		s.mu.Unlock()
		return false
	}
	s.pipe = nil
	s.address = protocol.Endpoint{}
	drained := s.sessions.Drain()
	s.mu.Unlock()

	if err := p.close(); err != nil {
		s.log.Debug().Err(err).Msg("close connection")
	}
	reason := observability.DisconnectLocal
	if expected != nil {
		reason = observability.DisconnectRemote
	}
	observability.RecordDisconnect(s.name, reason)
	observability.SetOpenSessions(s.name, 0)
	disconnected := &session.DisconnectionError{Service: s.name}
	for _, entry := range drained {
		entry.Rx.Error(disconnected)
	}
	s.log.Info().
		Str("endpoint", p.endpoint.String()).
		Int("sessions", len(drained)).
		Msg("disconnected")
	return true
}
