package service

import (
	"context"
	"fmt"

	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/protocol/session"
)

// Invoke starts one invocation of the named method and returns its channel.
// An unknown method fails before any I/O. The session is registered before
// the invocation frame is written so an immediate reply is never lost.
func (s *Service) Invoke(ctx context.Context, method string, args ...any) (*session.Channel, error) {
	s.mu.Lock()
	m, ok := s.api.Lookup(method)
	s.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownMethod, method)
		observability.RecordInvocation(s.name, method, err)
		return nil, err
	}

	if err := s.Connect(ctx); err != nil {
		observability.RecordInvocation(s.name, method, err)
		return nil, err
	}
	if args == nil {
		args = []any{}
	}

	s.mu.Lock()
	p := s.pipe
	if p == nil {
		s.mu.Unlock()
		return nil, &session.DisconnectionError{Service: s.name}
	}
	id := s.nextID
	s.nextID++
	rx := session.NewRx(m.Rx, s.name)
	registered := !rx.Closed()
	if registered {
		if err := s.sessions.Register(id, rx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	open := s.sessions.Len()
	s.mu.Unlock()
	observability.SetOpenSessions(s.name, open)

	s.log.Debug().
		Str("method", method).
		Uint64("method_id", m.ID).
		Uint64("session", id).
		Int("args", len(args)).
		Msg("sending invocation")
	if err := p.write(ctx, id, m.ID, args); err != nil {
		if registered {
			s.sessions.Remove(id)
			observability.SetOpenSessions(s.name, s.sessions.Len())
		}
		err = fmt.Errorf("service: invoke %q: %w", method, err)
		observability.RecordInvocation(s.name, method, err)
		return nil, err
	}
	observability.RecordInvocation(s.name, method, nil)

	tx := session.NewTx(m.Tx, p, id)
	return session.NewChannel(id, rx, tx), nil
}

// Call invokes method and waits for its first reply.
func (s *Service) Call(ctx context.Context, method string, args ...any) (session.Message, error) {
	ch, err := s.Invoke(ctx, method, args...)
	if err != nil {
		return session.Message{}, err
	}
	return ch.Get(ctx)
}
