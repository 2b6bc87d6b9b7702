package service

import (
	"context"
	"fmt"

	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
)

// Method is a bound entry point for one remote method.
type Method func(ctx context.Context, args ...any) (*session.Channel, error)

// Method resolves name against the API and returns a callable bound to it.
func (s *Service) Method(name string) (Method, error) {
	s.mu.Lock()
	_, ok := s.api.Lookup(name)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	return func(ctx context.Context, args ...any) (*session.Channel, error) {
		return s.Invoke(ctx, name, args...)
	}, nil
}

// Methods lists the remote method names, ordered by method id.
func (s *Service) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api.Names()
}

func (s *Service) API() schema.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

// SetAPI installs the API once it has been resolved. Open sessions keep the
// protocols they were created with.
func (s *Service) SetAPI(api schema.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = api
}
