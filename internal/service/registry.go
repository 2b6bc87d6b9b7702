package service

import (
	"fmt"
	"sort"
	"sync"
)

// Registry stores services by name.
type Registry struct {
	repo map[string]*Service
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		repo: make(map[string]*Service),
	}
}

func (r *Registry) Register(s *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repo[s.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrServiceExists, s.Name())
	}
	r.repo[s.Name()] = s
	return nil
}

func (r *Registry) Get(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.repo[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceMissing, name)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.repo))
	for name := range r.repo {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close disconnects every registered service.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.repo {
		s.Disconnect()
	}
	return nil
}
