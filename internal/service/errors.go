package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/edgerpc/internal/protocol"
)

var (
	ErrNameRequired   = errors.New("service: name required")
	ErrUnknownMethod  = errors.New("service: unknown method")
	ErrServiceExists  = errors.New("service: already registered")
	ErrServiceMissing = errors.New("service: not registered")
)

// EndpointError is the failure of one candidate endpoint during a race.
type EndpointError struct {
	Endpoint protocol.Endpoint
	Err      error
}

func (e EndpointError) Error() string {
	return fmt.Sprintf("%s %v", e.Endpoint, e.Err)
}

func (e EndpointError) Unwrap() error {
	return e.Err
}

// ConnectionError is returned when every candidate endpoint failed.
type ConnectionError struct {
	Service  string
	Failures []EndpointError
}

func (e *ConnectionError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("service: %q unable to establish connection: no endpoints", e.Service)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("service: %q unable to establish connection: %s", e.Service, strings.Join(parts, ", "))
}

func (e *ConnectionError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}
