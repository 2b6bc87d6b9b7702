package service

import (
	"context"
	"net"
	"time"

	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/protocol"
	"golang.org/x/sync/errgroup"
)

type dialResult struct {
	endpoint protocol.Endpoint
	conn     net.Conn
	err      error
}

// race dials every endpoint concurrently and returns the first connection to
// succeed, in completion order. Attempts still in flight are not cancelled;
// any of them that later succeeds is closed. release runs once every attempt
// has settled.
func (s *Service) race(ctx context.Context, release func()) (net.Conn, protocol.Endpoint, error) {
	results := make(chan dialResult, len(s.endpoints))
	var g errgroup.Group
	for _, ep := range s.endpoints {
		s.log.Info().Str("endpoint", ep.String()).Msg("trying to establish connection")
		g.Go(func() error {
			start := time.Now()
			conn, err := s.dialer.Dial(ctx, ep)
			observability.RecordDial(s.name, ep.String(), err, time.Since(start))
			results <- dialResult{endpoint: ep, conn: conn, err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		release()
		close(results)
	}()

	failures := make([]EndpointError, 0, len(s.endpoints))
	for res := range results {
		if res.err != nil {
			s.log.Error().Str("endpoint", res.endpoint.String()).Err(res.err).Msg("connection error")
			failures = append(failures, EndpointError{Endpoint: res.endpoint, Err: res.err})
			continue
		}
		go s.closeStragglers(results)
		return res.conn, res.endpoint, nil
	}
	return nil, protocol.Endpoint{}, &ConnectionError{Service: s.name, Failures: failures}
}

func (s *Service) closeStragglers(results <-chan dialResult) {
	for res := range results {
		if res.err != nil || res.conn == nil {
			continue
		}
		s.log.Debug().Str("endpoint", res.endpoint.String()).Msg("closing connection that lost the race")
		_ = res.conn.Close()
	}
}
