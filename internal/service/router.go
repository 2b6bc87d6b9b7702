package service

import (
	"errors"
	"io"
	"net"

	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/protocol/frame"
)

// readLoop streams chunks from p until it fails or is closed.
func (s *Service) readLoop(p *pipe) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			s.onRead(p, buf[:n])
		}
		if err != nil {
			s.onClose(p, err)
			return
		}
	}
}

// onRead decodes one inbound chunk and routes every complete frame. Frames
// that cannot be routed are logged and dropped.
func (s *Service) onRead(p *pipe, chunk []byte) {
	s.log.Trace().Int("bytes", len(chunk)).Msg("read")
	p.decoder.Feed(chunk)
	for fr, err := range p.decoder.Frames() {
		if err != nil {
			if errors.Is(err, frame.ErrCorruptStream) {
				s.log.Error().Err(err).Msg("corrupt stream, buffered bytes dropped")
				observability.RecordFrame(s.name, observability.FrameCorrupt)
				continue
			}
			s.log.Error().Err(err).Msg("malformed message")
			observability.RecordFrame(s.name, observability.FrameMalformed)
			continue
		}
		s.route(p, fr)
	}
}

func (s *Service) route(p *pipe, fr frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe != p {
		s.log.Debug().
			Uint64("generation", p.generation).
			Uint64("session", fr.Session).
			Msg("frame from stale connection dropped")
		observability.RecordFrame(s.name, observability.FrameStale)
		return
	}

	rx, ok := s.sessions.Get(fr.Session)
	if !ok {
		s.log.Warn().Uint64("session", fr.Session).Uint64("type", fr.Type).Msg("unknown session number")
		observability.RecordFrame(s.name, observability.FrameUnknownSession)
		return
	}
	s.log.Debug().Uint64("session", fr.Session).Uint64("type", fr.Type).Msg("routing message")
	rx.Push(fr.Type, fr.Payload)
	observability.RecordFrame(s.name, observability.FrameDelivered)
	if rx.Closed() {
		s.sessions.Remove(fr.Session)
		observability.SetOpenSessions(s.name, s.sessions.Len())
	}
}

func (s *Service) onClose(p *pipe, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), p.closed.Load():
		s.log.Debug().Err(err).Msg("pipe has been closed")
	default:
		s.log.Warn().Err(err).Msg("pipe read failed")
	}
	s.teardown(p)
}
