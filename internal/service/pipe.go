package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/frame"
	"github.com/danmuck/edgerpc/internal/protocol/session"
)

// pipe is the live connection of a service: the transport handle, its
// incremental decoder, and the write path shared by every session on it.
// The decoder is only touched by the read loop.
type pipe struct {
	conn         net.Conn
	endpoint     protocol.Endpoint
	generation   uint64
	decoder      *frame.Decoder
	limits       frame.Limits
	writeTimeout time.Duration

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newPipe(conn net.Conn, ep protocol.Endpoint, generation uint64, cfg session.Config) *pipe {
	return &pipe{
		conn:         conn,
		endpoint:     ep,
		generation:   generation,
		decoder:      frame.NewDecoder(cfg.Limits),
		limits:       cfg.Limits,
		writeTimeout: cfg.WriteTimeout,
	}
}

// WriteFrame implements session.FrameWriter for send sides.
func (p *pipe) WriteFrame(id, messageType uint64, payload any) error {
	return p.write(context.Background(), id, messageType, payload)
}

func (p *pipe) write(ctx context.Context, id, messageType uint64, payload any) error {
	if p.closed.Load() {
		return session.ErrConnectionClosed
	}
	buf, err := frame.Encode(id, messageType, payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(buf) > p.limits.MaxFrameBytes {
		return frame.ErrFrameTooLarge
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed.Load() {
		return session.ErrConnectionClosed
	}
	if err := p.conn.SetWriteDeadline(p.writeDeadline(ctx)); err != nil {
		return err
	}
	if _, err := p.conn.Write(buf); err != nil {
		if p.closed.Load() {
			return fmt.Errorf("%w: %v", session.ErrConnectionClosed, err)
		}
		return err
	}
	return nil
}

func (p *pipe) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if p.writeTimeout > 0 {
		deadline = time.Now().Add(p.writeTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

// close is idempotent.
func (p *pipe) close() error {
	p.closed.Store(true)
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}
