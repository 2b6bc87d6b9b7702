package service

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/frame"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/fxamacker/cbor/v2"
)

const waitFor = 2 * time.Second

func testAPI() schema.Map {
	return schema.MustMap(
		schema.Method{ID: 1, Name: "echo", Tx: schema.Protocol{}, Rx: schema.Primitive()},
		schema.Method{ID: 2, Name: "stream", Tx: schema.Streaming(), Rx: schema.Streaming()},
		schema.Method{ID: 3, Name: "notify", Tx: schema.Protocol{}, Rx: schema.Protocol{}},
	)
}

// peer is the remote end of a piped connection.
type peer struct {
	endpoint protocol.Endpoint
	conn     net.Conn
	frames   chan frame.Frame
}

func newPeer(t *testing.T, ep protocol.Endpoint, conn net.Conn) *peer {
	t.Helper()
	p := &peer{endpoint: ep, conn: conn, frames: make(chan frame.Frame, 32)}
	go func() {
		defer close(p.frames)
		r := frame.NewReader(conn, frame.DefaultLimits())
		for {
			f, err := r.ReadFrame()
			if err != nil {
				return
			}
			p.frames <- f
		}
	}()
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return p
}

func (p *peer) next(t *testing.T) frame.Frame {
	t.Helper()
	select {
	case f, ok := <-p.frames:
		if !ok {
			t.Fatalf("peer %s: connection closed", p.endpoint)
		}
		return f
	case <-time.After(waitFor):
		t.Fatalf("peer %s: timed out waiting for frame", p.endpoint)
	}
	return frame.Frame{}
}

func (p *peer) reply(t *testing.T, session, messageType uint64, payload any) {
	t.Helper()
	raw, err := cbor.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f := frame.Frame{Session: session, Type: messageType, Payload: raw}
	if err := frame.WriteFrame(p.conn, f, frame.DefaultLimits()); err != nil {
		t.Fatalf("peer %s: write frame: %v", p.endpoint, err)
	}
}

// waitClosed blocks until the client side of the connection has gone away.
func (p *peer) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-p.frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("peer %s: connection still open", p.endpoint)
		}
	}
}

// pipeDialer connects every dial to an in-memory peer.
type pipeDialer struct {
	t     *testing.T
	dials atomic.Int32
	peers chan *peer
}

func newPipeDialer(t *testing.T) *pipeDialer {
	return &pipeDialer{t: t, peers: make(chan *peer, 8)}
}

func (d *pipeDialer) Dial(_ context.Context, ep protocol.Endpoint) (net.Conn, error) {
	d.dials.Add(1)
	client, server := net.Pipe()
	d.peers <- newPeer(d.t, ep, server)
	return client, nil
}

func (d *pipeDialer) peer(t *testing.T) *peer {
	t.Helper()
	select {
	case p := <-d.peers:
		return p
	case <-time.After(waitFor):
		t.Fatalf("no connection was dialed")
	}
	return nil
}

func newPipedService(t *testing.T) (*Service, *pipeDialer) {
	t.Helper()
	d := newPipeDialer(t)
	s, err := New("calc", []protocol.Endpoint{{Host: "a", Port: 1}}, WithAPI(testAPI()), WithDialer(d))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, d
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeArgs(t *testing.T, f frame.Frame) []any {
	t.Helper()
	var args []any
	if err := f.DecodePayload(&args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	return args
}
