package service

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/frame"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/danmuck/edgerpc/internal/testutil/testlog"
	"github.com/fxamacker/cbor/v2"
)

func TestNewRequiresName(t *testing.T) {
	testlog.Start(t)
	if _, err := New("  ", nil); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestInvokeWritesInvocationFrame(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "echo", "x")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if ch.ID != 1 {
		t.Fatalf("first session must be 1, got %d", ch.ID)
	}
	p := d.peer(t)
	f := p.next(t)
	args := decodeArgs(t, f)
	if f.Session != 1 || f.Type != 1 || len(args) != 1 || args[0] != "x" {
		t.Fatalf("unexpected frame session=%d type=%d args=%v", f.Session, f.Type, args)
	}

	p.reply(t, f.Session, schema.MsgValue, "x")
	msg, err := ch.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var out string
	if err := msg.Decode(&out); err != nil || out != "x" || msg.Name != schema.NameValue {
		t.Fatalf("unexpected reply %+v out=%q err=%v", msg, out, err)
	}
	if _, err := ch.Get(ctx); !errors.Is(err, session.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	eventually(t, "finished session to be removed", func() bool { return s.Sessions() == 0 })
}

func TestInvokeAssignsIncreasingSessionIDs(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		ch, err := s.Invoke(ctx, "stream")
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		if ch.ID != want {
			t.Fatalf("expected session %d, got %d", want, ch.ID)
		}
	}
	p := d.peer(t)
	for want := uint64(1); want <= 3; want++ {
		f := p.next(t)
		if f.Session != want || f.Type != 2 || len(decodeArgs(t, f)) != 0 {
			t.Fatalf("unexpected frame %+v", f)
		}
	}
	if s.Sessions() != 3 {
		t.Fatalf("expected 3 open sessions, got %d", s.Sessions())
	}
}

func TestInvokeUnknownMethodDoesNoIO(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	_, err := s.Invoke(context.Background(), "missing", 1)
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
	if d.dials.Load() != 0 || s.Connected() {
		t.Fatalf("unknown method must not connect")
	}
}

func TestInvokeConnectFailureRegistersNothing(t *testing.T) {
	testlog.Start(t)
	dialer := DialerFunc(func(context.Context, protocol.Endpoint) (net.Conn, error) {
		return nil, errRefused
	})
	s, err := New("calc", []protocol.Endpoint{{Host: "a", Port: 1}}, WithAPI(testAPI()), WithDialer(dialer))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = s.Invoke(context.Background(), "echo", "x")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if s.Sessions() != 0 {
		t.Fatalf("expected no sessions, got %d", s.Sessions())
	}
}

func TestInvokeWriteFailureUnregisters(t *testing.T) {
	testlog.Start(t)
	dialer := DialerFunc(func(context.Context, protocol.Endpoint) (net.Conn, error) {
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	})
	s, err := New("calc", []protocol.Endpoint{{Host: "a", Port: 1}}, WithAPI(testAPI()), WithDialer(dialer))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer s.Close()

	if _, err := s.Invoke(context.Background(), "stream"); err == nil {
		t.Fatalf("expected write failure")
	}
	if s.Sessions() != 0 {
		t.Fatalf("failed invocation must not stay registered")
	}
}

func TestInvokeTerminalReceiveProtocolIsNotRegistered(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ch, err := s.Invoke(context.Background(), "notify", "ping")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if f := d.peer(t).next(t); f.Type != 3 {
		t.Fatalf("unexpected frame %+v", f)
	}
	if s.Sessions() != 0 {
		t.Fatalf("expected no registered sessions, got %d", s.Sessions())
	}
	if _, err := ch.Get(context.Background()); !errors.Is(err, session.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestStreamingRepliesArriveInOrder(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "stream")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)
	for i := range 3 {
		p.reply(t, ch.ID, schema.MsgWrite, i)
	}
	p.reply(t, ch.ID, schema.MsgClose, nil)

	for want := range 3 {
		msg, err := ch.Get(ctx)
		if err != nil {
			t.Fatalf("get %d: %v", want, err)
		}
		var got int
		if err := msg.Decode(&got); err != nil || got != want || msg.Name != schema.NameWrite {
			t.Fatalf("unexpected message %+v got=%d err=%v", msg, got, err)
		}
	}
	if msg, err := ch.Get(ctx); err != nil || msg.Name != schema.NameClose {
		t.Fatalf("expected close message, got %+v %v", msg, err)
	}
	if _, err := ch.Get(ctx); !errors.Is(err, session.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	eventually(t, "closed session to be removed", func() bool { return s.Sessions() == 0 })
}

func TestSendFollowsTransmitProtocol(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)

	ch, err := s.Invoke(context.Background(), "stream")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)

	if err := ch.Send(schema.NameWrite, "a"); err != nil {
		t.Fatalf("send write: %v", err)
	}
	f := p.next(t)
	if args := decodeArgs(t, f); f.Session != ch.ID || f.Type != schema.MsgWrite || len(args) != 1 || args[0] != "a" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if err := ch.Send(schema.NameClose); err != nil {
		t.Fatalf("send close: %v", err)
	}
	if f := p.next(t); f.Type != schema.MsgClose {
		t.Fatalf("unexpected frame %+v", f)
	}
	if err := ch.Send(schema.NameWrite, "b"); !errors.Is(err, session.ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
}

func TestServiceErrorReply(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "echo", "x")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)
	p.reply(t, ch.ID, schema.MsgError, []any{[]any{2, 7}, "boom"})

	msg, err := ch.Get(ctx)
	var svcErr *session.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.Service != "calc" || svcErr.Category != 2 || svcErr.Code != 7 || svcErr.Reason != "boom" {
		t.Fatalf("unexpected service error %+v", svcErr)
	}
	if msg.Name != schema.NameError {
		t.Fatalf("error message must be returned alongside the error: %+v", msg)
	}
}

func TestUnknownSessionIsDropped(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "echo", "x")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)
	p.reply(t, 99, schema.MsgValue, "stray")
	p.reply(t, ch.ID, schema.MsgValue, "ok")

	msg, err := ch.Get(ctx)
	var out string
	if err != nil || msg.Decode(&out) != nil || out != "ok" {
		t.Fatalf("unexpected reply %+v err=%v", msg, err)
	}
	if !s.Connected() {
		t.Fatalf("stray frame must not drop the connection")
	}
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "echo", "x")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)
	// A two element array is well formed CBOR but not a frame.
	if _, err := p.conn.Write([]byte{0x82, 0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.reply(t, ch.ID, schema.MsgValue, "ok")

	if msg, err := ch.Get(ctx); err != nil || msg.Name != schema.NameValue {
		t.Fatalf("unexpected reply %+v err=%v", msg, err)
	}
}

func TestUnexpectedMessageTypeFailsSession(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "echo", "x")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)
	p.reply(t, ch.ID, 9, "bad")

	_, err = ch.Get(ctx)
	var protoErr *session.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.MessageType != 9 {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	eventually(t, "failed session to be removed", func() bool { return s.Sessions() == 0 })
}

func TestDisconnectFailsEverySessionOnce(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	channels := make([]*session.Channel, 0, 3)
	for range 3 {
		ch, err := s.Invoke(ctx, "stream")
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		channels = append(channels, ch)
	}
	p := d.peer(t)

	s.Disconnect()
	s.Disconnect()

	if s.Connected() || s.Sessions() != 0 {
		t.Fatalf("expected empty disconnected service, connected=%v sessions=%d", s.Connected(), s.Sessions())
	}
	for _, ch := range channels {
		_, err := ch.Get(ctx)
		var discErr *session.DisconnectionError
		if !errors.As(err, &discErr) || discErr.Service != "calc" {
			t.Fatalf("session %d: expected DisconnectionError, got %v", ch.ID, err)
		}
		if !errors.Is(err, session.ErrDisconnected) {
			t.Fatalf("DisconnectionError must match ErrDisconnected")
		}
	}
	p.waitClosed(t)
}

func TestDisconnectWhileIdleIsNoop(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	s.Disconnect()
	if d.dials.Load() != 0 || s.Connected() {
		t.Fatalf("disconnect must not dial")
	}
}

func TestRemoteCloseDeliversQueuedRepliesThenDisconnection(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	ch, err := s.Invoke(ctx, "stream")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	p := d.peer(t)
	p.next(t)
	p.reply(t, ch.ID, schema.MsgWrite, "x")
	_ = p.conn.Close()

	msg, err := ch.Get(ctx)
	var out string
	if err != nil || msg.Decode(&out) != nil || out != "x" {
		t.Fatalf("expected queued reply first, got %+v err=%v", msg, err)
	}
	if _, err := ch.Get(ctx); !errors.Is(err, session.ErrDisconnected) {
		t.Fatalf("expected disconnection, got %v", err)
	}
	eventually(t, "service to detach", func() bool { return !s.Connected() })
}

func TestReconnectAfterRemoteClose(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := d.peer(t)
	_ = first.conn.Close()
	eventually(t, "service to detach", func() bool { return !s.Connected() })

	ch, err := s.Invoke(ctx, "echo", "again")
	if err != nil {
		t.Fatalf("invoke after reconnect: %v", err)
	}
	second := d.peer(t)
	f := second.next(t)
	if f.Session != ch.ID {
		t.Fatalf("unexpected frame %+v", f)
	}
	if d.dials.Load() != 2 {
		t.Fatalf("expected a second dial, got %d", d.dials.Load())
	}
}

func TestConcurrentInvocationsAreRoutedToTheirSessions(t *testing.T) {
	testlog.Start(t)
	s, d := newPipedService(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	p := d.peer(t)
	go func() {
		for f := range p.frames {
			var args []any
			if err := f.DecodePayload(&args); err != nil || len(args) != 1 {
				continue
			}
			raw, _ := cbor.Marshal(args[0])
			_ = frame.WriteFrame(p.conn, frame.Frame{Session: f.Session, Type: schema.MsgValue, Payload: raw}, frame.DefaultLimits())
		}
	}()

	const calls = 16
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := s.Call(ctx, "echo", i)
			if err != nil {
				errs <- err
				return
			}
			var got int
			if err := msg.Decode(&got); err != nil {
				errs <- err
				return
			}
			if got != i {
				errs <- errors.New("reply routed to the wrong session")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("call: %v", err)
	}
}

func TestGetHonoursContextWhileWaiting(t *testing.T) {
	testlog.Start(t)
	s, _ := newPipedService(t)
	ch, err := s.Invoke(context.Background(), "stream")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ch.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if s.Sessions() != 1 {
		t.Fatalf("timed out get must keep the session open")
	}
}
