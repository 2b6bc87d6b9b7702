package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/eapache/queue"
	"github.com/fxamacker/cbor/v2"
)

// Message is one inbound message delivered to a session.
type Message struct {
	Type    uint64
	Name    string
	Payload cbor.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return cbor.Unmarshal(m.Payload, v)
}

type errorCode struct {
	_        struct{} `cbor:",toarray"`
	Category int64
	Code     int64
}

type errorBody struct {
	_      struct{} `cbor:",toarray"`
	Code   errorCode
	Reason string
}

// Rx is the receive side of one session. Messages are queued in arrival
// order and validated against the receive protocol as they are pushed.
type Rx struct {
	mu       sync.Mutex
	service  string
	protocol schema.Protocol
	pending  *queue.Queue
	closed   bool
	err      error
	notify   chan struct{}
}

func NewRx(protocol schema.Protocol, service string) *Rx {
	return &Rx{
		service:  service,
		protocol: protocol,
		pending:  queue.New(),
		closed:   protocol.Terminal(),
		notify:   make(chan struct{}),
	}
}

// Push delivers one inbound message. Messages arriving after the session
// finished are dropped.
func (r *Rx) Push(messageType uint64, payload cbor.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	t, ok := r.protocol.Lookup(messageType)
	if !ok {
		r.failLocked(&ProtocolError{Service: r.service, MessageType: messageType})
		return
	}
	r.pending.Add(Message{Type: messageType, Name: t.Name, Payload: payload})
	r.protocol = r.protocol.Step(t)
	if r.protocol.Terminal() {
		r.closed = true
	}
	r.broadcastLocked()
}

// Closed reports whether the session accepts no further messages.
func (r *Rx) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Error fails the session. Only the first failure is kept.
func (r *Rx) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(err)
}

// Err returns the recorded failure, if any.
func (r *Rx) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Get returns the next message. Already queued messages are returned before
// any failure. An "error" message is returned together with a
// *ServiceError. ErrChannelClosed follows the last message of a finished
// session.
func (r *Rx) Get(ctx context.Context) (Message, error) {
	for {
		r.mu.Lock()
		if r.pending.Length() > 0 {
			msg := r.pending.Remove().(Message)
			r.mu.Unlock()
			if msg.Name == schema.NameError {
				return msg, r.serviceError(msg)
			}
			return msg, nil
		}
		err, closed, wait := r.err, r.closed, r.notify
		r.mu.Unlock()

		if err != nil {
			return Message{}, err
		}
		if closed {
			return Message{}, ErrChannelClosed
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-wait:
		}
	}
}

func (r *Rx) failLocked(err error) {
	if r.err != nil {
		return
	}
	r.err = err
	r.closed = true
	r.broadcastLocked()
}

func (r *Rx) broadcastLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *Rx) serviceError(msg Message) error {
	var body errorBody
	if err := msg.Decode(&body); err != nil {
		return &ServiceError{Service: r.service, Reason: fmt.Sprintf("undecodable error payload: %v", err)}
	}
	return &ServiceError{
		Service:  r.service,
		Category: body.Code.Category,
		Code:     body.Code.Code,
		Reason:   body.Reason,
	}
}
