package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

// FrameWriter writes one outbound frame as a contiguous unit.
type FrameWriter interface {
	WriteFrame(session, messageType uint64, payload any) error
}

// Tx is the send side of one session, bound to its connection and id.
type Tx struct {
	mu       sync.Mutex
	w        FrameWriter
	session  uint64
	protocol schema.Protocol
}

func NewTx(protocol schema.Protocol, w FrameWriter, session uint64) *Tx {
	return &Tx{w: w, session: session, protocol: protocol}
}

func (t *Tx) Session() uint64 {
	return t.session
}

// Closed reports whether the send protocol allows no further messages.
func (t *Tx) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protocol.Terminal()
}

// Send writes (session, type, args) where type is resolved from name in the
// current send protocol.
func (t *Tx) Send(name string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.protocol.Terminal() {
		return ErrTxClosed
	}
	typ, ok := t.protocol.TypeOf(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnexpectedMethod, name)
	}
	if args == nil {
		args = []any{}
	}
	if err := t.w.WriteFrame(t.session, typ, args); err != nil {
		return err
	}
	t.protocol = t.protocol.Step(t.protocol[typ])
	return nil
}
