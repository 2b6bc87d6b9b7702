package session

import "context"

// Channel is the bidirectional handle of one invocation.
type Channel struct {
	ID uint64
	Rx *Rx
	Tx *Tx
}

func NewChannel(id uint64, rx *Rx, tx *Tx) *Channel {
	return &Channel{ID: id, Rx: rx, Tx: tx}
}

func (c *Channel) Get(ctx context.Context) (Message, error) {
	return c.Rx.Get(ctx)
}

func (c *Channel) Send(name string, args ...any) error {
	return c.Tx.Send(name, args...)
}
