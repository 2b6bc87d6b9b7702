package session

import (
	"errors"
	"fmt"
)

var (
	ErrDisconnected      = errors.New("session: disconnected")
	ErrConnectionClosed  = errors.New("session: connection closed")
	ErrChannelClosed     = errors.New("session: channel closed")
	ErrTxClosed          = errors.New("session: send side closed")
	ErrUnexpectedMethod  = errors.New("session: message not allowed by protocol")
	ErrSessionRegistered = errors.New("session: id already registered")
)

// DisconnectionError is delivered to every open session when the owning
// connection is lost.
type DisconnectionError struct {
	Service string
}

func (e *DisconnectionError) Error() string {
	return fmt.Sprintf("session: service %q disconnected", e.Service)
}

func (e *DisconnectionError) Is(target error) bool {
	return target == ErrDisconnected
}

// ProtocolError reports an inbound message type the receive protocol does
// not allow at its current state.
type ProtocolError struct {
	Service     string
	MessageType uint64
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("session: service %q sent unexpected message type %d", e.Service, e.MessageType)
}

// ServiceError is a remote failure carried by an "error" message with
// payload [[category, code], reason].
type ServiceError struct {
	Service  string
	Category int64
	Code     int64
	Reason   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("session: service %q error [%d, %d]: %s", e.Service, e.Category, e.Code, e.Reason)
}
