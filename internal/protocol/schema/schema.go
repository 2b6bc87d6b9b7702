package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard message types shared by the built-in protocols.
const (
	MsgValue uint64 = 0
	MsgError uint64 = 1
	MsgClose uint64 = 2

	MsgWrite = MsgValue
)

// Standard message names.
const (
	NameValue = "value"
	NameWrite = "write"
	NameError = "error"
	NameClose = "close"
)

var (
	ErrDuplicateMethod      = errors.New("schema: duplicate method name")
	ErrDuplicateMethodID    = errors.New("schema: duplicate method id")
	ErrDuplicateMessageType = errors.New("schema: duplicate message type")
)

type ValidationError struct {
	Method string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	return fmt.Sprintf("schema: method=%q: %s", e.Method, e.Reason)
}

// Transition is one edge of a protocol graph, taken when a message of the
// keyed type is seen. Recursive keeps the current graph. Otherwise the graph
// becomes Next, and an empty Next means the session side is finished.
type Transition struct {
	Name      string
	Recursive bool
	Next      Protocol
}

// Protocol maps message types to transitions.
type Protocol map[uint64]Transition

func (p Protocol) Lookup(messageType uint64) (Transition, bool) {
	t, ok := p[messageType]
	return t, ok
}

// TypeOf resolves a message name to its type within p.
func (p Protocol) TypeOf(name string) (uint64, bool) {
	for typ, t := range p {
		if t.Name == name {
			return typ, true
		}
	}
	return 0, false
}

// Step returns the graph in effect after taking t.
func (p Protocol) Step(t Transition) Protocol {
	if t.Recursive {
		return p
	}
	return t.Next
}

// Terminal reports whether no further messages are allowed.
func (p Protocol) Terminal() bool {
	return len(p) == 0
}

// Primitive is a single reply: one value or one error.
func Primitive() Protocol {
	return Protocol{
		MsgValue: {Name: NameValue},
		MsgError: {Name: NameError},
	}
}

// Streaming is any number of writes followed by close or error.
func Streaming() Protocol {
	return Protocol{
		MsgWrite: {Name: NameWrite, Recursive: true},
		MsgError: {Name: NameError},
		MsgClose: {Name: NameClose},
	}
}

// Method describes one remote method: its wire id and the graphs governing
// what the caller may send (Tx) and what it will receive (Rx).
type Method struct {
	ID   uint64
	Name string
	Tx   Protocol
	Rx   Protocol
}

// Map is the read-only API table of one service, keyed by method name.
type Map struct {
	byName map[string]Method
}

func NewMap(methods ...Method) (Map, error) {
	byName := make(map[string]Method, len(methods))
	ids := make(map[uint64]string, len(methods))
	for _, m := range methods {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return Map{}, ValidationError{Reason: fmt.Sprintf("method id=%d missing name", m.ID)}
		}
		if _, ok := byName[name]; ok {
			return Map{}, fmt.Errorf("%w: %q", ErrDuplicateMethod, name)
		}
		if other, ok := ids[m.ID]; ok {
			return Map{}, fmt.Errorf("%w: id=%d used by %q and %q", ErrDuplicateMethodID, m.ID, other, name)
		}
		m.Name = name
		byName[name] = m
		ids[m.ID] = name
	}
	return Map{byName: byName}, nil
}

func MustMap(methods ...Method) Map {
	m, err := NewMap(methods...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Map) Lookup(name string) (Method, bool) {
	method, ok := m.byName[name]
	return method, ok
}

func (m Map) Len() int {
	return len(m.byName)
}

// Names returns method names sorted by method id.
func (m Map) Names() []string {
	list := make([]Method, 0, len(m.byName))
	for _, method := range m.byName {
		list = append(list, method)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	out := make([]string, 0, len(list))
	for _, method := range list {
		out = append(out, method.Name)
	}
	return out
}
