package frame

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/fxamacker/cbor/v2"
)

const (
	// MinFields is the number of positional fields routing depends on.
	MinFields = 3
)

var (
	ErrIncomplete     = errors.New("frame: incomplete frame")
	ErrMalformedFrame = errors.New("frame: malformed frame")
	ErrCorruptStream  = errors.New("frame: corrupt stream")
	ErrFrameTooLarge  = errors.New("frame: frame too large")
	ErrBufferTooLarge = errors.New("frame: buffered data too large")
)

// Frame is one decoded wire message. On the wire it is a single CBOR array
// [session, type, payload, extra...].
type Frame struct {
	Session uint64
	Type    uint64
	Payload cbor.RawMessage
	Extra   []cbor.RawMessage
}

// DecodePayload unmarshals the opaque payload into v.
func (f Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	return cbor.Unmarshal(f.Payload, v)
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes    int
	MaxBufferedBytes int
	MaxNestedLevels  int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes:    8 * 1024 * 1024,
		MaxBufferedBytes: 16 * 1024 * 1024,
		MaxNestedLevels:  32,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxFrameBytes <= 0 {
		l.MaxFrameBytes = def.MaxFrameBytes
	}
	if l.MaxBufferedBytes <= 0 {
		l.MaxBufferedBytes = def.MaxBufferedBytes
	}
	if l.MaxBufferedBytes < l.MaxFrameBytes {
		l.MaxBufferedBytes = l.MaxFrameBytes
	}
	// cbor rejects nesting limits outside [4, 65535].
	if l.MaxNestedLevels < 4 {
		l.MaxNestedLevels = def.MaxNestedLevels
	}
	if l.MaxNestedLevels > 65535 {
		l.MaxNestedLevels = 65535
	}
	return l
}

func (l Limits) decMode() cbor.DecMode {
	dm, err := cbor.DecOptions{MaxNestedLevels: l.MaxNestedLevels}.DecMode()
	if err != nil {
		dm, _ = cbor.DecOptions{}.DecMode()
	}
	return dm
}

// Encode returns the wire bytes for one frame.
func Encode(session, messageType uint64, payload any) ([]byte, error) {
	return cbor.Marshal([]any{session, messageType, payload})
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	limits = limits.withDefaults()
	fields := make([]any, 0, MinFields+len(f.Extra))
	fields = append(fields, f.Session, f.Type, f.Payload)
	for _, extra := range f.Extra {
		fields = append(fields, extra)
	}
	buf, err := cbor.Marshal(fields)
	if err != nil {
		return err
	}
	if len(buf) > limits.MaxFrameBytes {
		return ErrFrameTooLarge
	}
	_, err = w.Write(buf)
	return err
}

// Decoder incrementally decodes frames from an arbitrarily chunked byte
// stream. It is not safe for concurrent use.
type Decoder struct {
	limits Limits
	dm     cbor.DecMode
	buf    []byte
	off    int
}

func NewDecoder(limits Limits) *Decoder {
	limits = limits.withDefaults()
	return &Decoder{
		limits: limits,
		dm:     limits.decMode(),
	}
}

// Feed appends chunk to the decode buffer.
func (d *Decoder) Feed(chunk []byte) {
	if d.off > 0 {
		d.buf = append(d.buf[:0], d.buf[d.off:]...)
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Buffered reports how many undecoded bytes are held.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Reset drops all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// Next decodes one frame. It returns ErrIncomplete when more bytes are
// needed. ErrMalformedFrame consumes the offending item and leaves the
// stream usable; ErrCorruptStream discards everything buffered.
func (d *Decoder) Next() (Frame, error) {
	pending := d.buf[d.off:]
	if len(pending) == 0 {
		return Frame{}, ErrIncomplete
	}

	var raw cbor.RawMessage
	rest, err := d.dm.UnmarshalFirst(pending, &raw)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			if len(pending) > d.limits.MaxBufferedBytes {
				d.Reset()
				return Frame{}, fmt.Errorf("%w: %w", ErrCorruptStream, ErrBufferTooLarge)
			}
			return Frame{}, ErrIncomplete
		}
		d.Reset()
		return Frame{}, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	d.off += len(pending) - len(rest)

	if len(raw) > d.limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %w: %d bytes", ErrMalformedFrame, ErrFrameTooLarge, len(raw))
	}
	return decodeFrame(d.dm, raw)
}

// Frames yields every frame currently decodable, in arrival order, together
// with per-frame errors. Iteration stops when the buffer needs more bytes or
// the stream turns out to be corrupt. Each call starts where the last one
// stopped.
func (d *Decoder) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			fr, err := d.Next()
			if errors.Is(err, ErrIncomplete) {
				return
			}
			if !yield(fr, err) {
				return
			}
			if errors.Is(err, ErrCorruptStream) {
				return
			}
		}
	}
}

// Reader decodes frames from a blocking stream.
type Reader struct {
	limits Limits
	dm     cbor.DecMode
	dec    *cbor.Decoder
}

func NewReader(r io.Reader, limits Limits) *Reader {
	limits = limits.withDefaults()
	dm := limits.decMode()
	return &Reader{limits: limits, dm: dm, dec: dm.NewDecoder(r)}
}

// ReadFrame blocks until one frame is available. io.EOF is returned
// unchanged at a clean end of stream.
func (r *Reader) ReadFrame() (Frame, error) {
	var raw cbor.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		return Frame{}, err
	}
	if len(raw) > r.limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %w: %d bytes", ErrMalformedFrame, ErrFrameTooLarge, len(raw))
	}
	return decodeFrame(r.dm, raw)
}

func decodeFrame(dm cbor.DecMode, raw cbor.RawMessage) (Frame, error) {
	var fields []cbor.RawMessage
	if err := dm.Unmarshal(raw, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(fields) < MinFields {
		return Frame{}, fmt.Errorf("%w: %d fields", ErrMalformedFrame, len(fields))
	}

	var fr Frame
	if err := dm.Unmarshal(fields[0], &fr.Session); err != nil {
		return Frame{}, fmt.Errorf("%w: session id: %v", ErrMalformedFrame, err)
	}
	if err := dm.Unmarshal(fields[1], &fr.Type); err != nil {
		return Frame{}, fmt.Errorf("%w: message type: %v", ErrMalformedFrame, err)
	}
	fr.Payload = fields[2]
	if len(fields) > MinFields {
		fr.Extra = fields[MinFields:]
	}
	return fr, nil
}
