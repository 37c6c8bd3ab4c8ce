// Package payload models HTTP entity bodies and their resource lifecycle.
//
// A payload is either eager (it owns its bytes and can be read any number of
// times) or lazy (it wraps a one-shot stream handed over by the transport).
// Either way, Close releases the underlying resource exactly once, whether or
// not the body was ever read.
package payload

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var (
	// ErrAlreadyConsumed is returned when the stream of a one-shot payload is requested twice.
	ErrAlreadyConsumed = errors.New("payload already consumed")
	// ErrUnavailable is returned when reading a payload that is closed or otherwise unavailable.
	ErrUnavailable = errors.New("payload unavailable")
)

// UnknownLength is the length of a payload whose size is not known up front.
const UnknownLength int64 = -1

// Payload is an HTTP entity body with its media type.
type Payload interface {
	MIMEType() MIMEType
	// Length returns the body length in bytes, or UnknownLength.
	Length() int64
	// Available reports whether the body can still be read.
	Available() bool
	// Body returns a reader for the body.
	// Lazy payloads hand out their stream once; subsequent calls fail with ErrAlreadyConsumed.
	Body() (io.Reader, error)
	// Close releases the underlying resource. It is idempotent.
	Close() error
}

// Strategy selects how a payload is built from a raw stream.
type Strategy int

const (
	// Lazy wraps the stream for a single pass.
	Lazy Strategy = iota
	// Eager drains the stream into an owned buffer and closes it.
	Eager
)

func (s Strategy) String() string {
	if s == Eager {
		return "eager"
	}
	return "lazy"
}

// New builds a payload from rc using the given strategy.
// With Eager, rc is always closed before New returns.
func New(rc io.ReadCloser, t MIMEType, length int64, strategy Strategy) (Payload, error) {
	if strategy == Eager {
		return ReadAll(rc, t)
	}
	return NewStream(rc, t, length), nil
}

// Bytes reads the whole body of p.
// It does not close p.
func Bytes(p Payload) ([]byte, error) {
	r, err := p.Body()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// ByteArrayPayload is a payload that owns its bytes.
type ByteArrayPayload struct {
	b []byte
	t MIMEType

	mu     sync.RWMutex
	closed bool
}

// NewBytes creates an eager payload. b must not be modified afterwards.
func NewBytes(b []byte, t MIMEType) *ByteArrayPayload {
	if b == nil {
		b = []byte{}
	}
	return &ByteArrayPayload{b: b, t: t}
}

func NewString(s string, t MIMEType) *ByteArrayPayload {
	return NewBytes([]byte(s), t)
}

// ReadAll drains r into a new eager payload.
// If r is an io.Closer it is closed, even when reading fails.
func ReadAll(r io.Reader, t MIMEType) (*ByteArrayPayload, error) {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewBytes(b, t), nil
}

func (p *ByteArrayPayload) MIMEType() MIMEType { return p.t }

func (p *ByteArrayPayload) Length() int64 { return int64(len(p.b)) }

func (p *ByteArrayPayload) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

func (p *ByteArrayPayload) Body() (io.Reader, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrUnavailable
	}
	return bytes.NewReader(p.b), nil
}

// Bytes returns the owned buffer. Callers must not modify it.
func (p *ByteArrayPayload) Bytes() []byte { return p.b }

// Clone returns an independent payload over the same immutable bytes.
// Closing either one does not affect the other.
func (p *ByteArrayPayload) Clone() *ByteArrayPayload {
	return &ByteArrayPayload{b: p.b, t: p.t}
}

func (p *ByteArrayPayload) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// StreamPayload wraps a one-shot stream.
type StreamPayload struct {
	t      MIMEType
	length int64

	mu       sync.Mutex
	rc       io.ReadCloser
	consumed bool
	closed   bool

	closeOnce sync.Once
}

// NewStream creates a lazy payload over rc. The payload owns rc from now on.
func NewStream(rc io.ReadCloser, t MIMEType, length int64) *StreamPayload {
	if length < 0 {
		length = UnknownLength
	}
	return &StreamPayload{rc: rc, t: t, length: length}
}

func (p *StreamPayload) MIMEType() MIMEType { return p.t }

func (p *StreamPayload) Length() int64 { return p.length }

func (p *StreamPayload) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rc != nil && !p.consumed && !p.closed
}

func (p *StreamPayload) Body() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed || p.rc == nil:
		return nil, ErrUnavailable
	case p.consumed:
		return nil, ErrAlreadyConsumed
	}
	p.consumed = true
	return &streamReader{p: p}, nil
}

// Close closes the wrapped stream exactly once.
// Only the first call can return an error.
func (p *StreamPayload) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		rc := p.rc
		p.mu.Unlock()
		if rc != nil {
			err = rc.Close()
		}
	})
	return err
}

// streamReader stops returning data once the owning payload is closed,
// so a reader that escaped a Transform cannot touch a released stream.
type streamReader struct {
	p *StreamPayload
}

func (r *streamReader) Read(b []byte) (int, error) {
	r.p.mu.Lock()
	closed := r.p.closed
	r.p.mu.Unlock()
	if closed {
		return 0, ErrUnavailable
	}
	return r.p.rc.Read(b)
}
