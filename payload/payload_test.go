package payload

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// countingCloser records how many times the underlying stream was closed.
type countingCloser struct {
	io.Reader
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func newCountingCloser(s string) *countingCloser {
	return &countingCloser{Reader: strings.NewReader(s)}
}

func TestByteArrayPayloadIsRereadable(t *testing.T) {
	p := NewString("Hello", TextPlain)
	for i := 0; i < 3; i++ {
		b, err := Bytes(p)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if string(b) != "Hello" {
			t.Fatalf("read %d: body is %s", i, b)
		}
	}
	if p.Length() != 5 {
		t.Fatalf("Length is %d", p.Length())
	}
	if !p.Available() {
		t.Fatal("Payload should be available")
	}
}

func TestByteArrayPayloadUnavailableAfterClose(t *testing.T) {
	p := NewString("Hello", TextPlain)
	clone := p.Clone()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if p.Available() {
		t.Fatal("Closed payload reports available")
	}
	if _, err := p.Body(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Body after close returned %v", err)
	}
	// the clone has its own lifecycle
	if b, err := Bytes(clone); err != nil || string(b) != "Hello" {
		t.Fatalf("clone body %q, err %v", b, err)
	}
}

func TestStreamPayloadReadsOnce(t *testing.T) {
	src := newCountingCloser("streamed")
	p := NewStream(src, TextPlain, 8)

	b, err := Bytes(p)
	if err != nil || string(b) != "streamed" {
		t.Fatalf("body %q, err %v", b, err)
	}
	if p.Available() {
		t.Fatal("Consumed stream reports available")
	}
	if _, err := p.Body(); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second Body returned %v", err)
	}
	p.Close()
	if n := src.closes.Load(); n != 1 {
		t.Fatalf("stream closed %d times", n)
	}
}

func TestStreamPayloadClosesExactlyOnceWithoutRead(t *testing.T) {
	src := newCountingCloser("never read")
	p := NewStream(src, ApplicationOctetStream, UnknownLength)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := src.closes.Load(); n != 1 {
		t.Fatalf("stream closed %d times", n)
	}
	if _, err := p.Body(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Body after close returned %v", err)
	}
}

func TestStreamReaderStopsAfterClose(t *testing.T) {
	p := NewStream(newCountingCloser("abc"), TextPlain, 3)
	r, err := p.Body()
	if err != nil {
		t.Fatal(err)
	}
	p.Close()
	if _, err := r.Read(make([]byte, 3)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Read after close returned %v", err)
	}
}

func TestStreamPayloadNormalizesLength(t *testing.T) {
	p := NewStream(newCountingCloser(""), TextPlain, -42)
	if p.Length() != UnknownLength {
		t.Fatalf("Length is %d", p.Length())
	}
}

func TestNewEagerDrainsAndCloses(t *testing.T) {
	src := newCountingCloser("eager body")
	p, err := New(src, TextPlain, UnknownLength, Eager)
	if err != nil {
		t.Fatal(err)
	}
	if src.closes.Load() != 1 {
		t.Fatal("Eager construction did not close the source")
	}
	if p.Length() != int64(len("eager body")) {
		t.Fatalf("Length is %d", p.Length())
	}
	if _, ok := p.(*ByteArrayPayload); !ok {
		t.Fatalf("Eager payload is %T", p)
	}
}

func TestNewLazyDoesNotRead(t *testing.T) {
	src := newCountingCloser("lazy body")
	p, err := New(src, TextPlain, 9, Lazy)
	if err != nil {
		t.Fatal(err)
	}
	if src.closes.Load() != 0 {
		t.Fatal("Lazy construction closed the source")
	}
	if !p.Available() {
		t.Fatal("Lazy payload not available")
	}
	p.Close()
}

func TestParseMIMEType(t *testing.T) {
	tests := []struct {
		in      string
		want    MIMEType
		wantStr string
	}{
		{"text/plain", TextPlain, "text/plain"},
		{"Text/HTML; charset=UTF-8", NewMIMEType("text/html", "utf-8"), "text/html; charset=utf-8"},
		{"application/json; q=1", NewMIMEType("application/json", ""), "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMIMEType(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if got.String() != tt.wantStr {
				t.Fatalf("String() is %q", got.String())
			}
		})
	}
	if _, err := ParseMIMEType("not a type/"); err == nil {
		t.Fatal("Expected error for malformed media type")
	}
}
