package httpcache

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/always-cache/httpcache/payload"
)

type trackingBody struct {
	io.Reader
	closed atomic.Int32
}

func (b *trackingBody) Close() error {
	b.closed.Add(1)
	return nil
}

func newTrackingBody(s string) *trackingBody {
	return &trackingBody{Reader: strings.NewReader(s)}
}

func textHeaders() Headers {
	return NewHeaders(
		Header{"Content-Type", "text/plain; charset=utf-8"},
		Header{"Content-Length", "16"},
	)
}

func TestCreateResponseNotModifiedHasNoPayload(t *testing.T) {
	body := newTrackingBody("should not be here")
	res := CreateResponse(NewStatusLine(http.StatusNotModified), textHeaders(), body)
	if res.HasPayload() {
		t.Fatal("304 response must not have a payload")
	}
	if body.closed.Load() != 1 {
		t.Fatalf("Body of 304 response closed %d times", body.closed.Load())
	}
}

func TestCreateResponseBodylessStatuses(t *testing.T) {
	for _, code := range []int{100, 101, 204, 304} {
		res := CreateResponse(NewStatusLine(code), Headers{}, newTrackingBody("x"))
		if res.HasPayload() {
			t.Errorf("Status %d must not have a payload", code)
		}
	}
}

func TestCreateResponseNilBody(t *testing.T) {
	res := CreateResponse(NewStatusLine(http.StatusOK), textHeaders(), nil)
	if res.HasPayload() {
		t.Fatal("Nil body must not produce a payload")
	}
}

func TestCreateResponseLazyPayload(t *testing.T) {
	body := newTrackingBody("This is the body")
	res := CreateResponse(NewStatusLine(http.StatusOK), textHeaders(), body)
	if !res.HasPayload() {
		t.Fatal("Expected payload")
	}
	if body.closed.Load() != 0 {
		t.Fatal("Body closed before it was read")
	}
	b, ok, err := Transform(res, func(p payload.Payload) ([]byte, error) {
		if p.Length() != 16 {
			t.Errorf("Length: %d", p.Length())
		}
		if p.MIMEType() != payload.NewMIMEType("text/plain", "utf-8") {
			t.Errorf("MIME type: %s", p.MIMEType())
		}
		return payload.Bytes(p)
	})
	if err != nil || !ok {
		t.Fatalf("Transform: %v %v", ok, err)
	}
	if string(b) != "This is the body" {
		t.Fatalf("Body: %s", b)
	}
	if body.closed.Load() != 1 {
		t.Fatalf("Body closed %d times", body.closed.Load())
	}
}

func TestCreateResponseDefaults(t *testing.T) {
	headers := NewHeaders(Header{"Content-Length", "not a number"})
	res := CreateResponse(NewStatusLine(http.StatusOK), headers, newTrackingBody("abc"))
	_, _, err := Transform(res, func(p payload.Payload) (struct{}, error) {
		if p.Length() != payload.UnknownLength {
			t.Errorf("Length: %d", p.Length())
		}
		if p.MIMEType() != payload.ApplicationOctetStream {
			t.Errorf("MIME type: %s", p.MIMEType())
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTransformClosesOnError(t *testing.T) {
	body := newTrackingBody("body")
	res := CreateResponse(NewStatusLine(http.StatusOK), Headers{}, body)
	failure := errors.New("failure")
	_, ok, err := Transform(res, func(p payload.Payload) (int, error) {
		return 0, failure
	})
	if !ok || !errors.Is(err, failure) {
		t.Fatalf("Transform: %v %v", ok, err)
	}
	if body.closed.Load() != 1 {
		t.Fatalf("Body closed %d times", body.closed.Load())
	}
}

func TestTransformClosesOnPanic(t *testing.T) {
	body := newTrackingBody("body")
	res := CreateResponse(NewStatusLine(http.StatusOK), Headers{}, body)
	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic")
			}
		}()
		Transform(res, func(p payload.Payload) (int, error) {
			panic("boom")
		})
	}()
	if body.closed.Load() != 1 {
		t.Fatalf("Body closed %d times", body.closed.Load())
	}
}

func TestTransformOnlyOnce(t *testing.T) {
	res := CreateResponse(NewStatusLine(http.StatusOK), Headers{}, newTrackingBody("body"))
	if _, _, err := res.Bytes(); err != nil {
		t.Fatal(err)
	}
	called := false
	_, _, err := Transform(res, func(p payload.Payload) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, payload.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if called {
		t.Fatal("Function called on released payload")
	}
}

func TestTransformWithoutPayload(t *testing.T) {
	res := NewResponse(NewStatusLine(http.StatusNoContent), Headers{}, nil)
	called := false
	_, ok, err := Transform(res, func(p payload.Payload) (int, error) {
		called = true
		return 1, nil
	})
	if ok || err != nil || called {
		t.Fatalf("Transform without payload: ok=%v err=%v called=%v", ok, err, called)
	}
}

func TestConsume(t *testing.T) {
	body := newTrackingBody("unread")
	res := CreateResponse(NewStatusLine(http.StatusOK), Headers{}, body)
	res.Consume()
	res.Consume()
	if body.closed.Load() != 1 {
		t.Fatalf("Body closed %d times", body.closed.Load())
	}
	if res.HasPayload() {
		t.Fatal("Payload still present after consume")
	}
}

func TestNewResponseDropsPayloadForBodylessStatus(t *testing.T) {
	p := payload.NewString("x", payload.TextPlain)
	res := NewResponse(NewStatusLine(http.StatusNotModified), Headers{}, p)
	if res.HasPayload() {
		t.Fatal("Expected no payload")
	}
	if p.Available() {
		t.Fatal("Dropped payload not closed")
	}
}

func TestIsCached(t *testing.T) {
	res := NewResponse(NewStatusLine(http.StatusOK), Headers{}, payload.NewString("x", payload.TextPlain))
	if res.IsCached() {
		t.Fatal("Fresh response reported as cached")
	}
	cached := res.MarkCached("Always-Cache")
	if !cached.IsCached() {
		t.Fatal("Marked response not reported as cached")
	}
	if v, _ := cached.Headers().Get("Cache-Status"); v != "Always-Cache; hit" {
		t.Fatalf("Cache-Status: %s", v)
	}
	if res.HasPayload() || !cached.HasPayload() {
		t.Fatal("Payload did not move to marked response")
	}
	fwd := NewResponse(NewStatusLine(http.StatusOK), NewHeaders(Header{"Cache-Status", "Always-Cache; fwd=uri-miss"}), nil)
	if fwd.IsCached() {
		t.Fatal("Forwarded response reported as cached")
	}
}

func TestMaterializeAndClone(t *testing.T) {
	body := newTrackingBody("materialized")
	res := CreateResponse(NewStatusLine(http.StatusOK), Headers{}, body)
	if _, err := res.Clone(); !errors.Is(err, ErrNotMaterialized) {
		t.Fatalf("Expected ErrNotMaterialized, got %v", err)
	}
	mat, err := res.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if body.closed.Load() != 1 {
		t.Fatal("Source stream not closed by Materialize")
	}
	clone, err := mat.Clone()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range []*Response{mat, clone} {
		b, ok, err := r.Bytes()
		if err != nil || !ok || string(b) != "materialized" {
			t.Fatalf("Bytes: %q %v %v", b, ok, err)
		}
	}
}

func TestFromHTTP(t *testing.T) {
	body := newTrackingBody("hello")
	res := FromHTTP(&http.Response{
		StatusCode:    200,
		Proto:         "HTTP/1.1",
		Header:        http.Header{"Content-Type": {"text/plain"}},
		ContentLength: 5,
		Body:          body,
	})
	if got := res.StatusLine().String(); got != "HTTP/1.1 200 OK" {
		t.Fatalf("Status line: %s", got)
	}
	if res.Headers().ContentLength() != 5 {
		t.Fatalf("Content-Length: %d", res.Headers().ContentLength())
	}
	b, _, err := res.Bytes()
	if err != nil || string(b) != "hello" {
		t.Fatalf("Body: %q %v", b, err)
	}
}
