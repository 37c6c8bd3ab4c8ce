// Package storagetest is the conformance suite every cache.Storage must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/cache"
	"github.com/always-cache/httpcache/payload"
)

// Factory creates an empty storage for one test.
type Factory func(t *testing.T) cache.Storage

// Opener opens a storage over the data in dir. Opening the same dir again
// must see what was stored before the previous storage was closed.
type Opener func(t *testing.T, dir string) cache.Storage

// Run runs the conformance suite against storages created by newStorage.
func Run(t *testing.T, newStorage Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s cache.Storage)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"ReplaceSameVariant", testReplaceSameVariant},
		{"VarySelection", testVarySelection},
		{"ConcurrentDisjointVariants", testConcurrentDisjointVariants},
		{"ConcurrentSameVariant", testConcurrentSameVariant},
		{"InvalidateThenGet", testInvalidateThenGet},
		{"InvalidateAbsent", testInvalidateAbsent},
		{"ConcurrentDistinctKeys", testConcurrentDistinctKeys},
		{"GetDuringNewKeyPut", testGetDuringNewKeyPut},
		{"PutInvalidateRace", testPutInvalidateRace},
		{"PutReleasesCallerPayload", testPutReleasesCallerPayload},
		{"ReturnedItemsAreCopies", testReturnedItemsAreCopies},
		{"KeysAndClear", testKeysAndClear},
		{"InvalidateUnsafe", testInvalidateUnsafe},
		{"UseAfterClose", testUseAfterClose},
		{"UnstorableFields", testUnstorableFields},
		{"SlowBodyDoesNotBlockOtherKeys", testSlowBodyDoesNotBlockOtherKeys},
		{"CancelledContext", testCancelledContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

// RunPersistent runs the conformance suite and the restart tests.
func RunPersistent(t *testing.T, open Opener) {
	Run(t, func(t *testing.T) cache.Storage {
		return open(t, t.TempDir())
	})
	t.Run("Restart", func(t *testing.T) {
		testRestart(t, open)
	})
}

type trackingBody struct {
	io.Reader
	closed atomic.Int32
}

func (b *trackingBody) Close() error {
	b.closed.Add(1)
	return nil
}

var textPlain = payload.NewMIMEType("text/plain", "utf-8")

// NewResponse creates a 200 response as the transport would hand it over.
func NewResponse(body string, fields ...httpcache.Header) *httpcache.Response {
	fields = append(fields,
		httpcache.Header{Name: "Content-Type", Value: textPlain.String()},
		httpcache.Header{Name: "Content-Length", Value: fmt.Sprint(len(body))},
	)
	return httpcache.CreateResponse(
		httpcache.NewStatusLine(200),
		httpcache.NewHeaders(fields...),
		&trackingBody{Reader: strings.NewReader(body)},
	)
}

func request(fields ...string) httpcache.Headers {
	var h httpcache.Headers
	for i := 0; i+1 < len(fields); i += 2 {
		h = h.Add(fields[i], fields[i+1])
	}
	return h
}

var varyAcceptEncoding = httpcache.Header{Name: "Vary", Value: "Accept-Encoding"}

func bodyOf(t *testing.T, sr cache.StoredResponse) string {
	t.Helper()
	b, ok, err := sr.Response.Bytes()
	if err != nil || !ok {
		t.Fatalf("Could not read stored body: ok=%v err=%v", ok, err)
	}
	return string(b)
}

func mustGet(t *testing.T, s cache.Storage, key cache.Key) cache.Item {
	t.Helper()
	item, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get %s: %v", key, err)
	}
	if !ok {
		t.Fatalf("Get %s: miss", key)
	}
	return item
}

func mustPut(t *testing.T, s cache.Storage, key cache.Key, req httpcache.Headers, res *httpcache.Response) cache.Item {
	t.Helper()
	item, err := s.Put(context.Background(), key, req, res)
	if err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
	return item
}

func selectBody(t *testing.T, item cache.Item, req httpcache.Headers) (string, bool) {
	t.Helper()
	sr, ok := cache.SelectVariant(item, req)
	if !ok {
		return "", false
	}
	return bodyOf(t, sr), true
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func testGetMissing(t *testing.T, s cache.Storage) {
	_, ok, err := s.Get(context.Background(), cache.MustKey("GET", "http://example.com/missing"))
	if err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}
}

func testPutGet(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/page")
	res := NewResponse("This is the body", httpcache.Header{Name: "ETag", Value: `"v1"`})
	headers := res.Headers()
	put := mustPut(t, s, key, request(), res)
	if put.Len() != 1 {
		t.Fatalf("Put returned %d variants", put.Len())
	}

	item := mustGet(t, s, key)
	if item.Key != key {
		t.Fatalf("Key %v, want %v", item.Key, key)
	}
	sr, ok := cache.SelectVariant(item, request("Accept", "text/html"))
	if !ok {
		t.Fatal("No variant selected")
	}
	if sr.Response.Status().Code != 200 {
		t.Errorf("Status %d", sr.Response.Status().Code)
	}
	if !sr.Response.Headers().Equal(headers) {
		t.Errorf("Headers %v, want %v", sr.Response.Headers().All(), headers.All())
	}
	if sr.StoredAt.IsZero() {
		t.Error("Store time not set")
	}
	_, _, err := httpcache.Transform(sr.Response, func(p payload.Payload) (struct{}, error) {
		if p.MIMEType() != textPlain {
			t.Errorf("MIME type %s", p.MIMEType())
		}
		b, err := payload.Bytes(p)
		if string(b) != "This is the body" {
			t.Errorf("Body %q", b)
		}
		return struct{}{}, err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testReplaceSameVariant(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/replace")
	mustPut(t, s, key, request("Accept-Encoding", "gzip"), NewResponse("old", varyAcceptEncoding))
	mustPut(t, s, key, request("Accept-Encoding", " gzip "), NewResponse("new", varyAcceptEncoding))
	item := mustGet(t, s, key)
	if item.Len() != 1 {
		t.Fatalf("Expected 1 variant, got %d", item.Len())
	}
	if body, _ := selectBody(t, item, request("Accept-Encoding", "gzip")); body != "new" {
		t.Fatalf("Body %q", body)
	}
}

func testVarySelection(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/negotiated")
	mustPut(t, s, key, request("Accept-Encoding", "gzip"), NewResponse("A", varyAcceptEncoding))
	mustPut(t, s, key, request("Accept-Encoding", "identity"), NewResponse("B", varyAcceptEncoding))

	for _, tt := range []struct {
		encoding string
		body     string
		found    bool
	}{
		{"gzip", "A", true},
		{"identity", "B", true},
		{"br", "", false},
	} {
		item := mustGet(t, s, key)
		body, found := selectBody(t, item, request("Accept-Encoding", tt.encoding))
		if found != tt.found || body != tt.body {
			t.Errorf("Accept-Encoding %s: got %q (%v), want %q (%v)", tt.encoding, body, found, tt.body, tt.found)
		}
	}
	item := mustGet(t, s, key)
	if _, found := cache.SelectVariant(item, request()); found {
		t.Error("Request without Accept-Encoding must not match")
	}
}

func testConcurrentDisjointVariants(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/variants")
	encodings := []string{"gzip", "identity", "br", "deflate", "zstd", "compress", "x-gzip", "*"}
	var wg sync.WaitGroup
	for _, enc := range encodings {
		wg.Add(1)
		go func(enc string) {
			defer wg.Done()
			_, err := s.Put(context.Background(), key, request("Accept-Encoding", enc), NewResponse("body-"+enc, varyAcceptEncoding))
			if err != nil {
				t.Errorf("Put %s: %v", enc, err)
			}
		}(enc)
	}
	wg.Wait()

	item := mustGet(t, s, key)
	if item.Len() != len(encodings) {
		t.Fatalf("Expected %d variants, got %d", len(encodings), item.Len())
	}
	for _, enc := range encodings {
		item := mustGet(t, s, key)
		if body, _ := selectBody(t, item, request("Accept-Encoding", enc)); body != "body-"+enc {
			t.Errorf("Accept-Encoding %s: body %q", enc, body)
		}
	}
}

func testConcurrentSameVariant(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/contended")
	const writers = 20
	bodies := make(map[string]bool, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		body := strings.Repeat(fmt.Sprintf("%02d", i), 512)
		bodies[body] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(context.Background(), key, request(), NewResponse(body)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	wg.Wait()

	item := mustGet(t, s, key)
	if item.Len() != 1 {
		t.Fatalf("Expected 1 variant, got %d", item.Len())
	}
	body, _ := selectBody(t, item, request())
	if !bodies[body] {
		t.Fatalf("Stored body is not one of the written bodies: %.20q...", body)
	}
}

func testInvalidateThenGet(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	key := cache.MustKey("GET", "http://example.com/invalidate")
	mustPut(t, s, key, request("Accept-Encoding", "gzip"), NewResponse("A", varyAcceptEncoding))
	mustPut(t, s, key, request("Accept-Encoding", "br"), NewResponse("B", varyAcceptEncoding))
	other := cache.MustKey("GET", "http://example.com/other")
	mustPut(t, s, other, request(), NewResponse("other"))

	if err := s.Invalidate(ctx, key); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, err := s.Get(ctx, key); ok || err != nil {
		t.Fatalf("Get after invalidate: ok=%v err=%v", ok, err)
	}
	if item := mustGet(t, s, other); item.Len() != 1 {
		t.Fatal("Invalidate removed an unrelated key")
	}
}

func testInvalidateAbsent(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/never-stored")
	for i := 0; i < 2; i++ {
		if err := s.Invalidate(context.Background(), key); err != nil {
			t.Fatalf("Invalidate absent key: %v", err)
		}
	}
}

func testConcurrentDistinctKeys(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			key := cache.MustKey("GET", fmt.Sprintf("http://example.com/put/%d", i))
			if _, err := s.Put(ctx, key, request(), NewResponse(fmt.Sprint(i))); err != nil {
				t.Errorf("Put %d: %v", i, err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			key := cache.MustKey("GET", fmt.Sprintf("http://example.com/get/%d", i))
			if _, ok, err := s.Get(ctx, key); err != nil || ok {
				t.Errorf("Get %d: ok=%v err=%v", i, ok, err)
			}
		}(i)
	}
	wg.Wait()

	size, err := s.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size != n {
		t.Fatalf("Size %d, want %d", size, n)
	}
}

func testGetDuringNewKeyPut(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	body := strings.Repeat("x", 64*1024)
	for round := 0; round < 20; round++ {
		key := cache.MustKey("GET", fmt.Sprintf("http://example.com/new/%d", round))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := s.Put(ctx, key, request(), NewResponse(body)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
		for polling := true; polling; {
			select {
			case <-done:
				polling = false
			default:
			}
			item, ok, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !ok {
				continue
			}
			if item.Len() != 1 {
				t.Fatalf("Partial item with %d variants", item.Len())
			}
			if got, _ := selectBody(t, item, request()); got != body {
				t.Fatalf("Partial body of length %d", len(got))
			}
		}
		mustGet(t, s, key)
	}
}

func testPutInvalidateRace(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		key := cache.MustKey("GET", fmt.Sprintf("http://example.com/race/%d", round))
		body := fmt.Sprintf("round %d", round)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, key, request(), NewResponse(body)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.Invalidate(ctx, key); err != nil {
				t.Errorf("Invalidate: %v", err)
			}
		}()
		wg.Wait()

		item, ok, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok {
			continue
		}
		if item.Len() != 1 {
			t.Fatalf("Torn item with %d variants", item.Len())
		}
		if got, _ := selectBody(t, item, request()); got != body {
			t.Fatalf("Torn body %q", got)
		}
	}
}

func testPutReleasesCallerPayload(t *testing.T, s cache.Storage) {
	body := &trackingBody{Reader: strings.NewReader("streamed")}
	res := httpcache.CreateResponse(httpcache.NewStatusLine(200), httpcache.Headers{}, body)
	key := cache.MustKey("GET", "http://example.com/stream")
	mustPut(t, s, key, request(), res)
	if body.closed.Load() != 1 {
		t.Fatalf("Caller stream closed %d times", body.closed.Load())
	}
	if res.HasPayload() {
		t.Fatal("Caller response still owns a payload")
	}
	if got, _ := selectBody(t, mustGet(t, s, key), request()); got != "streamed" {
		t.Fatalf("Body %q", got)
	}
}

func testReturnedItemsAreCopies(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/copies")
	put := mustPut(t, s, key, request(), NewResponse("kept"))
	put.Release()

	first := mustGet(t, s, key)
	if got, _ := selectBody(t, first, request()); got != "kept" {
		t.Fatalf("Body %q", got)
	}
	delete(first.Variants, "")
	first.Release()

	second := mustGet(t, s, key)
	if got, _ := selectBody(t, second, request()); got != "kept" {
		t.Fatalf("Stored entry affected by a returned copy: %q", got)
	}
}

func testKeysAndClear(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	want := map[cache.Key]bool{
		cache.MustKey("GET", "http://example.com/a"):  true,
		cache.MustKey("HEAD", "http://example.com/a"): true,
		cache.MustKey("GET", "https://example.com/b"): true,
	}
	for key := range want {
		mustPut(t, s, key, request("Accept-Encoding", "gzip"), NewResponse("x", varyAcceptEncoding))
		mustPut(t, s, key, request("Accept-Encoding", "br"), NewResponse("y", varyAcceptEncoding))
	}
	got := map[cache.Key]bool{}
	if err := s.Keys(ctx, func(k cache.Key) { got[k] = true }); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("Keys %v, want %v", got, want)
	}
	for key := range want {
		if !got[key] {
			t.Errorf("Key %s missing", key)
		}
	}
	if size, err := s.Size(ctx); err != nil || size != len(want) {
		t.Fatalf("Size %d (%v), want %d", size, err, len(want))
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if size, err := s.Size(ctx); err != nil || size != 0 {
		t.Fatalf("Size after clear %d (%v)", size, err)
	}
}

func testInvalidateUnsafe(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	target := cache.MustKey("GET", "http://example.com/resource")
	head := cache.MustKey("HEAD", "http://example.com/resource")
	located := cache.MustKey("GET", "http://example.com/created")
	foreign := cache.MustKey("GET", "http://other.example/created")
	for _, key := range []cache.Key{target, head, located, foreign} {
		mustPut(t, s, key, request(), NewResponse("x"))
	}

	u := mustURL(t, "http://example.com/resource")
	headers := httpcache.NewHeaders(
		httpcache.Header{Name: "Location", Value: "/created"},
		httpcache.Header{Name: "Content-Location", Value: "http://other.example/created"},
	)

	if err := cache.InvalidateUnsafe(ctx, s, "POST", u, 500, headers); err != nil {
		t.Fatal(err)
	}
	if size, _ := s.Size(ctx); size != 4 {
		t.Fatalf("Error response invalidated entries, size %d", size)
	}

	if err := cache.InvalidateUnsafe(ctx, s, "POST", u, 201, headers); err != nil {
		t.Fatal(err)
	}
	for _, key := range []cache.Key{target, head, located} {
		if _, ok, _ := s.Get(ctx, key); ok {
			t.Errorf("%s not invalidated", key)
		}
	}
	if _, ok, _ := s.Get(ctx, foreign); !ok {
		t.Error("Other origin invalidated")
	}
}

func testUseAfterClose(t *testing.T, s cache.Storage) {
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.Get(context.Background(), cache.MustKey("GET", "http://example.com/"))
	if !errors.Is(err, cache.ErrStorageUnavailable) {
		t.Fatalf("Get after close: %v", err)
	}
	_, err = s.Put(context.Background(), cache.MustKey("GET", "http://example.com/"), request(), NewResponse("x"))
	if !errors.Is(err, cache.ErrStorageUnavailable) {
		t.Fatalf("Put after close: %v", err)
	}
}

func testRestart(t *testing.T, open Opener) {
	dir := t.TempDir()
	key := cache.MustKey("GET", "http://example.com/durable")
	headers := httpcache.NewHeaders(
		varyAcceptEncoding,
		httpcache.Header{Name: "ETag", Value: `"abc"`},
		httpcache.Header{Name: "Content-Type", Value: textPlain.String()},
	)

	s := open(t, dir)
	first := mustPut(t, s, key, request("Accept-Encoding", "gzip"), httpcache.NewResponse(
		httpcache.NewStatusLine(200), headers, payload.NewString("gzipped", textPlain)))
	mustPut(t, s, key, request("Accept-Encoding", "identity"), httpcache.NewResponse(
		httpcache.NewStatusLine(200), headers, payload.NewString("plain", textPlain)))
	storedAt := first.Variants[cache.NewVary(headers, request("Accept-Encoding", "gzip")).ID()].StoredAt
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = open(t, dir)
	defer s.Close()
	item := mustGet(t, s, key)
	if item.Len() != 2 {
		t.Fatalf("Expected 2 variants after restart, got %d", item.Len())
	}
	sr, ok := cache.SelectVariant(item, request("Accept-Encoding", "gzip"))
	if !ok {
		t.Fatal("Variant lost on restart")
	}
	if !sr.Response.Headers().Equal(headers) {
		t.Errorf("Headers %v", sr.Response.Headers().All())
	}
	if sr.Response.StatusLine() != httpcache.NewStatusLine(200) {
		t.Errorf("Status line %v", sr.Response.StatusLine())
	}
	if !sr.StoredAt.Equal(storedAt) {
		t.Errorf("Stored at %v, want %v", sr.StoredAt, storedAt)
	}
	_, _, err := httpcache.Transform(sr.Response, func(p payload.Payload) (struct{}, error) {
		if p.MIMEType() != textPlain {
			t.Errorf("MIME type %s", p.MIMEType())
		}
		b, err := payload.Bytes(p)
		if string(b) != "gzipped" {
			t.Errorf("Body %q", b)
		}
		return struct{}{}, err
	})
	if err != nil {
		t.Fatal(err)
	}
	if size, err := s.Size(context.Background()); err != nil || size != 1 {
		t.Fatalf("Size after restart %d (%v)", size, err)
	}
}

func testUnstorableFields(t *testing.T, s cache.Storage) {
	key := cache.MustKey("GET", "http://example.com/hop")
	mustPut(t, s, key, request(), NewResponse("hop",
		httpcache.Header{Name: "Connection", Value: "close, X-Private"},
		httpcache.Header{Name: "X-Private", Value: "secret"},
		httpcache.Header{Name: "Keep-Alive", Value: "timeout=5"},
		httpcache.Header{Name: "Transfer-Encoding", Value: "chunked"},
		httpcache.Header{Name: "Proxy-Authenticate", Value: "Basic"},
		httpcache.Header{Name: "Cache-Control", Value: "max-age=60"},
	))
	item := mustGet(t, s, key)
	sr, ok := cache.SelectVariant(item, request())
	if !ok {
		t.Fatal("No variant selected")
	}
	headers := sr.Response.Headers()
	for _, name := range []string{"Connection", "X-Private", "Keep-Alive", "Transfer-Encoding", "Proxy-Authenticate"} {
		if headers.Has(name) {
			t.Errorf("%s was stored", name)
		}
	}
	if v, _ := headers.Get("Cache-Control"); v != "max-age=60" {
		t.Errorf("Cache-Control %q", v)
	}
	if headers.ContentLength() != 3 {
		t.Errorf("Content-Length %d", headers.ContentLength())
	}
}

// blockingBody does not return from Read until release is closed.
type blockingBody struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	r       io.Reader
}

func (b *blockingBody) Read(p []byte) (int, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.r.Read(p)
}

func (b *blockingBody) Close() error { return nil }

func testSlowBodyDoesNotBlockOtherKeys(t *testing.T, s cache.Storage) {
	ctx := context.Background()
	slow := cache.MustKey("GET", "http://example.com/slow")
	fast := cache.MustKey("GET", "http://example.com/fast")
	mustPut(t, s, slow, request(), NewResponse("old"))

	body := &blockingBody{started: make(chan struct{}), release: make(chan struct{}), r: strings.NewReader("new")}
	res := httpcache.CreateResponse(httpcache.NewStatusLine(200), httpcache.NewHeaders(), body)
	putDone := make(chan error, 1)
	go func() {
		_, err := s.Put(ctx, slow, request(), res)
		putDone <- err
	}()
	<-body.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Put(ctx, fast, request(), NewResponse("fast")); err != nil {
			t.Errorf("Put: %v", err)
		}
		if _, ok, err := s.Get(ctx, fast); !ok || err != nil {
			t.Errorf("Get: ok=%v err=%v", ok, err)
		}
		if err := s.Invalidate(ctx, fast); err != nil {
			t.Errorf("Invalidate: %v", err)
		}
		// the slow key itself is still readable
		item, ok, err := s.Get(ctx, slow)
		if !ok || err != nil {
			t.Errorf("Get slow key: ok=%v err=%v", ok, err)
			return
		}
		defer item.Release()
		if sr, ok := cache.SelectVariant(item, request()); ok {
			if b, _, _ := sr.Response.Bytes(); string(b) != "old" {
				t.Errorf("Body %q while the put is in flight", b)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("Operations on another key waited for a slow put")
	}
	close(body.release)
	if err := <-putDone; err != nil {
		t.Fatalf("Slow put: %v", err)
	}
	<-done
	if got, _ := selectBody(t, mustGet(t, s, slow), request()); got != "new" {
		t.Fatalf("Body %q after the put", got)
	}
}

func testCancelledContext(t *testing.T, s cache.Storage) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	key := cache.MustKey("GET", "http://example.com/cancelled")
	check := func(op string, err error) {
		t.Helper()
		if !errors.Is(err, context.Canceled) {
			t.Errorf("%s: %v, want context.Canceled", op, err)
		}
		if errors.Is(err, cache.ErrStorageUnavailable) {
			t.Errorf("%s: cancellation reported as unavailable storage", op)
		}
	}
	_, _, err := s.Get(ctx, key)
	check("Get", err)
	res := NewResponse("x")
	_, err = s.Put(ctx, key, request(), res)
	check("Put", err)
	if res.HasPayload() {
		t.Error("Put did not release the payload")
	}
	check("Invalidate", s.Invalidate(ctx, key))
	check("Clear", s.Clear(ctx))
	if size, err := s.Size(context.Background()); err != nil || size != 0 {
		t.Fatalf("Size %d %v", size, err)
	}
}
