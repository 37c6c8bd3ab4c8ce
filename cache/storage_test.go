package cache_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/cache"
	"github.com/always-cache/httpcache/cache/storagetest"
	"github.com/always-cache/httpcache/metrics"
	"github.com/always-cache/httpcache/payload"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.InfoLevel)
}

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) cache.Storage {
		return cache.NewMemoryStorage(cache.Config{})
	})
}

func TestSQLiteStorage(t *testing.T) {
	storagetest.RunPersistent(t, func(t *testing.T, dir string) cache.Storage {
		s, err := cache.NewSQLiteStorage(cache.Config{Path: filepath.Join(dir, "cache.db")})
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestLevelDBStorage(t *testing.T) {
	storagetest.RunPersistent(t, func(t *testing.T, dir string) cache.Storage {
		s, err := cache.NewLevelDBStorage(cache.Config{Path: filepath.Join(dir, "leveldb")})
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestInstrumentedStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) cache.Storage {
		s, err := cache.Open(cache.Config{Backend: cache.BackendMemory, Metrics: metrics.New()})
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		config  cache.Config
		wantErr bool
	}{
		{cache.Config{}, false},
		{cache.Config{Backend: cache.BackendSQLite, Path: filepath.Join(dir, "c.db")}, false},
		{cache.Config{Backend: cache.BackendLevelDB, Path: filepath.Join(dir, "ldb")}, false},
		{cache.Config{Backend: cache.BackendSQLite}, true},
		{cache.Config{Backend: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.config.Backend, func(t *testing.T) {
			s, err := cache.Open(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open: %v", err)
			}
			if err == nil {
				s.Close()
			}
		})
	}
}

// A malformed row is a miss for readers but stays in the database.
func TestSQLiteMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	m := metrics.New()
	s, err := cache.NewSQLiteStorage(cache.Config{Path: path, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	key := cache.MustKey("GET", "http://example.com/corrupt")

	if _, err := s.Put(ctx, key, httpcache.Headers{}, storagetest.NewResponse("fine")); err != nil {
		t.Fatal(err)
	}
	if err := cache.CorruptSQLiteForTest(s, key); err != nil {
		t.Fatal(err)
	}

	_, ok, err := s.Get(ctx, key)
	if err != nil || ok {
		t.Fatalf("Get malformed entry: ok=%v err=%v", ok, err)
	}
	if size, _ := s.Size(ctx); size != 1 {
		t.Fatalf("Malformed entry deleted, size %d", size)
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `httpcache_malformed_entries_total{backend="sqlite"} 1`) {
		t.Fatalf("Malformed entry not counted:\n%s", rec.Body.String())
	}
}

func TestLevelDBMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leveldb")
	s, err := cache.NewLevelDBStorage(cache.Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	key := cache.MustKey("GET", "http://example.com/corrupt")

	if _, err := s.Put(ctx, key, httpcache.Headers{}, storagetest.NewResponse("fine")); err != nil {
		t.Fatal(err)
	}
	if err := cache.CorruptLevelDBForTest(s, key); err != nil {
		t.Fatal(err)
	}

	_, ok, err := s.Get(ctx, key)
	if err != nil || ok {
		t.Fatalf("Get malformed entry: ok=%v err=%v", ok, err)
	}
	if size, _ := s.Size(ctx); size != 1 {
		t.Fatalf("Malformed entry deleted, size %d", size)
	}
}

func TestStorageUnavailable(t *testing.T) {
	// a directory where the database file should be
	dir := t.TempDir()
	s, err := cache.NewSQLiteStorage(cache.Config{Path: dir})
	if err == nil {
		s.Close()
		t.Fatal("Expected error opening a directory as database")
	}
	if !errors.Is(err, cache.ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestSQLitePathWithURIDelimiters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a?b#c %25")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "cache.db")
	s, err := cache.NewSQLiteStorage(cache.Config{Path: path, BusyTimeout: 1234 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Put(context.Background(), cache.MustKey("GET", "http://example.com/"), httpcache.Headers{}, storagetest.NewResponse("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Database not at the configured path: %v", err)
	}
	ms, err := cache.SQLiteBusyTimeoutForTest(s)
	if err != nil {
		t.Fatal(err)
	}
	if ms != 1234 {
		t.Fatalf("busy_timeout %d", ms)
	}
}

func TestFreshenAndPut(t *testing.T) {
	ctx := context.Background()
	s := cache.NewMemoryStorage(cache.Config{})
	defer s.Close()
	key := cache.MustKey("GET", "http://example.com/revalidated")
	req := httpcache.NewHeaders(httpcache.Header{Name: "Accept-Encoding", Value: "gzip"})
	item, err := s.Put(ctx, key, req, storagetest.NewResponse("body",
		httpcache.Header{Name: "Vary", Value: "Accept-Encoding"},
		httpcache.Header{Name: "Cache-Control", Value: "max-age=10"},
	))
	if err != nil {
		t.Fatal(err)
	}
	stored, ok := cache.SelectVariant(item, req)
	if !ok {
		t.Fatal("No variant")
	}
	notModified := httpcache.CreateResponse(httpcache.NewStatusLine(304), httpcache.NewHeaders(
		httpcache.Header{Name: "Cache-Control", Value: "max-age=60"},
		httpcache.Header{Name: "Content-Length", Value: "0"},
		httpcache.Header{Name: "Vary", Value: "*"},
	), nil)
	fresh, err := cache.Freshen(stored, notModified, stored.StoredAt)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := stored.Response.Headers().Get("Cache-Control"); v != "max-age=10" {
		t.Fatalf("Stored response modified: %s", v)
	}
	if v, _ := fresh.Response.Headers().Get("Cache-Control"); v != "max-age=60" {
		t.Fatalf("Cache-Control not updated: %s", v)
	}
	if fresh.Response.Headers().ContentLength() != 4 {
		t.Fatalf("Content-Length updated: %d", fresh.Response.Headers().ContentLength())
	}
	if fresh.Vary.ID() != stored.Vary.ID() {
		t.Fatalf("Variant changed: %q", fresh.Vary.ID())
	}

	item, err = s.Put(ctx, key, fresh.RequestHeaders, fresh.Response)
	if err != nil {
		t.Fatal(err)
	}
	if item.Len() != 1 {
		t.Fatalf("Freshened response added a variant: %d", item.Len())
	}
	sr, _ := cache.SelectVariant(item, req)
	b, _, err := httpcache.Transform(sr.Response, payload.Bytes)
	if err != nil || string(b) != "body" {
		t.Fatalf("Body %q %v", b, err)
	}
}
