package cache

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/metrics"
	serializer "github.com/always-cache/httpcache/pkg/response-serializer"
)

// SQLiteStorage stores one row per variant in an SQLite database file.
//
// Each mutation runs in its own transaction. Writes are serialized in-process
// as SQLite allows a single writer anyway; reads are single statements and do
// not wait for writers.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQLiteStorage opens (or creates) the database at config.Path.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("SQLite storage needs a path")
	}
	timeout := config.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	path, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, unavailable("open", Key{}, err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, timeout))
	if err != nil {
		return nil, unavailable("open", Key{}, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS responses (
			key TEXT NOT NULL,
			variant TEXT NOT NULL,
			stored_at INTEGER NOT NULL,
			bytes BLOB NOT NULL,
			PRIMARY KEY (key, variant)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, unavailable("open", Key{}, err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
		log:        childLogger(config.Logger, BackendSQLite),
		metrics:    config.Metrics,
	}, nil
}

// sqliteDSN builds a file URI for the absolute path. The path is escaped, so
// that "?" and "#" in it are not taken for the query or fragment.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(path),
		RawQuery: fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
	}
	return u.String()
}

// fail reports err of op, unless the context ended first.
func (s *SQLiteStorage) fail(ctx context.Context, op string, key Key, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return unavailable(op, key, err)
}

func (s *SQLiteStorage) Get(ctx context.Context, key Key) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	item, err := s.readItem(ctx, s.db, key)
	if err != nil {
		return Item{}, false, s.fail(ctx, "get", key, err)
	}
	if item.Len() == 0 {
		return Item{}, false, nil
	}
	return item, true, nil
}

// readItem reads all well-formed variants of key.
// Malformed rows are reported and skipped but left in place.
func (s *SQLiteStorage) readItem(ctx context.Context, q queryer, key Key) (Item, error) {
	item := Item{Key: key, Variants: make(map[string]StoredResponse)}
	rows, err := q.QueryContext(ctx, "SELECT variant, bytes FROM responses WHERE key = ?", key.String())
	if err != nil {
		return item, err
	}
	defer rows.Close()
	for rows.Next() {
		var variant string
		var bytes []byte
		if err := rows.Scan(&variant, &bytes); err != nil {
			item.Release()
			return item, err
		}
		sRes, err := serializer.BytesToStoredResponse(bytes)
		if err != nil {
			s.malformed(key.String(), variant, err)
			continue
		}
		item.Variants[variant] = newStoredResponse(sRes.Response, sRes.StoredAt, sRes.RequestHeaders)
	}
	if err := rows.Err(); err != nil {
		item.Release()
		return item, err
	}
	return item, nil
}

func (s *SQLiteStorage) malformed(key, variant string, err error) {
	s.metrics.Malformed(BackendSQLite)
	s.log.Warn().
		Err(fmt.Errorf("%w: %w", ErrMalformedEntry, err)).
		Str("key", key).
		Str("variant", variant).
		Msg("Could not read stored response")
}

func (s *SQLiteStorage) Put(ctx context.Context, key Key, request httpcache.Headers, res *httpcache.Response) (Item, error) {
	if err := ctx.Err(); err != nil {
		discard(res)
		return Item{}, err
	}
	stored, err := prepare(key, request, res)
	if err != nil {
		return Item{}, err
	}
	bytes, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response:       stored.Response,
		StoredAt:       stored.StoredAt,
		RequestHeaders: stored.RequestHeaders,
	})
	stored.release()
	if err != nil {
		return Item{}, fmt.Errorf("Could not serialize response for %s: %w", key, err)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, s.fail(ctx, "put", key, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO responses (key, variant, stored_at, bytes) VALUES (?, ?, ?, ?)",
		key.String(), stored.Vary.ID(), stored.StoredAt.UnixNano(), bytes)
	if err != nil {
		return Item{}, s.fail(ctx, "put", key, err)
	}
	item, err := s.readItem(ctx, tx, key)
	if err != nil {
		return Item{}, s.fail(ctx, "put", key, err)
	}
	if err := tx.Commit(); err != nil {
		item.Release()
		return Item{}, s.fail(ctx, "put", key, err)
	}
	return item, nil
}

func (s *SQLiteStorage) Invalidate(ctx context.Context, key Key) error {
	return s.write(ctx, "invalidate", key, "DELETE FROM responses WHERE key = ?", key.String())
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	return s.write(ctx, "clear", Key{}, "DELETE FROM responses")
}

// write runs a single statement in its own transaction.
func (s *SQLiteStorage) write(ctx context.Context, op string, key Key, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(ctx, op, key, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return s.fail(ctx, op, key, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail(ctx, op, key, err)
	}
	return nil
}

func (s *SQLiteStorage) Size(ctx context.Context) (int, error) {
	var size int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT key) FROM responses").Scan(&size)
	if err != nil {
		return 0, s.fail(ctx, "size", Key{}, err)
	}
	return size, nil
}

func (s *SQLiteStorage) Keys(ctx context.Context, cb func(Key)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT key FROM responses")
	if err != nil {
		return s.fail(ctx, "keys", Key{}, err)
	}
	defer rows.Close()

	for rows.Next() {
		var str string
		if err := rows.Scan(&str); err != nil {
			return s.fail(ctx, "keys", Key{}, err)
		}
		key, err := ParseKey(str)
		if err != nil {
			s.malformed(str, "", err)
			continue
		}
		cb(key)
	}
	if err := rows.Err(); err != nil {
		return s.fail(ctx, "keys", Key{}, err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return unavailable("close", Key{}, err)
	}
	return nil
}
