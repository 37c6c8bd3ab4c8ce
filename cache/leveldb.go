package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/metrics"
	serializer "github.com/always-cache/httpcache/pkg/response-serializer"
)

// Record keys are "v:" + key + "\x00" + variant ID.
// Keys never contain a NUL byte, so the records of a key are contiguous.
var (
	variantPrefix = []byte("v:")
	keyTerminator = byte(0)
)

// LevelDBStorage stores one record per variant in a LevelDB directory.
//
// Mutations of a key are serialized by a lock picked by key hash and written
// as one batch, so writers of different keys only meet in LevelDB's journal.
// Reads iterate an implicit snapshot and take no lock.
type LevelDBStorage struct {
	db      *leveldb.DB
	locks   [shardCount]sync.Mutex
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewLevelDBStorage opens (or creates) the database directory at config.Path.
func NewLevelDBStorage(config Config) (*LevelDBStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("LevelDB storage needs a path")
	}
	db, err := leveldb.OpenFile(config.Path, nil)
	if err != nil {
		return nil, unavailable("open", Key{}, err)
	}
	return &LevelDBStorage{
		db:      db,
		log:     childLogger(config.Logger, BackendLevelDB),
		metrics: config.Metrics,
	}, nil
}

func (s *LevelDBStorage) lock(key Key) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key.String())%shardCount]
}

// fail reports err of op, unless the context ended first.
func (s *LevelDBStorage) fail(ctx context.Context, op string, key Key, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return unavailable(op, key, err)
}

func keyPrefix(key Key) []byte {
	b := make([]byte, 0, len(variantPrefix)+len(key.Method)+len(key.URI)+2)
	b = append(b, variantPrefix...)
	b = append(b, key.String()...)
	return append(b, keyTerminator)
}

func recordKey(key Key, variant string) []byte {
	return append(keyPrefix(key), variant...)
}

// splitRecordKey returns the key string and variant ID of a record key.
func splitRecordKey(rk []byte) (string, string, bool) {
	rest := bytes.TrimPrefix(rk, variantPrefix)
	key, variant, found := bytes.Cut(rest, []byte{keyTerminator})
	return string(key), string(variant), found
}

func (s *LevelDBStorage) Get(ctx context.Context, key Key) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	item, err := s.readItem(key)
	if err != nil {
		return Item{}, false, s.fail(ctx, "get", key, err)
	}
	if item.Len() == 0 {
		return Item{}, false, nil
	}
	return item, true, nil
}

// readItem reads the well-formed variants of key.
// Malformed records are reported and skipped but left in place.
func (s *LevelDBStorage) readItem(key Key) (Item, error) {
	it := s.db.NewIterator(util.BytesPrefix(keyPrefix(key)), nil)
	defer it.Release()
	item := Item{Key: key, Variants: make(map[string]StoredResponse)}
	for it.Next() {
		_, variant, _ := splitRecordKey(it.Key())
		sRes, err := serializer.BytesToStoredResponse(it.Value())
		if err != nil {
			s.malformed(key.String(), variant, err)
			continue
		}
		item.Variants[variant] = newStoredResponse(sRes.Response, sRes.StoredAt, sRes.RequestHeaders)
	}
	if err := it.Error(); err != nil {
		item.Release()
		return Item{}, err
	}
	return item, nil
}

// recordKeys returns the keys of all records starting with prefix.
func (s *LevelDBStorage) recordKeys(prefix []byte) ([][]byte, error) {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	return keys, it.Error()
}

func (s *LevelDBStorage) malformed(key, variant string, err error) {
	s.metrics.Malformed(BackendLevelDB)
	s.log.Warn().
		Err(fmt.Errorf("%w: %w", ErrMalformedEntry, err)).
		Str("key", key).
		Str("variant", variant).
		Msg("Could not read stored response")
}

func (s *LevelDBStorage) Put(ctx context.Context, key Key, request httpcache.Headers, res *httpcache.Response) (Item, error) {
	if err := ctx.Err(); err != nil {
		discard(res)
		return Item{}, err
	}
	stored, err := prepare(key, request, res)
	if err != nil {
		return Item{}, err
	}
	value, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response:       stored.Response,
		StoredAt:       stored.StoredAt,
		RequestHeaders: stored.RequestHeaders,
	})
	stored.release()
	if err != nil {
		return Item{}, fmt.Errorf("Could not serialize response for %s: %w", key, err)
	}

	lock := s.lock(key)
	lock.Lock()
	defer lock.Unlock()

	batch := new(leveldb.Batch)
	batch.Put(recordKey(key, stored.Vary.ID()), value)
	if err := s.db.Write(batch, nil); err != nil {
		return Item{}, s.fail(ctx, "put", key, err)
	}
	item, err := s.readItem(key)
	if err != nil {
		return Item{}, s.fail(ctx, "put", key, err)
	}
	return item, nil
}

func (s *LevelDBStorage) Invalidate(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lock(key)
	lock.Lock()
	defer lock.Unlock()
	if err := s.deletePrefix(keyPrefix(key)); err != nil {
		return s.fail(ctx, "invalidate", key, err)
	}
	return nil
}

// Clear holds every key lock, so that no Put of any key interleaves with it.
func (s *LevelDBStorage) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range s.locks {
		s.locks[i].Lock()
		defer s.locks[i].Unlock()
	}
	if err := s.deletePrefix(variantPrefix); err != nil {
		return s.fail(ctx, "clear", Key{}, err)
	}
	return nil
}

// deletePrefix deletes all records starting with prefix in one batch.
// The caller must hold the locks of the affected keys.
func (s *LevelDBStorage) deletePrefix(prefix []byte) error {
	keys, err := s.recordKeys(prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete(k)
	}
	return s.db.Write(batch, nil)
}

func (s *LevelDBStorage) Size(ctx context.Context) (int, error) {
	size := 0
	err := s.walkKeys(ctx, func(string) { size++ })
	if err != nil {
		return 0, s.fail(ctx, "size", Key{}, err)
	}
	return size, nil
}

func (s *LevelDBStorage) Keys(ctx context.Context, cb func(Key)) error {
	err := s.walkKeys(ctx, func(str string) {
		key, err := ParseKey(str)
		if err != nil {
			s.malformed(str, "", err)
			return
		}
		cb(key)
	})
	if err != nil {
		return s.fail(ctx, "keys", Key{}, err)
	}
	return nil
}

// walkKeys calls cb once per stored key, in key order, on a snapshot.
func (s *LevelDBStorage) walkKeys(ctx context.Context, cb func(string)) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	it := snap.NewIterator(util.BytesPrefix(variantPrefix), nil)
	defer it.Release()

	last := ""
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, _, found := splitRecordKey(it.Key())
		if !found || key == last {
			continue
		}
		last = key
		cb(key)
	}
	return it.Error()
}

// Close closes the database. It is safe to call more than once.
func (s *LevelDBStorage) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return unavailable("close", Key{}, err)
	}
	return nil
}
