package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/always-cache/httpcache"
)

const shardCount = 64

// MemoryStorage keeps items in memory, spread over shards by key hash.
// Each shard has its own lock, so only keys of the same shard contend.
type MemoryStorage struct {
	shards      [shardCount]*memoryShard
	maxPerShard int
	log         zerolog.Logger
	closed      atomic.Bool
}

type memoryShard struct {
	mu    sync.RWMutex
	items map[Key]*memoryEntry
	// keys by last insertion or second chance, newest at the front
	lru *list.List
}

type memoryEntry struct {
	item Item
	elem *list.Element
	// set by reads, which only hold the read lock
	referenced atomic.Bool
}

// NewMemoryStorage creates an in-memory storage.
// With config.MaxEntries set, keys are evicted per shard, so the bound is
// approximate. Eviction gives keys read since they were last passed over a
// second chance, which approximates least recently used order.
func NewMemoryStorage(config Config) *MemoryStorage {
	s := &MemoryStorage{log: childLogger(config.Logger, BackendMemory)}
	if config.MaxEntries > 0 {
		s.maxPerShard = (config.MaxEntries + shardCount - 1) / shardCount
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			items: make(map[Key]*memoryEntry),
			lru:   list.New(),
		}
	}
	return s
}

func (s *MemoryStorage) shard(key Key) *memoryShard {
	return s.shards[xxhash.Sum64String(key.String())%shardCount]
}

func (s *MemoryStorage) check(ctx context.Context, op string, key Key) error {
	if s.closed.Load() {
		return unavailable(op, key, errClosed)
	}
	return ctx.Err()
}

func (s *MemoryStorage) Get(ctx context.Context, key Key) (Item, bool, error) {
	if err := s.check(ctx, "get", key); err != nil {
		return Item{}, false, err
	}
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.items[key]
	if !ok {
		return Item{}, false, nil
	}
	e.referenced.Store(true)
	item, err := e.item.clone()
	if err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

func (s *MemoryStorage) Put(ctx context.Context, key Key, request httpcache.Headers, res *httpcache.Response) (Item, error) {
	if err := s.check(ctx, "put", key); err != nil {
		discard(res)
		return Item{}, err
	}
	stored, err := prepare(key, request, res)
	if err != nil {
		return Item{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s.closed.Load() {
		stored.release()
		return Item{}, unavailable("put", key, errClosed)
	}

	e, ok := sh.items[key]
	if ok {
		sh.lru.MoveToFront(e.elem)
	} else {
		e = &memoryEntry{
			item: Item{Key: key, Variants: make(map[string]StoredResponse)},
			elem: sh.lru.PushFront(key),
		}
		sh.items[key] = e
	}
	id := stored.Vary.ID()
	if old, ok := e.item.Variants[id]; ok {
		old.release()
	}
	e.item.Variants[id] = stored
	s.evict(sh, key)

	return e.item.clone()
}

// evict drops keys of sh beyond the bound, oldest first. A key read since it
// was last passed over moves to the front instead, and so does keep.
// The caller must hold the shard lock.
func (s *MemoryStorage) evict(sh *memoryShard, keep Key) {
	if s.maxPerShard <= 0 {
		return
	}
	for sh.lru.Len() > s.maxPerShard {
		back := sh.lru.Back()
		key := back.Value.(Key)
		e := sh.items[key]
		if e.referenced.Swap(false) || key == keep {
			sh.lru.MoveToFront(back)
			continue
		}
		sh.remove(key)
		s.log.Trace().Str("key", key.String()).Msg("Evicted")
	}
}

func (s *MemoryStorage) Invalidate(ctx context.Context, key Key) error {
	if err := s.check(ctx, "invalidate", key); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.remove(key)
	return nil
}

// remove drops key and closes its payloads. The caller must hold the shard lock.
func (sh *memoryShard) remove(key Key) {
	e, ok := sh.items[key]
	if !ok {
		return
	}
	e.item.Release()
	sh.lru.Remove(e.elem)
	delete(sh.items, key)
}

func (s *MemoryStorage) Size(ctx context.Context) (int, error) {
	if err := s.check(ctx, "size", Key{}); err != nil {
		return 0, err
	}
	size := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		size += len(sh.items)
		sh.mu.RUnlock()
	}
	return size, nil
}

func (s *MemoryStorage) Clear(ctx context.Context) error {
	if err := s.check(ctx, "clear", Key{}); err != nil {
		return err
	}
	s.clear()
	return nil
}

func (s *MemoryStorage) clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.items {
			e.item.Release()
		}
		sh.items = make(map[Key]*memoryEntry)
		sh.lru.Init()
		sh.mu.Unlock()
	}
}

func (s *MemoryStorage) Keys(ctx context.Context, cb func(Key)) error {
	if err := s.check(ctx, "keys", Key{}); err != nil {
		return err
	}
	for _, sh := range s.shards {
		sh.mu.RLock()
		keys := make([]Key, 0, len(sh.items))
		for key := range sh.items {
			keys = append(keys, key)
		}
		sh.mu.RUnlock()
		// the callback may use the storage, so it runs without the lock
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			cb(key)
		}
	}
	return nil
}

// Close drops all items. It is safe to call more than once.
func (s *MemoryStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.clear()
	return nil
}
