// Package cache stores HTTP responses keyed by request method and target URI,
// with one stored variant per set of Vary-nominated request fields.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/rfc9111"
)

var (
	// ErrStorageUnavailable wraps failures of the underlying store.
	ErrStorageUnavailable = errors.New("cache storage unavailable")
	// ErrMalformedEntry is reported when a stored entry cannot be read back.
	// Lookups treat such entries as missing; they are kept for inspection.
	ErrMalformedEntry = errors.New("malformed cache entry")
)

// Storage holds stored responses by key.
//
// Implementations must be safe for concurrent use. Operations on different
// keys do not wait for each other, and operations on the same key are
// linearizable: a Get observes a Put or Invalidate completely or not at all.
//
// The storage owns what it stores and closes stored payloads it drops.
// Items it returns are independent copies.
type Storage interface {
	// Get returns all variants stored for key.
	// It reports false if nothing is stored.
	Get(ctx context.Context, key Key) (Item, bool, error)
	// Put stores res as the variant of key selected by the request headers,
	// replacing only an existing variant with the same Vary discriminator.
	// It takes ownership of res: its payload is read and closed.
	// It returns the item as stored after the update.
	Put(ctx context.Context, key Key, request httpcache.Headers, res *httpcache.Response) (Item, error)
	// Invalidate removes all variants of key. Invalidating an absent key is a no-op.
	Invalidate(ctx context.Context, key Key) error
	// Size returns the number of stored keys.
	Size(ctx context.Context) (int, error)
	// Clear removes everything.
	Clear(ctx context.Context) error
	// Keys calls cb for each stored key.
	// It calls the callback instead of returning a list so that very large stores can be walked.
	Keys(ctx context.Context, cb func(Key)) error
	// Close releases the storage. Using it afterwards fails with ErrStorageUnavailable.
	Close() error
}

// prepare reads the response into memory ahead of taking any lock
// and drops the fields that are not stored.
func prepare(key Key, request httpcache.Headers, res *httpcache.Response) (StoredResponse, error) {
	if res == nil {
		return StoredResponse{}, fmt.Errorf("No response to store for %s", key)
	}
	mat, err := res.Materialize()
	if err != nil {
		return StoredResponse{}, fmt.Errorf("Could not read response for %s: %w", key, err)
	}
	mat = mat.WithHeaders(storableHeaders(mat.Headers()))
	return newStoredResponse(mat, time.Now(), request), nil
}

// storableHeaders removes hop-by-hop fields, the fields listed in Connection
// and the proxy fields.
func storableHeaders(h httpcache.Headers) httpcache.Headers {
	for _, name := range rfc9111.UnstorableFields(h.Values("Connection")) {
		h = h.Del(name)
	}
	return h
}

// discard releases res when an operation fails before taking it over.
func discard(res *httpcache.Response) {
	if res != nil {
		res.Consume()
	}
}

func unavailable(op string, key Key, err error) error {
	if key == (Key{}) {
		return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrStorageUnavailable, op, key, err)
}

var errClosed = errors.New("storage closed")

func childLogger(logger *zerolog.Logger, backend string) zerolog.Logger {
	var l zerolog.Logger
	if logger == nil {
		l = log.Logger
	} else {
		l = *logger
	}
	return l.With().Str("backend", backend).Logger()
}
