package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/rfc9111"
)

// StoredResponse is one stored variant.
// Its response always holds the payload in memory.
type StoredResponse struct {
	Response *httpcache.Response
	StoredAt time.Time
	// The nominated request fields the response was stored for.
	RequestHeaders httpcache.Headers
	Vary           Vary
}

func newStoredResponse(res *httpcache.Response, storedAt time.Time, request httpcache.Headers) StoredResponse {
	vary := NewVary(res.Headers(), request)
	return StoredResponse{
		Response:       res,
		StoredAt:       storedAt,
		RequestHeaders: vary.RequestHeaders(),
		Vary:           vary,
	}
}

// clone copies the stored response so that the copy can be handed out.
func (s StoredResponse) clone() (StoredResponse, error) {
	res, err := s.Response.Clone()
	if err != nil {
		return StoredResponse{}, err
	}
	s.Response = res
	return s, nil
}

// release closes the payload of the stored response.
func (s StoredResponse) release() {
	if s.Response != nil {
		s.Response.Consume()
	}
}

// Item is everything stored for a key: its variants by variant ID.
type Item struct {
	Key      Key
	Variants map[string]StoredResponse
}

// Len returns the number of variants.
func (i Item) Len() int { return len(i.Variants) }

// Release closes the payloads of all variants.
// Items returned by a storage are copies, so this never affects the stored entries.
func (i Item) Release() {
	for _, v := range i.Variants {
		v.release()
	}
}

func (i Item) clone() (Item, error) {
	c := Item{Key: i.Key, Variants: make(map[string]StoredResponse, len(i.Variants))}
	for id, v := range i.Variants {
		vc, err := v.clone()
		if err != nil {
			c.Release()
			return Item{}, err
		}
		c.Variants[id] = vc
	}
	return c, nil
}

// variantIDs returns the variant IDs in their canonical order.
func (i Item) variantIDs() []string {
	ids := make([]string, 0, len(i.Variants))
	for id := range i.Variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectVariant returns the variant a request with the given headers may be served.
// If more than one variant matches, the most recently stored one wins; equal
// store times are decided by the lowest variant ID. Non-matching variants are
// left in place.
func SelectVariant(item Item, request httpcache.Headers) (StoredResponse, bool) {
	var selected StoredResponse
	found := false
	for _, id := range item.variantIDs() {
		v := item.Variants[id]
		if !v.Vary.Matches(request) {
			continue
		}
		if !found || v.StoredAt.After(selected.StoredAt) {
			selected = v
			found = true
		}
	}
	return selected, found
}

// Freshen returns a new stored response with the header fields of a 304 (Not
// Modified) response merged into those of stored. The stored response is not
// modified and notModified is consumed.
//
// Fields describing the stored payload, hop-by-hop fields and Vary keep their
// stored values, so the result replaces the same variant.
func Freshen(stored StoredResponse, notModified *httpcache.Response, now time.Time) (StoredResponse, error) {
	defer notModified.Consume()
	res, err := stored.Response.Clone()
	if err != nil {
		return StoredResponse{}, err
	}
	headers := stored.Response.Headers().Merge(notModified.Headers(), func(name string) bool {
		return rfc9111.ExcludedFromUpdate(name) || strings.EqualFold(name, "Vary")
	})
	return StoredResponse{
		Response:       res.WithHeaders(headers),
		StoredAt:       now,
		RequestHeaders: stored.RequestHeaders,
		Vary:           stored.Vary,
	}, nil
}
