// Package admin serves operator endpoints for inspecting and purging a cache storage.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/cache"
	"github.com/always-cache/httpcache/metrics"
	"github.com/always-cache/httpcache/payload"
)

type handler struct {
	storage cache.Storage
}

// NewRouter creates the admin router for storage.
// Metrics are served on /metrics if m is not nil.
func NewRouter(storage cache.Storage, m *metrics.Metrics) http.Handler {
	h := &handler{storage: storage}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/keys", h.handleKeys)
	r.Get("/entry", h.handleEntry)
	r.Delete("/entry", h.handlePurge)
	r.Delete("/entries", h.handleClear)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

type keyView struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
}

type variantView struct {
	ID             string             `json:"id"`
	StatusLine     string             `json:"statusLine"`
	StoredAt       time.Time          `json:"storedAt"`
	Headers        []httpcache.Header `json:"headers"`
	RequestHeaders []httpcache.Header `json:"requestHeaders,omitempty"`
	MIMEType       string             `json:"mimeType,omitempty"`
	Length         int                `json:"length"`
}

type entryView struct {
	Key      keyView       `json:"key"`
	Variants []variantView `json:"variants"`
}

func (h *handler) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys := []keyView{}
	err := h.storage.Keys(r.Context(), func(key cache.Key) {
		keys = append(keys, keyView{Method: key.Method, URI: key.URI})
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].URI != keys[j].URI {
			return keys[i].URI < keys[j].URI
		}
		return keys[i].Method < keys[j].Method
	})
	writeJSON(w, http.StatusOK, keys)
}

func (h *handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, ok, err := h.storage.Get(r.Context(), key)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not cached")
		return
	}
	defer item.Release()

	view := entryView{Key: keyView{Method: key.Method, URI: key.URI}}
	ids := make([]string, 0, item.Len())
	for id := range item.Variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sr := item.Variants[id]
		v := variantView{
			ID:             id,
			StatusLine:     sr.Response.StatusLine().String(),
			StoredAt:       sr.StoredAt,
			Headers:        sr.Response.Headers().All(),
			RequestHeaders: sr.RequestHeaders.All(),
		}
		body, found, err := httpcache.Transform(sr.Response, func(p payload.Payload) ([]byte, error) {
			v.MIMEType = p.MIMEType().String()
			return payload.Bytes(p)
		})
		if err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("Could not read stored payload")
		}
		if found {
			v.Length = len(body)
		}
		view.Variants = append(view.Variants, v)
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.storage.Invalidate(r.Context(), key); err != nil {
		writeStorageError(w, err)
		return
	}
	log.Info().Str("key", key.String()).Msg("Purged")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Clear(r.Context()); err != nil {
		writeStorageError(w, err)
		return
	}
	log.Info().Msg("Cleared cache")
	w.WriteHeader(http.StatusNoContent)
}

// keyFromQuery reads the method and uri query parameters. The method defaults to GET.
func keyFromQuery(r *http.Request) (cache.Key, error) {
	query := r.URL.Query()
	method := query.Get("method")
	if method == "" {
		method = http.MethodGet
	}
	rawURI := query.Get("uri")
	if rawURI == "" {
		return cache.Key{}, errors.New("missing uri")
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return cache.Key{}, err
	}
	if !u.IsAbs() {
		return cache.Key{}, errors.New("uri must be absolute")
	}
	return cache.NewKey(method, u)
}

func writeStorageError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("Storage error")
	status := http.StatusInternalServerError
	if errors.Is(err, cache.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
