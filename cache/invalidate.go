package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/rfc9111"
)

// CacheUpdateFieldName is set by origins to name further resources changed by an unsafe request.
// Each entry is a path, optionally followed by parameters: `/list; delay=5`.
const CacheUpdateFieldName = "Cache-Update"

// InvalidateUnsafe invalidates what an unsafe request to target may have changed.
//
// Nothing happens unless method is unsafe and status is a non-error status.
// Then the GET and HEAD keys of the target URI and of same-origin Location,
// Content-Location and Cache-Update URIs of the response are invalidated.
func InvalidateUnsafe(ctx context.Context, storage Storage, method string, target *url.URL, status int, response httpcache.Headers) error {
	locations := append(response.Values("Location"), response.Values("Content-Location")...)
	locations = append(locations, cacheUpdatePaths(response.Values(CacheUpdateFieldName))...)
	var errs []error
	for _, uri := range rfc9111.InvalidationTargets(method, target, status, locations...) {
		for _, m := range []string{http.MethodGet, http.MethodHead} {
			key, err := NewKey(m, uri)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := storage.Invalidate(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// cacheUpdatePaths returns the paths of Cache-Update field lines.
// A line may hold several comma-separated entries; parameters are dropped.
func cacheUpdatePaths(lines []string) []string {
	var paths []string
	for _, entry := range rfc9111.ParseList(lines) {
		path, _, _ := strings.Cut(entry, ";")
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}
