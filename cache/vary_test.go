package cache

import (
	"testing"
	"time"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/payload"
)

func headers(fields ...string) httpcache.Headers {
	var h httpcache.Headers
	for i := 0; i+1 < len(fields); i += 2 {
		h = h.Add(fields[i], fields[i+1])
	}
	return h
}

func TestVaryMatches(t *testing.T) {
	vary := NewVary(
		headers("Vary", "Accept-Encoding, Accept-Language"),
		headers("Accept-Encoding", "gzip,  br", "Cookie", "a=1"),
	)
	tests := []struct {
		name    string
		request httpcache.Headers
		want    bool
	}{
		{"same", headers("Accept-Encoding", "gzip,  br"), true},
		{"whitespace", headers("accept-encoding", "gzip,br"), true},
		{"combined lines", headers("Accept-Encoding", "gzip", "Accept-Encoding", "br"), true},
		{"other value", headers("Accept-Encoding", "gzip"), false},
		{"absent field present", headers("Accept-Encoding", "gzip, br", "Accept-Language", "fi"), false},
		{"nominated field absent", headers(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vary.Matches(tt.request); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVaryWildcardNeverMatches(t *testing.T) {
	vary := NewVary(headers("Vary", "*"), headers())
	if vary.Matches(headers()) {
		t.Fatal("Vary: * matched")
	}
}

func TestVaryID(t *testing.T) {
	a := NewVary(headers("Vary", "Accept-Language, Accept-Encoding"), headers("Accept-Encoding", "gzip"))
	b := NewVary(headers("Vary", "accept-encoding", "Vary", "ACCEPT-LANGUAGE"), headers("accept-encoding", " gzip"))
	if a.ID() != b.ID() {
		t.Fatalf("IDs differ: %q %q", a.ID(), b.ID())
	}
	if a.ID() != "accept-encoding: gzip\naccept-language" {
		t.Fatalf("ID %q", a.ID())
	}
	if NewVary(headers(), headers("Accept", "x")).ID() != "" {
		t.Fatal("Response without Vary must have the empty ID")
	}
}

func TestVaryRecomputedFromStoredFields(t *testing.T) {
	response := headers("Vary", "Accept-Encoding, Accept-Language")
	original := NewVary(response, headers("Accept-Encoding", "gzip", "Cookie", "secret"))
	stored := original.RequestHeaders()
	if stored.Has("Cookie") {
		t.Fatal("Fields not nominated by Vary must not be stored")
	}
	if NewVary(response, stored).ID() != original.ID() {
		t.Fatal("Vary not recomputable from stored fields")
	}
}

func storedAt(body string, at time.Time, vary string, request httpcache.Headers) StoredResponse {
	res := httpcache.NewResponse(httpcache.NewStatusLine(200), headers("Vary", vary), payload.NewString(body, payload.TextPlain))
	return newStoredResponse(res, at, request)
}

func TestSelectVariantMostRecent(t *testing.T) {
	now := time.Now()
	// Vary changed between the two stores; both match a request with both fields
	older := storedAt("older", now.Add(-time.Minute), "Accept-Encoding", headers("Accept-Encoding", "gzip"))
	newer := storedAt("newer", now, "Accept-Language", headers("Accept-Language", "fi"))
	item := Item{Variants: map[string]StoredResponse{
		older.Vary.ID(): older,
		newer.Vary.ID(): newer,
	}}

	sr, ok := SelectVariant(item, headers("Accept-Encoding", "gzip", "Accept-Language", "fi"))
	if !ok {
		t.Fatal("No variant selected")
	}
	if b, _, _ := sr.Response.Bytes(); string(b) != "newer" {
		t.Fatalf("Selected %q", b)
	}
	if item.Len() != 2 {
		t.Fatal("Selection dropped a variant")
	}

	sr, ok = SelectVariant(item, headers("Accept-Encoding", "gzip", "Accept-Language", "en"))
	if !ok {
		t.Fatal("Older matching variant not selected")
	}
	if b, _, _ := sr.Response.Bytes(); string(b) != "older" {
		t.Fatalf("Selected %q", b)
	}
}

func TestSelectVariantTieBreak(t *testing.T) {
	now := time.Now()
	a := storedAt("a", now, "Accept-Encoding", headers("Accept-Encoding", "gzip"))
	b := storedAt("b", now, "Accept-Language", headers("Accept-Language", "fi"))
	item := Item{Variants: map[string]StoredResponse{a.Vary.ID(): a, b.Vary.ID(): b}}
	for i := 0; i < 10; i++ {
		sr, _ := SelectVariant(item, headers("Accept-Encoding", "gzip", "Accept-Language", "fi"))
		if sr.Vary.ID() != a.Vary.ID() {
			t.Fatalf("Tie not broken by lowest variant ID: %q", sr.Vary.ID())
		}
	}
}
