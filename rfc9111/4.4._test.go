package rfc9111

import (
	"net/url"
	"testing"
)

func TestInvalidationTargets(t *testing.T) {
	target, _ := url.Parse("https://example.com/list")
	uris := InvalidationTargets("POST", target, 201, "/list/1", "https://evil.example/list", "")
	if len(uris) != 2 {
		t.Fatalf("Got %d uris: %v", len(uris), uris)
	}
	if uris[1].String() != "https://example.com/list/1" {
		t.Fatalf("Location resolved to %s", uris[1])
	}
}

func TestInvalidationTargetsSafeOrError(t *testing.T) {
	target, _ := url.Parse("https://example.com/list")
	if uris := InvalidationTargets("GET", target, 200); uris != nil {
		t.Fatalf("Safe method invalidated %v", uris)
	}
	if uris := InvalidationTargets("DELETE", target, 500); uris != nil {
		t.Fatalf("Error status invalidated %v", uris)
	}
	if uris := InvalidationTargets("PATCH", target, 304); len(uris) != 1 {
		t.Fatalf("Unsafe method with redirect status gave %v", uris)
	}
}

func TestExcludedFromUpdate(t *testing.T) {
	for _, name := range []string{"Content-Length", "transfer-encoding", "Connection"} {
		if !ExcludedFromUpdate(name) {
			t.Fatalf("%s should be excluded", name)
		}
	}
	if ExcludedFromUpdate("Cache-Control") {
		t.Fatal("Cache-Control should be updated")
	}
}
