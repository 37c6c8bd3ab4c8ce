package rfc9111

import "testing"

func TestNormalizeFieldValue(t *testing.T) {
	a := NormalizeFieldValue([]string{"gzip,  deflate"})
	b := NormalizeFieldValue([]string{"gzip", " deflate "})
	if a != b {
		t.Fatalf("%q and %q should match", a, b)
	}
	if a != "gzip, deflate" {
		t.Fatalf("Normalized value is %q", a)
	}
}

func TestNormalizeFieldValueAbsent(t *testing.T) {
	if v := NormalizeFieldValue(nil); v != "" {
		t.Fatalf("Normalized value is %q", v)
	}
}

func TestVaryWildcard(t *testing.T) {
	if !VaryWildcard([]string{"Accept", "*"}) {
		t.Fatal("Wildcard not detected")
	}
	if VaryWildcard([]string{"Accept-Encoding"}) {
		t.Fatal("Wildcard falsely detected")
	}
}
