package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, `
backend: sqlite
path: /var/cache/httpcache.db
busyTimeout: 2s
`))
	if err != nil {
		t.Fatal(err)
	}
	if config.Backend != BackendSQLite || config.Path != "/var/cache/httpcache.db" {
		t.Fatalf("Unexpected config %+v", config)
	}
	if config.BusyTimeout != 2*time.Second {
		t.Fatalf("BusyTimeout %s", config.BusyTimeout)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "maxEntries: 1000\n"))
	if err != nil {
		t.Fatal(err)
	}
	if config.Backend != BackendMemory {
		t.Errorf("Backend %q, want memory", config.Backend)
	}
	if config.BusyTimeout != defaultBusyTimeout {
		t.Errorf("BusyTimeout %s", config.BusyTimeout)
	}
	if config.MaxEntries != 1000 {
		t.Errorf("MaxEntries %d", config.MaxEntries)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"missing path":    "backend: leveldb\n",
		"unknown backend": "backend: redis\n",
		"negative bound":  "maxEntries: -1\n",
		"invalid yaml":    "backend: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, content)); err == nil {
				t.Fatal("Expected error")
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
