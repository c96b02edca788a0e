package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	lerrors "github.com/adalundhe/lattice/core/errors"
	"github.com/adalundhe/lattice/core/storage"
)

func testDirs(t *testing.T) *storage.Dirs {
	t.Helper()
	return &storage.Dirs{
		Config: t.TempDir(),
		Data:   t.TempDir(),
		Cache:  t.TempDir(),
		State:  t.TempDir(),
	}
}

func TestDefaultConfig(t *testing.T) {
	dirs := &storage.Dirs{Config: "/config", Data: "/data", State: "/state"}
	cfg := DefaultConfig(dirs)

	if cfg.Vector.Dimension != 384 {
		t.Errorf("Vector.Dimension: got %d, want 384", cfg.Vector.Dimension)
	}
	if cfg.Query.QueryTimeout != 800*time.Millisecond {
		t.Errorf("Query.QueryTimeout: got %v, want 800ms", cfg.Query.QueryTimeout)
	}
	if cfg.Query.TopN != 20 {
		t.Errorf("Query.TopN: got %d, want 20", cfg.Query.TopN)
	}
	if cfg.Storage.GraphDB != "/data/graph.db" {
		t.Errorf("Storage.GraphDB: got %s, want /data/graph.db", cfg.Storage.GraphDB)
	}
	if cfg.Spool.Dir != "/state/spool" {
		t.Errorf("Spool.Dir: got %s, want /state/spool", cfg.Spool.Dir)
	}
	if cfg.Retry.Transient.MaxAttempts != 3 {
		t.Errorf("Retry.Transient.MaxAttempts: got %d, want 3", cfg.Retry.Transient.MaxAttempts)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig(testDirs(t))
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.Storage.GraphDB = ""
	cfg.Vector.Dimension = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !errors.Is(err, lerrors.ErrMissingConfig) {
		t.Errorf("error = %v, want ErrMissingConfig", err)
	}
}

func TestManagerGet(t *testing.T) {
	m := NewManager(testDirs(t))

	cfg := m.Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Vector.Dimension != 384 {
		t.Errorf("default dimension should be 384, got %d", cfg.Vector.Dimension)
	}
}

func TestManagerLoadFromFile(t *testing.T) {
	dirs := testDirs(t)

	configContent := `
vector:
  dimension: 128
query:
  top_n: 5
  query_timeout: 2s
storage:
  graph_db: /custom/graph.db
`
	configPath := filepath.Join(dirs.Config, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	m := NewManager(dirs)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Vector.Dimension != 128 {
		t.Errorf("Dimension: got %d, want 128", cfg.Vector.Dimension)
	}
	if cfg.Query.TopN != 5 {
		t.Errorf("TopN: got %d, want 5", cfg.Query.TopN)
	}
	if cfg.Query.QueryTimeout != 2*time.Second {
		t.Errorf("QueryTimeout: got %v, want 2s", cfg.Query.QueryTimeout)
	}
	if cfg.Storage.GraphDB != "/custom/graph.db" {
		t.Errorf("GraphDB: got %s, want /custom/graph.db", cfg.Storage.GraphDB)
	}
	if cfg.Storage.VersionDB != dirs.VersionDBPath() {
		t.Errorf("VersionDB should keep its default, got %s", cfg.Storage.VersionDB)
	}
}

func TestManagerEnvironmentOverride(t *testing.T) {
	dirs := testDirs(t)

	t.Setenv("LATTICE_VECTOR_DIMENSION", "256")
	t.Setenv("LATTICE_QUERY_TOP_N", "50")
	t.Setenv("LATTICE_GRAPH_DB", "/env/graph.db")

	m := NewManager(dirs)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Vector.Dimension != 256 {
		t.Errorf("Dimension: got %d, want 256", cfg.Vector.Dimension)
	}
	if cfg.Query.TopN != 50 {
		t.Errorf("TopN: got %d, want 50", cfg.Query.TopN)
	}
	if cfg.Storage.GraphDB != "/env/graph.db" {
		t.Errorf("GraphDB: got %s, want /env/graph.db", cfg.Storage.GraphDB)
	}
}

func TestManagerOnChange(t *testing.T) {
	m := NewManager(testDirs(t))

	called := false
	m.OnChange(func(cfg *Config) {
		called = true
	})

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !called {
		t.Error("OnChange callback should have been called")
	}
}

func TestManagerReload(t *testing.T) {
	dirs := testDirs(t)

	configPath := filepath.Join(dirs.Config, "config.yaml")
	if err := os.WriteFile(configPath, []byte("query:\n  top_n: 3"), 0644); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	m := NewManager(dirs)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Get().Query.TopN != 3 {
		t.Errorf("Initial TopN: got %d, want 3", m.Get().Query.TopN)
	}

	if err := os.WriteFile(configPath, []byte("query:\n  top_n: 7"), 0644); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := m.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if m.Get().Query.TopN != 7 {
		t.Errorf("Reloaded TopN: got %d, want 7", m.Get().Query.TopN)
	}
}

func TestRetryPolicies(t *testing.T) {
	cfg := DefaultConfig(testDirs(t))
	policies := cfg.RetryPolicies()

	if policies[lerrors.TierTransient].MaxAttempts != 3 {
		t.Errorf("transient MaxAttempts: got %d, want 3", policies[lerrors.TierTransient].MaxAttempts)
	}
	if policies[lerrors.TierDegrading].MaxAttempts != 2 {
		t.Errorf("degrading MaxAttempts: got %d, want 2", policies[lerrors.TierDegrading].MaxAttempts)
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(testDirs(t))

	err := m.Close()
	if err != nil {
		t.Errorf("Close failed: %v", err)
	}

	err = m.Close()
	if err != nil {
		t.Errorf("Double close should not fail: %v", err)
	}
}
