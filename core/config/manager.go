package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"gopkg.in/yaml.v3"

	lerrors "github.com/adalundhe/lattice/core/errors"
	"github.com/adalundhe/lattice/core/ingest"
	"github.com/adalundhe/lattice/core/knowledge/query"
	"github.com/adalundhe/lattice/core/storage"
)

type Manager struct {
	configPtr unsafe.Pointer
	dirs      *storage.Dirs
	watchers  []func(*Config)
	watcherMu sync.RWMutex
	stopWatch chan struct{}
	watchOnce sync.Once
}

type Config struct {
	Storage StorageConfig      `yaml:"storage"`
	Vector  VectorConfig       `yaml:"vector"`
	Query   query.EngineConfig `yaml:"query"`
	Spool   ingest.SpoolConfig `yaml:"spool"`
	Retry   RetryConfig        `yaml:"retry"`
	Logging LoggingConfig      `yaml:"logging"`
}

type StorageConfig struct {
	GraphDB   string `yaml:"graph_db"`
	VersionDB string `yaml:"version_db"`
	VectorDB  string `yaml:"vector_db"`
}

type VectorConfig struct {
	Dimension int `yaml:"dimension"`
}

type RetryConfig struct {
	Transient lerrors.RetryPolicy `yaml:"transient"`
	Degrading lerrors.RetryPolicy `yaml:"degrading"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{
		dirs:      dirs,
		stopWatch: make(chan struct{}),
	}
	cfg := DefaultConfig(dirs)
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	return m
}

func DefaultConfig(dirs *storage.Dirs) *Config {
	cfg := &Config{
		Vector: VectorConfig{
			Dimension: 384,
		},
		Query: query.DefaultEngineConfig(),
		Spool: ingest.SpoolConfig{
			Debounce: ingest.DefaultSpoolDebounce,
		},
		Retry: RetryConfig{
			Transient: lerrors.RetryPolicy{
				MaxAttempts:   3,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      5 * time.Second,
				Multiplier:    2.0,
				UseRetryAfter: true,
				JitterPercent: 0.1,
			},
			Degrading: lerrors.RetryPolicy{
				MaxAttempts:   2,
				InitialDelay:  200 * time.Millisecond,
				MaxDelay:      2 * time.Second,
				Multiplier:    2.0,
				JitterPercent: 0.1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	if dirs != nil {
		cfg.Storage = StorageConfig{
			GraphDB:   dirs.GraphDBPath(),
			VersionDB: dirs.VersionDBPath(),
			VectorDB:  dirs.VectorDBPath(),
		}
		cfg.Spool.Dir = dirs.SpoolDir()
	}
	return cfg
}

// Validate reports configuration the operator must still supply.
func (c *Config) Validate() error {
	missing := []string{}
	if c.Storage.GraphDB == "" {
		missing = append(missing, "storage.graph_db")
	}
	if c.Storage.VersionDB == "" {
		missing = append(missing, "storage.version_db")
	}
	if c.Storage.VectorDB == "" {
		missing = append(missing, "storage.vector_db")
	}
	if c.Vector.Dimension <= 0 {
		missing = append(missing, "vector.dimension")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", lerrors.ErrMissingConfig, strings.Join(missing, ", "))
}

// RetryPolicies maps the configured policies onto error tiers.
func (c *Config) RetryPolicies() map[lerrors.ErrorTier]*lerrors.RetryPolicy {
	transient := c.Retry.Transient
	degrading := c.Retry.Degrading
	return map[lerrors.ErrorTier]*lerrors.RetryPolicy{
		lerrors.TierTransient: &transient,
		lerrors.TierDegrading: &degrading,
	}
}

func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

func (m *Manager) Load() error {
	cfg := DefaultConfig(m.dirs)

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadLocalConfig(cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	m.applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(".")
	return m.loadYAMLFile(projectDirs.Config, cfg)
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	userConfigPath := m.dirs.ConfigDir("config.yaml")
	return m.loadYAMLFile(userConfigPath, cfg)
}

func (m *Manager) loadLocalConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(".")
	localPath := filepath.Join(projectDirs.Local, "config.yaml")
	return m.loadYAMLFile(localPath, cfg)
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	mergeLayer(cfg, &overlay)
	return nil
}

func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("LATTICE_GRAPH_DB"); v != "" {
		cfg.Storage.GraphDB = v
	}
	if v := os.Getenv("LATTICE_VERSION_DB"); v != "" {
		cfg.Storage.VersionDB = v
	}
	if v := os.Getenv("LATTICE_VECTOR_DB"); v != "" {
		cfg.Storage.VectorDB = v
	}
	if v := os.Getenv("LATTICE_VECTOR_DIMENSION"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Vector.Dimension = n
		}
	}
	if v := os.Getenv("LATTICE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.QueryTimeout = d
		}
	}
	if v := os.Getenv("LATTICE_QUERY_TOP_N"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Query.TopN = n
		}
	}
	if v := os.Getenv("LATTICE_QUERY_CACHE"); v != "" {
		cfg.Query.CacheEnabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("LATTICE_SPOOL_DIR"); v != "" {
		cfg.Spool.Dir = v
	}
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
