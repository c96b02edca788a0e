// Package storage provides platform-native directory resolution with XDG support.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
)

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (settings)
	Data   string // Persistent data (graph, version, and vector databases)
	Cache  string // Regenerable cache (query responses, rebuilt indexes)
	State  string // Runtime state (logs, spool)
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .lattice/
	Config string // .lattice/config.yaml (committed)
	Local  string // .lattice/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	dirs := &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}
	return dirs, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, "lattice")
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	latticeDir := filepath.Join(projectRoot, ".lattice")
	return &ProjectDirs{
		Root:   latticeDir,
		Config: filepath.Join(latticeDir, "config.yaml"),
		Local:  filepath.Join(latticeDir, "local"),
	}
}

// ProjectHash generates a consistent hash for a project path.
// Used for per-project database isolation.
func ProjectHash(projectRoot string) string {
	absPath, err := filepath.Abs(projectRoot)
	if err != nil {
		absPath = projectRoot
	}
	hash := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(hash[:8]) // 16 chars
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureSensitiveDir creates a directory with restricted permissions (0700).
func EnsureSensitiveDir(path string) error {
	return EnsureDir(path, 0700)
}

// EnsureStandardDir creates a directory with standard permissions (0755).
func EnsureStandardDir(path string) error {
	return EnsureDir(path, 0755)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// CacheDir returns the cache subdirectory path.
func (d *Dirs) CacheDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Cache}, subpath...)...)
}

// StateDir returns the state subdirectory path.
func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// GraphDBPath returns the component graph database path.
func (d *Dirs) GraphDBPath() string {
	return d.DataDir("graph.db")
}

// VersionDBPath returns the version chain database path.
func (d *Dirs) VersionDBPath() string {
	return d.DataDir("versions.db")
}

// VectorDBPath returns the vector index database path.
func (d *Dirs) VectorDBPath() string {
	return d.DataDir("vectors.db")
}

// SpoolDir returns the default spool directory for incoming records.
func (d *Dirs) SpoolDir() string {
	return d.StateDir("spool")
}

// LogDir returns the log directory.
func (d *Dirs) LogDir() string {
	return d.StateDir("logs")
}

// EnsureAll creates all standard directories with appropriate permissions.
func (d *Dirs) EnsureAll() error {
	if err := EnsureSensitiveDir(d.Config); err != nil {
		return err
	}

	standardDirs := []string{
		d.Data,
		d.Cache,
		d.State,
		d.SpoolDir(),
		d.LogDir(),
	}
	for _, dir := range standardDirs {
		if err := EnsureStandardDir(dir); err != nil {
			return err
		}
	}
	return nil
}
