package componentgraphdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// GraphDB is the sqlite-backed property graph for UI component records.
// Connections are long-lived and safe for concurrent reads; writes for
// the same component are serialized by the callers' keyed locks plus
// CAS version checks on component rows.
type GraphDB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// DBConfig configures the database connection pool.
type DBConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Connection pool configuration bounds.
const (
	MinOpenConns      = 1
	MaxOpenConnsLimit = 200

	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = time.Hour
	DefaultConnMaxIdleTime = 30 * time.Minute
)

// DefaultDBConfig returns a configuration suitable for moderate workloads.
func DefaultDBConfig(path string) DBConfig {
	return DBConfig{
		Path:            path,
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
		ConnMaxIdleTime: DefaultConnMaxIdleTime,
	}
}

// Validate checks the configuration values and returns an error if invalid.
func (c DBConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("graph db config: path is required")
	}
	if c.MaxOpenConns < MinOpenConns || c.MaxOpenConns > MaxOpenConnsLimit {
		return fmt.Errorf("graph db config: MaxOpenConns must be between %d and %d, got %d",
			MinOpenConns, MaxOpenConnsLimit, c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("graph db config: MaxIdleConns must be non-negative, got %d", c.MaxIdleConns)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("graph db config: MaxIdleConns (%d) cannot exceed MaxOpenConns (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Open opens a graph database with default configuration.
func Open(path string) (*GraphDB, error) {
	return OpenWithConfig(DefaultDBConfig(path))
}

// OpenWithConfig opens a graph database with the given configuration.
func OpenWithConfig(config DBConfig) (*GraphDB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal", config.Path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph db at %s: %w", config.Path, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping graph db at %s: %w", config.Path, err)
	}

	gdb := &GraphDB{db: db, path: config.Path}

	if err := gdb.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate graph db at %s: %w", config.Path, err)
	}

	return gdb, nil
}

func (g *GraphDB) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *GraphDB) Migrate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema on %s: %w", g.path, err)
	}
	return nil
}

func (g *GraphDB) DB() *sql.DB {
	return g.db
}

func (g *GraphDB) Path() string {
	return g.path
}

func (g *GraphDB) BeginTx() (*sql.Tx, error) {
	return g.db.Begin()
}

// Stats collects counts describing the current graph state.
func (g *GraphDB) Stats() (*GraphStats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := &GraphStats{
		NodesByType:    make(map[NodeType]int64),
		EdgesByType:    make(map[EdgeType]int64),
		TokenRefCounts: make(map[string]int64),
	}

	if err := g.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&stats.TotalNodes); err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	if err := g.db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&stats.TotalEdges); err != nil {
		return nil, fmt.Errorf("failed to count edges: %w", err)
	}
	if err := g.db.QueryRow("SELECT COUNT(*) FROM nodes WHERE placeholder = 1").Scan(&stats.Placeholders); err != nil {
		return nil, fmt.Errorf("failed to count placeholders: %w", err)
	}

	if err := g.scanGroupedCounts("SELECT node_type, COUNT(*) FROM nodes GROUP BY node_type", func(key string, count int64) {
		stats.NodesByType[NodeType(key)] = count
	}); err != nil {
		return nil, fmt.Errorf("failed to count nodes by type: %w", err)
	}

	if err := g.scanGroupedCounts("SELECT edge_type, COUNT(*) FROM edges GROUP BY edge_type", func(key string, count int64) {
		stats.EdgesByType[EdgeType(key)] = count
	}); err != nil {
		return nil, fmt.Errorf("failed to count edges by type: %w", err)
	}

	if err := g.collectTokenRefCounts(stats); err != nil {
		return nil, err
	}

	g.collectDBSize(stats)
	return stats, nil
}

func (g *GraphDB) collectTokenRefCounts(stats *GraphStats) error {
	return g.scanGroupedCounts(
		"SELECT target_id, COUNT(*) FROM edges WHERE edge_type = 'uses_token' GROUP BY target_id",
		func(key string, count int64) {
			stats.TokenRefCounts[key] = count
		})
}

func (g *GraphDB) collectDBSize(stats *GraphStats) {
	fileInfo, err := os.Stat(g.path)
	if err == nil {
		stats.DBSizeBytes = fileInfo.Size()
	}
}

func (g *GraphDB) scanGroupedCounts(query string, handler func(key string, count int64)) error {
	rows, err := g.db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		handler(key, count)
	}
	return rows.Err()
}
