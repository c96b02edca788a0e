package versioning

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrStoreUnavailable indicates the version store could not be
	// reached. Callers may retry; the chain is never advanced on a
	// failed write.
	ErrStoreUnavailable = errors.New("version store unavailable")

	// ErrChainCorrupt indicates a version chain whose previous-hash
	// links do not verify.
	ErrChainCorrupt = errors.New("version chain corrupt")
)

// VersionRecord is one link in a component's append-only version chain.
// EntryHash covers the component id, sequence, content hash, previous
// entry hash, and timestamp, so tampering with any historical link is
// detectable.
type VersionRecord struct {
	ComponentID string    `json:"component_id"`
	Sequence    uint64    `json:"sequence"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	EntryHash   string    `json:"entry_hash"`
	RecordedAt  time.Time `json:"recorded_at"`
}

const versionSchema = `
CREATE TABLE IF NOT EXISTS component_versions (
    component_id TEXT NOT NULL,
    sequence     INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    prev_hash    TEXT NOT NULL,
    entry_hash   TEXT NOT NULL,
    recorded_at  TEXT NOT NULL,
    PRIMARY KEY (component_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_versions_component ON component_versions(component_id);
`

// Tracker records content-hash history for components. History is
// append-only: a changed record appends a new link, an unchanged
// record appends nothing.
type Tracker struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens or creates a version store at the given path.
func Open(path string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open version store: %w", err)
	}
	if _, err := db.Exec(versionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate version store: %w", err)
	}

	return &Tracker{
		db:     db,
		path:   path,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// componentLock returns the mutex serializing writes for one component
// id. Different components version concurrently; the same component
// versions one write at a time.
func (t *Tracker) componentLock(componentID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[componentID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[componentID] = lock
	}
	return lock
}

// IsUnchanged reports whether contentHash matches the latest recorded
// hash for the component. An unknown component is always changed.
func (t *Tracker) IsUnchanged(componentID, contentHash string) (bool, error) {
	latest, err := t.Latest(componentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return latest.ContentHash == contentHash, nil
}

// Latest returns the newest version record for a component, or
// sql.ErrNoRows when none exists.
func (t *Tracker) Latest(componentID string) (*VersionRecord, error) {
	row := t.db.QueryRow(
		`SELECT component_id, sequence, content_hash, prev_hash, entry_hash, recorded_at
         FROM component_versions WHERE component_id = ? ORDER BY sequence DESC LIMIT 1`,
		componentID)
	record, err := scanVersionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("failed to read latest version", err)
	}
	return record, nil
}

// Record appends a version link for componentID unless contentHash
// already matches the latest link. It returns the current head of the
// chain and whether a new link was written.
func (t *Tracker) Record(componentID, contentHash string) (*VersionRecord, bool, error) {
	lock := t.componentLock(componentID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := t.Latest(componentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	if latest != nil && latest.ContentHash == contentHash {
		return latest, false, nil
	}

	record := t.nextRecord(componentID, contentHash, latest)
	if err := t.appendRecord(record); err != nil {
		return nil, false, err
	}

	t.logger.Debug("version recorded",
		"component_id", componentID,
		"sequence", record.Sequence,
		"content_hash", contentHash)
	return record, true, nil
}

func (t *Tracker) nextRecord(componentID, contentHash string, latest *VersionRecord) *VersionRecord {
	record := &VersionRecord{
		ComponentID: componentID,
		Sequence:    1,
		ContentHash: contentHash,
		RecordedAt:  time.Now().UTC(),
	}
	if latest != nil {
		record.Sequence = latest.Sequence + 1
		record.PrevHash = latest.EntryHash
		// Wall clock can move backwards; chain timestamps never do.
		if !record.RecordedAt.After(latest.RecordedAt) {
			record.RecordedAt = latest.RecordedAt.Add(time.Nanosecond)
		}
	}
	record.EntryHash = entryHash(record)
	return record
}

func (t *Tracker) appendRecord(record *VersionRecord) error {
	_, err := t.db.Exec(
		`INSERT INTO component_versions (component_id, sequence, content_hash, prev_hash, entry_hash, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		record.ComponentID, record.Sequence, record.ContentHash,
		record.PrevHash, record.EntryHash, record.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return storeErr("failed to append version record", err)
	}
	return nil
}

// Chain returns a component's full version history, oldest first.
func (t *Tracker) Chain(componentID string) ([]*VersionRecord, error) {
	rows, err := t.db.Query(
		`SELECT component_id, sequence, content_hash, prev_hash, entry_hash, recorded_at
         FROM component_versions WHERE component_id = ? ORDER BY sequence ASC`,
		componentID)
	if err != nil {
		return nil, storeErr("failed to read version chain", err)
	}
	defer rows.Close()

	var chain []*VersionRecord
	for rows.Next() {
		record, err := scanVersionRow(rows)
		if err != nil {
			return nil, storeErr("failed to scan version record", err)
		}
		chain = append(chain, record)
	}
	return chain, rows.Err()
}

// VerifyChain recomputes every entry hash and previous-hash link in a
// component's history and returns ErrChainCorrupt on any mismatch.
func (t *Tracker) VerifyChain(componentID string) error {
	chain, err := t.Chain(componentID)
	if err != nil {
		return err
	}

	prevHash := ""
	var prevSeq uint64
	for _, record := range chain {
		if record.Sequence != prevSeq+1 {
			return fmt.Errorf("%w: sequence gap at %d for %s", ErrChainCorrupt, record.Sequence, componentID)
		}
		if record.PrevHash != prevHash {
			return fmt.Errorf("%w: broken link at sequence %d for %s", ErrChainCorrupt, record.Sequence, componentID)
		}
		if entryHash(record) != record.EntryHash {
			return fmt.Errorf("%w: entry hash mismatch at sequence %d for %s", ErrChainCorrupt, record.Sequence, componentID)
		}
		prevHash = record.EntryHash
		prevSeq = record.Sequence
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersionRow(row rowScanner) (*VersionRecord, error) {
	var record VersionRecord
	var recordedAt string
	if err := row.Scan(&record.ComponentID, &record.Sequence, &record.ContentHash,
		&record.PrevHash, &record.EntryHash, &recordedAt); err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
		record.RecordedAt = ts
	}
	return &record, nil
}

func entryHash(record *VersionRecord) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%s",
		record.ComponentID, record.Sequence, record.ContentHash,
		record.PrevHash, record.RecordedAt.Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

func storeErr(msg string, err error) error {
	return fmt.Errorf("%s: %w: %v", msg, ErrStoreUnavailable, err)
}
