package versioning

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func setupTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := Open(filepath.Join(t.TempDir(), "versions.db"), nil)
	if err != nil {
		t.Fatalf("failed to open tracker: %v", err)
	}
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestRecordAppendsChain(t *testing.T) {
	tracker := setupTracker(t)

	first, written, err := tracker.Record("comp1", "hash-a")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !written {
		t.Error("first record should append")
	}
	if first.Sequence != 1 || first.PrevHash != "" {
		t.Errorf("first link = seq %d prev %q, want seq 1 prev empty", first.Sequence, first.PrevHash)
	}

	second, written, err := tracker.Record("comp1", "hash-b")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !written {
		t.Error("changed hash should append")
	}
	if second.Sequence != 2 {
		t.Errorf("Sequence = %d, want 2", second.Sequence)
	}
	if second.PrevHash != first.EntryHash {
		t.Error("second link does not reference first entry hash")
	}
	if !second.RecordedAt.After(first.RecordedAt) {
		t.Error("timestamps not strictly increasing")
	}
}

func TestRecordIdempotentOnUnchangedHash(t *testing.T) {
	tracker := setupTracker(t)

	if _, _, err := tracker.Record("comp1", "hash-a"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	head, written, err := tracker.Record("comp1", "hash-a")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if written {
		t.Error("unchanged hash appended a new link")
	}
	if head.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", head.Sequence)
	}

	unchanged, err := tracker.IsUnchanged("comp1", "hash-a")
	if err != nil {
		t.Fatalf("IsUnchanged: %v", err)
	}
	if !unchanged {
		t.Error("IsUnchanged = false for matching hash")
	}
}

func TestIsUnchangedUnknownComponent(t *testing.T) {
	tracker := setupTracker(t)

	unchanged, err := tracker.IsUnchanged("never-seen", "hash-a")
	if err != nil {
		t.Fatalf("IsUnchanged: %v", err)
	}
	if unchanged {
		t.Error("unknown component reported unchanged")
	}
}

func TestChainsAreIndependentPerComponent(t *testing.T) {
	tracker := setupTracker(t)

	if _, _, err := tracker.Record("comp1", "hash-a"); err != nil {
		t.Fatalf("Record(comp1): %v", err)
	}
	if _, _, err := tracker.Record("comp2", "hash-x"); err != nil {
		t.Fatalf("Record(comp2): %v", err)
	}
	if _, _, err := tracker.Record("comp1", "hash-b"); err != nil {
		t.Fatalf("Record(comp1): %v", err)
	}

	chain, err := tracker.Chain("comp2")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 1 {
		t.Errorf("comp2 chain length = %d, want 1", len(chain))
	}
}

func TestVerifyChain(t *testing.T) {
	tracker := setupTracker(t)

	hashes := []string{"hash-a", "hash-b", "hash-c"}
	for _, h := range hashes {
		if _, _, err := tracker.Record("comp1", h); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if err := tracker.VerifyChain("comp1"); err != nil {
		t.Errorf("VerifyChain on intact chain: %v", err)
	}

	// Tamper with a middle link directly.
	if _, err := tracker.db.Exec(
		`UPDATE component_versions SET content_hash = 'forged' WHERE component_id = 'comp1' AND sequence = 2`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := tracker.VerifyChain("comp1"); !errors.Is(err, ErrChainCorrupt) {
		t.Errorf("VerifyChain on tampered chain = %v, want ErrChainCorrupt", err)
	}
}

func TestConcurrentRecordSameComponent(t *testing.T) {
	tracker := setupTracker(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := tracker.Record("comp1", fmt.Sprintf("hash-%d", i)); err != nil {
				t.Errorf("Record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if err := tracker.VerifyChain("comp1"); err != nil {
		t.Errorf("VerifyChain after concurrent writes: %v", err)
	}

	chain, err := tracker.Chain("comp1")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	for i, record := range chain {
		if record.Sequence != uint64(i+1) {
			t.Errorf("sequence at index %d = %d, want %d", i, record.Sequence, i+1)
		}
	}
}
