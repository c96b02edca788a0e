// Package ingest drives component records through version tracking,
// the graph store, and the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	lerrors "github.com/adalundhe/lattice/core/errors"
	"github.com/adalundhe/lattice/core/vectorindex"
	"github.com/adalundhe/lattice/core/versioning"
)

// IngestStatus is the outcome of one record's ingestion.
type IngestStatus string

const (
	// StatusIngested means the record changed and all stores absorbed it.
	StatusIngested IngestStatus = "ingested"

	// StatusUnchanged means the record's content hash matched the
	// latest version, so no store was touched.
	StatusUnchanged IngestStatus = "unchanged"

	// StatusDeferred means transient store trouble exhausted the retry
	// budget; the record is queued for a later attempt.
	StatusDeferred IngestStatus = "deferred"
)

// IngestResult reports what happened to one record.
type IngestResult struct {
	ComponentID string       `json:"component_id"`
	Status      IngestStatus `json:"status"`
	Sequence    uint64       `json:"sequence,omitempty"`
}

// Pipeline coordinates ingestion across the three stores. Concurrent
// ingestion of different records proceeds in parallel; records with
// the same component id serialize on a per-id lock.
type Pipeline struct {
	graph    *componentgraphdb.ComponentStore
	tracker  *versioning.Tracker
	index    *vectorindex.Index
	embedder vectorindex.Embedder
	retry    *lerrors.RetryExecutor
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	deferredMu sync.Mutex
	deferred   []*componentgraphdb.ComponentRecord
}

// NewPipeline wires a pipeline over open stores.
func NewPipeline(
	graph *componentgraphdb.ComponentStore,
	tracker *versioning.Tracker,
	index *vectorindex.Index,
	embedder vectorindex.Embedder,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		graph:    graph,
		tracker:  tracker,
		index:    index,
		embedder: embedder,
		retry:    lerrors.NewRetryExecutor(nil),
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) componentLock(componentID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[componentID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[componentID] = lock
	}
	return lock
}

// Ingest validates and absorbs one record. Unchanged records return
// StatusUnchanged without touching the graph or index. Transient store
// failures retry with backoff; past the budget the record is deferred,
// never silently dropped.
func (p *Pipeline) Ingest(ctx context.Context, record *componentgraphdb.ComponentRecord) (*IngestResult, error) {
	if err := record.Validate(); err != nil {
		return nil, lerrors.WrapWithTier(lerrors.TierPermanent, "record rejected", fmt.Errorf("%w: %v", lerrors.ErrExtractionInput, err))
	}

	componentID := record.ResolvedID()
	contentHash := record.CanonicalHash()

	lock := p.componentLock(componentID)
	lock.Lock()
	defer lock.Unlock()

	// The change decision rides inside the retried unit: a transient
	// failure on the version read defers the record the same way a
	// failed write does.
	var sequence uint64
	var unchanged bool
	err := p.retry.ExecuteClassified(ctx, func() error {
		same, checkErr := p.tracker.IsUnchanged(componentID, contentHash)
		if checkErr != nil {
			return classifyStoreErr("failed to check version", checkErr)
		}
		if same {
			unchanged = true
			return nil
		}
		seq, writeErr := p.writeAll(ctx, record, componentID, contentHash)
		if writeErr != nil {
			return writeErr
		}
		sequence = seq
		return nil
	})
	if err != nil {
		if lerrors.GetTier(err) == lerrors.TierTransient {
			p.enqueueDeferred(record)
			p.logger.Warn("record deferred after retry budget",
				"component_id", componentID, "error", err)
			return &IngestResult{ComponentID: componentID, Status: StatusDeferred}, nil
		}
		return nil, err
	}

	if unchanged {
		p.logger.Debug("record unchanged", "component_id", componentID)
		return &IngestResult{ComponentID: componentID, Status: StatusUnchanged}, nil
	}

	p.logger.Info("record ingested",
		"component_id", componentID,
		"sequence", sequence)
	return &IngestResult{ComponentID: componentID, Status: StatusIngested, Sequence: sequence}, nil
}

// writeAll performs one attempt at the full write: graph upsert,
// vector upsert, then the version link. The version chain only records
// the hash once every store has absorbed the record, so the unchanged
// short-circuit never hides a partial ingestion. The graph write is
// atomic and safe to redo on a retry.
func (p *Pipeline) writeAll(ctx context.Context, record *componentgraphdb.ComponentRecord, componentID, contentHash string) (uint64, error) {
	if err := p.graph.Upsert(record); err != nil {
		return 0, classifyGraphErr(err)
	}

	embedding, err := p.embedder.Embed(ctx, embeddingText(record))
	if err != nil {
		return 0, lerrors.WrapWithTier(lerrors.TierPermanent, "failed to embed record", err)
	}
	if err := p.index.Upsert(ctx, componentID, embedding); err != nil {
		return 0, classifyStoreErr("failed to index embedding", err)
	}

	head, _, err := p.tracker.Record(componentID, contentHash)
	if err != nil {
		return 0, classifyStoreErr("failed to record version", err)
	}
	return head.Sequence, nil
}

// Supersede retires a component in favor of its successor. The graph
// node stays, pointing at its replacement, so relational history
// remains traversable; the vector is removed so retired components
// stop answering semantic queries. The version chain is untouched for
// audit.
func (p *Pipeline) Supersede(ctx context.Context, componentID, successorID string) error {
	lock := p.componentLock(componentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.graph.Nodes().GetNodeVersion(successorID); err != nil {
		return lerrors.WrapWithTier(lerrors.TierPermanent, "successor not in graph", err)
	}
	if err := p.graph.Supersede(componentID, successorID); err != nil {
		return classifyStoreErr("failed to supersede component", err)
	}
	if err := p.index.Delete(ctx, componentID); err != nil {
		return classifyStoreErr("failed to drop retired vector", err)
	}

	p.logger.Info("component superseded",
		"component_id", componentID,
		"successor_id", successorID)
	return nil
}

// IngestBatch ingests records sequentially, collecting per-record
// results. A rejected record does not abort the rest of the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, records []*componentgraphdb.ComponentRecord) ([]*IngestResult, error) {
	results := make([]*IngestResult, 0, len(records))
	var firstErr error

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("batch canceled: %w", err)
		}
		result, err := p.Ingest(ctx, record)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("batch record failed", "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, firstErr
}

// Deferred returns the records awaiting a retry.
func (p *Pipeline) Deferred() []*componentgraphdb.ComponentRecord {
	p.deferredMu.Lock()
	defer p.deferredMu.Unlock()
	return append([]*componentgraphdb.ComponentRecord(nil), p.deferred...)
}

// RetryDeferred re-ingests the deferred queue. Records that defer
// again go back on the queue.
func (p *Pipeline) RetryDeferred(ctx context.Context) ([]*IngestResult, error) {
	p.deferredMu.Lock()
	pending := p.deferred
	p.deferred = nil
	p.deferredMu.Unlock()

	return p.IngestBatch(ctx, pending)
}

func (p *Pipeline) enqueueDeferred(record *componentgraphdb.ComponentRecord) {
	p.deferredMu.Lock()
	p.deferred = append(p.deferred, record)
	p.deferredMu.Unlock()
}

// embeddingText flattens a record into the text the vector index sees.
func embeddingText(record *componentgraphdb.ComponentRecord) string {
	text := record.Name + " " + record.Category + " " + record.Description + " " + record.Purpose
	for _, property := range record.Properties {
		text += " " + property.Name
	}
	for _, guideline := range record.Guidelines {
		text += " " + guideline.Title + " " + guideline.Content
	}
	return text
}

func classifyStoreErr(msg string, err error) error {
	if errors.Is(err, versioning.ErrStoreUnavailable) || errors.Is(err, vectorindex.ErrStoreUnavailable) {
		return lerrors.WrapWithTier(lerrors.TierTransient, msg, fmt.Errorf("%w: %v", lerrors.ErrStoreUnavailable, err))
	}
	return lerrors.WrapWithTier(lerrors.TierPermanent, msg, err)
}

func classifyGraphErr(err error) error {
	switch {
	case componentgraphdb.IsWriteConflict(err):
		return lerrors.WrapWithTier(lerrors.TierTransient, "graph write conflict", fmt.Errorf("%w: %v", lerrors.ErrWriteConflict, err))
	case errors.Is(err, componentgraphdb.ErrMalformedRecord):
		return lerrors.WrapWithTier(lerrors.TierPermanent, "graph rejected record", fmt.Errorf("%w: %v", lerrors.ErrExtractionInput, err))
	default:
		return lerrors.WrapWithTier(lerrors.TierTransient, "graph write failed", fmt.Errorf("%w: %v", lerrors.ErrStoreUnavailable, err))
	}
}
