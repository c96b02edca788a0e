package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/viterin/vek/vek32"
)

var (
	// ErrStoreUnavailable indicates the index backing store could not
	// be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch indicates a vector whose length does not
	// match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrEmptyVector = errors.New("embedding vector is empty")
)

// SearchResult pairs a component id with its similarity score in
// [0, 1]. Equal scores order by id ascending so repeated searches over
// identical state return identical rankings.
type SearchResult struct {
	ComponentID string  `json:"component_id"`
	Score       float64 `json:"score"`
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
    component_id TEXT PRIMARY KEY,
    dimension    INTEGER NOT NULL,
    vector       BLOB NOT NULL
);
`

// Index is a cosine-similarity vector index over component embeddings.
// Vectors persist in sqlite and are held normalized in memory for
// search; both copies are replaced together on upsert.
type Index struct {
	db        *sql.DB
	dimension int
	logger    *slog.Logger

	mu      sync.RWMutex
	vectors map[string][]float32
}

// Open opens or creates a vector index at the given path. Every vector
// upserted must have exactly dimension elements.
func Open(path string, dimension int, logger *slog.Logger) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=normal", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate vector store: %w", err)
	}

	idx := &Index{
		db:        db,
		dimension: dimension,
		logger:    logger,
		vectors:   make(map[string][]float32),
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the backing store.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Len returns the number of indexed components.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Dimension returns the index embedding dimension.
func (idx *Index) Dimension() int {
	return idx.dimension
}

func (idx *Index) load() error {
	rows, err := idx.db.Query(`SELECT component_id, dimension, vector FROM embeddings`)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var dim int
		var blob []byte
		if err := rows.Scan(&id, &dim, &blob); err != nil {
			return fmt.Errorf("failed to scan embedding: %w", err)
		}
		if dim != idx.dimension {
			idx.logger.Warn("skipping embedding with stale dimension",
				"component_id", id, "dimension", dim, "want", idx.dimension)
			continue
		}
		idx.vectors[id] = normalize(decodeVector(blob, dim))
	}
	return rows.Err()
}

// Upsert replaces the vector for componentID. The previous vector, if
// any, never contributes to later searches.
func (idx *Index) Upsert(ctx context.Context, componentID string, vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if len(vector) != idx.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), idx.dimension)
	}

	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO embeddings (component_id, dimension, vector) VALUES (?, ?, ?)
         ON CONFLICT(component_id) DO UPDATE SET dimension = excluded.dimension, vector = excluded.vector`,
		componentID, idx.dimension, encodeVector(vector))
	if err != nil {
		return fmt.Errorf("failed to persist embedding: %w: %v", ErrStoreUnavailable, err)
	}

	idx.mu.Lock()
	idx.vectors[componentID] = normalize(vector)
	idx.mu.Unlock()
	return nil
}

// Delete removes a component's vector from the index.
func (idx *Index) Delete(ctx context.Context, componentID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM embeddings WHERE component_id = ?`, componentID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w: %v", ErrStoreUnavailable, err)
	}

	idx.mu.Lock()
	delete(idx.vectors, componentID)
	idx.mu.Unlock()
	return nil
}

// Search returns up to topK components ranked by cosine similarity to
// query, mapped from [-1, 1] into [0, 1]. Ties break by component id
// ascending. An empty index returns an empty slice.
func (idx *Index) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), idx.dimension)
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search canceled: %w", err)
	}

	q := normalize(query)

	idx.mu.RLock()
	results := make([]SearchResult, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		// Stored vectors are unit length; dot product is cosine.
		cosine := float64(vek32.Dot(q, vec))
		results = append(results, SearchResult{
			ComponentID: id,
			Score:       clampScore((cosine + 1) / 2),
		})
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ComponentID < results[j].ComponentID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func normalize(vector []float32) []float32 {
	norm := math.Sqrt(float64(vek32.Dot(vector, vector)))
	out := append([]float32(nil), vector...)
	if norm == 0 {
		return out
	}
	vek32.MulNumber_Inplace(out, float32(1/norm))
	return out
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte, dimension int) []float32 {
	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
