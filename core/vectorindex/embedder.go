package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/viterin/vek/vek32"
)

// Embedder turns text into a fixed-dimension vector. Production
// deployments plug in a model-backed implementation; HashEmbedder is
// the built-in fallback.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder is a deterministic feature-hash embedder. It carries no
// semantics beyond token overlap, but it is stable across processes,
// needs no model, and keeps the full pipeline runnable offline.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of the
// given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

// Embed hashes each token of text into a bucket, accumulating signed
// counts, then normalizes. Identical text always yields an identical
// vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dimension)

	for _, token := range tokenize(text) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(e.dimension)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vector[bucket] += sign
	}

	if norm := vek32.Dot(vector, vector); norm > 0 {
		vek32.DivNumber_Inplace(vector, float32(math.Sqrt(float64(norm))))
	}
	return vector, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
