package matcher

import (
	"context"
	"math"
	"sort"
)

// ProfileVector pairs a department with its precomputed embedding.
type ProfileVector struct {
	DepartmentID string
	Vector       []float32
}

// Backend ranks candidate departments against a query vector.
// The in-memory backend computes cosine similarity locally; the pgvector
// backend delegates nearest-neighbor search to Postgres.
type Backend interface {
	Nearest(ctx context.Context, query []float32, candidates []ProfileVector) (SimilarityResult, error)
}

// MemoryBackend scores candidates by cosine similarity in process.
type MemoryBackend struct{}

// NewMemoryBackend creates the in-process similarity backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (*MemoryBackend) Nearest(_ context.Context, query []float32, candidates []ProfileVector) (SimilarityResult, error) {
	result := make(SimilarityResult, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, Score{
			DepartmentID: c.DepartmentID,
			Score:        clampScore(cosineSimilarity(query, c.Vector)),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// clampScore bounds a similarity into [0,1]. Text embedding cosines are
// non-negative in practice; anti-correlated vectors clamp to zero.
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

var _ Backend = (*MemoryBackend)(nil)
