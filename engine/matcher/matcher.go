// Package matcher scores a free-form query against the department corpus by
// embedding both and ranking with cosine similarity.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/webential/deskrouter/engine/corpus"
	"github.com/webential/deskrouter/engine/embedding"
)

// ErrInvalidQuery is returned for queries that are empty after trimming.
// Surfaced to the user; causes no session state change.
var ErrInvalidQuery = errors.New("invalid query")

// Score is one department's similarity to the query.
type Score struct {
	DepartmentID string  `json:"department_id"`
	Score        float32 `json:"score"`
}

// SimilarityResult ranks all departments, best first. Produced fresh per
// query and never persisted.
type SimilarityResult []Score

// Top returns the best score, or false for an empty result.
func (r SimilarityResult) Top() (Score, bool) {
	if len(r) == 0 {
		return Score{}, false
	}
	return r[0], true
}

// Second returns the runner-up score, or a zero score when the corpus has a
// single entry.
func (r SimilarityResult) Second() Score {
	if len(r) < 2 {
		return Score{}
	}
	return r[1]
}

// Matcher embeds queries and department profiles and ranks departments via a
// Backend. Profile embeddings are cached per corpus version so a profile edit
// invalidates them by changing the version.
type Matcher struct {
	provider embedding.Provider
	backend  Backend

	mu             sync.Mutex
	cachedVersion  int64
	cachedProfiles []ProfileVector
}

// New creates a Matcher. A nil backend defaults to in-process cosine ranking.
func New(provider embedding.Provider, backend Backend) *Matcher {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Matcher{provider: provider, backend: backend}
}

// Match ranks every department in the snapshot against the query.
// Scores are deterministic for identical (query, corpus-version) pairs modulo
// provider nondeterminism; callers compare with thresholds, not equality.
func (m *Matcher) Match(ctx context.Context, query string, snap *corpus.Snapshot) (SimilarityResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	start := time.Now()

	profiles, err := m.profileVectors(ctx, snap)
	if err != nil {
		return nil, err
	}

	queryVec, err := m.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	result, err := m.backend.Nearest(ctx, queryVec, profiles)
	if err != nil {
		return nil, fmt.Errorf("rank departments: %w", err)
	}

	slog.Debug("query matched against corpus",
		"corpus_version", snap.Version(),
		"departments", len(result),
		"latency_ms", time.Since(start).Milliseconds())
	return result, nil
}

// profileVectors returns embeddings for every profile in the snapshot,
// reusing the cached set while the corpus version is unchanged.
func (m *Matcher) profileVectors(ctx context.Context, snap *corpus.Snapshot) ([]ProfileVector, error) {
	m.mu.Lock()
	if m.cachedVersion == snap.Version() && m.cachedProfiles != nil {
		cached := m.cachedProfiles
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	texts := make([]string, 0, snap.Len())
	ids := make([]string, 0, snap.Len())
	for _, p := range snap.Profiles() {
		texts = append(texts, p.EmbeddingText())
		ids = append(ids, p.ID)
	}

	vectors, err := m.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}

	profiles := make([]ProfileVector, len(ids))
	for i := range ids {
		profiles[i] = ProfileVector{DepartmentID: ids[i], Vector: vectors[i]}
	}

	m.mu.Lock()
	m.cachedVersion = snap.Version()
	m.cachedProfiles = profiles
	m.mu.Unlock()

	slog.Debug("corpus embeddings refreshed",
		"corpus_version", snap.Version(),
		"departments", len(profiles))
	return profiles, nil
}
