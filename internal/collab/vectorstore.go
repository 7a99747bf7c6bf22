package collab

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fleetgrid/control-plane/pkg/contracts"
)

// EmbeddedVectorStore is an in-memory brute-force cosine-similarity vector
// store — the fallback contracts.VectorStore implementation, adapted from
// the teacher's vectorstore.EmbeddedStore (same capacity guard and
// cosineSimilarity helper) but scoped to one agent's SKU-embedding index
// rather than a multi-kitchen map.
type EmbeddedVectorStore struct {
	mu         sync.RWMutex
	vectors    map[string]vectorEntry
	maxVectors int
}

type vectorEntry struct {
	vector   []float64
	metadata map[string]interface{}
}

// DefaultMaxVectors caps the embedded store, as in the teacher's driver.
const DefaultMaxVectors = 50_000

// NewEmbeddedVectorStore constructs an empty store.
func NewEmbeddedVectorStore() *EmbeddedVectorStore {
	return &EmbeddedVectorStore{
		vectors:    make(map[string]vectorEntry),
		maxVectors: DefaultMaxVectors,
	}
}

func (s *EmbeddedVectorStore) Insert(_ context.Context, id string, vector []float64, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vectors[id]; !exists && len(s.vectors) >= s.maxVectors {
		return fmt.Errorf("embedded vector store capacity exceeded: %d >= %d", len(s.vectors), s.maxVectors)
	}
	s.vectors[id] = vectorEntry{vector: append([]float64{}, vector...), metadata: metadata}
	return nil
}

func (s *EmbeddedVectorStore) Query(_ context.Context, vector []float64, topK int, returnMetadata bool) ([]contracts.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		id    string
		entry vectorEntry
		score float64
	}
	candidates := make([]scored, 0, len(s.vectors))
	for id, e := range s.vectors {
		if len(e.vector) != len(vector) {
			continue
		}
		candidates = append(candidates, scored{id: id, entry: e, score: cosineSimilarity(vector, e.vector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]contracts.VectorMatch, topK)
	for i := 0; i < topK; i++ {
		m := contracts.VectorMatch{ID: candidates[i].id, Score: candidates[i].score}
		if returnMetadata {
			m.Metadata = candidates[i].entry.metadata
		}
		out[i] = m
	}
	return out, nil
}

func (s *EmbeddedVectorStore) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.vectors, id)
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
