// Package index provides the in-process k-NN index backing the knowledge
// store adapter. Entries are keyed by chunk ID and tagged with a modality so
// searches can be restricted to one. Similarity is cosine; ties break by
// ascending chunk ID for deterministic ordering.
package index

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"docrag/internal/model"
)

type entry struct {
	vector   []float32
	modality model.Modality
}

// Metrics holds counters gathered by an index instance.
type Metrics struct {
	// DimensionMismatch counts stored vectors whose length differed from a
	// query vector's. Non-zero values indicate a mixed-dimension collection,
	// which the system forbids.
	DimensionMismatch atomic.Int64
}

type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]entry

	logger *zap.Logger

	// Metrics is optional; when nil nothing is counted.
	Metrics *Metrics
}

func NewMemoryIndex(logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Add inserts or replaces the vector stored under id.
func (i *MemoryIndex) Add(id string, modality model.Modality, vector []float32) error {
	if id == "" {
		return errors.New("chunk id cannot be empty")
	}
	if len(vector) == 0 {
		return errors.New("vector cannot be empty")
	}

	copied := make([]float32, len(vector))
	copy(copied, vector)

	i.mu.Lock()
	i.entries[id] = entry{vector: copied, modality: modality}
	i.mu.Unlock()
	return nil
}

// Remove deletes the entry under id. Removing an absent id is a no-op.
func (i *MemoryIndex) Remove(id string) {
	i.mu.Lock()
	delete(i.entries, id)
	i.mu.Unlock()
}

// Len reports the number of stored entries.
func (i *MemoryIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

type scored struct {
	id    string
	score float64
}

// Search returns up to k entries nearest to vector by cosine similarity,
// ordered by descending score then ascending id. An empty modality matches
// all entries.
func (i *MemoryIndex) Search(vector []float32, k int, modality model.Modality) ([]string, []float64, error) {
	if len(vector) == 0 {
		return nil, nil, errors.New("query vector cannot be empty")
	}
	if k <= 0 {
		return []string{}, []float64{}, nil
	}

	type candidate struct {
		id     string
		vector []float32
	}

	var mismatches []string
	var candidates []candidate

	i.mu.RLock()
	for id, e := range i.entries {
		if modality != "" && e.modality != modality {
			continue
		}
		if len(e.vector) != len(vector) {
			mismatches = append(mismatches, id)
			if i.Metrics != nil {
				i.Metrics.DimensionMismatch.Add(1)
			}
			continue
		}
		copied := make([]float32, len(e.vector))
		copy(copied, e.vector)
		candidates = append(candidates, candidate{id: id, vector: copied})
	}
	i.mu.RUnlock()

	for _, id := range mismatches {
		i.logger.Warn("dimension mismatch in index", zap.String("chunk_id", id))
	}

	items := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, scored{id: c.id, score: cosineSimilarity(vector, c.vector)})
	}

	sort.Slice(items, func(a, b int) bool {
		if items[a].score == items[b].score {
			return items[a].id < items[b].id
		}
		return items[a].score > items[b].score
	})
	if len(items) > k {
		items = items[:k]
	}

	ids := make([]string, len(items))
	scores := make([]float64, len(items))
	for idx, item := range items {
		ids[idx] = item.id
		scores[idx] = item.score
	}
	return ids, scores, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for idx := range a {
		av := float64(a[idx])
		bv := float64(b[idx])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
