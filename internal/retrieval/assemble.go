// Package retrieval answers questions: embed the query, search the
// knowledge store, assemble a deduplicated context under a token budget,
// and hand the result to synthesis.
package retrieval

import (
	"sort"

	"docrag/internal/model"
	"docrag/internal/synth"
)

const (
	DefaultK           = 12
	DefaultThreshold   = 0.35
	DefaultTokenBudget = 2048
)

type AssembleConfig struct {
	// Threshold applies to normalized scores; neighbors below it are
	// considered ungrounded noise.
	Threshold float64

	// TokenBudget caps the summed token estimates of included items.
	TokenBudget int
}

// Assemble turns raw neighbors into the context handed to synthesis:
// min-max normalized scores, threshold filtering, provenance
// deduplication, and greedy packing under the token budget in score order.
func Assemble(neighbors []model.RetrievedNeighbor, cfg AssembleConfig) []synth.ContextItem {
	if len(neighbors) == 0 {
		return nil
	}

	items := normalizeScores(neighbors)

	kept := items[:0]
	for _, item := range items {
		if item.Score >= cfg.Threshold {
			kept = append(kept, item)
		}
	}
	items = dedupeProvenance(kept)

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Record.ChunkID < items[j].Record.ChunkID
	})

	budget := cfg.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	var out []synth.ContextItem
	for _, item := range items {
		cost := item.Record.TokensEst
		if cost <= 0 {
			cost = 1
		}
		if cost > budget {
			continue
		}
		out = append(out, item)
		budget -= cost
	}
	return out
}

// normalizeScores rescales raw similarities to [0,1] by min-max. A batch
// with no spread maps everything to 1, since the backend judged them
// equally close.
func normalizeScores(neighbors []model.RetrievedNeighbor) []synth.ContextItem {
	lo, hi := neighbors[0].Score, neighbors[0].Score
	for _, n := range neighbors[1:] {
		if n.Score < lo {
			lo = n.Score
		}
		if n.Score > hi {
			hi = n.Score
		}
	}

	items := make([]synth.ContextItem, 0, len(neighbors))
	for _, n := range neighbors {
		score := 1.0
		if hi > lo {
			score = (n.Score - lo) / (hi - lo)
		}
		items = append(items, synth.ContextItem{Record: n.Record, Score: score})
	}
	return items
}

// dedupeProvenance drops items citing the same ground as a higher-scored
// one: same document, same page, overlapping region.
func dedupeProvenance(items []synth.ContextItem) []synth.ContextItem {
	sorted := make([]synth.ContextItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Record.ChunkID < sorted[j].Record.ChunkID
	})

	var out []synth.ContextItem
	for _, candidate := range sorted {
		duplicate := false
		for _, kept := range out {
			if kept.Record.Fingerprint == candidate.Record.Fingerprint &&
				kept.Record.Page == candidate.Record.Page &&
				kept.Record.Region.Overlaps(candidate.Record.Region) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, candidate)
		}
	}
	return out
}
