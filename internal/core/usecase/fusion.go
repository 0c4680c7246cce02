package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// FuseRankings merges ranked lists into one ranking by weighted average.
// A chunk missing from a source is scored with that source's mean score, so a
// retriever that never considered a chunk does not count as scoring it zero.
// The sum of contributions is divided by the total weight. Sources with a
// negative or NaN weight are ignored; an empty source has mean 0. Duplicate ids
// within one source keep their first score. Ties keep first-appearance order.
func FuseRankings(sources []domain.RankingSource) []domain.RankedChunk {
	type sourceScores struct {
		scores map[string]float64
		mean   float64
		weight float64
	}

	var (
		order       []string
		seen        = make(map[string]struct{})
		prepared    = make([]sourceScores, 0, len(sources))
		totalWeight float64
	)
	for _, src := range sources {
		if src.Weight < 0 || math.IsNaN(src.Weight) {
			continue
		}
		ss := sourceScores{scores: make(map[string]float64, len(src.Chunks)), weight: src.Weight}
		var sum float64
		for _, chunk := range src.Chunks {
			if _, dup := ss.scores[chunk.ChunkID]; dup {
				continue
			}
			ss.scores[chunk.ChunkID] = chunk.Score
			sum += chunk.Score
			if _, ok := seen[chunk.ChunkID]; !ok {
				seen[chunk.ChunkID] = struct{}{}
				order = append(order, chunk.ChunkID)
			}
		}
		if len(ss.scores) > 0 {
			ss.mean = sum / float64(len(ss.scores))
		}
		totalWeight += src.Weight
		prepared = append(prepared, ss)
	}
	if len(order) == 0 || totalWeight <= 0 {
		return nil
	}

	out := make([]domain.RankedChunk, 0, len(order))
	for _, id := range order {
		var acc float64
		for _, ss := range prepared {
			score, ok := ss.scores[id]
			if !ok {
				score = ss.mean
			}
			acc += score * ss.weight
		}
		out = append(out, domain.RankedChunk{ChunkID: id, Score: acc / totalWeight})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// normalizeByMax rescales scores into [0,1] by dividing by the best score.
func normalizeByMax(chunks []domain.RankedChunk) []domain.RankedChunk {
	if len(chunks) == 0 {
		return chunks
	}
	maxScore := chunks[0].Score
	for _, c := range chunks {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	out := make([]domain.RankedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = domain.RankedChunk{ChunkID: c.ChunkID}
		if maxScore > 0 {
			out[i].Score = c.Score / maxScore
		}
	}
	return out
}

func trimRanked(chunks []domain.RankedChunk, limit int) []domain.RankedChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}
