package search

import (
	"sort"
)

// Fusion strategies for hybrid retrieval.
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Ranked is one hit of a single retriever, best first within its list.
type Ranked struct {
	ID    string
	Score float64
}

// FusedResult holds a chunk ID and its fused keyword/semantic scores.
type FusedResult struct {
	ID            string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeByMax scales scores to [0,1] by the largest score in the list.
func NormalizeByMax(results []Ranked) []Ranked {
	out := make([]Ranked, len(results))
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for i, r := range results {
		out[i] = Ranked{ID: r.ID}
		if maxScore > 0 {
			out[i].Score = r.Score / maxScore
		}
	}
	return out
}

// merge collects both lists into results keyed by ID, keeping first-seen order
// (semantic hits first) for stable tie breaking.
func merge(keyword, semantic []Ranked) ([]*FusedResult, map[string]*FusedResult) {
	byID := make(map[string]*FusedResult, len(keyword)+len(semantic))
	order := make([]*FusedResult, 0, len(keyword)+len(semantic))
	get := func(id string) *FusedResult {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{ID: id}
			byID[id] = r
			order = append(order, r)
		}
		return r
	}
	for _, r := range semantic {
		get(r.ID).SemanticScore = r.Score
	}
	for _, r := range keyword {
		get(r.ID).KeywordScore = r.Score
	}
	return order, byID
}

// Fuse merges keyword and semantic hits with weights. Keyword scores are
// max-normalized first; semantic scores are cosine similarities already in
// range. Results are sorted by fused score, ties in first-seen order.
func Fuse(keyword, semantic []Ranked, keywordWeight, semanticWeight float64) []*FusedResult {
	results, _ := merge(NormalizeByMax(keyword), semantic)
	for _, r := range results {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// FuseRRF merges the lists by reciprocal rank: each list contributes
// 1/(k+rank) with rank starting at 1.
func FuseRRF(keyword, semantic []Ranked, k int) []*FusedResult {
	if k <= 0 {
		k = 60
	}
	results, byID := merge(keyword, semantic)
	for rank, r := range semantic {
		byID[r.ID].Score += 1 / float64(k+rank+1)
	}
	for rank, r := range keyword {
		byID[r.ID].Score += 1 / float64(k+rank+1)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
