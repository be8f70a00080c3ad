package search

import (
	"sort"

	"github.com/lballaty/myragdb/internal/index/keyword"
	"github.com/lballaty/myragdb/internal/index/vector"
)

// DefaultRRFConstant is the standard RRF smoothing parameter; k=60 is
// the empirically validated choice across retrieval systems.
const DefaultRRFConstant = 60

// fusedResult is one document after RRF fusion, before hydration.
type fusedResult struct {
	DocID        string
	RRFScore     float64
	KeywordScore float64
	KeywordRank  int // 1-indexed, 0 if absent
	VectorScore  float64
	VectorRank   int // 1-indexed, 0 if absent
	SourceID     string
	InBoth       bool
	Keyword      *keyword.Result // keyword-side hit for hydration
}

// fuser merges ranked lists with Reciprocal Rank Fusion.
//
//	score(d) = Σ_backend 1 / (k + rank_backend(d))
//
// Ranks are 1-indexed; a document absent from one backend gets no
// contribution from it. Only ranks enter the score, never the
// backends' own score scales.
type fuser struct {
	k int
}

func newFuser(k int) *fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &fuser{k: k}
}

// fuse merges keyword and vector hits by document ID.
// The output is sorted by RRF score with deterministic tie-breaks and
// normalized so the top result scores 1.0.
func (f *fuser) fuse(kw []*keyword.Result, vec []*vector.Result) []*fusedResult {
	if len(kw) == 0 && len(vec) == 0 {
		return []*fusedResult{}
	}

	scores := make(map[string]*fusedResult, len(kw)+len(vec))

	getOrCreate := func(id string) *fusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &fusedResult{DocID: id}
		scores[id] = r
		return r
	}

	for rank, hit := range kw {
		r := getOrCreate(hit.DocID)
		r.KeywordScore = hit.Score
		r.KeywordRank = rank + 1
		r.SourceID = hit.SourceID
		r.Keyword = hit
		r.RRFScore += 1.0 / float64(f.k+rank+1)
	}

	for rank, hit := range vec {
		r := getOrCreate(hit.DocID)
		r.VectorScore = hit.Score
		r.VectorRank = rank + 1
		if r.SourceID == "" {
			r.SourceID = hit.SourceID
		}
		r.RRFScore += 1.0 / float64(f.k+rank+1)
		if r.KeywordRank > 0 {
			r.InBoth = true
		}
	}

	results := make([]*fusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
	normalize(results)
	return results
}

// less orders fused results deterministically: RRF score, then both
// lists beating one, then keyword score, then ID.
func less(a, b *fusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBoth != b.InBoth {
		return a.InBoth
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.DocID < b.DocID
}

// normalize scales RRF scores so the best result is 1.0.
func normalize(results []*fusedResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].RRFScore
	if max == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= max
	}
}
