package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lballaty/myragdb/internal/index/keyword"
	"github.com/lballaty/myragdb/internal/index/vector"
)

func kwHit(docID string, score float64) *keyword.Result {
	return &keyword.Result{DocID: docID, SourceID: "src-a", Score: score}
}

func vecHit(docID string, score float64) *vector.Result {
	return &vector.Result{DocID: docID, ChunkID: docID + "::0", SourceID: "src-a", Score: score}
}

func TestFuse_DocumentInBothListsRanksFirst(t *testing.T) {
	kw := []*keyword.Result{kwHit("shared", 9.0), kwHit("kw-only", 8.0)}
	vec := []*vector.Result{vecHit("vec-only", 0.9), vecHit("shared", 0.8)}

	fused := newFuser(DefaultRRFConstant).fuse(kw, vec)
	require.Len(t, fused, 3)

	assert.Equal(t, "shared", fused[0].DocID)
	assert.True(t, fused[0].InBoth)
	assert.Equal(t, 1.0, fused[0].RRFScore)
	assert.False(t, fused[1].InBoth)
	assert.False(t, fused[2].InBoth)
}

func TestFuse_AbsentBackendContributesNothing(t *testing.T) {
	// Two single-side documents at the same rank must score identically:
	// the side that missed adds zero, not a penalty.
	kw := []*keyword.Result{kwHit("kw-only", 5.0)}
	vec := []*vector.Result{vecHit("vec-only", 0.5)}

	fused := newFuser(DefaultRRFConstant).fuse(kw, vec)
	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].RRFScore, fused[1].RRFScore)
}

func TestFuse_RanksNotScoresDecideOrder(t *testing.T) {
	// A huge BM25 score at rank 2 still loses to rank 1.
	kw := []*keyword.Result{kwHit("first", 0.1), kwHit("second", 1000.0)}

	fused := newFuser(DefaultRRFConstant).fuse(kw, nil)
	require.Len(t, fused, 2)
	assert.Equal(t, "first", fused[0].DocID)
	assert.Greater(t, fused[0].RRFScore, fused[1].RRFScore)
}

func TestFuse_TopScoreNormalizedToOne(t *testing.T) {
	kw := []*keyword.Result{kwHit("a", 3.0), kwHit("b", 2.0), kwHit("c", 1.0)}

	fused := newFuser(DefaultRRFConstant).fuse(kw, nil)
	require.Len(t, fused, 3)
	assert.Equal(t, 1.0, fused[0].RRFScore)
	for _, f := range fused[1:] {
		assert.Less(t, f.RRFScore, 1.0)
		assert.Greater(t, f.RRFScore, 0.0)
	}
}

func TestFuse_EmptyInputs(t *testing.T) {
	fused := newFuser(DefaultRRFConstant).fuse(nil, nil)
	assert.Empty(t, fused)
}

func TestFuse_TieBreaksAreDeterministic(t *testing.T) {
	// Same rank on opposite sides ties on RRF score; the keyword-side
	// document wins on its BM25 score, then IDs order the rest.
	kw := []*keyword.Result{kwHit("zzz", 4.0)}
	vec := []*vector.Result{vecHit("aaa", 0.9)}

	for i := 0; i < 5; i++ {
		fused := newFuser(DefaultRRFConstant).fuse(kw, vec)
		require.Len(t, fused, 2)
		assert.Equal(t, "zzz", fused[0].DocID)
		assert.Equal(t, "aaa", fused[1].DocID)
	}
}

func TestFuse_KeywordHitCarriedForHydration(t *testing.T) {
	hit := kwHit("doc", 2.0)
	hit.Path = "internal/a.go"

	fused := newFuser(DefaultRRFConstant).fuse([]*keyword.Result{hit}, nil)
	require.Len(t, fused, 1)
	require.NotNil(t, fused[0].Keyword)
	assert.Equal(t, "internal/a.go", fused[0].Keyword.Path)
	assert.Equal(t, "src-a", fused[0].SourceID)
}
