package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/persistence"
)

type fakeSearcher struct {
	semantic []persistence.ScoredMessage
	keyword  []persistence.ScoredMessage
	counts   map[int64]int64
}

func (f *fakeSearcher) SemanticSearch(ctx context.Context, chatID int64, threadID *int64, queryVec []float32, k, maxCandidates int) ([]persistence.ScoredMessage, error) {
	return f.semantic, nil
}

func (f *fakeSearcher) FTSSearch(ctx context.Context, chatID int64, threadID *int64, tokens []string, k int) ([]persistence.ScoredMessage, error) {
	return f.keyword, nil
}

func (f *fakeSearcher) SenderMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error) {
	return f.counts, nil
}

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func baseCfg() config.ContextConfig {
	return config.ContextConfig{
		SemanticWeight:       0.6,
		KeywordWeight:        0.4,
		TemporalWeight:       1.0,
		TemporalHalfLifeDays: 7,
		MaxSearchCandidates:  500,
		RelevanceThreshold:   0,
	}
}

func TestRetriever_MergesSemanticAndKeywordHits(t *testing.T) {
	uid := int64(1)
	now := time.Unix(1_000_000, 0)
	msgA := model.Message{ID: 1, ChatID: 5, UserID: &uid, TS: now.Unix(), Text: "hello world"}
	msgB := model.Message{ID: 2, ChatID: 5, UserID: &uid, TS: now.Unix(), Text: "goodbye world"}

	searcher := &fakeSearcher{
		semantic: []persistence.ScoredMessage{{Message: msgA, Score: 0.9}},
		keyword:  []persistence.ScoredMessage{{Message: msgB, Score: 0.5}},
		counts:   map[int64]int64{1: 10},
	}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1, 0}}, baseCfg())
	r.now = func() time.Time { return now }

	results, err := r.Search(context.Background(), Request{QueryText: "hello", ChatID: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	ids := []int64{results[0].Message.ID, results[1].Message.ID}
	assert.Contains(t, ids, int64(1))
	assert.Contains(t, ids, int64(2))
}

func TestRetriever_SortsByFinalScoreDescending(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	uid := int64(1)
	high := model.Message{ID: 1, ChatID: 5, UserID: &uid, TS: now.Unix()}
	low := model.Message{ID: 2, ChatID: 5, UserID: &uid, TS: now.Unix()}

	searcher := &fakeSearcher{
		semantic: []persistence.ScoredMessage{
			{Message: low, Score: 0.1},
			{Message: high, Score: 0.9},
		},
	}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, baseCfg())
	r.now = func() time.Time { return now }

	results, err := r.Search(context.Background(), Request{QueryText: "x", ChatID: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].Message.ID)
	assert.Greater(t, results[0].Final, results[1].Final)
}

func TestRetriever_AddressedMessageGetsTypeBoost(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	addressed := model.Message{ID: 1, ChatID: 5, TS: now.Unix(), Addressed: true}
	plain := model.Message{ID: 2, ChatID: 5, TS: now.Unix(), Addressed: false}

	searcher := &fakeSearcher{semantic: []persistence.ScoredMessage{
		{Message: addressed, Score: 0.5},
		{Message: plain, Score: 0.5},
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, baseCfg())
	r.now = func() time.Time { return now }

	results, err := r.Search(context.Background(), Request{QueryText: "x", ChatID: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	var addressedResult, plainResult Result
	for _, res := range results {
		if res.Message.Addressed {
			addressedResult = res
		} else {
			plainResult = res
		}
	}
	assert.Equal(t, 1.5, addressedResult.TypeBoost)
	assert.Equal(t, 1.0, plainResult.TypeBoost)
	assert.Greater(t, addressedResult.Final, plainResult.Final)
}

func TestRetriever_OlderMessagesDecayTowardZero(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	recent := model.Message{ID: 1, ChatID: 5, TS: now.Unix()}
	old := model.Message{ID: 2, ChatID: 5, TS: now.Add(-30 * 24 * time.Hour).Unix()}

	searcher := &fakeSearcher{semantic: []persistence.ScoredMessage{
		{Message: recent, Score: 0.5},
		{Message: old, Score: 0.5},
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, baseCfg())
	r.now = func() time.Time { return now }

	results, err := r.Search(context.Background(), Request{QueryText: "x", ChatID: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	byID := map[int64]Result{}
	for _, res := range results {
		byID[res.Message.ID] = res
	}
	assert.Greater(t, byID[1].Final, byID[2].Final)
}

func TestRetriever_TimeRangeExcludesOlderMessages(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	inRange := model.Message{ID: 1, ChatID: 5, TS: now.Unix()}
	outOfRange := model.Message{ID: 2, ChatID: 5, TS: now.Add(-10 * 24 * time.Hour).Unix()}

	searcher := &fakeSearcher{semantic: []persistence.ScoredMessage{
		{Message: inRange, Score: 0.5},
		{Message: outOfRange, Score: 0.5},
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, baseCfg())
	r.now = func() time.Time { return now }

	results, err := r.Search(context.Background(), Request{QueryText: "x", ChatID: 5, Limit: 10, TimeRangeDays: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Message.ID)
}

func TestRetriever_NoHitsReturnsEmptyResult(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewRetriever(searcher, &fakeEmbedder{vec: nil}, baseCfg())
	results, err := r.Search(context.Background(), Request{QueryText: "", ChatID: 5, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriever_LimitTruncatesResults(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	var scored []persistence.ScoredMessage
	for i := int64(1); i <= 5; i++ {
		scored = append(scored, persistence.ScoredMessage{
			Message: model.Message{ID: i, ChatID: 5, TS: now.Unix()},
			Score:   float64(i) / 10,
		})
	}
	searcher := &fakeSearcher{semantic: scored}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, baseCfg())
	r.now = func() time.Time { return now }

	results, err := r.Search(context.Background(), Request{QueryText: "x", ChatID: 5, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
