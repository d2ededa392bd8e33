package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/models"
)

type fakeSearch struct {
	mu      sync.Mutex
	results map[Mode][]models.DocumentHit
	errs    map[Mode]error
	calls   map[Mode]int
}

func (f *fakeSearch) Search(_ context.Context, _ string, mode Mode, topK int) ([]models.DocumentHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[Mode]int{}
	}
	f.calls[mode]++
	if err := f.errs[mode]; err != nil {
		return nil, err
	}
	out := f.results[mode]
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type fakeReranker struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeReranker) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(documents))
	for i, d := range documents {
		out[i] = f.scores[d]
	}
	return out, nil
}

func testRetriever(t *testing.T, search SearchService, reranker Reranker) *HybridRetriever {
	p := retry.DefaultPolicy("retrieval")
	p.InitialDelay = time.Millisecond
	p.MaxAttempts = 2
	return NewHybridRetriever(search, reranker, HybridOptions{CandidatePool: 30, RRFK: 60, Retry: p}, logger.NewTestLogger(t))
}

func unavailable(service string) error {
	return apperrors.NewUpstreamUnavailableError(service, errors.New("connection refused"))
}

func TestRetrieve_RerankThresholdAndTopK(t *testing.T) {
	search := &fakeSearch{results: map[Mode][]models.DocumentHit{
		ModeDense:  {hit("a", 0.9), hit("b", 0.8), hit("c", 0.7)},
		ModeSparse: {hit("d", 10), hit("a", 5)},
	}}
	reranker := &fakeReranker{scores: map[string]float64{
		"content of a": 0.95,
		"content of b": 0.2,
		"content of c": 0.6,
		"content of d": 0.6,
	}}

	got, err := testRetriever(t, search, reranker).Retrieve(context.Background(), "offer", 2, 0.3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(got), "c and d tie at 0.6, c wins on id")
	assert.Equal(t, 0.95, got[0].Score)
	assert.Equal(t, 1, reranker.calls)
}

func TestRetrieve_ScoresAreClamped(t *testing.T) {
	search := &fakeSearch{results: map[Mode][]models.DocumentHit{ModeDense: {hit("a", 1), hit("b", 0.5)}}}
	reranker := &fakeReranker{scores: map[string]float64{"content of a": 3.2, "content of b": -1}}

	got, err := testRetriever(t, search, reranker).Retrieve(context.Background(), "offer", 5, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 0.0, got[1].Score)
}

func TestRetrieve_OneModeDown(t *testing.T) {
	search := &fakeSearch{
		results: map[Mode][]models.DocumentHit{ModeSparse: {hit("s1", 4), hit("s2", 2)}},
		errs:    map[Mode]error{ModeDense: unavailable("postgres")},
	}

	got, err := testRetriever(t, search, nil).Retrieve(context.Background(), "offer", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids(got))
	assert.Equal(t, 2, search.calls[ModeDense], "dense retried up to the attempt budget")
}

func TestRetrieve_BothModesDown(t *testing.T) {
	search := &fakeSearch{errs: map[Mode]error{
		ModeDense:  unavailable("postgres"),
		ModeSparse: unavailable("elasticsearch"),
	}}

	_, err := testRetriever(t, search, nil).Retrieve(context.Background(), "offer", 5, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestRetrieve_RerankFailureFallsBackToFusion(t *testing.T) {
	search := &fakeSearch{results: map[Mode][]models.DocumentHit{
		ModeDense:  {hit("a", 0.9), hit("b", 0.5)},
		ModeSparse: {hit("a", 3)},
	}}
	reranker := &fakeReranker{err: unavailable("rerank")}

	got, err := testRetriever(t, search, reranker).Retrieve(context.Background(), "offer", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1, "b normalises to 0 and falls below the threshold")
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 2, reranker.calls)
}

func TestRetrieve_NoCandidates(t *testing.T) {
	reranker := &fakeReranker{}
	got, err := testRetriever(t, &fakeSearch{}, reranker).Retrieve(context.Background(), "offer", 5, 0.3)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, reranker.calls)
}

func TestRetrieve_EverythingBelowThreshold(t *testing.T) {
	search := &fakeSearch{results: map[Mode][]models.DocumentHit{ModeDense: {hit("a", 0.9)}}}
	reranker := &fakeReranker{scores: map[string]float64{"content of a": 0.1}}

	got, err := testRetriever(t, search, reranker).Retrieve(context.Background(), "offer", 5, 0.3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRouter(t *testing.T) {
	dense := searcherFunc(func(context.Context, string, int) ([]models.DocumentHit, error) {
		return []models.DocumentHit{hit("d", 1)}, nil
	})
	r := &Router{Dense: dense}

	got, err := r.Search(context.Background(), "q", ModeDense, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(got))

	_, err = r.Search(context.Background(), "q", ModeSparse, 5)
	assert.Error(t, err)
	_, err = r.Search(context.Background(), "q", Mode("fuzzy"), 5)
	assert.Error(t, err)
}

type searcherFunc func(ctx context.Context, query string, topK int) ([]models.DocumentHit, error)

func (f searcherFunc) Search(ctx context.Context, query string, topK int) ([]models.DocumentHit, error) {
	return f(ctx, query, topK)
}
