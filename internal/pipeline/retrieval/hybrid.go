package retrieval

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/models"
)

const DefaultCandidatePool = 30

type HybridOptions struct {
	// CandidatePool is how many fused candidates are reranked.
	CandidatePool int
	RRFK          int
	Retry         retry.Policy
}

// HybridRetriever queries both indices, fuses the rankings and reranks the
// fused candidates.
type HybridRetriever struct {
	search   SearchService
	reranker Reranker
	opts     HybridOptions
	logger   logger.Logger
}

func NewHybridRetriever(search SearchService, reranker Reranker, opts HybridOptions, log logger.Logger) *HybridRetriever {
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = DefaultCandidatePool
	}
	if opts.RRFK <= 0 {
		opts.RRFK = DefaultRRFK
	}
	if opts.Retry.Name == "" {
		opts.Retry = retry.DefaultPolicy("retrieval")
	}
	return &HybridRetriever{
		search:   search,
		reranker: reranker,
		opts:     opts,
		logger:   log.WithFields(map[string]interface{}{"component": "retrieval"}),
	}
}

// Retrieve returns at most topK hits scoring at least threshold, ordered by
// score descending and id ascending. An empty result is not an error. The
// call fails only when both indices are unavailable.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]models.DocumentHit, error) {
	pool := r.opts.CandidatePool
	if pool < topK {
		pool = topK
	}

	// both searches always run to completion; their errors are judged together
	var (
		g                   errgroup.Group
		dense, sparse       []models.DocumentHit
		denseErr, sparseErr error
	)
	g.Go(func() error {
		dense, denseErr = r.searchMode(ctx, query, ModeDense, pool)
		return nil
	})
	g.Go(func() error {
		sparse, sparseErr = r.searchMode(ctx, query, ModeSparse, pool)
		return nil
	})
	_ = g.Wait()

	switch {
	case denseErr != nil && sparseErr != nil:
		joined := errors.Join(denseErr, sparseErr)
		if ctx.Err() != nil {
			return nil, apperrors.NewUpstreamTimeoutError("retrieval", joined)
		}
		return nil, apperrors.NewUpstreamUnavailableError("retrieval", joined)
	case denseErr != nil:
		r.logger.Warn("dense search failed, using sparse results only", map[string]interface{}{"error": denseErr.Error()})
	case sparseErr != nil:
		r.logger.Warn("sparse search failed, using dense results only", map[string]interface{}{"error": sparseErr.Error()})
	}

	candidates := FuseRRF(r.opts.RRFK, dense, sparse)
	if len(candidates) == 0 {
		return []models.DocumentHit{}, nil
	}
	if len(candidates) > pool {
		candidates = candidates[:pool]
	}

	scored := r.rerank(ctx, query, candidates)

	out := make([]models.DocumentHit, 0, topK)
	for _, h := range scored {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	models.SortHits(out)
	if len(out) > topK {
		out = out[:topK]
	}

	r.logger.Debug("retrieval complete", map[string]interface{}{
		"dense":      len(dense),
		"sparse":     len(sparse),
		"candidates": len(candidates),
		"returned":   len(out),
	})
	return out, nil
}

func (r *HybridRetriever) searchMode(ctx context.Context, query string, mode Mode, topK int) ([]models.DocumentHit, error) {
	p := r.opts.Retry
	p.Name = "search:" + string(mode)
	return retry.Do(ctx, p, func(ctx context.Context) ([]models.DocumentHit, error) {
		return r.search.Search(ctx, query, mode, topK)
	}, nil)
}

// rerank replaces fused scores with reranker scores clamped to [0,1]. When
// the reranker is missing or fails, min-max normalised fused scores are used.
func (r *HybridRetriever) rerank(ctx context.Context, query string, candidates []models.DocumentHit) []models.DocumentHit {
	if r.reranker == nil {
		return normalizeMinMax(candidates)
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
		if texts[i] == "" {
			texts[i] = c.Metadata.Title
		}
	}

	p := r.opts.Retry
	p.Name = "rerank"
	scores, err := retry.Do(ctx, p, func(ctx context.Context) ([]float64, error) {
		return r.reranker.Score(ctx, query, texts)
	}, func(scores []float64) error {
		if len(scores) != len(texts) {
			return apperrors.NewMalformedOutputError("rerank", "score count does not match candidate count")
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("rerank failed, using normalised fusion scores", map[string]interface{}{"error": err.Error()})
		return normalizeMinMax(candidates)
	}

	out := append([]models.DocumentHit(nil), candidates...)
	for i := range out {
		out[i].Score = clamp01(scores[i])
	}
	return out
}
