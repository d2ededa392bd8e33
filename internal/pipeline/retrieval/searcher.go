// Package retrieval implements hybrid dense and sparse document retrieval
// with rank fusion and cross-encoder reranking.
package retrieval

import (
	"context"
	"fmt"

	"legal-rag-workers/internal/models"
)

// Mode selects the index a search runs against.
type Mode string

const (
	ModeDense  Mode = "dense"
	ModeSparse Mode = "sparse"
)

// Searcher runs one kind of search. Hits carry the index's raw scores.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]models.DocumentHit, error)
}

// SearchService is the retrieval service contract: one entry point, the
// index chosen by mode.
type SearchService interface {
	Search(ctx context.Context, query string, mode Mode, topK int) ([]models.DocumentHit, error)
}

// Router dispatches searches to the dense and sparse searchers.
type Router struct {
	Dense  Searcher
	Sparse Searcher
}

func (r *Router) Search(ctx context.Context, query string, mode Mode, topK int) ([]models.DocumentHit, error) {
	var s Searcher
	switch mode {
	case ModeDense:
		s = r.Dense
	case ModeSparse:
		s = r.Sparse
	default:
		return nil, fmt.Errorf("unknown search mode %q", mode)
	}
	if s == nil {
		return nil, fmt.Errorf("no %s searcher configured", mode)
	}
	return s.Search(ctx, query, topK)
}

// Reranker scores candidate texts against a query. Scores are aligned with
// the input order.
type Reranker interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
