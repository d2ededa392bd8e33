package retrieval

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "legal-rag-workers/internal/common/errors"
	commonhttp "legal-rag-workers/internal/common/http"
)

const (
	EmbedPath  = "/api/ai/embed"
	RerankPath = "/api/ai/rerank"
)

// HTTPEmbedder calls the GenAI embed endpoint and keeps recent vectors in an
// LRU cache.
type HTTPEmbedder struct {
	client *commonhttp.Client
	model  string
	cache  *lru.Cache[string, []float32]
}

func NewHTTPEmbedder(client *commonhttp.Client, model string, cacheSize int) (*HTTPEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	return &HTTPEmbedder{client: client, model: model, cache: c}, nil
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.model + "\x00" + text
	if v, ok := e.cache.Get(key); ok {
		return append([]float32(nil), v...), nil
	}

	var out embedResponse
	if err := e.client.PostJSON(ctx, EmbedPath, embedRequest{Model: e.model, Text: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, apperrors.NewMalformedOutputError("embedding", "empty embedding")
	}

	e.cache.Add(key, append([]float32(nil), out.Embedding...))
	return out.Embedding, nil
}

// HTTPReranker calls the GenAI rerank endpoint.
type HTTPReranker struct {
	client *commonhttp.Client
	model  string
}

func NewHTTPReranker(client *commonhttp.Client, model string) *HTTPReranker {
	return &HTTPReranker{client: client, model: model}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	var out rerankResponse
	if err := r.client.PostJSON(ctx, RerankPath, rerankRequest{Model: r.model, Query: query, Documents: documents}, &out); err != nil {
		return nil, err
	}
	if len(out.Scores) != len(documents) {
		return nil, apperrors.NewMalformedOutputError("rerank", "score count does not match document count")
	}
	return out.Scores, nil
}
