package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/models"
)

const DefaultSearchIndex = "legal_documents"

var searchFields = []string{"content", "case_title^2", "legislation_title^2", "article_title^2", "citation"}

// ElasticsearchSearcher is the sparse (BM25) searcher.
type ElasticsearchSearcher struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSearcher(client *elasticsearch.Client, index string) *ElasticsearchSearcher {
	if index == "" {
		index = DefaultSearchIndex
	}
	return &ElasticsearchSearcher{client: client, index: index}
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildMultiMatch(query string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": searchFields,
				"type":   "best_fields",
			},
		},
	}
}

func (s *ElasticsearchSearcher) Search(ctx context.Context, query string, topK int) ([]models.DocumentHit, error) {
	body, err := json.Marshal(buildMultiMatch(query, topK))
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("encode search body: %w", err))
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, apperrors.NewUpstreamTimeoutError("elasticsearch", err)
		}
		return nil, apperrors.NewUpstreamUnavailableError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		statusErr := fmt.Errorf("search %s: %s", s.index, res.Status())
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return nil, apperrors.NewUpstreamUnavailableError("elasticsearch", statusErr).
				WithMetadata("status", res.StatusCode)
		}
		return nil, apperrors.NewInternalError(statusErr)
	}

	var r esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewMalformedOutputError("elasticsearch", fmt.Sprintf("decode search response: %v", err))
	}

	hits := make([]models.DocumentHit, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		id := h.ID
		if v, ok := h.Source["id"].(string); ok && v != "" {
			id = v
		}
		docID, _ := h.Source["document_id"].(string)
		if docID == "" {
			docID = id
		}
		content, _ := h.Source["content"].(string)
		hits = append(hits, models.DocumentHit{
			ID:       id,
			Score:    h.Score,
			Content:  content,
			Metadata: models.MetadataFromFields(docID, h.Source),
		})
	}
	return hits, nil
}
