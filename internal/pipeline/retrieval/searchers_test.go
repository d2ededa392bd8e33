package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag-workers/internal/common/config"
	"legal-rag-workers/internal/common/database"
	apperrors "legal-rag-workers/internal/common/errors"
	commonhttp "legal-rag-workers/internal/common/http"
	"legal-rag-workers/internal/models"
)

// ==========================
// Elasticsearch
// ==========================

func newESSearcher(t *testing.T, handler http.HandlerFunc) *ElasticsearchSearcher {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	es, err := database.NewElasticsearch(config.ElasticsearchConfig{URL: server.URL}, nil)
	require.NoError(t, err)
	return NewElasticsearchSearcher(es.Client, "")
}

func TestElasticsearchSearcher_Search(t *testing.T) {
	s := newESSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/legal_documents/_search", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(7), body["size"])
		mm := body["query"].(map[string]interface{})["multi_match"].(map[string]interface{})
		assert.Equal(t, "consideration in contract", mm["query"])

		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"es-1","_score":11.5,"_source":{"id":"chunk-1","document_id":"doc-1","content":"Consideration must move from the promisee","case_title":"Tweddle v Atkinson","year":1861,"court":"QB"}},
			{"_id":"es-2","_score":4.2,"_source":{"content":"Sale of goods","legislation_title":"Sale of Goods Act 1979"}}
		]}}`))
	})

	hits, err := s.Search(context.Background(), "consideration in contract", 7)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "chunk-1", hits[0].ID)
	assert.Equal(t, 11.5, hits[0].Score)
	assert.Equal(t, "doc-1", hits[0].Metadata.DocumentID)
	assert.Equal(t, "Tweddle v Atkinson", hits[0].Metadata.Title)
	assert.Equal(t, models.SourceCase, hits[0].Metadata.SourceType)
	assert.Equal(t, 1861, hits[0].Metadata.Year)

	assert.Equal(t, "es-2", hits[1].ID)
	assert.Equal(t, models.SourceLegislation, hits[1].Metadata.SourceType)
}

func TestElasticsearchSearcher_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"unavailable", http.StatusServiceUnavailable, `{"error":"down"}`, apperrors.IsUpstream},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, apperrors.IsUpstream},
		{"missing index", http.StatusNotFound, `{"error":"index_not_found_exception"}`, func(err error) bool {
			return apperrors.HasCode(err, apperrors.ErrCodeInternal)
		}},
		{"garbage", http.StatusOK, `{"hits":`, apperrors.IsMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newESSearcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := s.Search(context.Background(), "q", 5)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}

// ==========================
// pgvector
// ==========================

type staticEmbedder struct {
	vec []float32
	err error
}

func (e staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vec, e.err
}

var vectorColumns = []string{"id", "document_id", "content", "case_title", "article_title", "legislation_title",
	"citation", "court", "jurisdiction", "year", "score"}

func TestPGVectorSearcher_Search(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewPGVectorSearcher(db, staticEmbedder{vec: []float32{0.1, 0.2, 0.3}}, "")
	require.NoError(t, err)

	rows := sqlmock.NewRows(vectorColumns).
		AddRow("chunk-1", "doc-1", "An offer is...", "Carlill v Carbolic Smoke Ball Co", nil, nil, "[1893] 1 QB 256", "EWCA", "England", 1893, 0.91).
		AddRow("chunk-2", nil, "Acceptance must...", nil, "Offer and acceptance", nil, nil, nil, nil, nil, 0.42)
	mock.ExpectQuery(`SELECT (.+) FROM legal_chunks ORDER BY embedding <=> \$1 LIMIT \$2`).
		WithArgs(sqlmock.AnyArg(), 5).
		WillReturnRows(rows)

	hits, err := s.Search(context.Background(), "what is an offer", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "chunk-1", hits[0].ID)
	assert.Equal(t, 0.91, hits[0].Score)
	assert.Equal(t, "[Case: Carlill v Carbolic Smoke Ball Co]", hits[0].Label())
	assert.Equal(t, 1893, hits[0].Metadata.Year)

	assert.Equal(t, "chunk-2", hits[1].Metadata.DocumentID)
	assert.Equal(t, models.SourceArticle, hits[1].Metadata.SourceType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorSearcher_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewPGVectorSearcher(db, staticEmbedder{vec: []float32{1}}, "legal_chunks")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT (.+) FROM legal_chunks`).WillReturnError(errors.New("connection reset by peer"))
	_, err = s.Search(context.Background(), "q", 5)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUpstreamUnavailable))

	embedErr := apperrors.NewUpstreamTimeoutError("embedding", context.DeadlineExceeded)
	s, err = NewPGVectorSearcher(db, staticEmbedder{err: embedErr}, "legal_chunks")
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "q", 5)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUpstreamTimeout))

	_, err = NewPGVectorSearcher(db, nil, "chunks; DROP TABLE x")
	assert.Error(t, err)
}

// ==========================
// Embedding and rerank endpoints
// ==========================

func genaiClient(t *testing.T, handler http.HandlerFunc) *commonhttp.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return commonhttp.NewClient(commonhttp.Options{Service: "genai", BaseURL: server.URL, Timeout: time.Second})
}

func TestHTTPEmbedder_CachesVectors(t *testing.T) {
	var calls int32
	client := genaiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, EmbedPath, r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.5, 0.25}})
	})

	e, err := NewHTTPEmbedder(client, "text-embedding-3-small", 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		vec, err := e.Embed(context.Background(), "what is an offer")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.25}, vec)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = e.Embed(context.Background(), "another question")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPEmbedder_EmptyVector(t *testing.T) {
	client := genaiClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	})
	e, err := NewHTTPEmbedder(client, "m", 0)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "q")
	assert.True(t, apperrors.IsMalformed(err))
}

func TestHTTPReranker(t *testing.T) {
	client := genaiClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		scores := make([]float64, len(req.Documents))
		for i := range scores {
			scores[i] = float64(i) / 10
		}
		if req.Query == "short" {
			scores = scores[:1]
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: scores})
	})
	r := NewHTTPReranker(client, "ms-marco-MiniLM-L-6-v2")

	scores, err := r.Score(context.Background(), "offer", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.1, 0.2}, scores)

	_, err = r.Score(context.Background(), "short", []string{"a", "b"})
	assert.True(t, apperrors.IsMalformed(err))
}
