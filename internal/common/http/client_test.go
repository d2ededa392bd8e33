package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "legal-rag-workers/internal/common/errors"
)

type echoResponse struct {
	Text string `json:"text"`
}

func TestPostJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["prompt"])

		_ = json.NewEncoder(w).Encode(echoResponse{Text: "world"})
	}))
	defer server.Close()

	c := NewClient(Options{Service: "genai", BaseURL: server.URL + "/", APIKey: "secret", Timeout: time.Second})

	var out echoResponse
	require.NoError(t, c.PostJSON(context.Background(), "/api/ai/generate", map[string]string{"prompt": "hello"}, &out))
	assert.Equal(t, "world", out.Text)
}

func TestPostJSON_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    apperrors.ErrorCode
	}{
		{
			name:    "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			code:    apperrors.ErrCodeUpstreamUnavailable,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			code:    apperrors.ErrCodeUpstreamUnavailable,
		},
		{
			name:    "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			code:    apperrors.ErrCodeInternal,
		},
		{
			name:    "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{not json")) },
			code:    apperrors.ErrCodeMalformedOutput,
		},
		{
			name: "slow upstream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-r.Context().Done():
				}
			},
			code: apperrors.ErrCodeUpstreamTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := NewClient(Options{Service: "genai", BaseURL: server.URL, Timeout: 50 * time.Millisecond})
			var out echoResponse
			err := c.PostJSON(context.Background(), "/x", map[string]string{}, &out)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err), err.Error())
		})
	}
}

func TestPostJSON_UnreachableIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(Options{Service: "rerank", BaseURL: url, Timeout: time.Second})
	err := c.PostJSON(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestPostJSON_RateLimited(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(Options{Service: "genai", BaseURL: server.URL, RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.PostJSON(context.Background(), "/x", nil, nil))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
