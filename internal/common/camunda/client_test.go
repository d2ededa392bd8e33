package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag-workers/internal/common/errors"
)

func TestIsRetryableZeebeError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"rpc error: code = Unavailable desc = connection refused", true},
		{"context deadline exceeded", true},
		{"write: broken pipe", true},
		{"NOT_FOUND: job 12 not found", false},
		{"permission denied", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableZeebeError(stderrors.New(tt.msg)))
		})
	}
}

func TestMapZeebeError(t *testing.T) {
	assert.Equal(t, errors.ErrCodeUpstreamTimeout, errors.CodeOf(mapZeebeError(stderrors.New("deadline exceeded"), "complete", 2)))
	assert.Equal(t, errors.ErrCodeUpstreamUnavailable, errors.CodeOf(mapZeebeError(stderrors.New("connection reset by peer"), "complete", 0)))
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(mapZeebeError(stderrors.New("job not found"), "complete", 0)))

	err := mapZeebeError(stderrors.New("unavailable"), "fail", 2)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExecuteWithRetry(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return stderrors.New("connection refused")
			}
			return nil
		}, "complete")
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent stops", func(t *testing.T) {
		calls := 0
		err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
			calls++
			return stderrors.New("job not found")
		}, "complete")
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient exhausts", func(t *testing.T) {
		calls := 0
		err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
			calls++
			return stderrors.New("unavailable")
		}, "complete")
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errors.IsUpstream(err))
	})
}
