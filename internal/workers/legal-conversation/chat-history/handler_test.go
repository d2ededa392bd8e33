// internal/workers/legal-conversation/chat-history/handler_test.go
package chathistory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) History(sessionID string) (*models.Session, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		session  *models.Session
		err      error
		wantCode errors.ErrorCode
		wantLen  int
	}{
		{
			name:  "ordered turns",
			input: &Input{SessionID: "s-1"},
			session: &models.Session{
				ID:       "s-1",
				Turns:    []models.Turn{{Index: 0, Question: "q1"}, {Index: 1, Question: "q2"}},
				Metadata: models.SessionMetadata{MessageCount: 4},
			},
			wantLen: 2,
		},
		{
			name:     "unknown session",
			input:    &Input{SessionID: "gone"},
			err:      errors.NewSessionNotFoundError("gone"),
			wantCode: errors.ErrCodeSessionNotFound,
		},
		{
			name:     "missing id",
			input:    &Input{},
			wantCode: errors.ErrCodeInputInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockService{}
			if tt.input.SessionID != "" {
				if tt.session != nil {
					svc.On("History", tt.input.SessionID).Return(tt.session, nil)
				} else {
					svc.On("History", tt.input.SessionID).Return(nil, tt.err)
				}
			}

			h := NewHandler(HandlerOptions{Service: svc, Logger: logger.NewTestLogger(t)})
			out, err := h.Execute(context.Background(), tt.input)
			if tt.wantCode != "" {
				assert.True(t, errors.HasCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Len(t, out.Turns, tt.wantLen)
			assert.Equal(t, "q1", out.Turns[0].Question)
			assert.Equal(t, 4, out.Metadata.MessageCount)
		})
	}
}
