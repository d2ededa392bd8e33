// Package service is the boundary the job workers call: one pipeline entry
// point and the conversation operations. Every error leaving it is either
// caller-actionable (INPUT_INVALID, SESSION_NOT_FOUND) or a
// *errors.PipelineFailure.
package service

import (
	"context"
	stderrors "errors"
	"time"

	"legal-rag-workers/internal/common/aws"
	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/conversation"
	"legal-rag-workers/internal/models"
)

type Pipeline interface {
	RunWithContext(ctx context.Context, raw string, conv models.Conversation, opts models.Options) (*models.PipelineResult, error)
}

type Conversations interface {
	Start(ctx context.Context, question string, opts models.Options) (*conversation.Reply, error)
	Continue(ctx context.Context, sessionID, question string, opts models.Options) (*conversation.Reply, error)
	History(sessionID string) ([]models.Turn, error)
	Session(sessionID string) (*models.Session, error)
	Delete(sessionID string) bool
}

type Alerter interface {
	Notify(ctx context.Context, a aws.Alert)
}

type Service struct {
	pipeline      Pipeline
	conversations Conversations
	alerts        Alerter
	logger        logger.Logger
}

// New wires the service. alerts may be nil.
func New(pipeline Pipeline, conversations Conversations, alerts Alerter, log logger.Logger) *Service {
	return &Service{
		pipeline:      pipeline,
		conversations: conversations,
		alerts:        alerts,
		logger:        log.WithFields(map[string]interface{}{"component": "service"}),
	}
}

// RunPipeline answers question. With EnableFollowup the run opens a
// conversation session and the result carries its id.
func (s *Service) RunPipeline(ctx context.Context, question string, opts models.Options) (*models.PipelineResult, error) {
	if opts.EnableFollowup {
		reply, err := s.StartConversation(ctx, question, opts)
		if err != nil {
			return nil, err
		}
		return reply.Result, nil
	}

	res, err := s.pipeline.RunWithContext(ctx, question, models.Conversation{}, opts)
	if err != nil {
		return nil, s.boundary(ctx, "", err)
	}
	return res, nil
}

func (s *Service) StartConversation(ctx context.Context, question string, opts models.Options) (*conversation.Reply, error) {
	reply, err := s.conversations.Start(ctx, question, opts)
	if err != nil {
		return nil, s.boundary(ctx, "", err)
	}
	return reply, nil
}

func (s *Service) ContinueConversation(ctx context.Context, sessionID, question string, opts models.Options) (*conversation.Reply, error) {
	reply, err := s.conversations.Continue(ctx, sessionID, question, opts)
	if err != nil {
		return nil, s.boundary(ctx, sessionID, err)
	}
	return reply, nil
}

// History returns the session with its turns in order.
func (s *Service) History(sessionID string) (*models.Session, error) {
	sess, err := s.conversations.Session(sessionID)
	if err != nil {
		return nil, s.boundary(context.Background(), sessionID, err)
	}
	return sess, nil
}

// DeleteConversation is idempotent; it reports whether a session existed.
func (s *Service) DeleteConversation(sessionID string) bool {
	return s.conversations.Delete(sessionID)
}

// boundary turns err into what callers may see and raises an alert for
// every pipeline failure.
func (s *Service) boundary(ctx context.Context, sessionID string, err error) error {
	if apperrors.IsCallerActionable(err) {
		return err
	}

	var pf *apperrors.PipelineFailure
	if !stderrors.As(err, &pf) {
		pf = apperrors.NewPipelineFailure(apperrors.ErrCodePipelineFailed, "", err)
	}

	s.logger.Error("pipeline failure at service boundary", map[string]interface{}{
		"cause":     string(pf.Cause),
		"stage":     pf.Stage,
		"sessionId": sessionID,
		"error":     err.Error(),
	})
	if s.alerts != nil {
		s.alerts.Notify(ctx, aws.Alert{
			Cause:      pf.Cause,
			Stage:      pf.Stage,
			Message:    pf.Message,
			SessionID:  sessionID,
			OccurredAt: time.Now().UTC(),
		})
	}
	return pf
}
