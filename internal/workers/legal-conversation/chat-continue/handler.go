// internal/workers/legal-conversation/chat-continue/handler.go
package chatcontinue

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"legal-rag-workers/internal/common/camunda"
	"legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/metrics"
	"legal-rag-workers/internal/common/validation"
	"legal-rag-workers/internal/conversation"
	"legal-rag-workers/internal/models"
)

const TaskType = "legal-chat-continue"

type Service interface {
	ContinueConversation(ctx context.Context, sessionID, question string, opts models.Options) (*conversation.Reply, error)
}

type HandlerOptions struct {
	Config  *Config
	Service Service
	Schema  *validation.Schema
	Logger  logger.Logger
}

type Handler struct {
	config       *Config
	service      Service
	schema       *validation.Schema
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg = LoadConfig(nil)
	}
	log := opts.Logger.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		service:      opts.Service,
		schema:       opts.Schema,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"workflowKey": job.GetProcessInstanceKey(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := camunda.DecodeVariables(job, h.schema, &input); err != nil {
		metrics.ObserveJob(TaskType, started, string(errors.CodeOf(err)))
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		metrics.ObserveJob(TaskType, started, string(errors.Normalize(err).Code))
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	camunda.CompleteJob(client, job, output, h.logger)
	metrics.ObserveJob(TaskType, started, "")
}

// Execute answers a follow-up in the session named by input.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	reply, err := h.service.ContinueConversation(ctx, input.SessionID, input.Question, models.Options{
		TopK:           input.TopK,
		ScoreThreshold: input.ScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	docs := reply.Turn.Answer.Documents
	if docs == nil {
		docs = []models.DocumentHit{}
	}
	h.logger.Info("conversation continued", map[string]interface{}{
		"sessionId":       reply.SessionID,
		"turn":            reply.Turn.Index,
		"previousContext": reply.Turn.PreviousContext,
	})
	return &Output{
		SessionID:           reply.SessionID,
		Answer:              reply.Turn.Answer.Text,
		Documents:           docs,
		Turn:                reply.Turn.Index,
		PreviousContextUsed: reply.Turn.PreviousContext,
	}, nil
}
