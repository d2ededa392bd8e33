// internal/workers/legal-conversation/chat-delete/handler.go
package chatdelete

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
)

const TaskType = "legal-chat-delete"

type Service interface {
	DeleteConversation(sessionID string) bool
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

// Execute deletes the session. An unknown session is not an error.
func (h *Handler) Execute(_ context.Context, input *Input) (*Output, error) {
	if input.SessionID == "" {
		return nil, errors.NewInputError("sessionId is required")
	}
	deleted := h.service.DeleteConversation(input.SessionID)
	h.logger.Info("conversation deleted", map[string]interface{}{
		"sessionId": input.SessionID,
		"existed":   deleted,
	})
	return &Output{SessionID: input.SessionID, Deleted: deleted}, nil
}
