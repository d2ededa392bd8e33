package service

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"legal-rag-workers/internal/common/config"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/observability"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/conversation"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/answerer"
	"legal-rag-workers/internal/pipeline/cache"
	"legal-rag-workers/internal/pipeline/decomposer"
	"legal-rag-workers/internal/pipeline/llm"
	"legal-rag-workers/internal/pipeline/orchestrator"
	"legal-rag-workers/internal/pipeline/retrieval"
	"legal-rag-workers/internal/pipeline/synthesizer"
)

// Components are the external collaborators the pipeline runs on. Redis may
// be nil unless the cache backend is redis; Alerter and Observability may be
// nil.
type Components struct {
	Completer     llm.Completer
	Search        retrieval.SearchService
	Reranker      retrieval.Reranker
	Redis         *redis.Client
	Alerter       Alerter
	Observability *observability.Observability
}

// Stack is the assembled core together with the parts the process needs to
// drive directly.
type Stack struct {
	Service       *Service
	Orchestrator  *orchestrator.Orchestrator
	Conversations *conversation.Manager
	Cache         *cache.Store
}

// Build assembles the pipeline, the conversation manager and the service
// from cfg.
func Build(cfg *config.Config, c Components, log logger.Logger) (*Stack, error) {
	if c.Completer == nil || c.Search == nil {
		return nil, fmt.Errorf("completer and search service are required")
	}

	store, err := cache.FromConfig(cfg.Cache, cache.Deps{Redis: c.Redis}, log)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	p := cfg.Pipeline
	names := cfg.APIs.GenAI.Models
	policy := func(name string) retry.Policy {
		pol := retry.DefaultPolicy(name)
		if p.MaxAttempts > 0 {
			pol.MaxAttempts = p.MaxAttempts
		}
		return pol
	}

	hybrid := retrieval.NewHybridRetriever(c.Search, c.Reranker, retrieval.HybridOptions{
		CandidatePool: p.CandidatePool,
		RRFK:          p.RRFK,
		Retry:         policy("retrieval"),
	}, log)

	orch := orchestrator.New(orchestrator.Deps{
		Decomposer: decomposer.New(c.Completer, decomposer.Options{
			Model:        names.Decomposition,
			MinQuestions: p.MinSubQuestions,
			MaxQuestions: p.MaxSubQuestions,
			Retry:        policy(decomposer.Name),
		}, log),
		Retriever: hybrid,
		Answerer: answerer.New(c.Completer, answerer.Options{
			Model: names.Answer,
			Retry: policy(answerer.Name),
		}, log),
		Synthesizer: synthesizer.New(c.Completer, synthesizer.Options{
			Model: names.Synthesis,
			Retry: policy(synthesizer.Name),
		}, log),
		Cache:         store,
		Observability: c.Observability,
	}, orchestrator.Options{
		Defaults: models.RunSettings{TopK: p.TopK, ScoreThreshold: p.ScoreThreshold},
		Models: []string{
			names.Decomposition, names.Answer, names.Synthesis, names.Embedding, names.Rerank,
		},
		MaxConcurrency:     p.MaxConcurrency,
		SubQuestionTimeout: config.GetDuration(p.SubQuestionTimeout),
		DecomposeTimeout:   config.GetDuration(p.DecomposeTimeout),
		SynthesizeTimeout:  config.GetDuration(p.SynthesizeTimeout),
	}, log)

	conv := cfg.Conversation
	manager := conversation.NewManager(orch, conversation.Options{
		SessionTTL:      config.GetDuration(conv.SessionTTL),
		SweepInterval:   config.GetDuration(conv.SweepInterval),
		MaxContextTurns: conv.MaxContextTurns,
		MaxContextChars: conv.MaxContextChars,
		Counter:         conversation.NewCounter(conv.TokenModel),
	}, log)

	return &Stack{
		Service:       New(orch, manager, c.Alerter, log),
		Orchestrator:  orch,
		Conversations: manager,
		Cache:         store,
	}, nil
}
