// Package orchestrator runs the decomposition pipeline:
//
//	PENDING -> DECOMPOSING -> RETRIEVING_AND_ANSWERING -> SYNTHESIZING -> DONE
//
// with FAILED reachable from every non-terminal state. Each cacheable stage
// consults the stage cache on entry.
package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/metrics"
	"legal-rag-workers/internal/common/observability"
	"legal-rag-workers/internal/common/validation"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/cache"
	"legal-rag-workers/internal/pipeline/decomposer"
	"legal-rag-workers/internal/pipeline/query"
)

type Decomposer interface {
	Decompose(ctx context.Context, q models.Question) (decomposer.Result, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]models.DocumentHit, error)
}

type Answerer interface {
	Answer(ctx context.Context, q models.Question, sub models.SubQuestion, docs []models.DocumentHit) (models.SubAnswer, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, q models.Question, pairs []models.SubAnswer) (models.FinalAnswer, error)
}

// Deps are the stage implementations. Cache and Observability may be nil;
// a nil Cache runs every stage uncached.
type Deps struct {
	Decomposer    Decomposer
	Retriever     Retriever
	Answerer      Answerer
	Synthesizer   Synthesizer
	Cache         *cache.Store
	Observability *observability.Observability
}

type Options struct {
	Defaults models.RunSettings
	// Models are the model names that take part in the question fingerprint.
	Models             []string
	MaxConcurrency     int
	SubQuestionTimeout time.Duration
	DecomposeTimeout   time.Duration
	SynthesizeTimeout  time.Duration
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	logger logger.Logger
}

func New(deps Deps, opts Options, log logger.Logger) *Orchestrator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.Defaults.TopK <= 0 {
		opts.Defaults.TopK = 5
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewStore(cache.NoopBackend{}, cache.Options{}, log)
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// finalRecord is the cached form of a completed run.
type finalRecord struct {
	SubQuestions []models.SubQuestion `json:"subQuestions"`
	Pairs        []models.SubAnswer   `json:"pairs"`
	Final        models.FinalAnswer   `json:"final"`
	Documents    []models.DocumentHit `json:"documents"`
}

// run is the mutable state of one pipeline execution. It is owned by the
// goroutine calling Run; fan-out tasks write only their own slot.
type run struct {
	question  models.Question
	settings  models.RunSettings
	states    []models.State
	enteredAt time.Time
	startedAt time.Time
	cacheHits models.CacheHits
	fallback  bool
	prior     []models.DocumentHit
	subs      []models.SubQuestion
	pairs     []models.SubAnswer
	final     models.FinalAnswer
}

func (r *run) enter(s models.State) {
	now := time.Now()
	if n := len(r.states); n > 0 {
		metrics.ObserveStage(string(r.states[n-1]), now.Sub(r.enteredAt))
	}
	r.states = append(r.states, s)
	r.enteredAt = now
}

// Run answers raw as a standalone question.
func (o *Orchestrator) Run(ctx context.Context, raw string, opts models.Options) (*models.PipelineResult, error) {
	return o.RunWithContext(ctx, raw, models.Conversation{}, opts)
}

// RunWithContext answers raw framed by conv. The documents of conv are
// merged into the evidence of every sub-question, best score per id. It
// returns an INPUT_INVALID error for unacceptable input and a
// *PipelineFailure when the run reaches FAILED; no partial result is
// returned with either.
func (o *Orchestrator) RunWithContext(ctx context.Context, raw string, conv models.Conversation, opts models.Options) (*models.PipelineResult, error) {
	started := time.Now()

	if res := validation.Struct(opts); !res.Valid {
		metrics.PipelineRuns.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewInputError(res.Error())
	}
	settings := opts.Resolve(o.opts.Defaults)

	q, err := query.New(raw, conv.Context, query.FingerprintConfig{
		Models:         o.opts.Models,
		TopK:           settings.TopK,
		ScoreThreshold: settings.ScoreThreshold,
	})
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}

	r := &run{question: q, settings: settings, startedAt: started, prior: conv.Documents}
	r.enter(models.StatePending)

	result, err := o.execute(ctx, r)
	outcome := "done"
	if err != nil {
		outcome = "failed"
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	o.deps.Observability.RecordRun(ctx, outcome, time.Since(started))
	return result, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*models.PipelineResult, error) {
	fp := r.question.Fingerprint
	finalKey := o.deps.Cache.Key(fp, cache.StageFinal)
	if rec, ok := cache.Get[finalRecord](ctx, o.deps.Cache, finalKey, cache.StageFinal); ok && len(rec.Pairs) > 0 {
		r.subs, r.pairs, r.final = rec.SubQuestions, rec.Pairs, rec.Final
		r.cacheHits.Final = true
		r.enter(models.StateDone)
		return o.result(r), nil
	}

	r.enter(models.StateDecomposing)
	if err := o.decompose(ctx, r); err != nil {
		return nil, o.fail(r, apperrors.ErrCodeDecompositionUnavailable, err)
	}

	r.enter(models.StateRetrievingAndAnswering)
	if err := o.fanOut(ctx, r); err != nil {
		return nil, o.fail(r, apperrors.ErrCodeRetrievalUnavailable, err)
	}

	r.enter(models.StateSynthesizing)
	if err := o.synthesize(ctx, r); err != nil {
		return nil, o.fail(r, apperrors.ErrCodeSynthesisUnavailable, err)
	}

	r.enter(models.StateDone)
	result := o.result(r)
	if !result.Degraded() {
		o.deps.Cache.Put(ctx, finalKey, cache.StageFinal, finalRecord{
			SubQuestions: result.SubQuestions,
			Pairs:        result.Pairs,
			Final:        result.Final,
			Documents:    result.Documents,
		})
	}

	o.logger.Info("pipeline done", map[string]interface{}{
		"fingerprint":      fp,
		"subQuestions":     len(result.SubQuestions),
		"documents":        len(result.Documents),
		"decompositionHit": result.CacheHits.Decomposition,
		"fallback":         result.DecompositionFallback,
		"synthesized":      result.Final.Synthesized,
		"priorDocuments":   result.PriorDocuments,
		"durationMs":       result.ProcessingTime.Milliseconds(),
	})
	return result, nil
}

func (o *Orchestrator) decompose(ctx context.Context, r *run) error {
	ctx, span := o.deps.Observability.StartSpan(ctx, "pipeline.decompose",
		attribute.String("question.fingerprint", r.question.Fingerprint))
	defer span.End()

	key := o.deps.Cache.Key(r.question.Fingerprint, cache.StageDecomposition)
	if questions, ok := cache.Get[[]string](ctx, o.deps.Cache, key, cache.StageDecomposition); ok && len(questions) > 0 {
		r.subs = query.SubQuestions(questions)
		r.cacheHits.Decomposition = true
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return nil
	}

	dctx, cancel := withTimeout(ctx, o.opts.DecomposeTimeout)
	defer cancel()
	res, err := o.deps.Decomposer.Decompose(dctx, r.question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decomposition failed")
		return err
	}

	r.subs = query.SubQuestions(res.Questions)
	r.fallback = res.Fallback
	if !res.Fallback {
		o.deps.Cache.Put(ctx, key, cache.StageDecomposition, res.Questions)
	}
	span.SetAttributes(attribute.Int("sub_questions", len(r.subs)), attribute.Bool("fallback", res.Fallback))
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, r *run) error {
	ctx, span := o.deps.Observability.StartSpan(ctx, "pipeline.synthesize",
		attribute.String("question.fingerprint", r.question.Fingerprint))
	defer span.End()

	sctx, cancel := withTimeout(ctx, o.opts.SynthesizeTimeout)
	defer cancel()
	final, err := o.deps.Synthesizer.Synthesize(sctx, r.question, r.pairs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return err
	}
	r.final = final
	span.SetAttributes(attribute.Bool("synthesized", final.Synthesized))
	return nil
}

func (o *Orchestrator) fail(r *run, cause apperrors.ErrorCode, err error) error {
	stage := r.states[len(r.states)-1]
	r.enter(models.StateFailed)
	o.logger.Error("pipeline failed", map[string]interface{}{
		"fingerprint": r.question.Fingerprint,
		"cause":       string(cause),
		"stage":       string(stage),
		"error":       err.Error(),
	})
	return apperrors.NewPipelineFailure(cause, string(stage), err)
}

func (o *Orchestrator) result(r *run) *models.PipelineResult {
	all := make([][]models.DocumentHit, 0, len(r.pairs)+1)
	for _, p := range r.pairs {
		all = append(all, p.Documents)
	}
	all = append(all, r.prior)
	return &models.PipelineResult{
		Question:              r.question,
		SubQuestions:          r.subs,
		Pairs:                 r.pairs,
		Final:                 r.final,
		Documents:             models.DedupeHits(all...),
		CacheHits:             r.cacheHits,
		DecompositionFallback: r.fallback,
		States:                r.states,
		ProcessingTime:        time.Since(r.startedAt),
		PriorDocuments:        len(r.prior),
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
