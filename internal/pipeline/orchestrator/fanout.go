package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/metrics"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/answerer"
	"legal-rag-workers/internal/pipeline/cache"
)

// slot is the outcome of one sub-question. Slots are pre-sized so that the
// pairs keep decomposition order whatever order the tasks finish in.
type slot struct {
	answer        models.SubAnswer
	err           error
	retrievalDown bool
	answerHit     bool
	retrievalHit  bool
}

type retrievalError struct{ err error }

func (e *retrievalError) Error() string { return "retrieval: " + e.err.Error() }
func (e *retrievalError) Unwrap() error { return e.err }

// fanOut retrieves and answers every sub-question concurrently. A failing
// sub-question becomes a stub; the stage itself fails only when retrieval
// was unavailable for every sub-question.
func (o *Orchestrator) fanOut(ctx context.Context, r *run) error {
	ctx, span := o.deps.Observability.StartSpan(ctx, "pipeline.fanout",
		attribute.Int("sub_questions", len(r.subs)))
	defer span.End()

	slots := make([]slot, len(r.subs))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrency)
	for i, sub := range r.subs {
		i, sub := i, sub
		g.Go(func() error {
			tctx, cancel := withTimeout(ctx, o.opts.SubQuestionTimeout)
			defer cancel()
			s := &slots[i]
			if err := o.answerOne(tctx, r, sub, s); err != nil {
				s.answer = answerer.Stub(sub, err)
				s.err = err
				s.retrievalDown = retrievalOutage(ctx, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.pairs = make([]models.SubAnswer, len(slots))
	down := 0
	var lastErr error
	for i, s := range slots {
		r.pairs[i] = s.answer
		if s.answerHit {
			r.cacheHits.SubAnswers = append(r.cacheHits.SubAnswers, i)
		}
		if s.retrievalHit {
			r.cacheHits.Retrieval = append(r.cacheHits.Retrieval, i)
		}
		metrics.SubAnswers.WithLabelValues(string(s.answer.Mode)).Inc()
		if s.err == nil {
			continue
		}
		lastErr = s.err
		if s.retrievalDown {
			down++
		}
		o.logger.Warn("sub-question failed, using stub", map[string]interface{}{
			"fingerprint": r.question.Fingerprint,
			"subQuestion": s.answer.SubQuestion.Index,
			"error":       s.err.Error(),
		})
	}
	span.SetAttributes(attribute.Int("stubs", countMode(r.pairs, models.ModeStub)))

	if len(slots) > 0 && down == len(slots) {
		return fmt.Errorf("all %d sub-questions lost retrieval: %w", len(slots), lastErr)
	}
	return nil
}

// retrievalOutage reports whether err means the search backends could not
// be reached. A timeout counts only once the run's own context has ended; a
// sub-question that outlives its own deadline is just a stub.
func retrievalOutage(parent context.Context, err error) bool {
	var re *retrievalError
	if !errors.As(err, &re) {
		return false
	}
	if apperrors.HasCode(err, apperrors.ErrCodeUpstreamUnavailable) {
		return true
	}
	return apperrors.HasCode(err, apperrors.ErrCodeUpstreamTimeout) && parent.Err() != nil
}

// answerOne resolves one sub-question through the sub-answer cache, the
// retrieval cache and finally the retriever and answerer, filling s.
func (o *Orchestrator) answerOne(ctx context.Context, r *run, sub models.SubQuestion, s *slot) error {
	fp := r.question.Fingerprint
	answerKey := o.deps.Cache.Key(fp, cache.SubAnswerTag(sub.Fingerprint))
	if ans, ok := cache.Get[models.SubAnswer](ctx, o.deps.Cache, answerKey, cache.StageSubAnswer); ok && ans.Mode != models.ModeStub {
		ans.SubQuestion = sub
		s.answer, s.answerHit = ans, true
		return nil
	}

	retrievalKey := o.deps.Cache.Key(fp, cache.RetrievalTag(sub.Fingerprint))
	docs, ok := cache.Get[[]models.DocumentHit](ctx, o.deps.Cache, retrievalKey, cache.StageRetrieval)
	if ok && docs != nil {
		s.retrievalHit = true
	} else {
		var err error
		docs, err = o.deps.Retriever.Retrieve(ctx, sub.Text, r.settings.TopK, r.settings.ScoreThreshold)
		if err != nil {
			return &retrievalError{err: err}
		}
		if docs == nil {
			docs = []models.DocumentHit{}
		}
		o.deps.Cache.Put(ctx, retrievalKey, cache.StageRetrieval, docs)
	}
	if len(r.prior) > 0 {
		docs = models.DedupeHits(docs, r.prior)
	}

	ans, err := o.deps.Answerer.Answer(ctx, r.question, sub, docs)
	if err != nil {
		return err
	}
	if ans.Mode != models.ModeStub {
		o.deps.Cache.Put(ctx, answerKey, cache.StageSubAnswer, ans)
	}
	s.answer = ans
	return nil
}

func countMode(pairs []models.SubAnswer, mode models.AnswerMode) int {
	n := 0
	for _, p := range pairs {
		if p.Mode == mode {
			n++
		}
	}
	return n
}
