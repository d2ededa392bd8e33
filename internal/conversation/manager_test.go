package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/retry"
	"legal-rag-workers/internal/models"
	"legal-rag-workers/internal/pipeline/answerer"
	"legal-rag-workers/internal/pipeline/cache"
	"legal-rag-workers/internal/pipeline/decomposer"
	"legal-rag-workers/internal/pipeline/llm"
	"legal-rag-workers/internal/pipeline/llm/llmtest"
	"legal-rag-workers/internal/pipeline/orchestrator"
	"legal-rag-workers/internal/pipeline/synthesizer"
)

// ============================================================================
// Test doubles
// ============================================================================

// stubRunner answers every question with a canned result and records the
// conversation it was given.
type stubRunner struct {
	mu       sync.Mutex
	contexts []models.Conversation
	delay    time.Duration
	err      error
	inFlight int32
	maxSeen  int32
}

func (r *stubRunner) RunWithContext(ctx context.Context, raw string, conv models.Conversation, _ models.Options) (*models.PipelineResult, error) {
	n := atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&r.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&r.maxSeen, seen, n) {
			break
		}
	}

	r.mu.Lock()
	r.contexts = append(r.contexts, conv)
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &models.PipelineResult{
		Question: models.Question{Raw: raw, Normalized: strings.TrimSpace(raw), Context: conv.Context},
		Final: models.FinalAnswer{
			Text:        "answer to " + raw,
			Synthesized: true,
			Documents:   []models.DocumentHit{{ID: "d1", Score: 0.8, Metadata: models.DocumentMetadata{Title: "Smith v Jones"}}},
		},
		PriorDocuments: len(conv.Documents),
	}, nil
}

func (r *stubRunner) lastConversation() models.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[len(r.contexts)-1]
}

func (r *stubRunner) lastContext() string {
	return r.lastConversation().Context
}

func newManager(t *testing.T, runner Runner, opts Options) *Manager {
	return NewManager(runner, opts, logger.NewTestLogger(t))
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestManager_StartContinueHistoryDelete(t *testing.T) {
	runner := &stubRunner{}
	m := newManager(t, runner, Options{})
	ctx := context.Background()

	first, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, first.SessionID, first.Result.SessionID)
	assert.Equal(t, 0, first.Turn.Index)
	assert.Equal(t, "", runner.lastContext())
	assert.Empty(t, runner.lastConversation().Documents)
	assert.False(t, first.Turn.PreviousContext)

	second, err := m.Continue(ctx, first.SessionID, "What about acceptance?", models.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Turn.Index)
	require.Len(t, runner.lastConversation().Documents, 1)
	assert.Equal(t, "d1", runner.lastConversation().Documents[0].ID)
	assert.True(t, second.Turn.PreviousContext)
	assert.Contains(t, runner.lastContext(), "User: What is an offer?")
	assert.Contains(t, runner.lastContext(), "Assistant: answer to What is an offer?")

	turns, err := m.History(first.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "What is an offer?", turns[0].Question)
	assert.Equal(t, "What about acceptance?", turns[1].Question)

	sess, err := m.Session(first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Metadata.MessageCount)
	assert.Equal(t, []string{"Smith v Jones"}, sess.Metadata.ContextSources)

	assert.True(t, m.Delete(first.SessionID))
	assert.False(t, m.Delete(first.SessionID))

	_, err = m.History(first.SessionID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	_, err = m.Continue(ctx, first.SessionID, "And consideration?", models.Options{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

func TestManager_FailedStartLeavesNoSession(t *testing.T) {
	runner := &stubRunner{err: apperrors.NewPipelineFailure(apperrors.ErrCodeSynthesisUnavailable, "SYNTHESIZING", errors.New("down"))}
	m := newManager(t, runner, Options{})

	reply, err := m.Start(context.Background(), "What is an offer?", models.Options{})
	assert.Nil(t, reply)
	var pf *apperrors.PipelineFailure
	assert.True(t, errors.As(err, &pf))
	assert.Equal(t, 0, m.Len())
}

func TestManager_FailedContinueKeepsHistory(t *testing.T) {
	runner := &stubRunner{}
	m := newManager(t, runner, Options{})
	ctx := context.Background()

	first, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)

	runner.err = apperrors.NewInputError("question too short")
	_, err = m.Continue(ctx, first.SessionID, "short", models.Options{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInputInvalid))

	turns, err := m.History(first.SessionID)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestManager_HistoryIsASnapshot(t *testing.T) {
	m := newManager(t, &stubRunner{}, Options{})
	first, err := m.Start(context.Background(), "What is an offer?", models.Options{})
	require.NoError(t, err)

	turns, err := m.History(first.SessionID)
	require.NoError(t, err)
	turns[0].Question = "tampered"

	again, err := m.History(first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "What is an offer?", again[0].Question)
}

// ============================================================================
// Concurrency and eviction
// ============================================================================

func TestManager_ContinueIsSerialisedPerSession(t *testing.T) {
	runner := &stubRunner{}
	m := newManager(t, runner, Options{})
	ctx := context.Background()

	first, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	runner.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Continue(ctx, first.SessionID, "What about acceptance?", models.Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.maxSeen))
	turns, err := m.History(first.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Index)
	}
}

func TestManager_IndependentSessionsRunInParallel(t *testing.T) {
	runner := &stubRunner{}
	m := newManager(t, runner, Options{})
	ctx := context.Background()

	a, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	b, err := m.Start(ctx, "What is a tort?", models.Options{})
	require.NoError(t, err)
	runner.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for _, id := range []string{a.SessionID, b.SessionID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.Continue(ctx, id, "Tell me more about it", models.Options{})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.maxSeen))
}

func TestManager_SweepEvictsIdleSessions(t *testing.T) {
	m := newManager(t, &stubRunner{}, Options{SessionTTL: 20 * time.Millisecond})
	first, err := m.Start(context.Background(), "What is an offer?", models.Options{})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	m.Sweep()

	assert.Equal(t, 0, m.Len())
	_, err = m.History(first.SessionID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

func TestManager_SweepSparesSessionInContinue(t *testing.T) {
	runner := &stubRunner{}
	m := newManager(t, runner, Options{SessionTTL: 30 * time.Millisecond})
	ctx := context.Background()

	first, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	runner.delay = 120 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := m.Continue(ctx, first.SessionID, "What about acceptance?", models.Options{})
		done <- err
	}()

	time.Sleep(80 * time.Millisecond)
	m.Sweep()
	require.NoError(t, <-done)

	turns, err := m.History(first.SessionID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestManager_DeleteDuringContinueWins(t *testing.T) {
	runner := &stubRunner{}
	m := newManager(t, runner, Options{})
	ctx := context.Background()

	first, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	runner.delay = 60 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := m.Continue(ctx, first.SessionID, "What about acceptance?", models.Options{})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, m.Delete(first.SessionID))

	err = <-done
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	assert.Equal(t, 0, m.Len())
}

func TestManager_RunSweeperStopsWithContext(t *testing.T) {
	m := newManager(t, &stubRunner{}, Options{SessionTTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	_, err := m.Start(context.Background(), "What is an offer?", models.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.RunSweeper(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// ============================================================================
// Pipeline scenario
// ============================================================================

type docsRetriever struct{}

func (docsRetriever) Retrieve(_ context.Context, q string, _ int, _ float64) ([]models.DocumentHit, error) {
	return []models.DocumentHit{{
		ID:       "carlill",
		Score:    0.9,
		Content:  "An advertisement can be a unilateral offer.",
		Metadata: models.DocumentMetadata{Title: "Carlill v Carbolic Smoke Ball Co", SourceType: models.SourceCase},
	}}, nil
}

func TestManager_FollowUpPromptCarriesPriorTurn(t *testing.T) {
	log := logger.NewTestLogger(t)
	fake := &llmtest.Fake{Handler: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		switch req.Name {
		case decomposer.Name:
			raw, _ := json.Marshal(map[string]interface{}{"questions": []string{"What is the definition?", "What are the authorities?"}})
			return &llm.Response{Structured: raw}, nil
		case answerer.Name:
			return &llm.Response{Text: "Per Carlill v Carbolic Smoke Ball Co."}, nil
		}
		if strings.Contains(req.Prompt, "What about acceptance?") {
			return &llm.Response{Text: "Acceptance must be communicated."}, nil
		}
		return &llm.Response{Text: "An offer is a definite promise to be bound."}, nil
	}}
	policy := func(name string) retry.Policy {
		p := retry.DefaultPolicy(name)
		p.InitialDelay = time.Millisecond
		return p
	}

	orch := orchestrator.New(orchestrator.Deps{
		Decomposer:  decomposer.New(fake, decomposer.Options{MinQuestions: 2, MaxQuestions: 4, Retry: policy(decomposer.Name)}, log),
		Retriever:   docsRetriever{},
		Answerer:    answerer.New(fake, answerer.Options{Retry: policy(answerer.Name)}, log),
		Synthesizer: synthesizer.New(fake, synthesizer.Options{Retry: policy(synthesizer.Name)}, log),
		Cache:       cache.NewStore(cache.NewMemoryBackend(time.Hour), cache.Options{}, log),
	}, orchestrator.Options{Defaults: models.RunSettings{TopK: 5, ScoreThreshold: 0.3}}, log)

	m := NewManager(orch, Options{}, log)
	ctx := context.Background()

	s, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "An offer is a definite promise to be bound.", s.Turn.Answer.Text)

	fake.Reset()
	t2, err := m.Continue(ctx, s.SessionID, "What about acceptance?", models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Acceptance must be communicated.", t2.Turn.Answer.Text)

	assert.True(t, fake.PromptContaining(synthesizer.Name, "User: What is an offer?"))
	assert.True(t, fake.PromptContaining(synthesizer.Name, "Assistant: An offer is a definite promise to be bound."))
	assert.True(t, fake.PromptContaining(decomposer.Name, "User: What is an offer?"))

	assert.True(t, m.Delete(s.SessionID))
	_, err = m.History(s.SessionID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

type followupRetriever struct{}

func (followupRetriever) Retrieve(_ context.Context, q string, _ int, _ float64) ([]models.DocumentHit, error) {
	if strings.Contains(q, "acceptance") {
		return []models.DocumentHit{{
			ID:       "entores",
			Score:    0.85,
			Content:  "Acceptance by instantaneous communication takes effect on receipt.",
			Metadata: models.DocumentMetadata{Title: "Entores v Miles Far East", SourceType: models.SourceCase},
		}}, nil
	}
	return docsRetriever{}.Retrieve(context.Background(), q, 0, 0)
}

func TestManager_FollowUpReusesEarlierDocuments(t *testing.T) {
	log := logger.NewTestLogger(t)
	fake := &llmtest.Fake{Handler: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		followup := strings.Contains(req.Prompt, "What about acceptance?")
		switch req.Name {
		case decomposer.Name:
			questions := []string{"What is the definition?", "What are the authorities?"}
			if followup {
				questions = []string{"How is acceptance communicated?", "When does acceptance take effect?"}
			}
			raw, _ := json.Marshal(map[string]interface{}{"questions": questions})
			return &llm.Response{Structured: raw}, nil
		case answerer.Name:
			return &llm.Response{Text: "Per the cited authorities."}, nil
		}
		return &llm.Response{Text: "Synthesized."}, nil
	}}
	policy := func(name string) retry.Policy {
		p := retry.DefaultPolicy(name)
		p.InitialDelay = time.Millisecond
		return p
	}
	orch := orchestrator.New(orchestrator.Deps{
		Decomposer:  decomposer.New(fake, decomposer.Options{MinQuestions: 2, MaxQuestions: 4, Retry: policy(decomposer.Name)}, log),
		Retriever:   followupRetriever{},
		Answerer:    answerer.New(fake, answerer.Options{Retry: policy(answerer.Name)}, log),
		Synthesizer: synthesizer.New(fake, synthesizer.Options{Retry: policy(synthesizer.Name)}, log),
	}, orchestrator.Options{Defaults: models.RunSettings{TopK: 5, ScoreThreshold: 0.3}}, log)

	m := NewManager(orch, Options{}, log)
	ctx := context.Background()

	first, err := m.Start(ctx, "What is an offer?", models.Options{})
	require.NoError(t, err)
	require.Len(t, first.Turn.ContextDocuments, 1)
	assert.Equal(t, "carlill", first.Turn.ContextDocuments[0].ID)

	fake.Reset()
	second, err := m.Continue(ctx, first.SessionID, "What about acceptance?", models.Options{})
	require.NoError(t, err)
	assert.True(t, second.Turn.PreviousContext)
	assert.Equal(t, 1, second.Result.PriorDocuments)

	ids := map[string]bool{}
	for _, d := range second.Turn.ContextDocuments {
		ids[d.ID] = true
	}
	assert.True(t, ids["carlill"], "earlier turn's document is carried into the follow-up")
	assert.True(t, ids["entores"])
	assert.True(t, fake.PromptContaining(answerer.Name, "(id: carlill)"))
}
