// Package conversation keeps multi-turn legal research sessions and runs
// follow-up questions with their prior turns as context.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/metrics"
	"legal-rag-workers/internal/models"
)

// Runner is the pipeline entry point the manager drives.
type Runner interface {
	RunWithContext(ctx context.Context, raw string, conv models.Conversation, opts models.Options) (*models.PipelineResult, error)
}

type Options struct {
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	MaxContextTurns int
	MaxContextChars int
	Counter         TokenCounter
}

// Reply is the outcome of start and continue.
type Reply struct {
	SessionID string
	Turn      models.Turn
	Result    *models.PipelineResult
}

// Manager owns every session. Sessions are immutable snapshots replaced on
// append; at most one continue per session runs at a time.
type Manager struct {
	runner   Runner
	opts     Options
	window   Window
	sessions *gocache.Cache
	logger   logger.Logger

	// mu orders lookups, pins, sweeps and deletes. It is never held across
	// a pipeline run.
	mu    sync.Mutex
	gates map[string]chan struct{}
	now   func() time.Time
}

func NewManager(runner Runner, opts Options, log logger.Logger) *Manager {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.MaxContextTurns <= 0 {
		opts.MaxContextTurns = 3
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 4000
	}
	if opts.Counter == nil {
		opts.Counter = CharCounter{}
	}

	m := &Manager{
		runner: runner,
		opts:   opts,
		window: Window{MaxTurns: opts.MaxContextTurns, Budget: opts.MaxContextChars, Counter: opts.Counter},
		// expiry is driven by Sweep, not by a janitor goroutine
		sessions: gocache.New(opts.SessionTTL, 0),
		logger:   log.WithFields(map[string]interface{}{"component": "conversation"}),
		gates:    make(map[string]chan struct{}),
		now:      time.Now,
	}
	m.sessions.OnEvicted(func(id string, _ interface{}) {
		m.logger.Info("session evicted", map[string]interface{}{"sessionId": id})
	})
	return m
}

// Start runs question as the first turn of a new session. The session is
// stored only when the run succeeds.
func (m *Manager) Start(ctx context.Context, question string, opts models.Options) (*Reply, error) {
	res, err := m.runner.RunWithContext(ctx, question, models.Conversation{}, opts)
	if err != nil {
		return nil, err
	}

	now := m.now()
	base := &models.Session{ID: uuid.New().String(), CreatedAt: now, LastActivity: now}
	sess := base.WithTurn(m.turn(res, now))
	res.SessionID = sess.ID

	m.mu.Lock()
	m.sessions.Set(sess.ID, sess, gocache.DefaultExpiration)
	m.updateGauge()
	m.mu.Unlock()

	m.logger.Info("session started", map[string]interface{}{"sessionId": sess.ID})
	return &Reply{SessionID: sess.ID, Turn: sess.Turns[0], Result: res}, nil
}

// Continue answers question in the context of the session's recent turns.
func (m *Manager) Continue(ctx context.Context, sessionID, question string, opts models.Options) (*Reply, error) {
	release, err := m.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, ok := m.pin(sessionID)
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(sessionID)
	}

	conv := m.window.Frame(sess.Turns)
	res, err := m.runner.RunWithContext(ctx, question, conv, opts)
	if err != nil {
		m.store(sessionID, sess)
		return nil, err
	}

	next := sess.WithTurn(m.turn(res, m.now()))
	if !m.store(sessionID, next) {
		return nil, apperrors.NewSessionNotFoundError(sessionID)
	}
	res.SessionID = sessionID
	return &Reply{SessionID: sessionID, Turn: next.Turns[len(next.Turns)-1], Result: res}, nil
}

// History returns the session's turns in the order they were added.
func (m *Manager) History(sessionID string) ([]models.Turn, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

// Session returns a snapshot of the session.
func (m *Manager) Session(sessionID string) (*models.Session, error) {
	v, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(sessionID)
	}
	return v.(*models.Session).Clone(), nil
}

// Delete removes the session. Deleting an absent session is not an error;
// the boolean reports whether anything was removed.
func (m *Manager) Delete(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.sessions.Get(sessionID)
	m.sessions.Delete(sessionID)
	if g, ok := m.gates[sessionID]; ok && len(g) == 0 {
		delete(m.gates, sessionID)
	}
	m.updateGauge()
	return existed
}

// Sweep removes sessions idle for longer than the TTL. Sessions pinned by
// an in-flight Continue have no expiry and survive.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.DeleteExpired()
	for id, g := range m.gates {
		if _, ok := m.sessions.Get(id); !ok && len(g) == 0 {
			delete(m.gates, id)
		}
	}
	m.updateGauge()
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of sessions held, expired ones included until the
// next sweep.
func (m *Manager) Len() int {
	return m.sessions.ItemCount()
}

func (m *Manager) acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	g, ok := m.gates[sessionID]
	if !ok {
		g = make(chan struct{}, 1)
		m.gates[sessionID] = g
	}
	m.mu.Unlock()

	select {
	case g <- struct{}{}:
		return func() { <-g }, nil
	case <-ctx.Done():
		return nil, apperrors.NewUpstreamTimeoutError("conversation", ctx.Err())
	}
}

// pin looks the session up and removes its expiry for the duration of a
// Continue.
func (m *Manager) pin(sessionID string) (*models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	sess := v.(*models.Session)
	m.sessions.Set(sessionID, sess, gocache.NoExpiration)
	return sess, true
}

// store replaces a pinned session and restores its TTL. A session deleted
// meanwhile stays deleted.
func (m *Manager) store(sessionID string, sess *models.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions.Get(sessionID); !ok {
		return false
	}
	m.sessions.Set(sessionID, sess, gocache.DefaultExpiration)
	return true
}

func (m *Manager) turn(res *models.PipelineResult, at time.Time) models.Turn {
	return models.Turn{
		Question:         res.Question.Normalized,
		Answer:           res.Final,
		ContextDocuments: res.Final.Documents,
		PreviousContext:  res.PriorDocuments > 0,
		CreatedAt:        at,
	}
}

func (m *Manager) updateGauge() {
	metrics.SessionsActive.Set(float64(m.sessions.ItemCount()))
}
