// Package cache is the stage cache of the pipeline. Every read degrades to a
// miss: a backend outage, an expired entry and an entry no decoder accepts
// all look the same to the caller.
package cache

import (
	"context"
	"errors"
	"time"

	"legal-rag-workers/internal/common/config"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/metrics"
)

// Stage names. They label metrics and are recorded in every entry.
const (
	StageDecomposition = "decomposition"
	StageRetrieval     = "retrieval"
	StageSubAnswer     = "subanswer"
	StageFinal         = "final"
)

func RetrievalTag(subFingerprint string) string { return StageRetrieval + ":" + subFingerprint }
func SubAnswerTag(subFingerprint string) string { return StageSubAnswer + ":" + subFingerprint }

type Options struct {
	TTL       time.Duration
	KeyPrefix string
	// Timeout bounds every backend call.
	Timeout time.Duration
}

// Store is the CacheStore shared by all pipeline runs. It is safe for
// concurrent use; writers to one key are last-write-wins.
type Store struct {
	backend Backend
	opts    Options
	log     logger.Logger
	now     func() time.Time
}

func NewStore(backend Backend, opts Options, log logger.Logger) *Store {
	if backend == nil {
		backend = NoopBackend{}
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "legal_query"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Store{
		backend: backend,
		opts:    opts,
		log:     log.WithFields(map[string]interface{}{"component": "cache"}),
		now:     time.Now,
	}
}

// FromConfig builds the store described by cfg. A disabled cache gets the
// no-op backend.
func FromConfig(cfg config.CacheConfig, deps Deps, log logger.Logger) (*Store, error) {
	name := cfg.Backend
	if !cfg.Enabled {
		name = BackendNone
	}
	ttl := time.Duration(cfg.TTL) * time.Second
	backend, err := NewBackend(name, deps.Redis, ttl)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, Options{
		TTL:       ttl,
		KeyPrefix: cfg.KeyPrefix,
		Timeout:   config.GetDuration(cfg.Timeout),
	}, log), nil
}

// Key builds <prefix>:<fingerprint>:<tag>. A nil store has no prefix.
func (s *Store) Key(fingerprint, tag string) string {
	if s == nil {
		return fingerprint + ":" + tag
	}
	return s.opts.KeyPrefix + ":" + fingerprint + ":" + tag
}

// Get looks key up and decodes it as a T. The boolean is false on any miss.
func Get[T any](ctx context.Context, s *Store, key, stage string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}

	cctx, cancel := s.callContext(ctx)
	raw, ok, err := s.backend.Get(cctx, key)
	cancel()
	if err != nil {
		s.log.Warn("cache backend unavailable", map[string]interface{}{
			"key":   key,
			"stage": stage,
			"error": err.Error(),
		})
		metrics.CacheLookups.WithLabelValues(stage, "error").Inc()
		return zero, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(stage, "miss").Inc()
		return zero, false
	}

	v, err := decode[T](raw, stage, s.now(), s.opts.TTL)
	if errors.Is(err, errExpired) {
		metrics.CacheLookups.WithLabelValues(stage, "expired").Inc()
		s.Invalidate(ctx, key)
		return zero, false
	}
	if err != nil {
		s.log.Warn("cache entry corrupt, treating as miss", map[string]interface{}{
			"key":   key,
			"stage": stage,
			"error": err.Error(),
		})
		metrics.CacheLookups.WithLabelValues(stage, "corrupt").Inc()
		s.Invalidate(ctx, key)
		return zero, false
	}

	metrics.CacheLookups.WithLabelValues(stage, "hit").Inc()
	return v, true
}

// Put stores v under key. Failures are logged and otherwise ignored.
func (s *Store) Put(ctx context.Context, key, stage string, v interface{}) {
	if s == nil {
		return
	}
	raw, err := encode(stage, v, s.now(), s.opts.TTL)
	if err != nil {
		s.log.Error("cache encode failed", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}

	cctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.backend.Set(cctx, key, raw, s.opts.TTL); err != nil {
		s.log.Warn("cache write failed", map[string]interface{}{
			"key":   key,
			"stage": stage,
			"error": err.Error(),
		})
	}
}

func (s *Store) Invalidate(ctx context.Context, key string) {
	if s == nil {
		return
	}
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.backend.Delete(cctx, key); err != nil {
		s.log.Warn("cache delete failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// callContext bounds one backend call by Timeout. Cancelling the caller's
// context does not abort cache I/O.
func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if s.opts.Timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, s.opts.Timeout)
}
