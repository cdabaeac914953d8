package tts

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const sweepInterval = 30 * time.Second

// Manager resolves response text to audio artifacts via the engine pair,
// consulting the cache first. The fallback engine is invoked if and only
// if the primary fails or the circuit breaker is open.
type Manager struct {
	primary   Engine
	secondary Engine
	breaker   *Breaker
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a synthesis manager.
func NewManager(primary, secondary Engine, breaker *Breaker, cache *Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		primary:   primary,
		secondary: secondary,
		breaker:   breaker,
		cache:     cache,
		logger:    logger.With("component", "tts.manager"),
	}
}

// Synthesize returns a cached artifact when one exists, otherwise runs
// the engine chain. Both engines failing yields ErrSynthesisFailed.
func (m *Manager) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	if artifact := m.cache.Get(req.Key()); artifact != nil {
		m.logger.Debug("cache hit", "key", artifact.Key[:12])
		return artifact, nil
	}

	var errs []error

	if m.breaker.Allow() {
		artifact, err := m.primary.Synthesize(ctx, req)
		if err == nil {
			m.breaker.Success()
			m.cache.Put(artifact)
			return artifact, nil
		}
		// A cancelled caller is not an engine failure; only genuine
		// engine errors count against the breaker.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.breaker.Failure()
		errs = append(errs, err)
		m.logger.Warn("primary engine failed, falling back",
			"engine", m.primary.Name(),
			"breaker", m.breaker.State(),
			"error", err,
		)
	} else {
		errs = append(errs, ErrBreakerOpen)
		m.logger.Debug("primary degraded, routing to secondary")
	}

	artifact, err := m.secondary.Synthesize(ctx, req)
	if err == nil {
		m.cache.Put(artifact)
		return artifact, nil
	}
	errs = append(errs, err)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return nil, errors.Join(ErrSynthesisFailed, errors.Join(errs...))
}

// Release removes an artifact after dispatch acknowledgement so audio is
// not retained past its use.
func (m *Manager) Release(key string) {
	m.cache.Remove(key)
}

// BreakerState reports the primary circuit state for observability.
func (m *Manager) BreakerState() string {
	return m.breaker.State()
}

// CacheLen reports the number of retained artifacts.
func (m *Manager) CacheLen() int {
	return m.cache.Len()
}

// Run sweeps expired artifacts until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := m.cache.sweep(time.Now()); dropped > 0 {
				m.logger.Debug("swept expired artifacts", "dropped", dropped)
			}
		}
	}
}

// Close closes both engines.
func (m *Manager) Close() error {
	var lastErr error
	if err := m.primary.Close(); err != nil {
		lastErr = err
	}
	if err := m.secondary.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}
