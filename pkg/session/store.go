package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonahome/sona/pkg/persona"
)

// PersonaFactory produces fresh personality state for new sessions.
// Satisfied by *persona.Engine.
type PersonaFactory interface {
	NewState() *persona.State
}

// Config bounds store behavior.
type Config struct {
	MaxHistoryTokens int
	IdleTimeout      time.Duration
}

// Store owns the live sessions. Sessions are created on the first
// utterance of a conversation and destroyed after an idle timeout or
// an explicit Close. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg     Config
	persona PersonaFactory
	logger  *slog.Logger
}

// NewStore creates a session store.
func NewStore(cfg Config, personaFactory PersonaFactory, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		persona:  personaFactory,
		logger:   logger.With("component", "session.store"),
	}
}

// GetOrCreate returns the session with the given id, creating it on first
// use. An empty id allocates a new conversation.
func (st *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}

	now := time.Now()
	s = &Session{
		ID:           id,
		Persona:      st.persona.NewState(),
		maxTokens:    st.cfg.MaxHistoryTokens,
		snapshot:     map[string]string{},
		createdAt:    now,
		lastActivity: now,
	}
	st.sessions[id] = s
	st.logger.Info("session created", "session_id", id)
	return s
}

// Get returns the session with the given id, or nil.
func (st *Store) Get(id string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

// Close destroys the session with the given id.
func (st *Store) Close(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; ok {
		delete(st.sessions, id)
		st.logger.Info("session closed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Run sweeps idle sessions until ctx is cancelled.
func (st *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(st.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

func (st *Store) sweepInterval() time.Duration {
	interval := st.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (st *Store) sweep() {
	cutoff := time.Now().Add(-st.cfg.IdleTimeout)

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		if s.LastActivity().Before(cutoff) {
			delete(st.sessions, id)
			st.logger.Info("session expired", "session_id", id)
		}
	}
}
