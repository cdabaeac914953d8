// Package session holds per-conversation state: the bounded utterance and
// response history, the device-context snapshot, and the personality state
// attached to each conversation.
package session

import (
	"sync"
	"time"

	"github.com/sonahome/sona/pkg/persona"
)

// Utterance is a single transcribed spoken input. Immutable once recorded.
type Utterance struct {
	Text       string
	Confidence float64
	Language   string
	Timestamp  time.Time
}

// Exchange pairs an utterance with the response it produced.
type Exchange struct {
	Utterance Utterance
	Response  string
}

// estimateTokens is a deterministic token-count heuristic: roughly one
// token per four characters, minimum one for non-empty text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// Tokens returns the estimated token cost of the exchange.
func (e Exchange) Tokens() int {
	return estimateTokens(e.Utterance.Text) + estimateTokens(e.Response)
}

// Session is the bounded conversational context for one conversation.
// All methods are safe for concurrent use.
type Session struct {
	ID      string
	Persona *persona.State

	mu           sync.Mutex
	exchanges    []Exchange
	tokens       int
	maxTokens    int
	snapshot     map[string]string
	createdAt    time.Time
	lastActivity time.Time
}

// AppendExchange records an utterance/response pair, trimming the oldest
// entries first so the history token count never exceeds the configured
// maximum after the mutation.
func (s *Session) AppendExchange(ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exchanges = append(s.exchanges, ex)
	s.tokens += ex.Tokens()
	for s.tokens > s.maxTokens && len(s.exchanges) > 0 {
		s.tokens -= s.exchanges[0].Tokens()
		s.exchanges = s.exchanges[1:]
	}
	s.lastActivity = time.Now()
}

// History returns a copy of the trimmed exchange history.
func (s *Session) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exchange(nil), s.exchanges...)
}

// HistoryTokens returns the estimated token count of the current history.
func (s *Session) HistoryTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// SetSnapshot replaces the device-context snapshot. The snapshot is
// refreshed by an external collaborator and read-only to the pipeline.
func (s *Session) SetSnapshot(snapshot map[string]string) {
	copied := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		copied[k] = v
	}

	s.mu.Lock()
	s.snapshot = copied
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Snapshot returns a copy of the device-context snapshot.
func (s *Session) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(s.snapshot))
	for k, v := range s.snapshot {
		copied[k] = v
	}
	return copied
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session was last used.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}
