// Package persona maintains the assistant's mood and trait state and
// renders it into prompt directives and spoken embellishments.
//
// Mood is a small state machine driven by lexical cues in the user's
// latest utterance. Trait weights shape how strongly the mood colors
// the response; they are bounded to [0,1] and rejected otherwise.
package persona

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Sentinel errors.
var (
	ErrTraitRange   = errors.New("persona: trait weight must be in [0,1]")
	ErrUnknownTrait = errors.New("persona: unknown trait")
)

// Mood is the assistant's current emotional register.
type Mood int

const (
	MoodNeutral Mood = iota
	MoodPositive
	MoodHelpful
	MoodPlayful
)

// String returns a human-readable mood name.
func (m Mood) String() string {
	switch m {
	case MoodPositive:
		return "positive"
	case MoodHelpful:
		return "helpful"
	case MoodPlayful:
		return "playful"
	default:
		return "neutral"
	}
}

// Traits are the numeric personality weights, each bounded to [0,1].
type Traits struct {
	Wit         float64
	Sarcasm     float64
	Helpfulness float64
}

// Validate rejects out-of-range weights.
func (t Traits) Validate() error {
	for _, v := range []float64{t.Wit, t.Sarcasm, t.Helpfulness} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: got %g", ErrTraitRange, v)
		}
	}
	return nil
}

// Lexical cues that drive mood transitions. Matching is case-insensitive
// substring matching against the utterance text.
var (
	gratitudeCues = []string{"thank", "thanks", "appreciate", "awesome", "great job", "perfect"}
	problemCues   = []string{"error", "problem", "broken", "wrong", "doesn't work", "not working", "help", "stuck", "failed"}
	humorCues     = []string{"joke", "funny", "laugh", "kidding", "haha", "silly"}
)

// Engine holds the shared phrase table and default traits. It hands out
// one State per session; the Engine itself is read-only after New.
type Engine struct {
	phrases  map[string][]string
	defaults Traits
}

// New creates an Engine. Default trait weights are validated up front.
func New(defaults Traits, phrases map[string][]string) (*Engine, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}

	// Defensive copy; the table is shared by every session state.
	table := make(map[string][]string, len(phrases))
	for category, list := range phrases {
		table[category] = append([]string(nil), list...)
	}

	return &Engine{phrases: table, defaults: defaults}, nil
}

// NewState creates a fresh per-session personality state.
func (e *Engine) NewState() *State {
	return &State{
		mood:    MoodNeutral,
		traits:  e.defaults,
		phrases: e.phrases,
	}
}

// State is per-session mood/trait state. Safe for concurrent use.
type State struct {
	mu      sync.Mutex
	mood    Mood
	cooling bool // one cue-less turn already seen since the last cue
	traits  Traits
	phrases map[string][]string
}

// Observe inspects the latest utterance and transitions mood.
// An utterance with no cue decays the mood toward neutral gradually:
// the current mood is held for one further turn, then a second cue-less
// turn resets it. Any cue restarts the hold.
func (s *State) Observe(utterance string) {
	text := strings.ToLower(utterance)

	var next Mood
	cued := true
	switch {
	case containsAny(text, gratitudeCues):
		next = MoodPositive
	case containsAny(text, problemCues):
		next = MoodHelpful
	case containsAny(text, humorCues):
		next = MoodPlayful
	default:
		cued = false
	}

	s.mu.Lock()
	switch {
	case cued:
		s.mood = next
		s.cooling = false
	case s.mood != MoodNeutral && !s.cooling:
		s.cooling = true
	default:
		s.mood = MoodNeutral
		s.cooling = false
	}
	s.mu.Unlock()
}

// Mood returns the current mood.
func (s *State) Mood() Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mood
}

// Traits returns the current trait weights.
func (s *State) Traits() Traits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traits
}

// SetTrait adjusts a single trait weight at runtime.
// Values outside [0,1] are rejected, never clamped.
func (s *State) SetTrait(name string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%w: %s = %g", ErrTraitRange, name, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "wit":
		s.traits.Wit = value
	case "sarcasm":
		s.traits.Sarcasm = value
	case "helpfulness":
		s.traits.Helpfulness = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTrait, name)
	}
	return nil
}

// SelectEmbellishment picks a phrase from the configured table for the
// given category. Returns "" when the category has no phrases.
func (s *State) SelectEmbellishment(category string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.phrases[category]
	if len(list) == 0 {
		return ""
	}
	return list[rand.Intn(len(list))]
}

// BuildDirective renders the current mood and trait weights into an
// instruction block for the prompt composer.
func (s *State) BuildDirective() string {
	s.mu.Lock()
	mood := s.mood
	traits := s.traits
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Respond in a %s tone.", mood)

	if traits.Wit >= 0.6 {
		b.WriteString(" Be witty when it fits.")
	}
	if traits.Sarcasm >= 0.6 {
		b.WriteString(" Light sarcasm is allowed.")
	} else if traits.Sarcasm <= 0.2 {
		b.WriteString(" Avoid sarcasm.")
	}
	if traits.Helpfulness >= 0.6 {
		b.WriteString(" Prioritize being genuinely helpful over being clever.")
	}

	fmt.Fprintf(&b, " (wit=%.2f sarcasm=%.2f helpfulness=%.2f)",
		traits.Wit, traits.Sarcasm, traits.Helpfulness)

	return b.String()
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}
