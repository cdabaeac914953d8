package persona_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/sonahome/sona/pkg/persona"
)

func newTestState(t *testing.T, phrases map[string][]string) *persona.State {
	t.Helper()
	engine, err := persona.New(persona.Traits{Wit: 0.5, Sarcasm: 0.2, Helpfulness: 0.8}, phrases)
	if err != nil {
		t.Fatal(err)
	}
	return engine.NewState()
}

func TestMoodTransitions(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      persona.Mood
	}{
		{"gratitude", "thanks, that was perfect", persona.MoodPositive},
		{"problem", "the kitchen light is broken", persona.MoodHelpful},
		{"humor", "tell me a joke", persona.MoodPlayful},
		{"plain command", "turn on the hallway light", persona.MoodNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newTestState(t, nil)
			state.Observe(tt.utterance)
			if got := state.Mood(); got != tt.want {
				t.Errorf("after %q mood = %v, want %v", tt.utterance, got, tt.want)
			}
		})
	}
}

func TestMoodDecaysTowardNeutral(t *testing.T) {
	t.Run("held one turn then neutral", func(t *testing.T) {
		state := newTestState(t, nil)

		state.Observe("thank you so much")
		if state.Mood() != persona.MoodPositive {
			t.Fatalf("expected positive mood, got %v", state.Mood())
		}

		state.Observe("set a timer for ten minutes")
		if state.Mood() != persona.MoodPositive {
			t.Errorf("one cue-less turn must hold the mood, got %v", state.Mood())
		}

		state.Observe("and turn off the hallway light")
		if state.Mood() != persona.MoodNeutral {
			t.Errorf("second cue-less turn must decay to neutral, got %v", state.Mood())
		}
	})

	t.Run("cue during decay restarts the hold", func(t *testing.T) {
		state := newTestState(t, nil)

		state.Observe("thank you so much")
		state.Observe("set a timer for ten minutes")
		state.Observe("the timer is broken")
		if state.Mood() != persona.MoodHelpful {
			t.Fatalf("expected helpful mood, got %v", state.Mood())
		}

		state.Observe("plain utterance one")
		if state.Mood() != persona.MoodHelpful {
			t.Errorf("restarted hold must survive one cue-less turn, got %v", state.Mood())
		}
		state.Observe("plain utterance two")
		if state.Mood() != persona.MoodNeutral {
			t.Errorf("expected decay to neutral, got %v", state.Mood())
		}
	})
}

func TestSetTraitRejectsOutOfRange(t *testing.T) {
	state := newTestState(t, nil)

	for _, v := range []float64{-0.1, 1.1, 2} {
		if err := state.SetTrait("wit", v); !errors.Is(err, persona.ErrTraitRange) {
			t.Errorf("SetTrait(wit, %g) = %v, want ErrTraitRange", v, err)
		}
	}

	// The rejected values must not have leaked into state.
	if got := state.Traits().Wit; got != 0.5 {
		t.Errorf("wit changed to %g after rejected sets", got)
	}
}

func TestSetTraitRejectsUnknownName(t *testing.T) {
	state := newTestState(t, nil)
	if err := state.SetTrait("charisma", 0.5); !errors.Is(err, persona.ErrUnknownTrait) {
		t.Errorf("expected ErrUnknownTrait, got %v", err)
	}
}

func TestSetTraitUpdatesWeight(t *testing.T) {
	state := newTestState(t, nil)
	if err := state.SetTrait("sarcasm", 0.9); err != nil {
		t.Fatal(err)
	}
	if got := state.Traits().Sarcasm; got != 0.9 {
		t.Errorf("sarcasm = %g, want 0.9", got)
	}
}

func TestNewRejectsInvalidDefaults(t *testing.T) {
	_, err := persona.New(persona.Traits{Wit: 1.5}, nil)
	if !errors.Is(err, persona.ErrTraitRange) {
		t.Errorf("expected ErrTraitRange, got %v", err)
	}
}

func TestSelectEmbellishment(t *testing.T) {
	phrases := map[string][]string{
		"apology": {"Oh dear.", "Hmm."},
	}
	state := newTestState(t, phrases)

	t.Run("known category returns a configured phrase", func(t *testing.T) {
		got := state.SelectEmbellishment("apology")
		if got != "Oh dear." && got != "Hmm." {
			t.Errorf("unexpected phrase %q", got)
		}
	})

	t.Run("unknown category returns empty", func(t *testing.T) {
		if got := state.SelectEmbellishment("celebration"); got != "" {
			t.Errorf("expected empty phrase, got %q", got)
		}
	})
}

func TestBuildDirectiveReflectsState(t *testing.T) {
	state := newTestState(t, nil)
	state.Observe("the heating is broken, help")

	directive := state.BuildDirective()
	if !strings.Contains(directive, "helpful") {
		t.Errorf("directive missing mood: %q", directive)
	}
	if !strings.Contains(directive, "helpfulness=0.80") {
		t.Errorf("directive missing trait weights: %q", directive)
	}
}
