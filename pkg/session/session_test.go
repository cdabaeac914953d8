package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sonahome/sona/pkg/persona"
	"github.com/sonahome/sona/pkg/session"
)

func newTestStore(t *testing.T, maxTokens int, idle time.Duration) *session.Store {
	t.Helper()
	engine, err := persona.New(persona.Traits{Wit: 0.5, Sarcasm: 0.2, Helpfulness: 0.8}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return session.NewStore(session.Config{MaxHistoryTokens: maxTokens, IdleTimeout: idle}, engine, nil)
}

func TestHistoryNeverExceedsTokenBudget(t *testing.T) {
	store := newTestStore(t, 50, time.Minute)
	sess := store.GetOrCreate("")

	long := strings.Repeat("turn on the kitchen light ", 4)
	for i := 0; i < 20; i++ {
		sess.AppendExchange(session.Exchange{
			Utterance: session.Utterance{Text: long, Confidence: 0.9, Language: "en", Timestamp: time.Now()},
			Response:  "Done.",
		})
		if got := sess.HistoryTokens(); got > 50 {
			t.Fatalf("after mutation %d history holds %d tokens, budget is 50", i, got)
		}
	}
}

func TestTrimDropsOldestFirst(t *testing.T) {
	store := newTestStore(t, 30, time.Minute)
	sess := store.GetOrCreate("")

	sess.AppendExchange(session.Exchange{
		Utterance: session.Utterance{Text: "first utterance in this conversation"},
		Response:  "first response",
	})
	sess.AppendExchange(session.Exchange{
		Utterance: session.Utterance{Text: "second utterance in this conversation"},
		Response:  "second response",
	})

	history := sess.History()
	if len(history) == 0 {
		t.Fatal("expected some history to survive")
	}
	newest := history[len(history)-1]
	if newest.Utterance.Text != "second utterance in this conversation" {
		t.Errorf("newest exchange was trimmed: %q", newest.Utterance.Text)
	}
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	store := newTestStore(t, 100, time.Minute)

	a := store.GetOrCreate("room-1")
	b := store.GetOrCreate("room-1")
	if a != b {
		t.Error("expected the same session for the same id")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 session, got %d", store.Len())
	}
}

func TestGetOrCreateAllocatesID(t *testing.T) {
	store := newTestStore(t, 100, time.Minute)
	sess := store.GetOrCreate("")
	if sess.ID == "" {
		t.Error("expected a generated session id")
	}
	if sess.Persona == nil {
		t.Error("expected personality state attached at creation")
	}
}

func TestCloseDestroysSession(t *testing.T) {
	store := newTestStore(t, 100, time.Minute)
	sess := store.GetOrCreate("room-2")

	store.Close(sess.ID)
	if store.Get(sess.ID) != nil {
		t.Error("expected session to be gone after Close")
	}
}

func TestSnapshotIsDefensivelyCopied(t *testing.T) {
	store := newTestStore(t, 100, time.Minute)
	sess := store.GetOrCreate("")

	original := map[string]string{"light.kitchen": "off"}
	sess.SetSnapshot(original)
	original["light.kitchen"] = "on"

	if got := sess.Snapshot()["light.kitchen"]; got != "off" {
		t.Errorf("snapshot mutated through caller's map: %q", got)
	}

	view := sess.Snapshot()
	view["light.kitchen"] = "dimmed"
	if got := sess.Snapshot()["light.kitchen"]; got != "off" {
		t.Errorf("snapshot mutated through returned copy: %q", got)
	}
}

func TestIdleSweepDestroysStaleSessions(t *testing.T) {
	store := newTestStore(t, 100, 50*time.Millisecond)
	sess := store.GetOrCreate("stale")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	deadline := time.After(5 * time.Second)
	for store.Get(sess.ID) != nil {
		select {
		case <-deadline:
			t.Fatal("idle session never swept")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
