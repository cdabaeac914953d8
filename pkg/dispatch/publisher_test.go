package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonahome/sona/pkg/tts"
)

const (
	testSpeakPrefix   = "sona.tts"
	testStatusSubject = "sona.tts.status"
)

func testArtifact() *tts.Artifact {
	return &tts.Artifact{
		Audio:     []byte("audio-bytes"),
		Format:    "wav",
		Key:       "test-key",
		Language:  "en",
		Provider:  tts.TierPrimary,
		CreatedAt: time.Now(),
		TTL:       time.Minute,
	}
}

func startPublisher(t *testing.T, bus *MemoryBus) (*Publisher, context.CancelFunc) {
	t.Helper()
	p := NewPublisher(bus, Config{SpeakPrefix: testSpeakPrefix, StatusSubject: testStatusSubject})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("publisher run: %v", err)
		}
	}()
	// Let Run install its status subscription.
	time.Sleep(20 * time.Millisecond)
	return p, cancel
}

// ackSpeaker simulates a speaker consumer: it receives playback envelopes
// on its subject and acknowledges each on the status subject.
func ackSpeaker(t *testing.T, bus *MemoryBus, target string) *[]Envelope {
	t.Helper()
	var (
		mu       sync.Mutex
		received []Envelope
	)
	_, err := bus.Subscribe(testSpeakPrefix+"."+target, func(data []byte) {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Errorf("speaker %s: bad envelope: %v", target, err)
			return
		}
		mu.Lock()
		received = append(received, env)
		mu.Unlock()

		ack, _ := json.Marshal(Status{
			CorrelationID: env.CorrelationID,
			Target:        target,
			State:         StateDelivered,
		})
		if err := bus.Publish(testStatusSubject, ack); err != nil {
			t.Errorf("speaker %s: ack: %v", target, err)
		}
	})
	if err != nil {
		t.Fatalf("subscribe speaker %s: %v", target, err)
	}
	return &received
}

func TestDispatchFansOutPerTarget(t *testing.T) {
	bus := NewMemoryBus()
	kitchen := ackSpeaker(t, bus, "kitchen")
	bedroom := ackSpeaker(t, bus, "bedroom")
	p, cancel := startPublisher(t, bus)
	defer cancel()

	tickets, err := p.Dispatch(context.Background(), []string{"kitchen", "bedroom"}, testArtifact(), 0.8)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("got %d tickets, want 2", len(tickets))
	}
	if tickets[0].CorrelationID == tickets[1].CorrelationID {
		t.Error("each target must get its own correlation id")
	}

	for _, ticket := range tickets {
		if ticket.Err != nil {
			t.Fatalf("target %s: %v", ticket.Target, ticket.Err)
		}
		ctx, done := context.WithTimeout(context.Background(), time.Second)
		status, err := p.Await(ctx, ticket.CorrelationID)
		done()
		if err != nil {
			t.Fatalf("await %s: %v", ticket.Target, err)
		}
		if status.State != StateDelivered {
			t.Errorf("target %s: state = %q", ticket.Target, status.State)
		}
	}

	if len(*kitchen) != 1 || len(*bedroom) != 1 {
		t.Fatalf("envelopes = %d/%d, want 1/1", len(*kitchen), len(*bedroom))
	}
	env := (*kitchen)[0]
	if string(env.Audio) != "audio-bytes" || env.Format != "wav" || env.Volume != 0.8 || env.Language != "en" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env.Provider != "primary" {
		t.Errorf("provider = %q, want primary", env.Provider)
	}
}

func TestDispatchTargetFailuresAreIndependent(t *testing.T) {
	bus := NewMemoryBus()
	bedroom := ackSpeaker(t, bus, "bedroom")
	bus.FailSubject(testSpeakPrefix+".kitchen", errors.New("no responders"))
	p, cancel := startPublisher(t, bus)
	defer cancel()

	tickets, err := p.Dispatch(context.Background(), []string{"kitchen", "bedroom"}, testArtifact(), 0.5)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	byTarget := map[string]Ticket{}
	for _, ticket := range tickets {
		byTarget[ticket.Target] = ticket
	}
	if !errors.Is(byTarget["kitchen"].Err, ErrTargetUnreachable) {
		t.Errorf("kitchen err = %v, want ErrTargetUnreachable", byTarget["kitchen"].Err)
	}
	if byTarget["bedroom"].Err != nil {
		t.Errorf("bedroom must not be failed by its sibling: %v", byTarget["bedroom"].Err)
	}

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	status, err := p.Await(ctx, byTarget["bedroom"].CorrelationID)
	if err != nil {
		t.Fatalf("await bedroom: %v", err)
	}
	if status.State != StateDelivered {
		t.Errorf("bedroom state = %q", status.State)
	}
	if len(*bedroom) != 1 {
		t.Errorf("bedroom envelopes = %d, want 1", len(*bedroom))
	}
}

func TestDispatchNoTargets(t *testing.T) {
	p := NewPublisher(NewMemoryBus(), Config{SpeakPrefix: testSpeakPrefix, StatusSubject: testStatusSubject})
	if _, err := p.Dispatch(context.Background(), nil, testArtifact(), 0.5); !errors.Is(err, ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
}

func TestDuplicateStatusResolvesOnce(t *testing.T) {
	bus := NewMemoryBus()

	// Speaker that acknowledges every envelope three times over.
	if _, err := bus.Subscribe(testSpeakPrefix+".kitchen", func(data []byte) {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Errorf("bad envelope: %v", err)
			return
		}
		ack, _ := json.Marshal(Status{CorrelationID: env.CorrelationID, Target: "kitchen", State: StateDelivered})
		for i := 0; i < 3; i++ {
			if err := bus.Publish(testStatusSubject, ack); err != nil {
				t.Errorf("publish status: %v", err)
			}
		}
	}); err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(bus, Config{SpeakPrefix: testSpeakPrefix, StatusSubject: testStatusSubject})
	var (
		resolved    atomic.Int64
		releasedKey atomic.Value
	)
	p.OnDelivered(func(_, artifactKey string) {
		resolved.Add(1)
		releasedKey.Store(artifactKey)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("publisher run: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	tickets, err := p.Dispatch(context.Background(), []string{"kitchen"}, testArtifact(), 0.5)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for resolved.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give any duplicate a chance to be (incorrectly) processed.
	time.Sleep(50 * time.Millisecond)
	if got := resolved.Load(); got != 1 {
		t.Errorf("resolved %d times, want exactly 1", got)
	}
	if key, _ := releasedKey.Load().(string); key != "test-key" {
		t.Errorf("released key = %q, want test-key", key)
	}

	// A resolved id answers from the dedupe set without a waiter.
	got, err := p.Await(context.Background(), tickets[0].CorrelationID)
	if err != nil {
		t.Fatalf("await resolved id: %v", err)
	}
	if got.State != StateDelivered {
		t.Errorf("state = %q, want delivered", got.State)
	}
}

func TestAwaitUnknownCorrelationID(t *testing.T) {
	p := NewPublisher(NewMemoryBus(), Config{SpeakPrefix: testSpeakPrefix, StatusSubject: testStatusSubject})
	if _, err := p.Await(context.Background(), "never-dispatched"); err == nil {
		t.Error("expected an error for an unknown correlation id")
	}
}

func TestAwaitTimesOutWithoutStatus(t *testing.T) {
	bus := NewMemoryBus()
	// Speaker that receives but never acknowledges.
	if _, err := bus.Subscribe(testSpeakPrefix+".kitchen", func([]byte) {}); err != nil {
		t.Fatal(err)
	}
	p, cancel := startPublisher(t, bus)
	defer cancel()

	tickets, err := p.Dispatch(context.Background(), []string{"kitchen"}, testArtifact(), 0.5)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ctx, done := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer done()
	if _, err := p.Await(ctx, tickets[0].CorrelationID); !errors.Is(err, ErrAwaitCancelled) {
		t.Errorf("expected ErrAwaitCancelled, got %v", err)
	}
}

func TestPublishFailureEmitsFailedStatus(t *testing.T) {
	bus := NewMemoryBus()
	var (
		mu       sync.Mutex
		statuses []Status
	)
	if _, err := bus.Subscribe(testStatusSubject, func(data []byte) {
		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			t.Errorf("bad status: %v", err)
			return
		}
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(bus, Config{SpeakPrefix: testSpeakPrefix, StatusSubject: testStatusSubject})
	if err := p.PublishFailure("kitchen", "synthesis_failed"); err != nil {
		t.Fatalf("publish failure: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	s := statuses[0]
	if s.State != StateFailed || s.Target != "kitchen" || s.Reason != "synthesis_failed" {
		t.Errorf("unexpected status %+v", s)
	}
	if s.CorrelationID == "" {
		t.Error("failure status must carry a correlation id")
	}
}
