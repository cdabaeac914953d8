package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sonahome/sona/pkg/tts"
)

// maxResolvedIDs bounds the dedupe set; the consumer-side contract only
// requires dedupe over a playback's lifetime, not forever.
const maxResolvedIDs = 4096

// Sentinel errors.
var (
	ErrTargetUnreachable = errors.New("dispatch: target unreachable")
	ErrNoTargets         = errors.New("dispatch: no targets")
	ErrAwaitCancelled    = errors.New("dispatch: await cancelled")
)

// Envelope is the playback command published per target.
// Consumers must dedupe by correlation id: a duplicate publish for the
// same id must never cause a second audible playback.
type Envelope struct {
	CorrelationID string  `json:"correlation_id"`
	Audio         []byte  `json:"audio,omitempty"`     // inline payload
	AudioRef      string  `json:"audio_ref,omitempty"` // or a fetchable reference
	Format        string  `json:"format"`
	Volume        float64 `json:"volume"`
	Language      string  `json:"language"`
	Provider      string  `json:"provider"` // engine tier that produced the audio
}

// StatusState is the delivery outcome reported by a consumer.
type StatusState string

const (
	StateDelivered StatusState = "delivered"
	StateFailed    StatusState = "failed"
)

// Status is an asynchronous delivery report on the shared status subject.
type Status struct {
	CorrelationID string      `json:"correlation_id"`
	Target        string      `json:"target"`
	State         StatusState `json:"state"`
	Reason        string      `json:"reason,omitempty"`
}

// Ticket is the per-target result of a fan-out publish.
type Ticket struct {
	Target        string
	CorrelationID string
	Err           error // publish failure for this target only
}

// Publisher fans playback commands out to target speakers and consumes
// the shared status subject through a single typed-event loop.
type Publisher struct {
	bus           Bus
	speakPrefix   string
	statusSubject string
	logger        *slog.Logger

	events chan Status

	mu      sync.Mutex
	waiters map[string]chan Status
	keys    map[string]string      // correlation id → artifact cache key
	seen    map[string]StatusState // correlation ids already resolved

	// onDelivered runs after the first delivered/failed status for an
	// artifact; the pipeline uses it to release the audio.
	onDelivered func(correlationID, artifactKey string)
}

// Config configures the publisher.
type Config struct {
	SpeakPrefix   string // e.g. "sona.tts" → sona.tts.<target>
	StatusSubject string
	Logger        *slog.Logger
}

// NewPublisher creates a dispatch publisher.
func NewPublisher(bus Bus, cfg Config) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:           bus,
		speakPrefix:   cfg.SpeakPrefix,
		statusSubject: cfg.StatusSubject,
		logger:        logger.With("component", "dispatch"),
		events:        make(chan Status, 64),
		waiters:       make(map[string]chan Status),
		keys:          make(map[string]string),
		seen:          make(map[string]StatusState),
	}
}

// OnDelivered sets the callback invoked once per resolved correlation id
// that carries a dispatched artifact. Set before Run.
func (p *Publisher) OnDelivered(fn func(correlationID, artifactKey string)) {
	p.onDelivered = fn
}

// Run subscribes to the status subject and consumes status events until
// ctx is cancelled. Events are handled by this single loop; handlers
// never re-enter the bus callback.
func (p *Publisher) Run(ctx context.Context) error {
	unsubscribe, err := p.bus.Subscribe(p.statusSubject, func(data []byte) {
		var status Status
		if err := json.Unmarshal(data, &status); err != nil {
			p.logger.Warn("malformed status event", "error", err)
			return
		}
		select {
		case p.events <- status:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case status := <-p.events:
			p.handleStatus(status)
		}
	}
}

// handleStatus resolves waiters exactly once per correlation id;
// duplicate status events are dropped.
func (p *Publisher) handleStatus(status Status) {
	p.mu.Lock()
	if _, dup := p.seen[status.CorrelationID]; dup {
		p.mu.Unlock()
		p.logger.Debug("duplicate status dropped", "correlation_id", status.CorrelationID)
		return
	}
	if len(p.seen) >= maxResolvedIDs {
		p.seen = make(map[string]StatusState, maxResolvedIDs)
	}
	p.seen[status.CorrelationID] = status.State
	waiter := p.waiters[status.CorrelationID]
	key := p.keys[status.CorrelationID]
	delete(p.waiters, status.CorrelationID)
	delete(p.keys, status.CorrelationID)
	p.mu.Unlock()

	if status.State == StateFailed {
		p.logger.Warn("delivery failed",
			"correlation_id", status.CorrelationID,
			"target", status.Target,
			"reason", status.Reason,
		)
	}

	if waiter != nil {
		waiter <- status
		close(waiter)
	}
	// Statuses with no registered dispatch (e.g. synthesis failures)
	// carry no artifact to release.
	if p.onDelivered != nil && key != "" {
		p.onDelivered(status.CorrelationID, key)
	}
}

// Dispatch fans the artifact out to every target in parallel. Each
// target gets its own correlation id and its own publish; one target
// failing neither blocks nor fails its siblings.
func (p *Publisher) Dispatch(ctx context.Context, targets []string, artifact *tts.Artifact, volume float64) ([]Ticket, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	tickets := make([]Ticket, len(targets))
	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()

			correlationID := uuid.NewString()
			p.registerWaiter(correlationID, artifact.Key)

			envelope := Envelope{
				CorrelationID: correlationID,
				Audio:         artifact.Audio,
				Format:        artifact.Format,
				Volume:        volume,
				Language:      artifact.Language,
				Provider:      string(artifact.Provider),
			}

			data, err := json.Marshal(envelope)
			if err != nil {
				tickets[i] = Ticket{Target: target, Err: fmt.Errorf("dispatch: marshal envelope: %w", err)}
				p.dropWaiter(correlationID)
				return
			}

			subject := p.speakPrefix + "." + target
			if err := p.bus.Publish(subject, data); err != nil {
				p.logger.Warn("publish failed", "target", target, "error", err)
				tickets[i] = Ticket{Target: target, Err: fmt.Errorf("%w: %s: %v", ErrTargetUnreachable, target, err)}
				p.dropWaiter(correlationID)
				return
			}

			tickets[i] = Ticket{Target: target, CorrelationID: correlationID}
		}(i, target)
	}

	wg.Wait()
	return tickets, nil
}

// Await blocks until the correlation id resolves or ctx expires.
func (p *Publisher) Await(ctx context.Context, correlationID string) (Status, error) {
	p.mu.Lock()
	if state, ok := p.seen[correlationID]; ok {
		p.mu.Unlock()
		return Status{CorrelationID: correlationID, State: state}, nil
	}
	waiter := p.waiters[correlationID]
	p.mu.Unlock()

	if waiter == nil {
		return Status{}, fmt.Errorf("dispatch: unknown correlation id %s", correlationID)
	}

	select {
	case <-ctx.Done():
		return Status{}, fmt.Errorf("%w: %v", ErrAwaitCancelled, ctx.Err())
	case status, ok := <-waiter:
		if !ok {
			return Status{}, fmt.Errorf("dispatch: waiter closed for %s", correlationID)
		}
		return status, nil
	}
}

// PublishFailure emits a failure status event without dispatching audio,
// used when synthesis failed on all engines.
func (p *Publisher) PublishFailure(target, reason string) error {
	status := Status{
		CorrelationID: uuid.NewString(),
		Target:        target,
		State:         StateFailed,
		Reason:        reason,
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("dispatch: marshal status: %w", err)
	}
	return p.bus.Publish(p.statusSubject, data)
}

func (p *Publisher) registerWaiter(correlationID, artifactKey string) {
	p.mu.Lock()
	p.waiters[correlationID] = make(chan Status, 1)
	p.keys[correlationID] = artifactKey
	p.mu.Unlock()
}

func (p *Publisher) dropWaiter(correlationID string) {
	p.mu.Lock()
	delete(p.waiters, correlationID)
	delete(p.keys, correlationID)
	p.mu.Unlock()
}
