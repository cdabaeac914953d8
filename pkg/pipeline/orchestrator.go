package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonahome/sona/pkg/dispatch"
	"github.com/sonahome/sona/pkg/llm"
	"github.com/sonahome/sona/pkg/prompt"
	"github.com/sonahome/sona/pkg/session"
	"github.com/sonahome/sona/pkg/stt"
	"github.com/sonahome/sona/pkg/tts"
)

// Sentinel errors.
var (
	ErrSessionAborted = errors.New("pipeline: session aborted")
	ErrCancelled      = errors.New("pipeline: run cancelled by barge-in")
)

// Orchestrator drives the per-session pipeline state machine.
type Orchestrator struct {
	cfg         Config
	sessions    *session.Store
	transcriber stt.Transcriber
	completer   llm.Completer
	synth       *tts.Manager
	publisher   *dispatch.Publisher
	metrics     *Collector
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]*run // session id → in-flight run
}

// run tracks one in-flight pipeline execution for barge-in.
type run struct {
	cancel context.CancelFunc
}

// New creates an orchestrator.
func New(
	cfg Config,
	sessions *session.Store,
	transcriber stt.Transcriber,
	completer llm.Completer,
	synth *tts.Manager,
	publisher *dispatch.Publisher,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	// Audio is held in the cache until a consumer acknowledges playback;
	// the TTL sweep reclaims artifacts whose status never arrives.
	publisher.OnDelivered(func(_, artifactKey string) {
		synth.Release(artifactKey)
	})
	return &Orchestrator{
		cfg:         cfg,
		sessions:    sessions,
		transcriber: transcriber,
		completer:   completer,
		synth:       synth,
		publisher:   publisher,
		metrics:     NewCollector(),
		logger:      logger.With("component", "pipeline"),
		inflight:    make(map[string]*run),
	}
}

// Metrics returns the orchestrator's stage metrics collector.
func (o *Orchestrator) Metrics() *Collector {
	return o.metrics
}

// Cancel aborts any in-flight run for the session (barge-in). Outstanding
// external calls are cancelled through their contexts, not ignored.
func (o *Orchestrator) Cancel(sessionID string) {
	o.mu.Lock()
	r := o.inflight[sessionID]
	o.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// register installs this run as the session's in-flight run, cancelling
// any previous one. Returns the run context and a cleanup func.
func (o *Orchestrator) register(ctx context.Context, sessionID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	o.mu.Lock()
	if prev := o.inflight[sessionID]; prev != nil {
		prev.cancel()
		o.logger.Info("barge-in: cancelled in-flight run", "session_id", sessionID)
	}
	o.inflight[sessionID] = r
	o.mu.Unlock()

	cleanup := func() {
		cancel()
		o.mu.Lock()
		// Only remove our own registration; a newer run may have replaced it.
		if o.inflight[sessionID] == r {
			delete(o.inflight, sessionID)
		}
		o.mu.Unlock()
	}
	return runCtx, cleanup
}

// Process runs one captured utterance through the full pipeline and
// returns the outcome. Recoverable stage errors are absorbed into a
// fallback spoken response; only a fatal credential failure returns an
// error alongside an Aborted outcome.
func (o *Orchestrator) Process(ctx context.Context, job Job) (*Outcome, error) {
	sess := o.sessions.GetOrCreate(job.SessionID)
	logger := o.logger.With("session_id", sess.ID)

	runCtx, cleanup := o.register(ctx, sess.ID)
	defer cleanup()

	if job.Snapshot != nil {
		sess.SetSnapshot(job.Snapshot)
	}

	targets := job.Targets
	if len(targets) == 0 {
		targets = o.cfg.DefaultTargets
	}

	outcome := &Outcome{SessionID: sess.ID, Targets: targets}

	// Transcribing
	result, err := o.transcribe(runCtx, job)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, runCtx.Err())
		}
		logger.Warn("transcription unavailable, speaking apology", "error", err)
		outcome.FellBack = true
		return o.deliver(runCtx, sess, outcome, o.fallbackPhrase(sess, "apology", o.cfg.ApologyPhrase), targets, logger)
	}

	outcome.Transcript = result.Text
	outcome.Confidence = result.Confidence
	logger.Info("transcribed", "confidence", result.Confidence, "language", result.Language)

	utterance := session.Utterance{
		Text:       result.Text,
		Confidence: result.Confidence,
		Language:   result.Language,
		Timestamp:  time.Now(),
	}

	// Low confidence skips completion entirely and asks for clarification.
	if result.Confidence < o.cfg.ConfidenceThreshold {
		o.metrics.Observe(StageClarifying, 0, false)
		logger.Info("low confidence, clarifying", "confidence", result.Confidence)
		outcome.FellBack = true
		clarification := o.fallbackPhrase(sess, "clarify", o.cfg.ClarificationPhrase)
		sess.AppendExchange(session.Exchange{Utterance: utterance, Response: clarification})
		return o.deliver(runCtx, sess, outcome, clarification, targets, logger)
	}

	// Composing
	var promptText string
	_ = o.metrics.timeStage(StageComposing, func() error {
		sess.Persona.Observe(utterance.Text)
		directive := sess.Persona.BuildDirective()
		history := append(sess.History(), session.Exchange{Utterance: utterance})
		promptText = prompt.Compose(history, sess.Snapshot(), directive)
		return nil
	})

	// Completing
	responseText, err := o.complete(runCtx, promptText)
	switch {
	case err == nil:
		// provider answered
	case errors.Is(err, llm.ErrUnauthorized):
		// Fatal for the session: bad credential. Operator-visible alert.
		logger.Error("OPERATOR ALERT: completion provider rejected credentials, aborting session", "error", err)
		o.sessions.Close(sess.ID)
		o.metrics.RunCompleted(true, false)
		outcome.State = StageAborted
		return outcome, fmt.Errorf("%w: %v", ErrSessionAborted, err)
	case runCtx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", ErrCancelled, runCtx.Err())
	default:
		logger.Warn("completion failed, speaking apology", "error", err)
		outcome.FellBack = true
		responseText = o.fallbackPhrase(sess, "apology", o.cfg.ApologyPhrase)
	}

	outcome.Response = responseText
	sess.AppendExchange(session.Exchange{Utterance: utterance, Response: responseText})

	return o.deliver(runCtx, sess, outcome, responseText, targets, logger)
}

// transcribe runs the transcription stage with its timeout ceiling and
// the declared retry policy: exactly one retry when the provider is
// unavailable, then fallback.
func (o *Orchestrator) transcribe(ctx context.Context, job Job) (*stt.Result, error) {
	var result *stt.Result

	err := o.metrics.timeStage(StageTranscribing, func() error {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Transcribe)
		defer cancel()

		var err error
		result, err = o.transcriber.Transcribe(stageCtx, job.Audio, job.SampleRate)
		if err != nil && errors.Is(err, stt.ErrUnavailable) && ctx.Err() == nil {
			result, err = o.transcriber.Transcribe(stageCtx, job.Audio, job.SampleRate)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// complete runs the completion stage with its timeout ceiling.
func (o *Orchestrator) complete(ctx context.Context, promptText string) (string, error) {
	var text string

	err := o.metrics.timeStage(StageCompleting, func() error {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Complete)
		defer cancel()

		var err error
		text, err = o.completer.Complete(stageCtx, promptText)
		return err
	})
	return text, err
}

// deliver synthesizes the response text and dispatches it to every
// target. When synthesis fails on all engines, only a failure status is
// published — no audio, no crash.
func (o *Orchestrator) deliver(
	ctx context.Context,
	sess *session.Session,
	outcome *Outcome,
	text string,
	targets []string,
	logger *slog.Logger,
) (*Outcome, error) {
	if outcome.Response == "" {
		outcome.Response = text
	}

	// Synthesizing
	var artifact *tts.Artifact
	err := o.metrics.timeStage(StageSynthesizing, func() error {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Synthesize)
		defer cancel()

		var err error
		artifact, err = o.synth.Synthesize(stageCtx, tts.Request{
			Text:     text,
			Voice:    o.cfg.Voice,
			Language: o.cfg.Language,
		})
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		logger.Error("synthesis failed on all engines, publishing failure status", "error", err)
		for _, target := range targets {
			if pubErr := o.publisher.PublishFailure(target, "synthesis_failed"); pubErr != nil {
				logger.Warn("failure status publish failed", "target", target, "error", pubErr)
			}
		}
		o.metrics.RunCompleted(false, true)
		outcome.State = StageIdle
		outcome.FellBack = true
		return outcome, nil
	}

	// Dispatching
	err = o.metrics.timeStage(StageDispatching, func() error {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Dispatch)
		defer cancel()

		tickets, err := o.publisher.Dispatch(stageCtx, targets, artifact, o.cfg.Volume)
		if err != nil {
			return err
		}

		// Await per-target outcomes in parallel; one target failing
		// neither blocks nor fails the others.
		var wg sync.WaitGroup
		for _, ticket := range tickets {
			if ticket.Err != nil {
				logger.Warn("target unreachable", "target", ticket.Target, "error", ticket.Err)
				continue
			}
			wg.Add(1)
			go func(ticket dispatch.Ticket) {
				defer wg.Done()
				status, err := o.publisher.Await(stageCtx, ticket.CorrelationID)
				if err != nil {
					logger.Warn("no delivery status", "target", ticket.Target, "error", err)
					return
				}
				logger.Debug("delivery status", "target", ticket.Target, "state", string(status.State))
			}(ticket)
		}
		wg.Wait()
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		logger.Warn("dispatch failed", "error", err)
	}

	sess.Touch()
	o.metrics.RunCompleted(false, outcome.FellBack)
	outcome.State = StageIdle
	return outcome, nil
}

// fallbackPhrase decorates the configured phrase with a persona
// embellishment when the table has one for the category.
func (o *Orchestrator) fallbackPhrase(sess *session.Session, category, phrase string) string {
	if embellishment := sess.Persona.SelectEmbellishment(category); embellishment != "" {
		return embellishment + " " + phrase
	}
	return phrase
}
