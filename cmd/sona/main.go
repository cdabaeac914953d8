// Command sona runs the voice-command processing pipeline: it consumes
// captured utterances from the bus, runs them through transcription,
// completion, and synthesis, and dispatches spoken responses to the
// target speakers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/sonahome/sona/internal/config"
	"github.com/sonahome/sona/internal/log"
	"github.com/sonahome/sona/pkg/dispatch"
	"github.com/sonahome/sona/pkg/govern"
	"github.com/sonahome/sona/pkg/llm"
	"github.com/sonahome/sona/pkg/persona"
	"github.com/sonahome/sona/pkg/pipeline"
	"github.com/sonahome/sona/pkg/session"
	"github.com/sonahome/sona/pkg/stt"
	"github.com/sonahome/sona/pkg/tts"
	"github.com/sonahome/sona/pkg/web"
)

// intakeEvent is the captured-utterance envelope published by the
// wake-word/capture collaborator.
type intakeEvent struct {
	SessionID  string            `json:"session_id"`
	Audio      []byte            `json:"audio"`
	SampleRate int               `json:"sample_rate"`
	Targets    []string          `json:"targets,omitempty"`
	Snapshot   map[string]string `json:"device_snapshot,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sona: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	configPath := os.Getenv("SONA_CONFIG")
	if configPath == "" {
		configPath = "sona.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	logger := log.L()
	logger.Info("configuration loaded", "path", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := nats.Connect(cfg.Bus.URL,
		nats.Name("sona"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect bus %s: %w", cfg.Bus.URL, err)
	}
	defer conn.Close()

	// Components, leaves first.
	personaEngine, err := persona.New(persona.Traits{
		Wit:         cfg.Persona.Wit,
		Sarcasm:     cfg.Persona.Sarcasm,
		Helpfulness: cfg.Persona.Helpfulness,
	}, cfg.Persona.Phrases)
	if err != nil {
		return err
	}

	sessions := session.NewStore(session.Config{
		MaxHistoryTokens: cfg.Session.MaxHistoryTokens,
		IdleTimeout:      time.Duration(cfg.Session.IdleTimeoutSeconds) * time.Second,
	}, personaEngine, logger)

	governor := govern.New(govern.Limits{
		RequestsPerMinute: cfg.Governor.RequestsPerMinute,
		TokensPerMinute:   cfg.Governor.TokensPerMinute,
		RequestsPerHour:   cfg.Governor.RequestsPerHour,
	}, logger)

	transcriber := stt.NewHTTPTranscriber(stt.HTTPConfig{
		Endpoint: cfg.STT.Endpoint,
		APIKey:   cfg.STT.APIKey(),
		Timeout:  cfg.STT.Timeout(),
		Logger:   logger,
	})

	completer := llm.NewClient(llm.Config{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey(),
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout(),
		Logger:      logger,
	}, governor)

	artifactTTL := time.Duration(cfg.TTS.ArtifactTTLSeconds) * time.Second
	primary := tts.NewLocalEngine(tts.LocalConfig{
		Binary:    cfg.TTS.LocalBinary,
		ModelPath: cfg.TTS.LocalModelPath,
		Timeout:   time.Duration(cfg.TTS.LocalTimeoutSeconds) * time.Second,
		TTL:       artifactTTL,
		Logger:    logger,
	})
	secondary := tts.NewStreamEngine(tts.StreamConfig{
		Endpoint: cfg.TTS.Remote.Endpoint,
		APIKey:   cfg.TTS.Remote.APIKey(),
		Timeout:  cfg.TTS.Remote.Timeout(),
		TTL:      artifactTTL,
		Logger:   logger,
	})
	breaker := tts.NewBreaker(
		cfg.TTS.BreakerThreshold,
		time.Duration(cfg.TTS.BreakerWindowSeconds)*time.Second,
		time.Duration(cfg.TTS.BreakerCooldownSeconds)*time.Second,
	)
	synth := tts.NewManager(primary, secondary, breaker, tts.NewCache(cfg.TTS.CacheSize), logger)
	defer synth.Close()

	publisher := dispatch.NewPublisher(dispatch.NewNATSBus(conn), dispatch.Config{
		SpeakPrefix:   cfg.Bus.SpeakPrefix,
		StatusSubject: cfg.Bus.StatusSubject,
		Logger:        logger,
	})

	orchestrator := pipeline.New(pipeline.Config{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		Timeouts: pipeline.Timeouts{
			Transcribe: time.Duration(cfg.Pipeline.TranscribeTimeoutSeconds) * time.Second,
			Complete:   time.Duration(cfg.Pipeline.CompleteTimeoutSeconds) * time.Second,
			Synthesize: time.Duration(cfg.Pipeline.SynthesizeTimeoutSeconds) * time.Second,
			Dispatch:   time.Duration(cfg.Pipeline.DispatchTimeoutSeconds) * time.Second,
		},
		Voice:               cfg.TTS.Voice,
		Language:            cfg.TTS.Language,
		DefaultTargets:      cfg.Bus.DefaultTargets,
		Volume:              cfg.Pipeline.Volume,
		ApologyPhrase:       cfg.Pipeline.ApologyPhrase,
		ClarificationPhrase: cfg.Pipeline.ClarificationPhrase,
	}, sessions, transcriber, completer, synth, publisher, logger)

	statusServer := web.NewServer(cfg.Web.Addr, orchestrator, synth, sessions, logger)

	// Background loops.
	go sessions.Run(ctx)
	go synth.Run(ctx)
	go func() {
		if err := publisher.Run(ctx); err != nil {
			logger.Error("status loop failed", "error", err)
			stop()
		}
	}()
	go func() {
		if err := statusServer.Listen(); err != nil {
			logger.Error("status server failed", "error", err)
			stop()
		}
	}()

	// Intake: one goroutine per captured utterance. A new utterance for a
	// session that is already mid-pipeline barge-ins via the orchestrator.
	sub, err := conn.Subscribe(cfg.Bus.IntakeSubject, func(msg *nats.Msg) {
		var event intakeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("malformed intake event", "error", err)
			return
		}

		go func() {
			outcome, err := orchestrator.Process(ctx, pipeline.Job{
				SessionID:  event.SessionID,
				Audio:      event.Audio,
				SampleRate: event.SampleRate,
				Targets:    event.Targets,
				Snapshot:   event.Snapshot,
			})
			if err != nil {
				logger.Warn("pipeline run failed", "session_id", event.SessionID, "error", err)
				return
			}
			logger.Info("pipeline run finished",
				"session_id", outcome.SessionID,
				"state", outcome.State.String(),
				"fell_back", outcome.FellBack,
			)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Bus.IntakeSubject, err)
	}

	logger.Info("sona pipeline ready", "intake", cfg.Bus.IntakeSubject)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sub.Drain(); err != nil {
		logger.Warn("drain intake subscription", "error", err)
	}
	if err := statusServer.Shutdown(); err != nil {
		logger.Warn("status server shutdown", "error", err)
	}

	return nil
}
