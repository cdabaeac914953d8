package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// LocalEngine synthesizes speech by invoking a local TTS binary
// (piper-style) as a bounded-time subprocess. It is the low-latency
// primary engine.
type LocalEngine struct {
	binary    string
	modelPath string
	timeout   time.Duration
	ttl       time.Duration
	logger    *slog.Logger
	closed    bool
}

// LocalConfig configures the local engine.
type LocalConfig struct {
	Binary    string
	ModelPath string
	Timeout   time.Duration
	TTL       time.Duration
	Logger    *slog.Logger
}

// NewLocalEngine creates the subprocess-backed engine.
func NewLocalEngine(cfg LocalConfig) *LocalEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngine{
		binary:    cfg.Binary,
		modelPath: cfg.ModelPath,
		timeout:   cfg.Timeout,
		ttl:       cfg.TTL,
		logger:    logger.With("component", "tts.local"),
	}
}

// Name identifies the engine.
func (e *LocalEngine) Name() string { return "local" }

// Synthesize runs the TTS binary with a bounded timeout and reads the
// generated wav file. The subprocess is killed when ctx expires.
func (e *LocalEngine) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if e.closed {
		return nil, &EngineError{Engine: e.Name(), Err: ErrEngineClosed}
	}
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tempFile, err := os.CreateTemp("", "sona-tts-*.wav")
	if err != nil {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("create temp file: %w", err)}
	}
	tempFile.Close()
	defer func() {
		if removeErr := os.Remove(tempFile.Name()); removeErr != nil {
			e.logger.Warn("failed to remove temp file", "path", tempFile.Name(), "error", removeErr)
		}
	}()

	args := []string{
		"--model", e.modelPath,
		"--voice", req.Voice,
		"--language", req.Language,
		"--output_file", tempFile.Name(),
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)

	// Text goes over stdin so shell quoting never matters.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("start %s: %w", e.binary, err)}
	}

	if _, err := stdin.Write([]byte(req.Text)); err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("write text: %w", err)}
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("timed out: %w", ctx.Err())}
		}
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("%s failed: %w", e.binary, err)}
	}

	audio, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("read output: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("%s produced no audio", e.binary)}
	}

	return &Artifact{
		Audio:     audio,
		Format:    "wav",
		Key:       req.Key(),
		Language:  req.Language,
		Provider:  TierPrimary,
		CreatedAt: time.Now(),
		TTL:       e.ttl,
	}, nil
}

// Close marks the engine closed.
func (e *LocalEngine) Close() error {
	e.closed = true
	return nil
}

// Verify LocalEngine implements Engine at compile time.
var _ Engine = (*LocalEngine)(nil)
