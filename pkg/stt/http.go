package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sonahome/sona/internal/httpc"
)

// HTTPTranscriber calls a whisper-style HTTP transcription endpoint.
// Raw audio bytes are posted with the sample rate in a header; the
// provider responds with {text, confidence, language}.
type HTTPTranscriber struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// HTTPConfig configures the HTTP transcriber.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewHTTPTranscriber creates an HTTP-backed transcriber.
func NewHTTPTranscriber(cfg HTTPConfig) *HTTPTranscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpc.DefaultTimeout
	}
	return &HTTPTranscriber{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   httpc.NewClient(timeout),
		logger:   logger.With("component", "stt.http"),
	}
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Transcribe posts the audio and decodes the provider response.
// Timeouts and 5xx responses surface as ErrUnavailable; the adapter
// never retries.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, sampleRate int) (*Result, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", strconv.Itoa(sampleRate))
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, &ProviderError{Provider: "http", Err: ErrUnavailable}
		}
		return nil, &ProviderError{Provider: "http", Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &ProviderError{Provider: "http", Err: fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{Provider: "http", Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProviderError{Provider: "http", Err: fmt.Errorf("decode response: %w", err)}
	}

	t.logger.Debug("transcribed",
		"chars", len(out.Text),
		"confidence", out.Confidence,
		"language", out.Language,
	)

	return &Result{
		Text:       out.Text,
		Confidence: out.Confidence,
		Language:   out.Language,
	}, nil
}

// Verify HTTPTranscriber implements Transcriber at compile time.
var _ Transcriber = (*HTTPTranscriber)(nil)
