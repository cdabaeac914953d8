package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 10 * time.Second

// StreamEngine is the network-backed secondary engine. It opens a
// websocket per request, streams the text, and collects base64 audio
// chunks until the server signals end of stream. Higher latency than the
// local engine, but independent of local model availability.
type StreamEngine struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	ttl      time.Duration
	logger   *slog.Logger
	closed   bool
}

// StreamConfig configures the streaming engine.
type StreamConfig struct {
	Endpoint string // ws:// or wss:// URL
	APIKey   string
	Timeout  time.Duration
	TTL      time.Duration
	Logger   *slog.Logger
}

// NewStreamEngine creates the websocket-backed engine.
func NewStreamEngine(cfg StreamConfig) *StreamEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamEngine{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		ttl:      cfg.TTL,
		logger:   logger.With("component", "tts.stream"),
	}
}

// Name identifies the engine.
func (e *StreamEngine) Name() string { return "stream" }

// synthesisStart is the first frame sent on the socket.
type synthesisStart struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// synthesisChunk is a server frame carrying audio or end-of-stream.
type synthesisChunk struct {
	Audio  string `json:"audio,omitempty"` // base64
	Format string `json:"format,omitempty"`
	Done   bool   `json:"done,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Synthesize streams the request over a websocket and assembles the
// returned audio chunks into one artifact.
func (e *StreamEngine) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if e.closed {
		return nil, &EngineError{Engine: e.Name(), Err: ErrEngineClosed}
	}
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	headers := http.Header{}
	if e.apiKey != "" {
		headers.Set("Authorization", "Bearer "+e.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, e.endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("dial failed: %w", err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	start := synthesisStart{Text: req.Text, Voice: req.Voice, Language: req.Language}
	if err := conn.WriteJSON(start); err != nil {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("send request: %w", err)}
	}

	var (
		audio  []byte
		format = "pcm_22050"
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("read chunk: %w", err)}
		}

		var chunk synthesisChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("decode chunk: %w", err)}
		}

		if chunk.Error != "" {
			return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("server error: %s", chunk.Error)}
		}
		if chunk.Format != "" {
			format = chunk.Format
		}
		if chunk.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("decode audio: %w", err)}
			}
			audio = append(audio, decoded...)
		}
		if chunk.Done {
			break
		}
	}

	if len(audio) == 0 {
		return nil, &EngineError{Engine: e.Name(), Err: fmt.Errorf("stream produced no audio")}
	}

	e.logger.Debug("stream synthesis complete", "bytes", len(audio), "format", format)

	return &Artifact{
		Audio:     audio,
		Format:    format,
		Key:       req.Key(),
		Language:  req.Language,
		Provider:  TierSecondary,
		CreatedAt: time.Now(),
		TTL:       e.ttl,
	}, nil
}

// Close marks the engine closed.
func (e *StreamEngine) Close() error {
	e.closed = true
	return nil
}

// Verify StreamEngine implements Engine at compile time.
var _ Engine = (*StreamEngine)(nil)
