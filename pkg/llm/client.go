// Package llm calls the completion provider, gated by the rate governor.
//
// Every network call acquires governor budget first and commits the
// tokens actually consumed afterwards, so a cancelled or failed call does
// not hold estimated budget. Retry behavior is a declared policy per
// error class rather than ad-hoc loops: provider 429s back off
// exponentially up to three attempts, timeouts get exactly one retry.
package llm

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
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sonahome/sona/internal/httpc"
	"github.com/sonahome/sona/pkg/govern"
)

const (
	rateLimitAttempts = 3
	rateLimitBaseWait = 500 * time.Millisecond
	timeoutAttempts   = 2 // initial call + one retry
)

// Completer produces a response for a composed prompt.
type Completer interface {
	Complete(ctx context.Context, promptText string) (string, error)
}

// Config configures the completion client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Client is the HTTP completion client.
type Client struct {
	cfg      Config
	governor *govern.Governor
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a completion client gated by the given governor.
func NewClient(cfg Config, governor *govern.Governor) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpc.DefaultTimeout
	}
	return &Client{
		cfg:      cfg,
		governor: governor,
		client:   httpc.NewClient(timeout),
		logger:   logger.With("component", "llm"),
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt to the provider and returns the response text.
// Governor budget is acquired before the call; the grant is committed with
// the provider's reported usage, or zero when the call never completed.
func (c *Client) Complete(ctx context.Context, promptText string) (string, error) {
	if promptText == "" {
		return "", ErrEmptyPrompt
	}

	estimated := len(promptText)/4 + c.cfg.MaxTokens

	grant, err := c.governor.Acquire(ctx, estimated)
	if err != nil {
		return "", fmt.Errorf("llm: acquire budget: %w", err)
	}

	actual := 0
	defer func() { grant.Commit(actual) }()

	var (
		text     string
		timeouts int
	)

	backoff := retry.WithMaxRetries(rateLimitAttempts-1, retry.NewExponential(rateLimitBaseWait))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		text, actual, callErr = c.call(ctx, promptText)
		if callErr == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(callErr, &apiErr) && apiErr.IsRateLimited() {
			c.logger.Warn("provider rate limited, backing off")
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrRateLimited, callErr))
		}

		if errors.Is(callErr, ErrTimeout) {
			timeouts++
			if timeouts < timeoutAttempts {
				c.logger.Warn("provider timeout, retrying once")
				return retry.RetryableError(callErr)
			}
			return callErr
		}

		return callErr
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("completion received", "tokens", actual, "chars", len(text))
	return text, nil
}

// call performs one provider round trip. It maps status codes onto the
// failure taxonomy and returns the usage token count on success.
func (c *Client) call(ctx context.Context, promptText string) (string, int, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    []message{{Role: "user", Content: promptText}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", 0, err
		}
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return "", 0, ErrTimeout
		}
		return "", 0, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
		if apiErr.IsUnauthorized() {
			return "", 0, fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
		}
		if apiErr.IsRateLimited() {
			return "", 0, apiErr
		}
		if apiErr.IsServerError() {
			return "", 0, fmt.Errorf("%w: %v", ErrCompletionFailed, apiErr)
		}
		return "", 0, fmt.Errorf("%w: %v", ErrCompletionFailed, apiErr)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("%w: decode response: %v", ErrCompletionFailed, err)
	}
	if len(out.Choices) == 0 {
		return "", 0, fmt.Errorf("%w: empty choices", ErrCompletionFailed)
	}

	return out.Choices[0].Message.Content, out.Usage.TotalTokens, nil
}

// Verify Client implements Completer at compile time.
var _ Completer = (*Client)(nil)
