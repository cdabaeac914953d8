// Package govern enforces the shared provider usage budgets: requests per
// minute, tokens per minute, and requests per hour, each tracked over a
// rolling window.
//
// The governor applies backpressure, not failure: when a budget would be
// exceeded, Acquire blocks until the oldest entry in the relevant window
// expires. It is the single process-wide serialization point; concurrent
// sessions contend on one mutex so counters can never double-count.
package govern

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limits are the configured budgets. All values must be positive.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
	RequestsPerHour   int
}

type entry struct {
	at     time.Time
	seq    uint64
	tokens int
}

// Governor tracks rolling usage windows. All methods are safe for
// concurrent use. The governor never errors on its own; Acquire returns
// an error only when the caller's context is cancelled while waiting.
type Governor struct {
	limits Limits
	logger *slog.Logger

	mu     sync.Mutex
	seq    uint64  // monotonic grant id
	minute []entry // pruned to the trailing 60s
	hour   []time.Time
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// New creates a Governor with the given limits.
func New(limits Limits, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		limits: limits,
		logger: logger.With("component", "govern"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until all budgets admit a request of the estimated token
// cost, then records it. Returns a Grant used to commit actual usage.
func (g *Governor) Acquire(ctx context.Context, estimatedTokens int) (*Grant, error) {
	for {
		wait, grant := g.tryAcquire(estimatedTokens)
		if grant != nil {
			return grant, nil
		}

		g.logger.Debug("budget exhausted, waiting", "wait", wait)
		if err := g.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// tryAcquire records the request if every window admits it; otherwise it
// returns the minimum wait until the oldest blocking entry expires.
func (g *Governor) tryAcquire(estimatedTokens int) (time.Duration, *Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)

	var wait time.Duration

	if len(g.minute) >= g.limits.RequestsPerMinute {
		wait = maxDuration(wait, g.minute[0].at.Add(time.Minute).Sub(now))
	}
	if g.minuteTokens()+estimatedTokens > g.limits.TokensPerMinute && len(g.minute) > 0 {
		wait = maxDuration(wait, g.minute[0].at.Add(time.Minute).Sub(now))
	}
	if len(g.hour) >= g.limits.RequestsPerHour {
		wait = maxDuration(wait, g.hour[0].Add(time.Hour).Sub(now))
	}

	if wait > 0 {
		return wait, nil
	}

	g.seq++
	g.minute = append(g.minute, entry{at: now, seq: g.seq, tokens: estimatedTokens})
	g.hour = append(g.hour, now)

	return 0, &Grant{governor: g, seq: g.seq}
}

// prune drops entries that have rolled out of their windows.
// Must be called with the mutex held.
func (g *Governor) prune(now time.Time) {
	// The window is (now-window, now]: an entry exactly one window old
	// has rolled out.
	minuteCutoff := now.Add(-time.Minute)
	for len(g.minute) > 0 && !g.minute[0].at.After(minuteCutoff) {
		g.minute = g.minute[1:]
	}

	hourCutoff := now.Add(-time.Hour)
	for len(g.hour) > 0 && !g.hour[0].After(hourCutoff) {
		g.hour = g.hour[1:]
	}
}

func (g *Governor) minuteTokens() int {
	var total int
	for _, e := range g.minute {
		total += e.tokens
	}
	return total
}

// InFlight returns the request count currently inside the minute window.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.now())
	return len(g.minute)
}

// Grant is the record of an admitted request. Commit it with the tokens
// actually consumed so cancelled calls do not hold estimated budget.
type Grant struct {
	governor  *Governor
	seq       uint64
	committed bool
}

// Commit replaces the grant's estimated token cost with actual usage.
// A cancelled call commits the tokens it really consumed (possibly zero),
// releasing the rest of the estimate back to the window. Idempotent.
func (gr *Grant) Commit(actualTokens int) {
	g := gr.governor
	g.mu.Lock()
	defer g.mu.Unlock()

	if gr.committed {
		return
	}
	gr.committed = true

	for i := range g.minute {
		if g.minute[i].seq == gr.seq {
			g.minute[i].tokens = actualTokens
			return
		}
	}
	// Entry already rolled out of the window; nothing to adjust.
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
