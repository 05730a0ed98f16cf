package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports the outcome of a TryAcquire call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// Governor bounds calls to external dependencies with a fixed-window counter
// per key. It is an explicit, injected instance — no package-level state —
// so tests can run with their own governor. Counters are best effort and not
// persisted across restarts.
type Governor struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	stop    chan struct{}
}

func NewGovernor() *Governor {
	g := &Governor{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go g.sweep()
	return g
}

// TryAcquire consumes one slot for key within the fixed window, or rejects
// the call. Rejected calls must be retried by the caller, never dropped.
func (g *Governor) TryAcquire(key string, windowDur time.Duration, maxCalls int) Result {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[key]
	if !ok || now.Sub(w.windowStart) >= windowDur {
		w = &window{windowStart: now}
		g.windows[key] = w
	}
	w.lastSeen = now

	resetAt := w.windowStart.Add(windowDur)
	if w.count >= maxCalls {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	w.count++
	return Result{Allowed: true, Remaining: maxCalls - w.count, ResetAt: resetAt}
}

// Wait blocks until a slot for key is acquired or the context is cancelled.
func (g *Governor) Wait(ctx context.Context, key string, windowDur time.Duration, maxCalls int) error {
	for {
		res := g.TryAcquire(key, windowDur, maxCalls)
		if res.Allowed {
			return nil
		}

		delay := time.Until(res.ResetAt)
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stop halts the background sweeper.
func (g *Governor) Stop() {
	close(g.stop)
}

// sweep drops windows that have been idle long enough to be stale.
func (g *Governor) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			now := g.now()
			for key, w := range g.windows {
				if now.Sub(w.lastSeen) > 10*time.Minute {
					delete(g.windows, key)
				}
			}
			g.mu.Unlock()
		}
	}
}
