// Package cooldown implements the process-wide pause applied to every
// upstream request after any upstream failure.
package cooldown

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// DefaultWindow is how long every caller waits after the last upstream error
const DefaultWindow = 120 * time.Second

// Gate is a single shared backoff clock. One instance is shared by every job
// and every concurrent fetch in the process: an error seen by any caller
// delays all callers until the window has passed.
type Gate struct {
	mu        sync.Mutex
	lastError time.Time
	window    time.Duration
	clock     common.Clock
}

// NewGate creates a gate with the given window. A zero window uses DefaultWindow.
func NewGate(window time.Duration, clock common.Clock) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Gate{
		window: window,
		clock:  clock,
	}
}

// MarkError records an upstream failure at the current time
func (g *Gate) MarkError() {
	g.mu.Lock()
	g.lastError = g.clock.Now()
	g.mu.Unlock()
}

// LastError returns the time of the most recent recorded failure (zero if none)
func (g *Gate) LastError() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastError
}

// Remaining returns how long a caller arriving now would have to wait
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingLocked()
}

func (g *Gate) remainingLocked() time.Duration {
	if g.lastError.IsZero() {
		return 0
	}
	elapsed := g.clock.Now().Sub(g.lastError)
	if elapsed >= g.window {
		return 0
	}
	return g.window - elapsed
}

// Wait blocks until the window since the last error has passed.
// The remaining wait is logged in whole seconds at warning severity.
// An error recorded while waiting extends the wait.
func (g *Gate) Wait(ctx context.Context, sink interfaces.LogSink) error {
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	for {
		remaining := g.Remaining()
		if remaining <= 0 {
			return ctx.Err()
		}

		seconds := int(math.Ceil(remaining.Seconds()))
		sink.Log(models.SeverityWarning, fmt.Sprintf("Cooling down after an API error, waiting %d seconds before the next request", seconds))

		if err := g.clock.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
