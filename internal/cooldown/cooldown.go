// ABOUTME: Per-tool rate limiting with hourly, daily, and minimum-interval windows
// ABOUTME: Tracks invocation history in memory and reports human-readable wait times

package cooldown

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Limits describes the rate constraints applied to a single tool. A zero
// value for any field means that constraint is not enforced.
type Limits struct {
	MaxPerHour  int
	MaxPerDay   int
	MinInterval time.Duration
}

// Enforced reports whether any constraint is set.
func (l Limits) Enforced() bool {
	return l.MaxPerHour > 0 || l.MaxPerDay > 0 || l.MinInterval > 0
}

// Result is the outcome of a cooldown check.
type Result struct {
	Allowed bool
	// Reason is a human-readable explanation when Allowed is false,
	// including the remaining wait.
	Reason string
	// RetryAfter is how long until the constraint clears.
	RetryAfter time.Duration
}

var allowed = Result{Allowed: true}

// window counts invocations inside a fixed-size rolling window anchored
// at the first invocation after the previous window expired.
type window struct {
	start time.Time
	count int
}

func (w *window) roll(now time.Time, size time.Duration) {
	if now.Sub(w.start) >= size {
		w.start = now
		w.count = 0
	}
}

// remaining returns how long until the window resets.
func (w *window) remaining(now time.Time, size time.Duration) time.Duration {
	return w.start.Add(size).Sub(now)
}

type toolState struct {
	hourly window
	daily  window
	last   time.Time
}

// Tracker enforces per-tool cooldowns. State is process-local and resets
// on restart; a restart therefore forgives in-flight cooldowns, which is
// acceptable for a single-user gateway.
type Tracker struct {
	mu     sync.Mutex
	tools  map[string]*toolState
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates an empty cooldown tracker.
func NewTracker() *Tracker {
	return &Tracker{
		tools:  make(map[string]*toolState),
		now:    time.Now,
		logger: slog.Default().With("component", "cooldown"),
	}
}

// Check reports whether an invocation of tool would currently be allowed
// under limits. It does not record anything. Constraints are evaluated
// hourly cap first, then daily cap, then minimum interval, and the first
// violated constraint wins.
func (t *Tracker) Check(tool string, limits Limits) Result {
	if !limits.Enforced() {
		return allowed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tools[tool]
	if !ok {
		return allowed
	}
	now := t.now()

	if limits.MaxPerHour > 0 {
		st.hourly.roll(now, time.Hour)
		if st.hourly.count >= limits.MaxPerHour {
			wait := st.hourly.remaining(now, time.Hour)
			return denied(fmt.Sprintf("hourly limit of %d reached, retry in %s", limits.MaxPerHour, fmtWait(wait)), wait)
		}
	}

	if limits.MaxPerDay > 0 {
		st.daily.roll(now, 24*time.Hour)
		if st.daily.count >= limits.MaxPerDay {
			wait := st.daily.remaining(now, 24*time.Hour)
			return denied(fmt.Sprintf("daily limit of %d reached, retry in %s", limits.MaxPerDay, fmtWait(wait)), wait)
		}
	}

	if limits.MinInterval > 0 && !st.last.IsZero() {
		elapsed := now.Sub(st.last)
		if elapsed < limits.MinInterval {
			wait := limits.MinInterval - elapsed
			return denied(fmt.Sprintf("minimum interval of %s between calls, retry in %s", limits.MinInterval, fmtWait(wait)), wait)
		}
	}

	return allowed
}

// Record notes an invocation of tool at the current time. Callers record
// at decision time, before the tool actually executes, so a failed
// execution still consumes budget.
func (t *Tracker) Record(tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tools[tool]
	if !ok {
		st = &toolState{}
		t.tools[tool] = st
	}
	now := t.now()

	st.hourly.roll(now, time.Hour)
	if st.hourly.count == 0 {
		st.hourly.start = now
	}
	st.hourly.count++

	st.daily.roll(now, 24*time.Hour)
	if st.daily.count == 0 {
		st.daily.start = now
	}
	st.daily.count++

	st.last = now
}

// Reset clears all recorded state, for use after an emergency resume.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools = make(map[string]*toolState)
	t.logger.Info("cooldown state cleared")
}

func denied(reason string, wait time.Duration) Result {
	if wait < 0 {
		wait = 0
	}
	return Result{Reason: reason, RetryAfter: wait}
}

// fmtWait renders a duration at second precision for user-facing
// messages.
func fmtWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
