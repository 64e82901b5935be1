package marketdata

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned synchronously when either rolling
// window is full. Callers decide whether to skip the cycle or surface
// the error; the governor never blocks and never retries.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateGovernor enforces local caps on upstream calls over rolling 1s and
// 60s windows, and tracks upstream-imposed bans as an open circuit.
// It is an injected dependency with its own lock, not a package global.
type RateGovernor struct {
	mu sync.Mutex

	maxPerSecond int
	maxPerMinute int

	secondCount   int
	secondResetAt time.Time
	minuteCount   int
	minuteResetAt time.Time

	// Circuit state for upstream-signalled throttling
	banUntil      time.Time
	banCount      int
	totalAcquired int64
	totalDenied   int64

	now func() time.Time
}

// NewRateGovernor creates a governor with the given window caps
func NewRateGovernor(maxPerSecond, maxPerMinute int) *RateGovernor {
	return &RateGovernor{
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		now:          time.Now,
	}
}

// SetNowFunc replaces the time source, for deterministic tests
func (g *RateGovernor) SetNowFunc(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// TryAcquire atomically checks and records one upstream call slot.
// Returns ErrRateLimitExceeded when either window is full, or the
// remaining ban duration when the upstream circuit is open.
func (g *RateGovernor) TryAcquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if now.Before(g.banUntil) {
		g.totalDenied++
		return ErrRateLimitExceeded
	}

	// Counters reset exactly on window rollover
	if !now.Before(g.secondResetAt) {
		g.secondCount = 0
		g.secondResetAt = now.Add(time.Second)
	}
	if !now.Before(g.minuteResetAt) {
		g.minuteCount = 0
		g.minuteResetAt = now.Add(time.Minute)
	}

	if g.secondCount >= g.maxPerSecond || g.minuteCount >= g.maxPerMinute {
		g.totalDenied++
		return ErrRateLimitExceeded
	}

	g.secondCount++
	g.minuteCount++
	g.totalAcquired++
	return nil
}

// RecordUpstreamBan opens the circuit for the given cooldown after the
// upstream API itself signalled rate limiting
func (g *RateGovernor) RecordUpstreamBan(cooldown time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.banCount++
	until := g.now().Add(cooldown)
	if until.After(g.banUntil) {
		g.banUntil = until
	}
}

// Banned reports whether the upstream circuit is currently open
func (g *RateGovernor) Banned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.banUntil)
}

// Status returns a usage snapshot for the admin API
func (g *RateGovernor) Status() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	secondCount, minuteCount := g.secondCount, g.minuteCount
	if !now.Before(g.secondResetAt) {
		secondCount = 0
	}
	if !now.Before(g.minuteResetAt) {
		minuteCount = 0
	}

	return map[string]interface{}{
		"second_used":    secondCount,
		"second_max":     g.maxPerSecond,
		"minute_used":    minuteCount,
		"minute_max":     g.maxPerMinute,
		"banned":         now.Before(g.banUntil),
		"ban_count":      g.banCount,
		"total_acquired": g.totalAcquired,
		"total_denied":   g.totalDenied,
	}
}
