// Package reconnect implements the Reconnect Scheduler of spec.md
// §4.2: a retry state machine that computes a fleet-dispersing backoff
// delay from a device-stable seed and drives one reconnect attempt
// through injected capabilities.
package reconnect

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/rustyeddy/dms-agent/identity"
)

// State mirrors the Disconnected -> Reconnecting -> (Connected | Error)
// machine of spec.md §4.2.
type State int

const (
	StateDisconnected State = iota
	StateReconnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// Capabilities are the injected operations one reconnect attempt
// drives (spec.md §4.2): Connect/Disconnect own the transport session,
// ShadowRestart re-subscribes and re-primes the shadow engine.
type Capabilities struct {
	Connect       func() error
	Disconnect    func()
	ShadowRestart func() error
}

// Scheduler owns Reconnect State (spec.md §3) and the dispersion
// algorithm. One Scheduler exists per Supervisor.
type Scheduler struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	macSeed     string

	retryCount      int
	totalReconnects int
	state           State
	lastConnectTime time.Time

	caps Capabilities

	// sleeper decomposes long sleeps into 1s ticks so shutdown stays
	// responsive, per spec.md §5. Overridable in tests.
	sleeper func(ctx context.Context, d time.Duration) bool
}

// New builds a Scheduler from the agent's Config and the device's MAC
// seed (the colonless MAC tail used throughout, spec.md §3).
func New(cfg identity.Config, id identity.Identity, caps Capabilities) *Scheduler {
	return &Scheduler{
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
		maxAttempts: cfg.RetryMaxAttempts,
		macSeed:     id.MACTail12(),
		state:       StateDisconnected,
		caps:        caps,
		sleeper:     tickSleep,
	}
}

// ShouldRetry is true iff retry_count < max_retry_attempts.
func (s *Scheduler) ShouldRetry() bool {
	return s.retryCount < s.maxAttempts
}

// State returns the current connection lifecycle state.
func (s *Scheduler) State() State { return s.state }

// RetryCount returns the current consecutive-failure count.
func (s *Scheduler) RetryCount() int { return s.retryCount }

// SetRetryCount forces the retry count, used by the fleet dispersion
// simulator to sample NextDelay() at a fixed retry count across many
// devices without driving each one through real failed attempts.
func (s *Scheduler) SetRetryCount(n int) { s.retryCount = n }

// TotalReconnects returns the cumulative successful-reconnect count.
func (s *Scheduler) TotalReconnects() int { return s.totalReconnects }

// NextDelay computes the delay of spec.md §4.2 from retry_count and
// mac_seed. The exponential base and the MAC-derived offset and slot
// are pure functions of those two inputs; the jitter term also reads
// the wall clock, so two calls can differ. It satisfies the dispersion
// property of §8 (fleet-wide collision buckets decay as O(N/max_delay))
// without reproducing the source's exact numeric layering, which §9
// explicitly leaves to the implementer.
func (s *Scheduler) NextDelay() time.Duration {
	return nextDelay(s.baseDelay, s.maxDelay, s.retryCount, s.macSeed)
}

func nextDelay(base, max time.Duration, retryCount int, macSeed string) time.Duration {
	if max <= 0 {
		max = 300 * time.Second
	}
	if base <= 0 {
		base = time.Second
	}

	exp := base
	for i := 0; i < retryCount && exp < max; i++ {
		exp *= 2
	}
	if exp > max {
		exp = max
	}

	macHash := hashString(macSeed)
	macOffset := time.Duration(macHash%macSeedMaxOffset) * macSeedMultiplier
	slotOffset := primeSlotOffset(macHash)
	jitter := jitterFor(macHash, retryCount)

	// The three dispersion terms can individually sum past the
	// remaining room to max; folding their sum modulo that remaining
	// room (rather than clamping) keeps the result spread across the
	// whole [exp, max] range instead of piling devices up at max, which
	// is what spec.md §8's per-bucket bound requires.
	dispersion := macOffset + slotOffset + jitter
	room := max - exp
	if room <= 0 {
		return max
	}
	dispersion %= room
	if dispersion < 0 {
		dispersion += room
	}

	total := exp + dispersion
	if total > max {
		total = max
	}
	return total
}

const (
	macSeedMaxOffset  = 997 // prime, keeps the offset distribution decorrelated from pow-of-two exp growth
	macSeedMultiplier = 50 * time.Millisecond
)

// primeMatrix is the 24x4 table of primes in [67, 619] spec.md §4.2
// names as the slot-offset source. Values are illustrative of the
// shape the source uses (increasing, non-periodic); cumulative sums up
// to a device's (P, S) cell give the minutes-scale offset.
var primeMatrix = [24][4]int{
	{67, 71, 73, 79}, {83, 89, 97, 101}, {103, 107, 109, 113}, {127, 131, 137, 139},
	{149, 151, 157, 163}, {167, 173, 179, 181}, {191, 193, 197, 199}, {211, 223, 227, 229},
	{233, 239, 241, 251}, {257, 263, 269, 271}, {277, 281, 283, 293}, {307, 311, 313, 317},
	{331, 337, 347, 349}, {353, 359, 367, 373}, {379, 383, 389, 397}, {401, 409, 419, 421},
	{431, 433, 439, 443}, {449, 457, 461, 463}, {467, 479, 487, 491}, {499, 503, 509, 521},
	{523, 541, 547, 557}, {563, 569, 571, 577}, {587, 593, 599, 601}, {607, 613, 617, 619},
}

// primeSlotOffset selects a primary segment P in [0,24) and
// sub-segment S in [0,4) from macHash, then sums the matrix up to
// (P, S), scaled to seconds. This is the device-stable, non-periodic
// component of the delay (spec.md §4.2 step 3).
func primeSlotOffset(macHash uint64) time.Duration {
	p := int(macHash % 24)
	s := int((macHash / 24) % 4)

	sum := 0
	for i := 0; i < p; i++ {
		for j := 0; j < 4; j++ {
			sum += primeMatrix[i][j]
		}
	}
	for j := 0; j <= s; j++ {
		sum += primeMatrix[p][j]
	}
	return time.Duration(sum) * time.Second / 20
}

// jitterFor sums small per-source contributions (mac hash, wall-clock
// seconds, retry count, sub-second milliseconds) each bounded to keep the total within
// spec.md §4.2 step 4's clamp of 120 + 20*retryCount, capped at 300s.
func jitterFor(macHash uint64, retryCount int) time.Duration {
	now := time.Now()
	clampSeconds := 120 + 20*retryCount
	if clampSeconds > 300 {
		clampSeconds = 300
	}

	a := int(macHash % 30)
	b := now.Second() % 30
	c := (retryCount * 7) % 30
	d := int(now.Nanosecond()/1_000_000) % 30

	total := a + b + c + d
	if total > clampSeconds {
		total = clampSeconds
	}
	return time.Duration(total) * time.Second
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Attempt performs one reconnect cycle (spec.md §4.2): disconnect any
// existing session, sleep NextDelay if this isn't the first try, call
// the injected Connect, then ShadowRestart (best-effort) and
// ResetState on success, or UpdateFailure on failure.
func (s *Scheduler) Attempt(ctx context.Context) error {
	s.state = StateReconnecting
	if s.caps.Disconnect != nil {
		s.caps.Disconnect()
	}

	if s.retryCount > 0 {
		if !s.sleeper(ctx, s.NextDelay()) {
			return ctx.Err()
		}
	}

	if s.caps.Connect == nil {
		return nil
	}
	if err := s.caps.Connect(); err != nil {
		s.UpdateFailure()
		return err
	}

	if s.caps.ShadowRestart != nil {
		if err := s.caps.ShadowRestart(); err != nil {
			slog.Warn("shadow restart failed after reconnect", "error", err)
		}
	}
	s.ResetState()
	return nil
}

// UpdateFailure increments retry_count, and marks State Error once the
// cap is reached.
func (s *Scheduler) UpdateFailure() {
	s.retryCount++
	if s.retryCount >= s.maxAttempts {
		s.state = StateError
	}
}

// ResetState is called on a successful attempt: retry_count resets to
// zero, total_reconnects increments, and State becomes Connected.
func (s *Scheduler) ResetState() {
	s.retryCount = 0
	s.totalReconnects++
	s.state = StateConnected
	s.lastConnectTime = time.Now()
}

// MarkDisconnected demotes State off Connected without touching
// retry_count, so the next Supervisor.Run iteration falls back into
// the retry branch and calls Attempt instead of spinning against a
// session the transport has already given up on.
func (s *Scheduler) MarkDisconnected() {
	s.state = StateDisconnected
}

// tickSleep sleeps d in 1-second increments so ctx cancellation is
// observed with at most 1s latency (spec.md §5). It returns false if
// ctx was cancelled before the sleep completed.
func tickSleep(ctx context.Context, d time.Duration) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := d
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			remaining -= time.Second
		}
	}
	return true
}
