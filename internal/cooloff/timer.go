package cooloff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("cooling-off timer already running")
	ErrNotComplete    = errors.New("cooling-off period not complete")
	ErrNotStarted     = errors.New("cooling-off timer not started")
	ErrFinished       = errors.New("cooling-off session already finished")
	ErrConfirming     = errors.New("override command already in flight")
)

// Issuer sends the override command to the device.
type Issuer interface {
	IssueOverride(ctx context.Context, sessionID string, penalty *int) (device.OverrideResult, error)
}

// Timer is the simple override path: a fixed countdown that, once it
// reaches zero, allows the override to be confirmed.
type Timer struct {
	id     string
	issuer Issuer
	clock  clock.Clock
	logger zerolog.Logger

	mu         sync.Mutex
	ticker     *clock.Ticker
	started    bool
	finished   bool
	confirming bool
	remaining  int
	onTick     []func(int)
	onComplete []func()
}

// NewTimer creates a timer for the override session id.
func NewTimer(id string, issuer Issuer, clk clock.Clock, logger zerolog.Logger) *Timer {
	return &Timer{
		id:     id,
		issuer: issuer,
		clock:  clk,
		logger: logger.With().Str("component", "cooloff").Str("session", id).Logger(),
	}
}

// Start begins the countdown.
func (t *Timer) Start(delayMinutes int) error {
	if delayMinutes < 0 {
		return fmt.Errorf("invalid delay %d minutes", delayMinutes)
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return ErrFinished
	}
	if t.ticker != nil {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.started = true
	t.remaining = delayMinutes * 60
	if t.remaining > 0 {
		t.ticker = clock.NewTicker(t.clock, time.Second, t.tick)
	}
	done := t.remaining == 0
	callbacks := t.onComplete
	t.mu.Unlock()

	t.logger.Info().Int("delay_minutes", delayMinutes).Msg("Cooling-off period started")
	if done {
		for _, fn := range callbacks {
			fn()
		}
	}
	return nil
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.ticker == nil {
		t.mu.Unlock()
		return
	}
	if t.remaining > 0 {
		t.remaining--
	}
	remaining := t.remaining
	ticks := t.onTick
	var completes []func()
	if remaining == 0 {
		t.ticker.Stop()
		t.ticker = nil
		completes = t.onComplete
	}
	t.mu.Unlock()

	for _, fn := range ticks {
		fn(remaining)
	}
	if completes != nil {
		t.logger.Info().Msg("Cooling-off period complete")
		for _, fn := range completes {
			fn()
		}
	}
}

// Remaining returns the seconds left, never negative.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// IsComplete reports whether the countdown has reached zero.
func (t *Timer) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.finished && t.remaining == 0
}

// Finished reports whether the timer was cancelled or its override granted.
func (t *Timer) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Running reports whether the countdown is still ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticker != nil
}

// Cancel stops the countdown and discards its state. No callbacks fire
// after it returns and the timer can no longer be confirmed.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	if t.started && !t.finished {
		t.logger.Info().Int("remaining", t.remaining).Msg("Cooling-off period cancelled")
	}
	t.started = false
	t.finished = true
	t.remaining = 0
	t.onTick = nil
	t.onComplete = nil
}

// OnTick registers fn to receive the remaining seconds after every tick.
func (t *Timer) OnTick(fn func(remaining int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = append(t.onTick, fn)
}

// OnComplete registers fn to run once the countdown reaches zero.
func (t *Timer) OnComplete(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = append(t.onComplete, fn)
}

// Confirm issues the override once the countdown is complete. The device
// picks the penalty for this path. A granted override finishes the timer;
// a failed one leaves it complete so the command can be retried.
func (t *Timer) Confirm(ctx context.Context) (device.OverrideResult, error) {
	t.mu.Lock()
	switch {
	case t.finished:
		t.mu.Unlock()
		return device.OverrideResult{}, ErrFinished
	case !t.started:
		t.mu.Unlock()
		return device.OverrideResult{}, ErrNotStarted
	case t.remaining > 0:
		t.mu.Unlock()
		return device.OverrideResult{}, ErrNotComplete
	case t.confirming:
		t.mu.Unlock()
		return device.OverrideResult{}, ErrConfirming
	}
	t.confirming = true
	t.mu.Unlock()

	result, err := t.issuer.IssueOverride(ctx, t.id, nil)

	t.mu.Lock()
	t.confirming = false
	cancelled := t.finished
	if err == nil {
		t.finished = true
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn().Err(err).Msg("Override command failed")
		return device.OverrideResult{}, err
	}
	if cancelled {
		t.logger.Warn().Msg("Override granted after session ended")
	}
	t.logger.Info().Int("penalty_minutes", result.PenaltyMinutes).Msg("Override granted")
	return result, nil
}
