package breathing

import (
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/rs/zerolog"
)

// Phase is a step of a breathing cycle
type Phase string

const (
	Inhale Phase = "Inhale"
	Hold   Phase = "Hold"
	Exhale Phase = "Exhale"
	Idle   Phase = "Idle"
)

// Step is one phase with its length in ticks
type Step struct {
	Phase Phase
	Ticks int
}

// Pattern describes a breathing exercise
type Pattern struct {
	Steps  []Step
	Pause  int // idle ticks between cycles
	Cycles int
}

// FourSevenEight is the 4-7-8 exercise offered during guided sessions.
var FourSevenEight = Pattern{
	Steps: []Step{
		{Phase: Inhale, Ticks: 4},
		{Phase: Hold, Ticks: 7},
		{Phase: Exhale, Ticks: 8},
	},
	Pause:  1,
	Cycles: 8,
}

// Update is emitted once per tick
type Update struct {
	Phase     Phase
	Remaining int
	Cycle     int
	Cycles    int
	Active    bool
}

// Sequencer drives a Pattern from a single recurring tick. Callbacks run
// with the dispatch lock held and must not call Start or Stop.
type Sequencer struct {
	pattern Pattern
	clock   clock.Clock
	tick    time.Duration
	logger  zerolog.Logger

	// dispatchMu is held across a tick and its callback, so Stop waits out
	// a delivery that is already underway. Taken before mu.
	dispatchMu sync.Mutex
	mu         sync.Mutex
	ticker     *clock.Ticker
	running    bool
	step       int // index into pattern.Steps, len(Steps) means the pause
	remaining  int
	cycle      int
	onUpdate   func(Update)
	onComplete func()
}

// NewSequencer creates a sequencer ticking once per second on clk.
func NewSequencer(pattern Pattern, clk clock.Clock, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		pattern: pattern,
		clock:   clk,
		tick:    time.Second,
		logger:  logger.With().Str("component", "breathing").Logger(),
	}
}

// OnUpdate sets the per-tick callback.
func (s *Sequencer) OnUpdate(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// OnComplete sets the callback run after the last cycle.
func (s *Sequencer) OnComplete(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Start begins the first cycle and emits the initial update. Starting a
// running sequencer restarts it.
func (s *Sequencer) Start() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.running = true
	s.cycle = 1
	s.step = 0
	s.remaining = s.pattern.Steps[0].Ticks
	update := s.updateLocked()
	fn := s.onUpdate
	s.ticker = clock.NewTicker(s.clock, s.tick, s.advance)
	s.mu.Unlock()

	s.logger.Debug().Int("cycles", s.pattern.Cycles).Msg("Breathing exercise started")
	if fn != nil {
		fn(update)
	}
}

// Stop halts the sequence. No update is emitted after Stop returns.
func (s *Sequencer) Stop() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopLocked()
	metrics.BreathingRunsTotal.WithLabelValues("stopped").Inc()
	s.logger.Debug().Int("cycle", s.cycle).Msg("Breathing exercise stopped")
}

// Running reports whether a sequence is in progress.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sequencer) stopLocked() {
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Sequencer) advance() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.remaining--
	if s.remaining > 0 {
		update := s.updateLocked()
		fn := s.onUpdate
		s.mu.Unlock()
		if fn != nil {
			fn(update)
		}
		return
	}

	finished := s.nextPhaseLocked()
	var fn func(Update)
	var done func()
	var update Update
	if finished {
		s.stopLocked()
		done = s.onComplete
	} else {
		update = s.updateLocked()
		fn = s.onUpdate
	}
	s.mu.Unlock()

	if finished {
		metrics.BreathingRunsTotal.WithLabelValues("completed").Inc()
		s.logger.Debug().Msg("Breathing exercise completed")
		if done != nil {
			done()
		}
		return
	}
	if fn != nil {
		fn(update)
	}
}

// nextPhaseLocked moves to the following phase, returning true once the
// final cycle has ended.
func (s *Sequencer) nextPhaseLocked() bool {
	steps := s.pattern.Steps
	switch {
	case s.step < len(steps)-1:
		s.step++
		s.remaining = steps[s.step].Ticks
	case s.step == len(steps)-1:
		if s.cycle >= s.pattern.Cycles {
			return true
		}
		if s.pattern.Pause > 0 {
			s.step = len(steps)
			s.remaining = s.pattern.Pause
			return false
		}
		s.cycle++
		s.step = 0
		s.remaining = steps[0].Ticks
	default:
		s.cycle++
		s.step = 0
		s.remaining = steps[0].Ticks
	}
	return false
}

func (s *Sequencer) updateLocked() Update {
	phase := Idle
	if s.step < len(s.pattern.Steps) {
		phase = s.pattern.Steps[s.step].Phase
	}
	return Update{
		Phase:     phase,
		Remaining: s.remaining,
		Cycle:     s.cycle,
		Cycles:    s.pattern.Cycles,
		Active:    s.running,
	}
}

// Duration returns how long a full run of p takes with one tick per second.
func (p Pattern) Duration() time.Duration {
	ticks := 0
	for _, step := range p.Steps {
		ticks += step.Ticks
	}
	ticks = ticks*p.Cycles + p.Pause*(p.Cycles-1)
	return time.Duration(ticks) * time.Second
}
