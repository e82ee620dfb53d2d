package guided

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/breathing"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/conversation"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrInvalidState is returned when an operation is not allowed in the
// session's current state.
var ErrInvalidState = errors.New("operation not allowed in current session state")

// Issuer sends the override command to the device.
type Issuer interface {
	IssueOverride(ctx context.Context, sessionID string, penalty *int) (device.OverrideResult, error)
}

// Config holds the guided session requirements
type Config struct {
	MinDuration     time.Duration
	MinInteractions int
	ReflectionDelay time.Duration
	CopingEvery     int
	PenaltyMinutes  int
}

// DefaultConfig matches the device defaults.
func DefaultConfig() Config {
	return Config{
		MinDuration:     10 * time.Minute,
		MinInteractions: 5,
		ReflectionDelay: 30 * time.Second,
		CopingEvery:     3,
		PenaltyMinutes:  15,
	}
}

// Speaker identifies who a message is from
type Speaker string

const (
	Guide  Speaker = "guide"
	User   Speaker = "user"
	Coping Speaker = "coping"
)

// Message is a line of the session transcript
type Message struct {
	From Speaker
	Text string
	At   time.Time
}

// Progress is a read-only view of the session for display.
type Progress struct {
	State           State
	Trigger         conversation.Category
	Elapsed         time.Duration
	MinDuration     time.Duration
	Interactions    int
	MinInteractions int
	Reflection      time.Duration // remaining reflection delay while Completing
}

// Controller runs one guided override session.
type Controller struct {
	id        string
	cfg       Config
	issuer    Issuer
	responder *conversation.Responder
	clock     clock.Clock
	base      zerolog.Logger
	logger    zerolog.Logger

	// serialises callback delivery so listeners see events in order
	dispatchMu sync.Mutex

	mu             sync.Mutex
	state          State
	trigger        conversation.Category
	startedAt      time.Time
	interactions   int
	ticker         *clock.Ticker
	reflection     clock.Timer
	reflectionEnds time.Time
	confirmEnabled bool
	confirming     bool
	result         *device.OverrideResult
	sequencer      *breathing.Sequencer
	breath         breathing.Update
	transcript     []Message
	onMessage      func(Message)
	onState        []func(State)
	onBreathing    func(breathing.Update)
}

// NewController creates a controller for session id in the Idle state.
func NewController(id string, cfg Config, issuer Issuer, responder *conversation.Responder, clk clock.Clock, logger zerolog.Logger) *Controller {
	if cfg.CopingEvery <= 0 {
		cfg.CopingEvery = DefaultConfig().CopingEvery
	}
	return &Controller{
		id:        id,
		cfg:       cfg,
		issuer:    issuer,
		responder: responder,
		clock:     clk,
		base:      logger,
		logger:    logger.With().Str("component", "guided").Str("session", id).Logger(),
		state:     Idle,
	}
}

// OnMessage sets the transcript callback.
func (c *Controller) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnStateChange adds a callback run after every transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnBreathing sets the callback for breathing exercise updates.
func (c *Controller) OnBreathing(fn func(breathing.Update)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBreathing = fn
}

// events collects callbacks produced under the lock for delivery after it
// is released.
type events struct {
	c     *Controller
	queue []func()
}

func (e *events) message(from Speaker, text string) {
	msg := Message{From: from, Text: text, At: e.c.clock.Now()}
	e.c.transcript = append(e.c.transcript, msg)
	if fn := e.c.onMessage; fn != nil {
		e.queue = append(e.queue, func() { fn(msg) })
	}
}

func (e *events) state(s State) {
	for _, fn := range e.c.onState {
		e.queue = append(e.queue, func() { fn(s) })
	}
}

// unlockAndDeliver releases mu and runs the queued callbacks in order.
func (c *Controller) unlockAndDeliver(ev *events) {
	c.mu.Unlock()
	for _, fn := range ev.queue {
		fn()
	}
	c.dispatchMu.Unlock()
}

func (c *Controller) lock() *events {
	c.dispatchMu.Lock()
	c.mu.Lock()
	return &events{c: c}
}

// Begin creates the session for trigger and moves straight to Conversing.
func (c *Controller) Begin(trigger conversation.Category) error {
	ev := c.lock()
	if c.state != Idle {
		state := c.state
		c.unlockAndDeliver(ev)
		return fmt.Errorf("begin in %s: %w", state, ErrInvalidState)
	}

	c.trigger = trigger
	c.startedAt = c.clock.Now()
	c.interactions = 0
	c.transitionLocked(ev, TriggerSelected)

	opening, prompt := conversation.Opening(trigger)
	c.transitionLocked(ev, Conversing)
	ev.message(Guide, opening)
	ev.message(Guide, prompt)
	c.ticker = clock.NewTicker(c.clock, time.Second, c.tick)
	c.evaluateLocked(ev)

	c.logger.Info().
		Str("trigger", string(trigger)).
		Dur("min_duration", c.cfg.MinDuration).
		Int("min_interactions", c.cfg.MinInteractions).
		Msg("Guided session started")

	c.unlockAndDeliver(ev)
	return nil
}

// Submit records a user message and queues the reply.
func (c *Controller) Submit(text string) error {
	ev := c.lock()
	defer c.unlockAndDeliver(ev)

	if c.state != Conversing && c.state != RequirementsMet {
		return fmt.Errorf("submit in %s: %w", c.state, ErrInvalidState)
	}

	c.interactions++
	metrics.GuidedInteractionsTotal.WithLabelValues("user").Inc()
	ev.message(User, text)

	category, reply := c.responder.Reply(text)
	ev.message(Guide, reply)
	if c.interactions%c.cfg.CopingEvery == 0 {
		ev.message(Coping, c.responder.Coping())
	}

	c.logger.Debug().
		Int("interactions", c.interactions).
		Str("category", string(category)).
		Msg("Interaction recorded")

	c.evaluateLocked(ev)
	return nil
}

func (c *Controller) tick() {
	ev := c.lock()
	defer c.unlockAndDeliver(ev)
	c.evaluateLocked(ev)
}

// evaluateLocked moves Conversing to RequirementsMet once both minimums
// are satisfied.
func (c *Controller) evaluateLocked(ev *events) {
	if c.state != Conversing {
		return
	}
	elapsed := c.clock.Now().Sub(c.startedAt)
	if elapsed < c.cfg.MinDuration || c.interactions < c.cfg.MinInteractions {
		return
	}
	c.transitionLocked(ev, RequirementsMet)
	c.logger.Info().
		Dur("elapsed", elapsed).
		Int("interactions", c.interactions).
		Msg("Guided session requirements met")
}

func (c *Controller) transitionLocked(ev *events, next State) {
	c.logger.Debug().Str("from", c.state.String()).Str("to", next.String()).Msg("State transition")
	c.state = next
	ev.state(next)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Completable reports whether the user may request completion.
func (c *Controller) Completable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == RequirementsMet
}

// Progress returns display values for the session.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Progress{
		State:           c.state,
		Trigger:         c.trigger,
		MinDuration:     c.cfg.MinDuration,
		Interactions:    c.interactions,
		MinInteractions: c.cfg.MinInteractions,
	}
	if !c.startedAt.IsZero() {
		p.Elapsed = c.clock.Now().Sub(c.startedAt)
	}
	if c.state == Completing && !c.confirmEnabled {
		if left := c.reflectionEnds.Sub(c.clock.Now()); left > 0 {
			p.Reflection = left
		}
	}
	return p
}

// RequestCompletion asks the confirmation question and starts the
// reflection delay.
func (c *Controller) RequestCompletion() error {
	ev := c.lock()
	defer c.unlockAndDeliver(ev)

	if c.state != RequirementsMet {
		return fmt.Errorf("request completion in %s: %w", c.state, ErrInvalidState)
	}

	c.transitionLocked(ev, Completing)
	ev.message(Guide, conversation.ConfirmationQuestion)
	c.confirmEnabled = false
	c.reflectionEnds = c.clock.Now().Add(c.cfg.ReflectionDelay)
	c.reflection = c.clock.AfterFunc(c.cfg.ReflectionDelay, c.endReflection)
	return nil
}

func (c *Controller) endReflection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Completing || c.reflection == nil {
		return
	}
	c.reflection = nil
	c.confirmEnabled = true
	c.logger.Debug().Msg("Reflection delay over")
}

// ConfirmEnabled reports whether Confirm may be called.
func (c *Controller) ConfirmEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Completing && c.confirmEnabled && !c.confirming
}

// Confirm issues the override. On success the session is finished; on
// failure it stays in Completing so the user can retry or cancel.
func (c *Controller) Confirm(ctx context.Context) (device.OverrideResult, error) {
	c.mu.Lock()
	if c.state != Completing || !c.confirmEnabled || c.confirming {
		state := c.state
		c.mu.Unlock()
		return device.OverrideResult{}, fmt.Errorf("confirm in %s: %w", state, ErrInvalidState)
	}
	c.confirming = true
	penalty := c.cfg.PenaltyMinutes
	c.mu.Unlock()

	result, err := c.issuer.IssueOverride(ctx, c.id, &penalty)

	ev := c.lock()
	c.confirming = false

	if err != nil {
		c.unlockAndDeliver(ev)
		c.logger.Warn().Err(err).Msg("Override command failed")
		return device.OverrideResult{}, err
	}
	if c.state != Completing {
		c.unlockAndDeliver(ev)
		c.logger.Warn().Str("state", c.state.String()).Msg("Override granted after session ended")
		return result, nil
	}

	c.result = &result
	c.transitionLocked(ev, Unlocked)
	seq := c.stopLocked()
	c.logger.Info().
		Int("penalty_minutes", result.PenaltyMinutes).
		Int("interactions", c.interactions).
		Msg("Guided override granted")
	c.unlockAndDeliver(ev)

	if seq != nil {
		seq.Stop()
	}
	return result, nil
}

// StartBreathing runs the breathing exercise. Completion is logged as an
// interaction.
func (c *Controller) StartBreathing() error {
	c.mu.Lock()
	switch c.state {
	case Conversing, RequirementsMet, Completing:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start breathing in %s: %w", state, ErrInvalidState)
	}

	if c.sequencer == nil {
		seq := breathing.NewSequencer(breathing.FourSevenEight, c.clock, c.base)
		seq.OnUpdate(c.breathingUpdate)
		seq.OnComplete(c.breathingComplete)
		c.sequencer = seq
	}
	seq := c.sequencer
	c.mu.Unlock()

	seq.Start()
	return nil
}

// StopBreathing halts a running breathing exercise without counting it.
func (c *Controller) StopBreathing() {
	c.mu.Lock()
	seq := c.sequencer
	c.mu.Unlock()

	if seq != nil {
		seq.Stop()
	}
}

func (c *Controller) breathingUpdate(u breathing.Update) {
	c.mu.Lock()
	fn := c.onBreathing
	active := c.state.Active()
	if active {
		c.breath = u
	}
	c.mu.Unlock()

	if active && fn != nil {
		fn(u)
	}
}

func (c *Controller) breathingComplete() {
	ev := c.lock()
	defer c.unlockAndDeliver(ev)

	if c.state != Conversing && c.state != RequirementsMet && c.state != Completing {
		return
	}
	c.interactions++
	metrics.GuidedInteractionsTotal.WithLabelValues("breathing").Inc()
	ev.message(User, conversation.BreathingInteraction)
	c.evaluateLocked(ev)
	c.logger.Debug().Int("interactions", c.interactions).Msg("Breathing exercise logged")
}

// Cancel ends the session from any state. The session clock, reflection
// delay and breathing exercise are all stopped before it returns.
func (c *Controller) Cancel() {
	ev := c.lock()
	if c.state == Unlocked || c.state == Cancelled {
		c.unlockAndDeliver(ev)
		return
	}

	c.transitionLocked(ev, Cancelled)
	seq := c.stopLocked()
	c.logger.Info().Int("interactions", c.interactions).Msg("Guided session cancelled")
	c.unlockAndDeliver(ev)

	if seq != nil {
		seq.Stop()
	}
}

// stopLocked cancels the session clock and reflection timer and returns
// the breathing sequencer, which the caller stops after releasing mu.
func (c *Controller) stopLocked() *breathing.Sequencer {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.reflection != nil {
		c.reflection.Stop()
		c.reflection = nil
	}
	c.confirmEnabled = false
	seq := c.sequencer
	c.sequencer = nil
	return seq
}

// Result returns the device's reply once the session is Unlocked.
func (c *Controller) Result() (device.OverrideResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return device.OverrideResult{}, false
	}
	return *c.result, true
}

// Interactions returns the interaction count.
func (c *Controller) Interactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interactions
}

// Transcript returns a copy of every message so far.
func (c *Controller) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.transcript...)
}

// Breathing returns the latest breathing exercise update. Active is false
// when no exercise is running.
func (c *Controller) Breathing() breathing.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sequencer == nil || !c.sequencer.Running() {
		return breathing.Update{Phase: breathing.Idle}
	}
	return c.breath
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}
