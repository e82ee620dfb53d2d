package override

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/conversation"
	"github.com/goodtune/lockbox/internal/cooloff"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/guided"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gate decides whether an override may start
type Gate interface {
	RequestOverride(ctx context.Context) policy.Decision
}

// Issuer sends override commands to the device
type Issuer interface {
	IssueOverride(ctx context.Context, sessionID string, penalty *int) (device.OverrideResult, error)
}

// Config controls the sessions the coordinator creates
type Config struct {
	DelayMinutes int
	Guided       guided.Config
	Seed         int64
}

// Coordinator owns the single active override session of this client.
type Coordinator struct {
	gate    Gate
	issuer  Issuer
	journal storage.AttemptStore
	clock   clock.Clock
	cfg     Config
	base    zerolog.Logger
	logger  zerolog.Logger
	newID   func() string

	mu     sync.Mutex
	active *Session
	closed bool
}

// NewCoordinator creates a coordinator. journal may be nil.
func NewCoordinator(gate Gate, issuer Issuer, journal storage.AttemptStore, clk clock.Clock, cfg Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		gate:    gate,
		issuer:  issuer,
		journal: journal,
		clock:   clk,
		cfg:     cfg,
		base:    logger,
		logger:  logger.With().Str("component", "override").Logger(),
		newID:   uuid.NewString,
	}
}

// Request asks the gate which path an override would take. It creates
// nothing.
func (c *Coordinator) Request(ctx context.Context) policy.Decision {
	return c.gate.RequestOverride(ctx)
}

// Start begins a session on whichever path the gate chooses. trigger is
// used only by the guided path.
func (c *Coordinator) Start(ctx context.Context, trigger conversation.Category) (*Session, error) {
	return c.start(ctx, "", trigger)
}

// StartDelay begins a cooling-off session.
func (c *Coordinator) StartDelay(ctx context.Context) (*Session, error) {
	return c.start(ctx, policy.RouteDelay, conversation.None)
}

// StartGuided begins a guided session for trigger.
func (c *Coordinator) StartGuided(ctx context.Context, trigger conversation.Category) (*Session, error) {
	return c.start(ctx, policy.RouteGuided, trigger)
}

func (c *Coordinator) start(ctx context.Context, want policy.Route, trigger conversation.Category) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("coordinator closed")
	}
	if c.active != nil {
		c.logger.Warn().Str("active", c.active.ID).Msg("Override request rejected, session already active")
		return nil, ErrSessionActive
	}

	decision := c.gate.RequestOverride(ctx)
	metrics.OverrideRequestsTotal.WithLabelValues(string(decision.Route)).Inc()
	if decision.Blocked() {
		c.logger.Info().Str("reason", string(decision.Reason)).Msg("Override blocked")
		c.recordBlocked(ctx, decision.Reason)
		return nil, &BlockedError{Reason: decision.Reason}
	}
	if want != "" && decision.Route != want {
		return nil, fmt.Errorf("%w: requested %s, gate chose %s", ErrWrongPath, want, decision.Route)
	}

	session := &Session{
		ID:        c.newID(),
		StartedAt: c.clock.Now(),
		Trigger:   trigger,
		coord:     c,
		status:    StatusActive,
	}

	switch decision.Route {
	case policy.RouteDelay:
		session.Path = PathDelay
		session.Trigger = conversation.None
		session.Timer = cooloff.NewTimer(session.ID, c.issuer, c.clock, c.base)
		if err := session.Timer.Start(c.cfg.DelayMinutes); err != nil {
			return nil, err
		}
	case policy.RouteGuided:
		session.Path = PathGuided
		responder := conversation.NewResponder(c.cfg.Seed, c.base)
		ctrl := guided.NewController(session.ID, c.cfg.Guided, c.issuer, responder, c.clock, c.base)
		ctrl.OnStateChange(func(s guided.State) {
			switch s {
			case guided.Cancelled:
				c.finish(session, StatusCancelled, 0)
			case guided.Unlocked:
				result, _ := ctrl.Result()
				c.finish(session, StatusUnlocked, result.PenaltyMinutes)
			}
		})
		session.Guided = ctrl
		if err := ctrl.Begin(trigger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown route %q", decision.Route)
	}

	c.active = session
	c.logger.Info().
		Str("session", session.ID).
		Str("path", string(session.Path)).
		Str("trigger", string(session.Trigger)).
		Msg("Override session started")
	return session, nil
}

// Active returns the pending session, if any.
func (c *Coordinator) Active() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != nil
}

// finish releases the slot held by s and journals the attempt. Calls for a
// session that is no longer active are ignored, except for an unlock the
// device granted after the session was cancelled.
func (c *Coordinator) finish(s *Session, status Status, penalty int) {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		if status == StatusUnlocked {
			c.lateUnlock(s, penalty)
		}
		return
	}
	c.active = nil
	c.mu.Unlock()

	outcome, reason := s.outcome(status)
	s.mu.Lock()
	if status == StatusCancelled && outcome == storage.OutcomeFailed {
		status = StatusFailed
	}
	s.status = status
	s.mu.Unlock()

	metrics.OverrideSessionsTotal.WithLabelValues(string(s.Path), string(outcome)).Inc()
	c.logger.Info().
		Str("session", s.ID).
		Str("path", string(s.Path)).
		Str("outcome", string(outcome)).
		Msg("Override session ended")

	c.record(context.Background(), storage.Attempt{
		ID:             s.ID,
		Path:           string(s.Path),
		Trigger:        string(s.Trigger),
		StartedAt:      s.StartedAt,
		EndedAt:        c.clock.Now(),
		Interactions:   s.Interactions(),
		Outcome:        outcome,
		PenaltyMinutes: penalty,
		Reason:         reason,
	})
}

// lateUnlock rewrites the journal entry of an ended session whose override
// command was still in flight when it was cancelled. The box is unlocked,
// so the history says so.
func (c *Coordinator) lateUnlock(s *Session, penalty int) {
	s.mu.Lock()
	if s.status == StatusUnlocked || s.status == StatusActive {
		s.mu.Unlock()
		return
	}
	s.status = StatusUnlocked
	s.lastErr = nil
	s.mu.Unlock()

	metrics.OverrideSessionsTotal.WithLabelValues(string(s.Path), string(storage.OutcomeUnlocked)).Inc()
	c.logger.Warn().
		Str("session", s.ID).
		Str("path", string(s.Path)).
		Msg("Override granted after session ended")

	c.record(context.Background(), storage.Attempt{
		ID:             s.ID,
		Path:           string(s.Path),
		Trigger:        string(s.Trigger),
		StartedAt:      s.StartedAt,
		EndedAt:        c.clock.Now(),
		Interactions:   s.Interactions(),
		Outcome:        storage.OutcomeUnlocked,
		PenaltyMinutes: penalty,
		Reason:         "granted after cancel",
	})
}

func (c *Coordinator) recordBlocked(ctx context.Context, reason policy.Reason) {
	now := c.clock.Now()
	metrics.OverrideSessionsTotal.WithLabelValues("none", string(storage.OutcomeBlocked)).Inc()
	c.record(ctx, storage.Attempt{
		ID:        c.newID(),
		StartedAt: now,
		EndedAt:   now,
		Outcome:   storage.OutcomeBlocked,
		Reason:    string(reason),
	})
}

// record writes to the journal. Journal failures never affect the session.
func (c *Coordinator) record(ctx context.Context, attempt storage.Attempt) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.journal.Record(ctx, attempt); err != nil {
		c.logger.Warn().Err(err).Str("attempt", attempt.ID).Msg("Failed to journal override attempt")
	}
}

// Close cancels the active session and refuses new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	active := c.active
	c.mu.Unlock()

	if active != nil {
		active.Cancel()
	}
}
