package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/policy/opa"
	"github.com/goodtune/lockbox/internal/status"
	"github.com/rs/zerolog"
)

// StatusReader exposes the latest device status snapshot
type StatusReader interface {
	Current() status.Snapshot
}

// Settings supplies configuration facts to the gate
type Settings interface {
	GuidedEnabled(ctx context.Context) bool
}

// StaticSettings is a fixed Settings value
type StaticSettings struct {
	Guided bool
}

// GuidedEnabled returns the configured flag.
func (s StaticSettings) GuidedEnabled(context.Context) bool {
	return s.Guided
}

// Gate decides whether an override may start and which path it takes.
// It gathers facts and asks OPA; it never changes any state.
type Gate struct {
	opaEngine *opa.Engine
	status    StatusReader
	settings  Settings
	logger    zerolog.Logger
}

// NewGate creates a new trigger gate
func NewGate(engine *opa.Engine, status StatusReader, settings Settings, logger zerolog.Logger) *Gate {
	return &Gate{
		opaEngine: engine,
		status:    status,
		settings:  settings,
		logger:    logger.With().Str("component", "gate").Logger(),
	}
}

// RequestOverride evaluates the override policy against the current status.
// Evaluation failures block (fail closed).
func (g *Gate) RequestOverride(ctx context.Context) Decision {
	facts := g.buildFacts(ctx, g.status.Current())
	return g.evaluate(ctx, facts)
}

// Check evaluates the policy against a hypothetical snapshot. Used by the
// check command and the watch log.
func (g *Gate) Check(ctx context.Context, snap status.Snapshot, guidedEnabled bool) Decision {
	facts := buildFacts(snap, guidedEnabled)
	return g.evaluate(ctx, facts)
}

func (g *Gate) evaluate(ctx context.Context, facts map[string]interface{}) Decision {
	start := time.Now()
	raw, err := g.opaEngine.Evaluate(ctx, facts)
	metrics.PolicyEvalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		g.logger.Error().Err(err).Msg("OPA evaluation failed, falling back to block")
		return Decision{Route: RouteBlocked, Reason: ReasonPolicyError}
	}

	decision, err := convert(raw)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Unknown decision from OPA, blocking")
		return Decision{Route: RouteBlocked, Reason: ReasonPolicyError}
	}

	g.logger.Debug().Str("decision", decision.String()).Msg("Override request evaluated")
	return decision
}

func (g *Gate) buildFacts(ctx context.Context, snap status.Snapshot) map[string]interface{} {
	guided := false
	if g.settings != nil {
		guided = g.settings.GuidedEnabled(ctx)
	}
	return buildFacts(snap, guided)
}

// buildFacts gathers facts for the decision query. Override permission is
// derived from the snapshot on every call.
func buildFacts(snap status.Snapshot, guidedEnabled bool) map[string]interface{} {
	s := snap.Status
	return map[string]interface{}{
		"stale": snap.Stale,
		"live":  snap.Live,
		"status": map[string]interface{}{
			"state":               s.State.String(),
			"remaining_seconds":   s.RemainingSeconds,
			"override_count":      s.OverrideCount,
			"override_limit":      s.OverrideLimit,
			"network":             string(s.Network),
			"override_permission": s.OverridePermission(),
		},
		"settings": map[string]interface{}{
			"guided_enabled": guidedEnabled,
		},
	}
}

func convert(raw opa.Decision) (Decision, error) {
	switch Route(raw.Route) {
	case RouteDelay, RouteGuided:
		return Decision{Route: Route(raw.Route)}, nil
	case RouteBlocked:
		reason := Reason(raw.Reason)
		if reason == "" {
			reason = ReasonPolicyError
		}
		return Decision{Route: RouteBlocked, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("unknown route %q", raw.Route)
	}
}
