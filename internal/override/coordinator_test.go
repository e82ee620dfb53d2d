package override

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/conversation"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/guided"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedGate struct {
	decision policy.Decision
	calls    int
}

func (g *fixedGate) RequestOverride(context.Context) policy.Decision {
	g.calls++
	return g.decision
}

type fakeIssuer struct {
	mu       sync.Mutex
	calls    int
	err      error
	inFlight func()
}

func (f *fakeIssuer) IssueOverride(_ context.Context, _ string, penalty *int) (device.OverrideResult, error) {
	if f.inFlight != nil {
		f.inFlight()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return device.OverrideResult{}, f.err
	}
	p := 15
	if penalty != nil {
		p = *penalty
	}
	return device.OverrideResult{PenaltyMinutes: p}, nil
}

type memJournal struct {
	mu       sync.Mutex
	attempts []storage.Attempt
	err      error
}

func (m *memJournal) Record(_ context.Context, a storage.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memJournal) Get(context.Context, string) (*storage.Attempt, error) {
	return nil, storage.ErrNotFound
}

func (m *memJournal) List(context.Context, storage.AttemptFilter) ([]storage.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Attempt(nil), m.attempts...), nil
}

func (m *memJournal) CountForDay(context.Context, time.Time) (int, error) { return 0, nil }

func (m *memJournal) DeleteBefore(context.Context, time.Time) (int, error) { return 0, nil }

type fixture struct {
	coord   *Coordinator
	gate    *fixedGate
	issuer  *fakeIssuer
	journal *memJournal
	clock   *clock.Manual
}

func newFixture(route policy.Route) *fixture {
	f := &fixture{
		gate:    &fixedGate{decision: policy.Decision{Route: route}},
		issuer:  &fakeIssuer{},
		journal: &memJournal{},
		clock:   clock.NewManual(time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC)),
	}
	cfg := Config{DelayMinutes: 5, Guided: guided.DefaultConfig(), Seed: 1}
	f.coord = NewCoordinator(f.gate, f.issuer, f.journal, f.clock, cfg, zerolog.Nop())
	ids := 0
	f.coord.newID = func() string {
		ids++
		return fmt.Sprintf("session-%d", ids)
	}
	return f
}

func TestBlockedGateCreatesNothing(t *testing.T) {
	f := newFixture(policy.RouteBlocked)
	f.gate.decision.Reason = policy.ReasonLimitReached

	session, err := f.coord.Start(context.Background(), conversation.Stress)
	assert.Nil(t, session)

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, policy.ReasonLimitReached, blocked.Reason)
	assert.Contains(t, err.Error(), "limit reached")

	_, active := f.coord.Active()
	assert.False(t, active)
	assert.Equal(t, 0, f.clock.Pending())
	assert.Equal(t, 0, f.issuer.calls)

	require.Len(t, f.journal.attempts, 1)
	assert.Equal(t, storage.OutcomeBlocked, f.journal.attempts[0].Outcome)
	assert.Equal(t, string(policy.ReasonLimitReached), f.journal.attempts[0].Reason)
}

func TestOnlyStartedRequestsAreCounted(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	counter := metrics.OverrideRequestsTotal.WithLabelValues(string(policy.RouteDelay))
	before := testutil.ToFloat64(counter)

	assert.Equal(t, policy.RouteDelay, f.coord.Request(context.Background()).Route)
	assert.Equal(t, before, testutil.ToFloat64(counter))

	_, err := f.coord.StartDelay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestSecondSessionRejected(t *testing.T) {
	f := newFixture(policy.RouteGuided)
	ctx := context.Background()

	first, err := f.coord.StartGuided(ctx, conversation.Stress)
	require.NoError(t, err)
	require.NoError(t, first.Guided.Submit("stressed"))
	require.NoError(t, first.Guided.Submit("still stressed"))

	second, err := f.coord.StartGuided(ctx, conversation.Boredom)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrSessionActive)

	active, ok := f.coord.Active()
	require.True(t, ok)
	assert.Same(t, first, active)
	assert.Equal(t, 2, active.Interactions())
	assert.Equal(t, 1, f.gate.calls)
}

func TestStartFollowsGateRoute(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	session, err := f.coord.Start(context.Background(), conversation.Anger)
	require.NoError(t, err)
	assert.Equal(t, PathDelay, session.Path)
	assert.Equal(t, conversation.None, session.Trigger)
	assert.NotNil(t, session.Timer)
	assert.Nil(t, session.Guided)
	assert.Equal(t, 300, session.Timer.Remaining())
}

func TestWrongPathRejected(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	_, err := f.coord.StartGuided(context.Background(), conversation.Stress)
	assert.ErrorIs(t, err, ErrWrongPath)

	_, active := f.coord.Active()
	assert.False(t, active)
}

func TestDelaySessionUnlock(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	ctx := context.Background()

	session, err := f.coord.StartDelay(ctx)
	require.NoError(t, err)

	_, err = session.Confirm(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusActive, session.Status())

	f.clock.Advance(5 * time.Minute)
	result, err := session.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, result.PenaltyMinutes)
	assert.Equal(t, StatusUnlocked, session.Status())

	_, active := f.coord.Active()
	assert.False(t, active)

	require.Len(t, f.journal.attempts, 1)
	a := f.journal.attempts[0]
	assert.Equal(t, "session-1", a.ID)
	assert.Equal(t, "delay", a.Path)
	assert.Equal(t, storage.OutcomeUnlocked, a.Outcome)
	assert.Equal(t, 5*time.Minute, a.Duration())
}

func TestDelaySessionCancelThenConfirm(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	ctx := context.Background()

	session, err := f.coord.StartDelay(ctx)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)
	require.True(t, session.Timer.IsComplete())

	session.Cancel()
	_, err = session.Confirm(ctx)
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, 0, f.issuer.calls)
	assert.Equal(t, StatusCancelled, session.Status())

	require.Len(t, f.journal.attempts, 1)
	assert.Equal(t, storage.OutcomeCancelled, f.journal.attempts[0].Outcome)
}

func TestDelaySessionConfirmTwice(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	ctx := context.Background()

	session, err := f.coord.StartDelay(ctx)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	_, err = session.Confirm(ctx)
	require.NoError(t, err)
	_, err = session.Confirm(ctx)
	assert.ErrorIs(t, err, ErrSessionEnded)

	assert.Equal(t, 1, f.issuer.calls)
	assert.Len(t, f.journal.attempts, 1)
}

func TestGrantDuringCancelJournalsUnlock(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	ctx := context.Background()

	session, err := f.coord.StartDelay(ctx)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	f.issuer.inFlight = func() { session.Cancel() }
	result, err := session.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, result.PenaltyMinutes)
	assert.Equal(t, StatusUnlocked, session.Status())

	_, active := f.coord.Active()
	assert.False(t, active)

	require.Len(t, f.journal.attempts, 2)
	assert.Equal(t, storage.OutcomeCancelled, f.journal.attempts[0].Outcome)
	last := f.journal.attempts[1]
	assert.Equal(t, session.ID, last.ID)
	assert.Equal(t, storage.OutcomeUnlocked, last.Outcome)
	assert.Equal(t, 15, last.PenaltyMinutes)
}

func TestGuidedGrantDuringCancelJournalsUnlock(t *testing.T) {
	f := newFixture(policy.RouteGuided)
	ctx := context.Background()

	session, err := f.coord.StartGuided(ctx, conversation.Stress)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, session.Guided.Submit("work is a lot"))
	}
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, session.Guided.RequestCompletion())
	f.clock.Advance(30 * time.Second)

	f.issuer.inFlight = func() { session.Cancel() }
	_, err = session.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusUnlocked, session.Status())

	require.Len(t, f.journal.attempts, 2)
	assert.Equal(t, storage.OutcomeUnlocked, f.journal.attempts[1].Outcome)
	assert.Equal(t, 15, f.journal.attempts[1].PenaltyMinutes)
}

func TestGuidedSessionUnlockJournalsOnce(t *testing.T) {
	f := newFixture(policy.RouteGuided)
	ctx := context.Background()

	session, err := f.coord.StartGuided(ctx, conversation.Habit)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, session.Guided.Submit("it's a habit"))
	}
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, session.Guided.RequestCompletion())
	f.clock.Advance(30 * time.Second)

	_, err = session.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusUnlocked, session.Status())

	require.Len(t, f.journal.attempts, 1)
	a := f.journal.attempts[0]
	assert.Equal(t, storage.OutcomeUnlocked, a.Outcome)
	assert.Equal(t, 15, a.PenaltyMinutes)
	assert.Equal(t, 5, a.Interactions)
	assert.Equal(t, "habit", a.Trigger)

	// the slot is free again
	_, err = f.coord.StartGuided(ctx, conversation.Stress)
	assert.NoError(t, err)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(policy.RouteGuided)
	ctx := context.Background()

	session, err := f.coord.StartGuided(ctx, conversation.Social)
	require.NoError(t, err)
	require.NoError(t, session.Guided.StartBreathing())
	f.clock.Advance(10 * time.Second)

	session.Guided.Cancel()
	assert.Equal(t, StatusCancelled, session.Status())
	assert.Equal(t, 0, f.clock.Pending())

	_, active := f.coord.Active()
	assert.False(t, active)
	require.Len(t, f.journal.attempts, 1)
	assert.Equal(t, storage.OutcomeCancelled, f.journal.attempts[0].Outcome)
	assert.Equal(t, 0, f.issuer.calls)
}

func TestCancelAfterFailedConfirmIsFailure(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	f.issuer.err = &device.CommandError{Op: "override", Reason: device.ReasonLimitReached, Message: "Emergency unlock limit reached"}
	ctx := context.Background()

	session, err := f.coord.StartDelay(ctx)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	_, err = session.Confirm(ctx)
	var cmdErr *device.CommandError
	require.ErrorAs(t, err, &cmdErr)
	_, active := f.coord.Active()
	assert.True(t, active)

	session.Cancel()
	assert.Equal(t, StatusFailed, session.Status())
	require.Len(t, f.journal.attempts, 1)
	assert.Equal(t, storage.OutcomeFailed, f.journal.attempts[0].Outcome)
	assert.Contains(t, f.journal.attempts[0].Reason, "limit")
}

func TestJournalFailureIsNotFatal(t *testing.T) {
	f := newFixture(policy.RouteDelay)
	f.journal.err = errors.New("disk full")

	session, err := f.coord.StartDelay(context.Background())
	require.NoError(t, err)
	session.Cancel()

	assert.Equal(t, StatusCancelled, session.Status())
	_, active := f.coord.Active()
	assert.False(t, active)
}

func TestCloseCancelsActiveSession(t *testing.T) {
	f := newFixture(policy.RouteGuided)
	ctx := context.Background()

	session, err := f.coord.StartGuided(ctx, conversation.Stress)
	require.NoError(t, err)

	f.coord.Close()
	assert.Equal(t, guided.Cancelled, session.Guided.State())
	assert.Equal(t, 0, f.clock.Pending())

	_, err = f.coord.StartGuided(ctx, conversation.Stress)
	assert.Error(t, err)
}

type fakeSettings struct {
	settings device.OverrideSettings
	err      error
}

func (f fakeSettings) OverrideSettings(context.Context) (device.OverrideSettings, error) {
	return f.settings, f.err
}

func TestDeviceSettings(t *testing.T) {
	ctx := context.Background()

	enabled := NewDeviceSettings(fakeSettings{settings: device.OverrideSettings{Enabled: true}}, false, zerolog.Nop())
	assert.True(t, enabled.GuidedEnabled(ctx))

	unreachable := NewDeviceSettings(fakeSettings{err: errors.New("timeout")}, true, zerolog.Nop())
	assert.True(t, unreachable.GuidedEnabled(ctx))

	cfg := guided.DefaultConfig()
	require.NoError(t, ApplyDeviceSettings(ctx, fakeSettings{settings: device.OverrideSettings{DelayMinutes: 20}}, &cfg))
	assert.Equal(t, 20*time.Minute, cfg.MinDuration)

	cfg = guided.DefaultConfig()
	assert.Error(t, ApplyDeviceSettings(ctx, fakeSettings{err: errors.New("timeout")}, &cfg))
	assert.Equal(t, 10*time.Minute, cfg.MinDuration)
}
