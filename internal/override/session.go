package override

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/conversation"
	"github.com/goodtune/lockbox/internal/cooloff"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/guided"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/storage"
)

var (
	// ErrSessionActive is returned when an override session is already
	// pending for this client.
	ErrSessionActive = errors.New("an override session is already active")
	// ErrWrongPath is returned when the gate routes the request to the
	// other override path.
	ErrWrongPath = errors.New("override request routed to a different path")
	// ErrSessionEnded is returned when confirming a session that was
	// already unlocked, cancelled or failed.
	ErrSessionEnded = errors.New("override session has ended")
)

// BlockedError reports a gate refusal.
type BlockedError struct {
	Reason policy.Reason
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("override blocked: %s", e.Reason.Message())
}

// Path is the override path a session follows
type Path string

const (
	PathDelay  Path = "delay"
	PathGuided Path = "guided"
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive    Status = "active"
	StatusUnlocked  Status = "unlocked"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Session is one override attempt. Exactly one of Timer and Guided is set,
// depending on Path.
type Session struct {
	ID        string
	Path      Path
	Trigger   conversation.Category
	StartedAt time.Time

	Timer  *cooloff.Timer
	Guided *guided.Controller

	coord *Coordinator

	mu      sync.Mutex
	status  Status
	lastErr error
}

// Status returns the session's lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Interactions returns the guided interaction count, zero for the delay path.
func (s *Session) Interactions() int {
	if s.Guided == nil {
		return 0
	}
	return s.Guided.Interactions()
}

// Confirm issues the override through the session's path. A failed command
// leaves the session active so it can be retried or cancelled.
func (s *Session) Confirm(ctx context.Context) (device.OverrideResult, error) {
	if status := s.Status(); status != StatusActive {
		return device.OverrideResult{}, fmt.Errorf("confirm %s session: %w", status, ErrSessionEnded)
	}

	var (
		result device.OverrideResult
		err    error
	)
	switch s.Path {
	case PathDelay:
		result, err = s.Timer.Confirm(ctx)
	case PathGuided:
		result, err = s.Guided.Confirm(ctx)
	default:
		return device.OverrideResult{}, fmt.Errorf("unknown path %q", s.Path)
	}

	if err != nil {
		var cmdErr *device.CommandError
		if errors.As(err, &cmdErr) {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		}
		return result, err
	}

	s.coord.finish(s, StatusUnlocked, result.PenaltyMinutes)
	return result, nil
}

// Cancel abandons the session without issuing a command.
func (s *Session) Cancel() {
	switch s.Path {
	case PathDelay:
		s.Timer.Cancel()
	case PathGuided:
		s.Guided.Cancel()
	}
	s.coord.finish(s, StatusCancelled, 0)
}

func (s *Session) outcome(status Status) (storage.Outcome, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case StatusUnlocked:
		return storage.OutcomeUnlocked, ""
	case StatusCancelled:
		if s.lastErr != nil {
			return storage.OutcomeFailed, s.lastErr.Error()
		}
		return storage.OutcomeCancelled, ""
	default:
		return storage.OutcomeFailed, ""
	}
}
