package storage

import "time"

// Outcome is how an override attempt ended
type Outcome string

const (
	OutcomeUnlocked  Outcome = "unlocked"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeBlocked   Outcome = "blocked"
)

// Attempt is a journal record for one override request.
type Attempt struct {
	ID             string    `json:"id"`
	Path           string    `json:"path"` // "delay", "guided" or empty when blocked
	Trigger        string    `json:"trigger,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Interactions   int       `json:"interactions"`
	Outcome        Outcome   `json:"outcome"`
	PenaltyMinutes int       `json:"penalty_minutes,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// Duration is how long the attempt ran.
func (a Attempt) Duration() time.Duration {
	if a.EndedAt.Before(a.StartedAt) {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}
