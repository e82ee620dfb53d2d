package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LockState is the lockbox state as reported by the device.
type LockState int

const (
	Locked LockState = iota
	Unlocked
	CountdownActive
	EmergencyActive
	SetupRequired
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case CountdownActive:
		return "countdown"
	case EmergencyActive:
		return "emergency"
	case SetupRequired:
		return "setup"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Valid reports whether s is one of the known states.
func (s LockState) Valid() bool {
	return s >= Locked && s <= SetupRequired
}

// NetworkTrust classifies the network the device is reachable on.
type NetworkTrust string

const (
	NetworkTrusted     NetworkTrust = "trusted"
	NetworkUntrusted   NetworkTrust = "untrusted"
	NetworkAccessPoint NetworkTrust = "access-point"
)

// Status is an immutable snapshot of device state. Components never modify
// a Status in place; a newer snapshot replaces it wholesale.
type Status struct {
	State            LockState
	RemainingSeconds int
	OverrideCount    int
	OverrideLimit    int
	Network          NetworkTrust
	Timestamp        time.Time
}

// OverridePermission is derived from the network classification on every
// call. The device's own access point counts as a local, trusted link.
func (s Status) OverridePermission() bool {
	switch s.Network {
	case NetworkTrusted, NetworkAccessPoint:
		return true
	default:
		return false
	}
}

// LimitReached reports whether the override allowance for the period is used up.
func (s Status) LimitReached() bool {
	return s.OverrideCount >= s.OverrideLimit
}

// DefaultOverrideLimit is the firmware's daily override allowance, used when
// a payload reports none.
const DefaultOverrideLimit = 3

// ErrMalformedStatus is wrapped by every ParseStatus failure.
var ErrMalformedStatus = errors.New("malformed status")

// wireStatus mirrors the JSON served by /api/status and pushed on the feed.
type wireStatus struct {
	BoxState       *int    `json:"boxState"`
	TimeRemaining  int     `json:"timeRemaining"`
	EmergencyCount int     `json:"emergencyCount"`
	MaxEmergency   *int    `json:"maxEmergency,omitempty"`
	Network        *string `json:"network,omitempty"`
	Timestamp      int64   `json:"timestamp,omitempty"`
	WifiConnected  *bool   `json:"wifiConnected,omitempty"`
}

// ParseStatus decodes a status payload. When the payload carries no device
// timestamp, stamp is used instead. Firmware that reports no network
// classification is classified from wifiConnected: joined to the home
// network is trusted, otherwise the device is serving its own access point. The result is either a complete, valid
// Status or an error wrapping ErrMalformedStatus.
func ParseStatus(data []byte, stamp time.Time) (Status, error) {
	var w wireStatus
	if err := json.Unmarshal(data, &w); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}

	if w.BoxState == nil {
		return Status{}, fmt.Errorf("%w: missing boxState", ErrMalformedStatus)
	}
	state := LockState(*w.BoxState)
	if !state.Valid() {
		return Status{}, fmt.Errorf("%w: boxState %d out of range", ErrMalformedStatus, *w.BoxState)
	}
	if w.TimeRemaining < 0 {
		return Status{}, fmt.Errorf("%w: negative timeRemaining %d", ErrMalformedStatus, w.TimeRemaining)
	}
	limit := DefaultOverrideLimit
	if w.MaxEmergency != nil && *w.MaxEmergency != 0 {
		limit = *w.MaxEmergency
	}
	if w.EmergencyCount < 0 || limit < 0 {
		return Status{}, fmt.Errorf("%w: negative override counters", ErrMalformedStatus)
	}

	network := NetworkUntrusted
	switch {
	case w.Network != nil:
		switch NetworkTrust(*w.Network) {
		case NetworkTrusted, NetworkUntrusted, NetworkAccessPoint:
			network = NetworkTrust(*w.Network)
		default:
			return Status{}, fmt.Errorf("%w: unknown network %q", ErrMalformedStatus, *w.Network)
		}
	case w.WifiConnected != nil && *w.WifiConnected:
		network = NetworkTrusted
	case w.WifiConnected != nil:
		network = NetworkAccessPoint
	}

	ts := stamp
	if w.Timestamp > 0 {
		ts = time.UnixMilli(w.Timestamp)
	}

	return Status{
		State:            state,
		RemainingSeconds: w.TimeRemaining,
		OverrideCount:    w.EmergencyCount,
		OverrideLimit:    limit,
		Network:          network,
		Timestamp:        ts,
	}, nil
}

// MarshalJSON encodes s in the device wire format.
func (s Status) MarshalJSON() ([]byte, error) {
	state := int(s.State)
	limit := s.OverrideLimit
	network := string(s.Network)
	wifi := s.Network == NetworkTrusted || s.Network == NetworkUntrusted
	w := wireStatus{
		BoxState:       &state,
		TimeRemaining:  s.RemainingSeconds,
		EmergencyCount: s.OverrideCount,
		MaxEmergency:   &limit,
		Network:        &network,
		WifiConnected:  &wifi,
	}
	if !s.Timestamp.IsZero() {
		w.Timestamp = s.Timestamp.UnixMilli()
	}
	return json.Marshal(w)
}

// OverrideResult is the device's answer to a granted override.
type OverrideResult struct {
	PenaltyMinutes int
	Message        string
}

// OverrideSettings is the device-held override configuration (/api/ai/config).
type OverrideSettings struct {
	Enabled      bool   `json:"enabled"`
	Provider     string `json:"provider,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DelayMinutes int    `json:"delayMinutes"`
	Personality  string `json:"personality,omitempty"`
}
