package device

import "fmt"

// Reason classifies a failed device command.
type Reason string

const (
	ReasonLimitReached   Reason = "limit_reached"
	ReasonNetworkBlocked Reason = "network_blocked"
	ReasonRejected       Reason = "rejected"
	ReasonTransport      Reason = "transport"
	ReasonDuplicate      Reason = "duplicate"
)

// CommandError is returned by every failed command call.
type CommandError struct {
	Op      string
	Reason  Reason
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the command later may succeed.
func (e *CommandError) Transient() bool {
	return e.Reason == ReasonTransport
}
