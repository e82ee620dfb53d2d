package policy

// Route is the override path chosen by the gate
type Route string

const (
	RouteBlocked Route = "blocked"
	RouteDelay   Route = "delay"
	RouteGuided  Route = "guided"
)

// Reason explains a blocked decision
type Reason string

const (
	ReasonLimitReached     Reason = "limit_reached"
	ReasonNetworkUntrusted Reason = "network_untrusted"
	ReasonNoStatus         Reason = "no_status"
	ReasonPolicyError      Reason = "policy_error"
)

// Message returns the user-facing explanation for a blocking reason.
func (r Reason) Message() string {
	switch r {
	case ReasonLimitReached:
		return "Emergency unlock limit reached for today"
	case ReasonNetworkUntrusted:
		return "Emergency unlock is not allowed from an untrusted network"
	case ReasonNoStatus:
		return "Device status is not available yet"
	case ReasonPolicyError:
		return "Override policy could not be evaluated"
	default:
		return string(r)
	}
}

// Decision is the outcome of an override request
type Decision struct {
	Route  Route
	Reason Reason // set only when Route is RouteBlocked
}

// Blocked reports whether the request was refused.
func (d Decision) Blocked() bool {
	return d.Route == RouteBlocked
}

func (d Decision) String() string {
	if d.Blocked() {
		return string(d.Route) + "(" + string(d.Reason) + ")"
	}
	return string(d.Route)
}
