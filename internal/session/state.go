package session

// State is the lifecycle of the process-wide paired session.
type State int

const (
	Uninitialized State = iota
	Initializing
	AwaitingPairing
	Authenticated
	AuthFailed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case AwaitingPairing:
		return "awaiting_pairing"
	case Authenticated:
		return "authenticated"
	case AuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// EventKind identifies a lifecycle event emitted by the messaging client.
type EventKind int

const (
	EventPairingPayload EventKind = iota
	EventAuthenticated
	EventReady
	EventAuthFailure
)

func (k EventKind) String() string {
	switch k {
	case EventPairingPayload:
		return "pairing-payload"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth-failure"
	default:
		return "unknown"
	}
}

// Event is a lifecycle event. Payload is set for EventPairingPayload,
// Reason for EventAuthFailure.
type Event struct {
	Kind    EventKind
	Payload string
	Reason  string
}

// Next returns the state reached from s on event k, and false when the event
// does not apply in s. It has no side effects.
func Next(s State, k EventKind) (State, bool) {
	switch k {
	case EventPairingPayload:
		if s == Initializing || s == AwaitingPairing {
			return AwaitingPairing, true
		}
	case EventAuthenticated, EventReady:
		if s == Initializing || s == AwaitingPairing || s == Authenticated {
			return Authenticated, true
		}
	case EventAuthFailure:
		if s != Uninitialized {
			return AuthFailed, true
		}
	}
	return s, false
}
