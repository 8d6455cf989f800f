package session

// State is the lifecycle phase of one transcription session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions encodes the session state machine. Closed is reachable
// from everywhere via explicit close; Failed only through exhausting the
// reconnect budget or a fatal config error.
var validTransitions = map[State][]State{
	StateIdle:         {StateConnecting, StateClosed},
	StateConnecting:   {StateOpen, StateReconnecting, StateFailed, StateClosed},
	StateOpen:         {StateReconnecting, StateFailed, StateClosed},
	StateReconnecting: {StateConnecting, StateFailed, StateClosed},
	StateFailed:       {StateConnecting, StateClosed},
	StateClosed:       {},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
