package domain

// ConnState is the connection manager's externally visible state.
//
// The lifecycle is Disconnected → Connecting → Connected, with Degraded marking a
// session believed compromised (I/O fault, timeout, ambiguous socket status) that
// has not yet been torn down, and Reconnecting covering the teardown + ARP refresh
// + rebuild sequence. Values are stable: they are stored atomically and reported
// over the status API.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON status responses.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
