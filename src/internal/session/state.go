package session

// State is the lifecycle state of the interception session.
type State int

const (
	Starting State = iota
	Running
	WaitingForNetwork
	Reconnecting
	ReconnectingError
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case WaitingForNetwork:
		return "WAITING_FOR_NETWORK"
	case Reconnecting:
		return "RECONNECTING"
	case ReconnectingError:
		return "RECONNECTING_ERROR"
	case Stopping:
		return "STOPPING"
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON status documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
