package orchestrator

// State is the position of the orchestrator in a token cycle.
type State int

const (
	Idle State = iota
	AwaitingAccessToken
	AwaitingURLAndToken
	Ready
	Embedded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAccessToken:
		return "awaiting_access_token"
	case AwaitingURLAndToken:
		return "awaiting_url_and_token"
	case Ready:
		return "ready"
	case Embedded:
		return "embedded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether the cycle will not progress without a new call.
func (s State) Settled() bool {
	return s == Embedded || s == Failed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
