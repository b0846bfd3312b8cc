package mesh

// State of one peer link.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingAnswer
	StateOffered
	StateAnswering
	StateConnected
	StateRecovering
	StateFailed // retries or rebuilds exhausted; waits for the remote side
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateOffered:
		return "offered"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// IsInitiator reports whether self offers first on a fresh link with other.
// Both sides compute the same answer.
func IsInitiator(self, other string) bool {
	return self < other
}
