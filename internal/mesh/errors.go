package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrRetriesExhausted  = errors.New("no answer after re-offer retries")
	ErrRebuildsExhausted = errors.New("transport rebuild limit reached")
	ErrClosed            = errors.New("orchestrator closed")
	ErrNoMedia           = errors.New("no local media available")
)

// LinkError is a failure on one peer link. It never concerns other links.
type LinkError struct {
	Op   string
	Peer string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func linkError(op, peer string, err error) *LinkError {
	return &LinkError{Op: op, Peer: peer, Err: err}
}
