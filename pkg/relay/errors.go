package relay

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnboundSession is logged when a prompt arrives before any setup frame.
// The prompt is still answered from a throwaway transcript.
var ErrUnboundSession = errors.New("prompt received before setup")

// ConnectionError is a transport failure. It ends the handler.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("websocket %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
