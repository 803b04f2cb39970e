package realtime

import (
	"errors"
	"fmt"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: manager closed")
)

// BrokerError is an ERROR frame sent by the broker.
type BrokerError struct {
	Message string
	Details string
}

func (e *BrokerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("broker error: %s: %s", e.Message, e.Details)
	}
	return "broker error: " + e.Message
}
