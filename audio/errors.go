package audio

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceDisconnected = errors.New("audio: device disconnected")
	ErrNoReply            = errors.New("audio: no reply from board")
	ErrQueueFull          = errors.New("audio: command queue full")
	ErrUnexpectedReply    = errors.New("audio: unexpected reply")
)

// TerminalError marks a failure after which the Conn is unusable.
type TerminalError struct {
	wrapped error
}

func NewTerminalError(err error) *TerminalError { return &TerminalError{wrapped: err} }

func (e *TerminalError) Unwrap() error { return e.wrapped }
func (e *TerminalError) Error() string {
	if e.wrapped == nil {
		return "audio device terminal error"
	}
	return fmt.Sprintf("audio device terminal error: %v", e.wrapped)
}

func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
