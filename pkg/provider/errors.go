package provider

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies provider failures.
type Kind string

const (
	KindLaunch      Kind = "launch"
	KindProtocol    Kind = "protocol"
	KindSessionDead Kind = "session_dead"
	KindNotReady    Kind = "not_ready"
	KindCall        Kind = "call"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrLaunch      = errors.New("provider launch failed")
	ErrProtocol    = errors.New("provider protocol violation")
	ErrSessionDead = errors.New("provider session is dead")
	ErrNotReady    = errors.New("provider session is not ready")
	ErrCall        = errors.New("provider call failed")

	ErrInvalidName   = errors.New("invalid provider name")
	ErrDuplicateName = errors.New("duplicate provider name")
)

var kindSentinels = map[Kind]error{
	KindLaunch:      ErrLaunch,
	KindProtocol:    ErrProtocol,
	KindSessionDead: ErrSessionDead,
	KindNotReady:    ErrNotReady,
	KindCall:        ErrCall,
}

// Error is returned by every Session operation.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %q: %s", e.Provider, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func newError(kind Kind, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindCall
// for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindCall
}

// isSevered reports whether err means the transport to the provider process
// is gone for good.
func isSevered(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		errProcessExited,
		io.EOF,
		io.ErrUnexpectedEOF,
		io.ErrClosedPipe,
		os.ErrClosed,
		net.ErrClosed,
		syscall.EPIPE,
		syscall.ECONNRESET,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
