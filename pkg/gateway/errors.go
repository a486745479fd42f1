package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for session and handshake failures.
var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// closed session.
	ErrSessionClosed = errors.New("gateway: session closed")

	// ErrHandshakeTimeout is returned when no Identify or Resume arrives
	// within the handshake window.
	ErrHandshakeTimeout = errors.New("gateway: handshake timeout")

	// ErrAuthenticationFailed is returned when an Identify or Resume
	// carries a token the authenticator rejects.
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")

	// ErrSessionNotResumable is returned when a Resume names a session
	// that is unknown, expired, or owned by a different user.
	ErrSessionNotResumable = errors.New("gateway: session not resumable")

	// ErrMonitorUnreachable is returned when a heartbeat cannot be
	// forwarded because the heartbeat monitor has exited.
	ErrMonitorUnreachable = errors.New("gateway: heartbeat monitor unreachable")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}
