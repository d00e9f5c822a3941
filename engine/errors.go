package engine

import "errors"

var (
	// ErrSessionAlreadyActive is returned by StartConversation while a session is open.
	ErrSessionAlreadyActive = errors.New("session already active")

	// ErrSessionClosed is returned once the agent's session has been closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoActiveSession is returned by Chat and Close before StartConversation.
	ErrNoActiveSession = errors.New("no active session")
)
