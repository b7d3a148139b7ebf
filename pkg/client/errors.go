package client

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by operations on a destroyed client
	ErrDestroyed = errors.New("client destroyed")
	// ErrNoCredentials is returned by CheckIn before the client registered
	ErrNoCredentials = errors.New("client has no credentials")
	// ErrHeartbeatTimeout is the disconnect cause when the server stays silent
	// for two heartbeat intervals
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrServerClose is the disconnect cause when the server sends a close frame
	ErrServerClose = errors.New("server closed the session")
)

// TransportError reports a failed socket or HTTP operation of the session.
// It is always followed by a reconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
