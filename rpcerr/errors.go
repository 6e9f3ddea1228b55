// Package rpcerr defines the failure taxonomy shared by the requester core,
// the responder and the HTTP adapter.
//
// Every failure that reaches a caller is one of:
//
//	connection-establishment failure  ConnectionError / ErrConnectionFailed
//	connection loss                   ErrConnectionLost, ErrConnectionClosed
//	remote-operation failure          RemoteError
//	send failure (fire-and-forget)    SendError
//
// Cancellation of a stream is not an error; streams report it as io.EOF.
package rpcerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNoResponse       = errors.New("remote completed without a response")
	ErrProtocol         = errors.New("protocol violation")
	// ErrFrameTooLarge rejects one interaction whose frame would exceed the
	// wire limit. Nothing is written, so the connection stays usable.
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrInvalidRequest = errors.New("invalid request")
)

// ConnectionError is returned once the bounded retry budget is exhausted.
type ConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: gave up after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnectionFailed) hold for every ConnectionError.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// RemoteError carries the message of an ERROR frame sent by the responder.
type RemoteError struct {
	Route   string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Route == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error on %s: %s", e.Route, e.Message)
}

// SendError means a frame could not be handed to the local transport.
// It says nothing about whether the responder processed anything.
type SendError struct {
	Route string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Route, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Class is the taxonomy entry of an error.
type Class int

const (
	ClassNone Class = iota
	ClassConnection
	ClassConnectionLost
	ClassRemote
	ClassSend
	ClassTimeout
	ClassCanceled
	ClassTooLarge
	ClassInvalid
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassConnection:
		return "connection_failed"
	case ClassConnectionLost:
		return "connection_lost"
	case ClassRemote:
		return "remote_error"
	case ClassSend:
		return "send_error"
	case ClassTimeout:
		return "timeout"
	case ClassCanceled:
		return "canceled"
	case ClassTooLarge:
		return "too_large"
	case ClassInvalid:
		return "invalid_request"
	default:
		return "internal"
	}
}

// Classify maps err onto the taxonomy. Typed errors win over sentinels.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var (
		remote *RemoteError
		send   *SendError
	)
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		return ClassTooLarge
	case errors.Is(err, ErrInvalidRequest):
		return ClassInvalid
	case errors.As(err, &send):
		return ClassSend
	case errors.As(err, &remote):
		return ClassRemote
	case errors.Is(err, ErrConnectionFailed):
		return ClassConnection
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrConnectionClosed):
		return ClassConnectionLost
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	}
	return ClassInternal
}
