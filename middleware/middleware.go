// Package middleware defines the responder handler signature and the onion
// chain wrapped around it.
//
// One signature serves every interaction pattern: a handler receives the
// request and a Sink, and its emissions plus its return value decide what the
// requester sees (one PAYLOAD, none, or N PAYLOADs then COMPLETE/ERROR).
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"item-rsocket/message"
	"item-rsocket/protocol"
)

var ErrEmptyPayload = errors.New("request carries no payload")

// Request is one inbound interaction as seen by handlers.
type Request struct {
	Route    string
	Kind     protocol.MsgType // REQUEST_RESPONSE, REQUEST_FNF or REQUEST_STREAM
	StreamID uint32
	Msg      *message.RPCMessage
}

// Decode unmarshals the JSON payload into v.
func (r *Request) Decode(v any) error {
	if len(r.Msg.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(r.Msg.Payload, v)
}

// Sink receives the elements a handler emits. For streams Next blocks until
// the requester has granted demand or the request context ends.
type Sink interface {
	Next(v any) error
}

type HandlerFunc func(ctx context.Context, req *Request, sink Sink) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost:
// Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
