package client

import (
	"context"
	"encoding/json"
	"fmt"
	"item-rsocket/codec"
	"item-rsocket/message"
	"item-rsocket/protocol"
	"item-rsocket/transport"
)

// Router binds a route and a payload to a connection. It holds no state and
// can be reused for any number of routes.
type Router struct{}

// Outbound is a request ready to go out on a connection.
type Outbound struct {
	Route string
	Msg   *message.RPCMessage
	conn  *transport.ClientTransport
}

// Send encodes route as routing metadata and payload as JSON. A nil payload
// produces a request without data. Nothing is written until Open.
func (Router) Send(conn *transport.ClientTransport, route string, payload any) (*Outbound, error) {
	metadata, err := codec.EncodeRoute(route)
	if err != nil {
		return nil, err
	}
	msg := &message.RPCMessage{Metadata: metadata}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", route, err)
		}
		msg.Payload = data
	}
	return &Outbound{Route: route, Msg: msg, conn: conn}, nil
}

// Open writes the request as a frame of the given kind.
func (o *Outbound) Open(ctx context.Context, kind protocol.MsgType) (*transport.Stream, error) {
	return o.conn.Open(ctx, kind, o.Msg)
}
