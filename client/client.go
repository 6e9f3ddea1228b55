// Package client is the requester API: the four interaction patterns over
// the connection shared through a connection.Supplier.
//
// All four go through one execute path and differ only in Cardinality:
//
//	FireAndForget    None      REQUEST_FNF     done once the frame is written
//	RequestResponse  One       REQUEST_RESPONSE  first PAYLOAD
//	RequestStream    Many      REQUEST_STREAM  PAYLOAD* then COMPLETE
//	Subscribe        Infinite  REQUEST_STREAM  PAYLOAD* until cancelled
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"item-rsocket/metric"
	"item-rsocket/protocol"
	"item-rsocket/rpcerr"
	"item-rsocket/transport"

	"go.uber.org/zap"
)

// ConnectionSource hands out the shared connection. *connection.Supplier
// implements it.
type ConnectionSource interface {
	Get(ctx context.Context) (*transport.ClientTransport, error)
}

// Cardinality is how many responses an interaction expects.
type Cardinality int

const (
	CardinalityNone Cardinality = iota
	CardinalityOne
	CardinalityMany
	CardinalityInfinite
)

// String names the interaction pattern; it labels logs and metrics.
func (c Cardinality) String() string {
	switch c {
	case CardinalityNone:
		return "fire_and_forget"
	case CardinalityOne:
		return "request_response"
	case CardinalityMany:
		return "request_stream"
	case CardinalityInfinite:
		return "subscribe"
	default:
		return fmt.Sprintf("Cardinality(%d)", int(c))
	}
}

func (c Cardinality) frameKind() protocol.MsgType {
	switch c {
	case CardinalityNone:
		return protocol.MsgTypeRequestFNF
	case CardinalityOne:
		return protocol.MsgTypeRequestResponse
	default:
		return protocol.MsgTypeRequestStream
	}
}

type Options struct {
	// Window is the demand granted to streams up front and the size of each
	// replenishment cycle. Zero means transport.DefaultWindow.
	Window  uint32
	Logger  *zap.Logger
	Metrics *metric.Metrics
}

// Client issues requests. It is safe for concurrent use.
type Client struct {
	conns   ConnectionSource
	router  Router
	window  uint32
	logger  *zap.Logger
	metrics *metric.Metrics
}

func New(conns ConnectionSource, opts Options) *Client {
	if opts.Window == 0 {
		opts.Window = transport.DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		conns:   conns,
		window:  opts.Window,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// execute obtains the shared connection, binds route and data, and opens the
// interaction. For CardinalityNone the returned stream is nil.
func (c *Client) execute(ctx context.Context, route string, data any, card Cardinality) (*transport.Stream, error) {
	conn, err := c.conns.Get(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.router.Send(conn, route, data)
	if err != nil {
		return nil, err
	}
	if card == CardinalityMany || card == CardinalityInfinite {
		out.Msg.InitialN = c.window
	}

	s, err := out.Open(ctx, card.frameKind())
	if err != nil {
		if card == CardinalityNone && writeFailed(err) {
			return nil, &rpcerr.SendError{Route: route, Err: err}
		}
		return nil, err
	}
	return s, nil
}

// writeFailed tells a frame the connection could not take apart from a
// request refused before sending (cancelled context, oversize frame).
func writeFailed(err error) bool {
	return errors.Is(err, rpcerr.ErrConnectionLost) || errors.Is(err, rpcerr.ErrConnectionClosed)
}

// RequestResponse sends data to route and decodes the single response into
// reply. A nil reply discards the response.
func (c *Client) RequestResponse(ctx context.Context, route string, data, reply any) (err error) {
	defer func() { c.done(route, CardinalityOne, err) }()

	s, err := c.execute(ctx, route, data, CardinalityOne)
	if err != nil {
		return err
	}
	defer s.Close()

	msg, err := s.Recv()
	if err != nil {
		return recvError(ctx, route, err)
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, reply); err != nil {
		return fmt.Errorf("decode %s response: %w", route, err)
	}
	return nil
}

// FireAndForget sends data to route. A nil error only means the frame was
// handed to the connection.
func (c *Client) FireAndForget(ctx context.Context, route string, data any) (err error) {
	defer func() { c.done(route, CardinalityNone, err) }()

	_, err = c.execute(ctx, route, data, CardinalityNone)
	return err
}

// RequestStream opens a finite stream. Recv yields items until io.EOF.
func (c *Client) RequestStream(ctx context.Context, route string, data any) (*Stream, error) {
	return c.open(ctx, route, data, CardinalityMany)
}

// Subscribe opens a live stream that only ends when ctx is cancelled, the
// stream is closed or the connection drops.
func (c *Client) Subscribe(ctx context.Context, route string) (*Stream, error) {
	return c.open(ctx, route, nil, CardinalityInfinite)
}

func (c *Client) open(ctx context.Context, route string, data any, card Cardinality) (*Stream, error) {
	s, err := c.execute(ctx, route, data, card)
	if err != nil {
		c.done(route, card, err)
		return nil, err
	}
	c.metrics.StreamOpened(card.String())
	return &Stream{ctx: ctx, s: s, route: route, card: card, client: c}, nil
}

// done records the outcome of an interaction.
func (c *Client) done(route string, card Cardinality, err error) {
	class := rpcerr.Classify(err)
	c.metrics.Request(card.String(), class.String())
	if err != nil && class != rpcerr.ClassCanceled {
		c.logger.Warn("interaction failed",
			zap.String("route", route), zap.Stringer("pattern", card), zap.Error(err))
	}
}

// recvError attaches the route to remote errors and reports a cancelled
// context as the context's error.
func recvError(ctx context.Context, route string, err error) error {
	var remote *rpcerr.RemoteError
	if errors.As(err, &remote) && remote.Route == "" {
		remote.Route = route
	}
	if err == io.EOF && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
