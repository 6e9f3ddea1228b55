package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"item-rsocket/transport"
	"sync"
)

// Stream yields the items of a request-stream or subscription in arrival
// order. Recv must be called from one goroutine; Close from any.
type Stream struct {
	ctx    context.Context
	s      *transport.Stream
	route  string
	card   Cardinality
	client *Client
	once   sync.Once
}

// Recv decodes the next item into v. It returns io.EOF when the stream
// completed or was cancelled (including through its context). Items
// received before an error stay valid.
func (s *Stream) Recv(v any) error {
	msg, err := s.s.Recv()
	if err != nil {
		if err == io.EOF {
			s.finish(nil)
			return io.EOF
		}
		err = recvError(s.ctx, s.route, err)
		s.finish(err)
		return err
	}
	s.client.metrics.StreamItem(s.card.String())
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s item: %w", s.route, err)
	}
	return nil
}

// Close cancels the stream. The responder releases its side; the shared
// connection and other streams carry on.
func (s *Stream) Close() error {
	s.finish(nil)
	return s.s.Close()
}

func (s *Stream) finish(err error) {
	s.once.Do(func() {
		s.client.metrics.StreamClosed(s.card.String())
		s.client.done(s.route, s.card, err)
	})
}
