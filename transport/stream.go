package transport

import (
	"io"
	"item-rsocket/message"
	"item-rsocket/protocol"
	"item-rsocket/rpcerr"
	"sync"
)

// DefaultWindow is the demand granted to a stream when the request carries none.
const DefaultWindow uint32 = 32

type inbound struct {
	kind protocol.MsgType
	msg  *message.RPCMessage
}

// Stream is one open interaction on a ClientTransport.
//
// Recv must be called from a single goroutine. Cancel may be called from any
// goroutine at any time; it only affects this stream.
type Stream struct {
	t      *ClientTransport
	seq    uint32
	kind   protocol.MsgType
	frames chan inbound
	done   chan struct{}
	once   sync.Once

	window    uint32
	consumed  uint32
	term      error
	stopWatch func() bool
}

func newStream(t *ClientTransport, seq uint32, kind protocol.MsgType, window uint32) *Stream {
	if kind == protocol.MsgTypeRequestResponse {
		window = 1
	} else if window == 0 {
		window = DefaultWindow
	}
	// The responder never has more than window elements outstanding, plus
	// one terminal frame.
	return &Stream{
		t:      t,
		seq:    seq,
		kind:   kind,
		frames: make(chan inbound, window+1),
		done:   make(chan struct{}),
		window: window,
	}
}

// ID returns the stream ID.
func (s *Stream) ID() uint32 {
	return s.seq
}

func (s *Stream) push(in inbound) {
	select {
	case s.frames <- in:
	case <-s.done:
	}
}

// Recv returns the next element. It returns io.EOF once the responder
// completed the stream or the stream was cancelled, *rpcerr.RemoteError for an
// ERROR frame, and the transport's cause when the connection dropped.
// Elements that arrived before a connection drop are delivered first.
func (s *Stream) Recv() (*message.RPCMessage, error) {
	if s.term != nil {
		return nil, s.term
	}
	select {
	case <-s.done:
		s.term = io.EOF
		return nil, s.term
	default:
	}

	select {
	case in := <-s.frames:
		return s.deliver(in)
	case <-s.done:
		s.term = io.EOF
		return nil, s.term
	case <-s.t.closed:
		select {
		case in := <-s.frames:
			return s.deliver(in)
		default:
		}
		s.finish()
		s.term = s.t.Err()
		return nil, s.term
	}
}

func (s *Stream) deliver(in inbound) (*message.RPCMessage, error) {
	switch in.kind {
	case protocol.MsgTypePayload:
		if s.kind == protocol.MsgTypeRequestResponse {
			s.finish()
			s.term = io.EOF
			return in.msg, nil
		}
		s.replenish()
		return in.msg, nil
	case protocol.MsgTypeComplete:
		s.finish()
		if s.kind == protocol.MsgTypeRequestResponse {
			s.term = rpcerr.ErrNoResponse
		} else {
			s.term = io.EOF
		}
	default:
		s.finish()
		s.term = &rpcerr.RemoteError{Message: in.msg.Error}
	}
	return nil, s.term
}

// replenish grants more demand once half of the window has been consumed.
func (s *Stream) replenish() {
	s.consumed++
	threshold := s.window / 2
	if threshold == 0 {
		threshold = 1
	}
	if s.consumed < threshold {
		return
	}
	n := s.consumed
	s.consumed = 0
	// A failed write shuts the transport down; the next Recv reports it.
	s.t.write(protocol.MsgTypeRequestN, s.seq, protocol.EncodeRequestN(n))
}

// finish releases the stream after a terminal frame.
func (s *Stream) finish() {
	s.once.Do(func() {
		close(s.done)
		s.t.pending.Delete(s.seq)
	})
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

// Cancel stops the interaction: the responder is told to release whatever it
// holds for this stream. The connection and other streams are unaffected.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.t.pending.Delete(s.seq)
		if s.t.Err() == nil {
			s.t.write(protocol.MsgTypeCancel, s.seq, nil)
		}
	})
}

// Close cancels the stream and detaches it from its context. Call it from the
// goroutine that opened the stream.
func (s *Stream) Close() error {
	s.Cancel()
	if s.stopWatch != nil {
		s.stopWatch()
	}
	return nil
}
