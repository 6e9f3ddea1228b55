package server

import (
	"context"
	"encoding/json"
	"errors"
	"item-rsocket/codec"
	"item-rsocket/message"
	"item-rsocket/middleware"
	"item-rsocket/protocol"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

func add(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	var args Args
	if err := req.Decode(&args); err != nil {
		return err
	}
	return sink.Next(Reply{Result: args.A + args.B})
}

func count(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	var n int
	if err := req.Decode(&n); err != nil {
		return err
	}
	for i := 1; i <= n; i++ {
		if err := sink.Next(i); err != nil {
			return err
		}
	}
	return nil
}

func forever(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
	for i := 0; ; i++ {
		if err := sink.Next(i); err != nil {
			return err
		}
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	svr := NewServer(zaptest.NewLogger(t))
	for route, h := range map[string]middleware.HandlerFunc{
		"arith.add":     add,
		"arith.count":   count,
		"arith.forever": forever,
		"arith.silent":  func(context.Context, *middleware.Request, middleware.Sink) error { return nil },
		"arith.huge": func(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
			return sink.Next(strings.Repeat("x", int(protocol.MaxBodyLen)))
		},
	} {
		if err := svr.Handle(route, h); err != nil {
			t.Fatal(err)
		}
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(lis, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr
}

func dial(t *testing.T, svr *Server, setup message.Setup) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	body, _ := json.Marshal(setup)
	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(codec.CodecTypeJSON), MsgType: protocol.MsgTypeSetup}, body); err != nil {
		t.Fatal(err)
	}
	return conn
}

func validSetup() message.Setup {
	return message.Setup{DataMimeType: codec.MimeTypeJSON, MetadataMimeType: codec.MimeTypeRouting}
}

func send(t *testing.T, conn net.Conn, kind protocol.MsgType, seq uint32, route string, data any, initialN uint32) {
	t.Helper()
	metadata, err := codec.EncodeRoute(route)
	if err != nil {
		t.Fatal(err)
	}
	payload, _ := json.Marshal(data)
	body, err := codec.GetCodec(codec.CodecTypeJSON).Encode(&message.RPCMessage{Metadata: metadata, Payload: payload, InitialN: initialN})
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(codec.CodecTypeJSON), MsgType: kind, Seq: seq}, body); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, conn net.Conn) (*protocol.Header, *message.RPCMessage) {
	t.Helper()
	header, body, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	msg := &message.RPCMessage{}
	if len(body) > 0 {
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, msg); err != nil {
			t.Fatal(err)
		}
	}
	return header, msg
}

func TestServerRequestResponse(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestResponse, 1, "arith.add", Args{1, 2}, 0)

	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypePayload || header.Seq != 1 {
		t.Fatalf("got %s on stream %d", header.MsgType, header.Seq)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Errorf("result = %d, want 3", reply.Result)
	}
}

// A response too large for one frame fails its interaction with an ERROR
// frame; the connection keeps serving.
func TestServerOversizeResponse(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestResponse, 1, "arith.huge", nil, 0)
	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypeError || header.Seq != 1 {
		t.Fatalf("got %s on stream %d, want ERROR on 1", header.MsgType, header.Seq)
	}
	if !strings.Contains(msg.Error, "frame too large") {
		t.Fatalf("error = %q", msg.Error)
	}

	send(t, conn, protocol.MsgTypeRequestResponse, 2, "arith.add", Args{2, 3}, 0)
	header, msg = recv(t, conn)
	if header.MsgType != protocol.MsgTypePayload || header.Seq != 2 {
		t.Fatalf("got %s on stream %d after oversize response", header.MsgType, header.Seq)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 5 {
		t.Fatalf("expect 5, got %d", reply.Result)
	}
}

func TestServerRequestResponseWithoutValue(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestResponse, 1, "arith.silent", nil, 0)

	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypeError {
		t.Fatalf("got %s, want ERROR", header.MsgType)
	}
	if !strings.Contains(msg.Error, "no response") {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestServerUnknownRoute(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestResponse, 7, "arith.sub", Args{1, 2}, 0)

	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypeError || header.Seq != 7 {
		t.Fatalf("got %s on stream %d", header.MsgType, header.Seq)
	}
	if !strings.Contains(msg.Error, "arith.sub") {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestServerStreamCompletes(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestStream, 1, "arith.count", 3, 8)

	for want := 1; want <= 3; want++ {
		header, msg := recv(t, conn)
		if header.MsgType != protocol.MsgTypePayload {
			t.Fatalf("element %d: got %s", want, header.MsgType)
		}
		if string(msg.Payload) != strconv.Itoa(want) {
			t.Errorf("element = %s, want %d", msg.Payload, want)
		}
	}
	header, _ := recv(t, conn)
	if header.MsgType != protocol.MsgTypeComplete {
		t.Fatalf("got %s, want COMPLETE", header.MsgType)
	}
}

func TestServerStreamHonoursDemand(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestStream, 1, "arith.forever", nil, 2)
	for i := 0; i < 2; i++ {
		if header, _ := recv(t, conn); header.MsgType != protocol.MsgTypePayload {
			t.Fatalf("got %s", header.MsgType)
		}
	}

	// No more elements until demand is granted.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := protocol.Decode(conn); err == nil {
		t.Fatal("responder emitted beyond granted demand")
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(codec.CodecTypeJSON), MsgType: protocol.MsgTypeRequestN, Seq: 1}, protocol.EncodeRequestN(1)); err != nil {
		t.Fatal(err)
	}
	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypePayload || string(msg.Payload) != "2" {
		t.Fatalf("got %s %s", header.MsgType, msg.Payload)
	}
}

func TestServerCancelStopsHandler(t *testing.T) {
	stopped := make(chan error, 1)
	svr := NewServer(nil)
	svr.Handle("arith.forever", func(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
		err := forever(ctx, req, sink)
		stopped <- err
		return err
	})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(lis, "", nil)
	defer svr.Shutdown(time.Second)

	conn := dial(t, svr, validSetup())
	send(t, conn, protocol.MsgTypeRequestStream, 1, "arith.forever", nil, 1)
	recv(t, conn)

	if err := protocol.Encode(conn, &protocol.Header{CodecType: byte(codec.CodecTypeJSON), MsgType: protocol.MsgTypeCancel, Seq: 1}, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("handler returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler kept running after CANCEL")
	}

	// The connection stays usable.
	send(t, conn, protocol.MsgTypeRequestStream, 3, "arith.forever", nil, 1)
	if header, _ := recv(t, conn); header.Seq != 3 {
		t.Errorf("got frame for stream %d, want 3", header.Seq)
	}
}

func TestServerFireAndForget(t *testing.T) {
	got := make(chan Args, 1)
	svr := NewServer(nil)
	svr.Handle("arith.record", func(ctx context.Context, req *middleware.Request, sink middleware.Sink) error {
		var args Args
		if err := req.Decode(&args); err != nil {
			return err
		}
		got <- args
		return nil
	})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(lis, "", nil)
	defer svr.Shutdown(time.Second)

	conn := dial(t, svr, validSetup())
	send(t, conn, protocol.MsgTypeRequestFNF, 1, "arith.record", Args{4, 5}, 0)

	select {
	case args := <-got:
		if args.A != 4 || args.B != 5 {
			t.Errorf("args = %+v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fire-and-forget not handled")
	}

	// Nothing is written back.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := protocol.Decode(conn); err == nil {
		t.Error("responder answered a fire-and-forget")
	}
}

func TestServerRejectsBadSetup(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, message.Setup{DataMimeType: "application/cbor", MetadataMimeType: codec.MimeTypeRouting})

	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypeError || header.Seq != 0 {
		t.Fatalf("got %s on stream %d", header.MsgType, header.Seq)
	}
	if !strings.Contains(msg.Error, "application/cbor") {
		t.Errorf("error = %q", msg.Error)
	}
	if _, _, err := protocol.Decode(conn); err == nil {
		t.Error("connection left open after rejected setup")
	}
}

func TestServerHandleValidation(t *testing.T) {
	svr := NewServer(nil)
	if err := svr.Handle("", add); err == nil {
		t.Error("empty route accepted")
	}
	if err := svr.Handle("arith.add", nil); err == nil {
		t.Error("nil handler accepted")
	}
	if err := svr.Handle("arith.add", add); err != nil {
		t.Fatal(err)
	}
	if err := svr.Handle("arith.add", add); err == nil {
		t.Error("duplicate route accepted")
	}
	svr.Handle("arith.sub", add)
	svr.Handle("clock.now", add)

	got := svr.namespaces()
	if len(got) != 2 || got[0] != "arith" || got[1] != "clock" {
		t.Errorf("namespaces = %v", got)
	}
}

func TestServerShutdownTerminatesStreams(t *testing.T) {
	svr := startServer(t)
	conn := dial(t, svr, validSetup())

	send(t, conn, protocol.MsgTypeRequestStream, 1, "arith.forever", nil, 1)
	recv(t, conn)

	done := make(chan error, 1)
	go func() { done <- svr.Shutdown(2 * time.Second) }()

	header, msg := recv(t, conn)
	if header.MsgType != protocol.MsgTypeError || !strings.Contains(msg.Error, ErrShuttingDown.Error()) {
		t.Fatalf("got %s %q", header.MsgType, msg.Error)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
