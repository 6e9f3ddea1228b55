package protocol

import (
	"bytes"
	"errors"
	"item-rsocket/rpcerr"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequestStream,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame size: got %d, want %d", buf.Len(), HeaderSize+len(body))
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %s, want %s", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decodedHeader.Seq, header.Seq)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeRequestResponse), 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic', instead: %v", err)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeComplete, Seq: 7}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.MsgType != MsgTypeComplete {
		t.Errorf("MsgType mismatch: got %s, want %s", decodedHeader.MsgType, MsgTypeComplete)
	}
	if decodedHeader.BodyLen != 0 || len(decodedBody) != 0 {
		t.Errorf("Expected empty body, got length %d", len(decodedBody))
	}
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	cases := map[string]struct {
		frame []byte
		want  string
	}{
		"version": {
			frame: []byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, CodecTypeJSON, byte(MsgTypeRequestResponse), 0, 0, 0, 1, 0, 0, 0, 0},
			want:  "unsupported version",
		},
		"codec": {
			frame: []byte{MagicNumber, MagicByte2, MagicByte3, Version, 9, byte(MsgTypeRequestResponse), 0, 0, 0, 1, 0, 0, 0, 0},
			want:  "unsupported codec type",
		},
		"frame type": {
			frame: []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, 42, 0, 0, 0, 1, 0, 0, 0, 0},
			want:  "unsupported message type",
		},
		"body size": {
			frame: []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypePayload), 0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF},
			want:  "too large",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(bytes.NewReader(tc.frame))
			if err == nil {
				t.Fatal("expected error, Decode succeeded")
			}
			if !bytes.Contains([]byte(err.Error()), []byte(tc.want)) {
				t.Errorf("error should contain %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{CodecType: CodecTypeBinary, MsgType: MsgTypePayload, Seq: 999}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}

func TestEncodeRefusesOversizeBody(t *testing.T) {
	var buf bytes.Buffer
	header := &Header{CodecType: CodecTypeJSON, MsgType: MsgTypeRequestResponse, Seq: 1}

	err := Encode(&buf, header, make([]byte, MaxBodyLen+1))
	if !errors.Is(err, rpcerr.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversize frame wrote %d bytes", buf.Len())
	}

	if err := Encode(&buf, header, make([]byte, MaxBodyLen)); err != nil {
		t.Fatalf("Encode at the limit failed: %v", err)
	}
}

func TestRequestNBody(t *testing.T) {
	n, err := DecodeRequestN(EncodeRequestN(16))
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Fatalf("expect 16, got %d", n)
	}
	if _, err := DecodeRequestN([]byte{1}); err == nil {
		t.Fatal("expect error for short REQUEST_N body")
	}
}

func TestMsgTypeString(t *testing.T) {
	if MsgTypeRequestFNF.String() != "REQUEST_FNF" {
		t.Fatalf("got %s", MsgTypeRequestFNF)
	}
	if MsgType(77).Valid() {
		t.Fatal("77 must not be valid")
	}
	if !MsgTypeRequestStream.IsRequest() || MsgTypePayload.IsRequest() {
		t.Fatal("IsRequest misclassifies frames")
	}
}
