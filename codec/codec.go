// Package codec serializes the message envelope for the frame body.
//
// The data of an envelope is always JSON (DataMimeType); the codec only
// decides how the envelope itself is laid out on the wire.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a config name ("json", "binary") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}
