package codec

import (
	"item-rsocket/message"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage(t *testing.T) *message.RPCMessage {
	t.Helper()
	meta, err := EncodeRoute("newItems.request-response")
	require.NoError(t, err)
	return &message.RPCMessage{
		Metadata: meta,
		Payload:  []byte(`{"name":"Alf alarm clock","description":"nothing important","price":19.99}`),
		InitialN: 32,
	}
}

func TestCodecs(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			cdc := GetCodec(ct)
			assert.Equal(t, ct, cdc.Type())

			original := sampleMessage(t)
			data, err := cdc.Encode(original)
			require.NoError(t, err)

			var decoded message.RPCMessage
			require.NoError(t, cdc.Decode(data, &decoded))

			assert.Equal(t, original.Metadata, decoded.Metadata)
			assert.Equal(t, string(original.Payload), string(decoded.Payload))
			assert.Equal(t, original.InitialN, decoded.InitialN)
			assert.Empty(t, decoded.Error)
		})
	}
}

func TestBinaryCodecErrorFrame(t *testing.T) {
	cdc := &BinaryCodec{}
	data, err := cdc.Encode(&message.RPCMessage{Error: "item rejected"})
	require.NoError(t, err)

	var decoded message.RPCMessage
	require.NoError(t, cdc.Decode(data, &decoded))
	assert.Equal(t, "item rejected", decoded.Error)
	assert.Nil(t, decoded.Payload)
}

func TestBinaryCodecTruncated(t *testing.T) {
	cdc := &BinaryCodec{}
	data, err := cdc.Encode(sampleMessage(t))
	require.NoError(t, err)

	var decoded message.RPCMessage
	err = cdc.Decode(data[:len(data)-6], &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestBinaryCodecRejectsOtherTypes(t *testing.T) {
	_, err := (&BinaryCodec{}).Encode("not an envelope")
	assert.Error(t, err)
}

func TestRoutingMetadata(t *testing.T) {
	meta, err := EncodeRoute("newItems.monitor", "v2")
	require.NoError(t, err)
	assert.Equal(t, byte(len("newItems.monitor")), meta[0])

	tags, err := DecodeRoute(meta)
	require.NoError(t, err)
	assert.Equal(t, []string{"newItems.monitor", "v2"}, tags)

	route, err := Route(meta)
	require.NoError(t, err)
	assert.Equal(t, "newItems.monitor", route)
}

func TestRoutingMetadataInvalid(t *testing.T) {
	_, err := EncodeRoute()
	assert.ErrorIs(t, err, ErrEmptyRoute)

	_, err = EncodeRoute("")
	assert.Error(t, err)

	_, err = DecodeRoute([]byte{10, 'a', 'b'})
	assert.Error(t, err)

	_, err = Route(nil)
	assert.ErrorIs(t, err, ErrEmptyRoute)
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("binary")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeBinary, ct)

	ct, err = ParseCodecType("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, ct)

	_, err = ParseCodecType("protobuf")
	assert.Error(t, err)
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodec(b, GetCodec(CodecTypeJSON))
}

func BenchmarkCodecBinary(b *testing.B) {
	benchmarkCodec(b, GetCodec(CodecTypeBinary))
}

func benchmarkCodec(b *testing.B, cdc Codec) {
	meta, _ := EncodeRoute("newItems.request-response")
	msg := &message.RPCMessage{
		Metadata: meta,
		Payload:  []byte(`{"name":"name - 1","description":"description - 1","price":1}`),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.RPCMessage
		cdc.Decode(data, &out)
	}
}
