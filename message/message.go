// Package message defines the envelope carried in the body of every request
// and PAYLOAD/ERROR frame.
//
// RPCMessage is serialized by the codec layer and wrapped in a protocol frame
// for transmission. Routing lives in Metadata (routing MIME type), the
// business value in Payload (data MIME type, JSON).
package message

// RPCMessage carries one request or one response element.
//
//   - On request:  Metadata holds the encoded route, Payload the JSON data (may be empty
//     for subscribe), InitialN the first demand of a stream request.
//   - On response: Payload holds one JSON element; Error is set only in ERROR frames.
type RPCMessage struct {
	Metadata []byte `json:"metadata,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	Error    string `json:"error,omitempty"`
	InitialN uint32 `json:"initialN,omitempty"`
}

// Setup is the body of the SETUP frame a requester sends right after dialing.
type Setup struct {
	DataMimeType     string `json:"dataMimeType"`
	MetadataMimeType string `json:"metadataMimeType"`
	KeepAliveMillis  int64  `json:"keepAliveMillis"`
}
