package codec

import (
	"errors"
	"fmt"
)

// MIME types announced in the SETUP frame.
const (
	MimeTypeJSON    = "application/json"
	MimeTypeRouting = "message/x.rsocket.routing.v0"
)

var ErrEmptyRoute = errors.New("routing metadata carries no route")

// EncodeRoute writes routing metadata: every tag is one length byte followed
// by its UTF-8 bytes. Tags longer than 255 bytes cannot be represented.
func EncodeRoute(tags ...string) ([]byte, error) {
	if len(tags) == 0 {
		return nil, ErrEmptyRoute
	}
	size := 0
	for _, tag := range tags {
		if tag == "" || len(tag) > 0xFF {
			return nil, fmt.Errorf("invalid route tag %q: length must be 1..255", tag)
		}
		size += 1 + len(tag)
	}
	buf := make([]byte, 0, size)
	for _, tag := range tags {
		buf = append(buf, byte(len(tag)))
		buf = append(buf, tag...)
	}
	return buf, nil
}

// DecodeRoute returns all tags of routing metadata.
func DecodeRoute(metadata []byte) ([]string, error) {
	var tags []string
	for i := 0; i < len(metadata); {
		n := int(metadata[i])
		i++
		if n == 0 || i+n > len(metadata) {
			return nil, fmt.Errorf("malformed routing metadata at offset %d", i-1)
		}
		tags = append(tags, string(metadata[i:i+n]))
		i += n
	}
	if len(tags) == 0 {
		return nil, ErrEmptyRoute
	}
	return tags, nil
}

// Route returns the first routing tag, which is the route itself.
func Route(metadata []byte) (string, error) {
	tags, err := DecodeRoute(metadata)
	if err != nil {
		return "", err
	}
	return tags[0], nil
}
