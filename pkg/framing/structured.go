// Package framing turns a byte stream into discrete messages. Two encodings
// are supported: length prefixed JSON documents and ASCII command lines
// acknowledged by the device.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

const (
	lengthPrefixSize = 4
	// MaxMessageSize is the biggest frame accepted by ReadMessage.
	MaxMessageSize = 16 << 20
)

// WriteMessage serializes v to JSON and writes it to w prefixed by its
// length as a 4-byte big endian unsigned integer.
func WriteMessage(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(payload) > MaxMessageSize {
		return NewProtocolError("message of %d bytes exceeds max size", len(payload))
	}

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	if _, err := w.Write(frame); err != nil {
		return NewTransportError("write", err)
	}
	return nil
}

// ReadMessage reads one length prefixed frame from r and unmarshals its JSON
// payload into v. Reads are blocking and never time out.
func ReadMessage(r io.Reader, v interface{}) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return NewProtocolError("invalid message payload: %s", err)
	}
	return nil
}

// ReadFrame reads the raw payload of one length prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, NewProtocolError("premature end of stream in length prefix")
		}
		return nil, NewTransportError("read", err)
	}

	size := binary.BigEndian.Uint32(prefix)
	if size == 0 {
		return nil, NewProtocolError("empty message")
	}
	if size > MaxMessageSize {
		return nil, NewProtocolError("message of %d bytes exceeds max size", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, NewProtocolError(
				"premature end of stream, read less than %d bytes", size,
			)
		}
		return nil, NewTransportError("read", err)
	}
	return payload, nil
}
