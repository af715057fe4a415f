package framing

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	lineTerminator = "\r\n"
	// AckLine is the literal the device answers to every well formed command.
	AckLine = "ACK"

	devicePrefixError = "error:"
)

// LineConn exchanges ASCII commands over a raw byte stream. Each command is
// answered with an acknowledgement line followed by a payload line.
type LineConn struct {
	rw     io.ReadWriter
	reader *bufio.Reader
}

func NewLineConn(rw io.ReadWriter) *LineConn {
	return &LineConn{rw, bufio.NewReader(rw)}
}

// Exchange sends the given command and returns the payload line of the
// response.
func (c *LineConn) Exchange(cmd string) (string, error) {
	if strings.ContainsAny(cmd, lineTerminator) {
		return "", NewProtocolError("command must be a single line")
	}
	if _, err := io.WriteString(c.rw, cmd+lineTerminator); err != nil {
		return "", NewTransportError("write", err)
	}

	ack, err := c.readLine("acknowledgement")
	if err != nil {
		return "", err
	}
	if ack != AckLine {
		if strings.HasPrefix(ack, devicePrefixError) {
			return "", &DeviceError{strings.TrimSpace(strings.TrimPrefix(ack, devicePrefixError))}
		}
		return "", NewProtocolError("expected acknowledgement, got '%s'", ack)
	}

	payload, err := c.readLine("payload")
	if err != nil {
		return "", err
	}
	if payload == "" {
		return "", NewProtocolError("empty payload")
	}
	if strings.HasPrefix(payload, devicePrefixError) {
		return "", &DeviceError{strings.TrimSpace(strings.TrimPrefix(payload, devicePrefixError))}
	}
	return payload, nil
}

func (c *LineConn) readLine(what string) (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		// A partial line is an interrupted response, not a valid one.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", NewProtocolError("premature end of stream waiting for %s", what)
		}
		return "", NewTransportError("read", err)
	}
	return strings.TrimRight(line, lineTerminator), nil
}
