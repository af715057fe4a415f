package framing

import (
	"errors"
	"fmt"
)

// TransportError wraps a failure of the underlying byte stream: connect,
// read or write.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a malformed or unexpected message received from a
// device that is otherwise reachable.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// DeviceError is an explicit error message returned by the device.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s", e.Message)
}

func NewTransportError(op string, err error) error {
	return &TransportError{op, err}
}

func NewProtocolError(format string, a ...interface{}) error {
	return &ProtocolError{fmt.Sprintf(format, a...)}
}

func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

func IsDeviceError(err error) bool {
	var e *DeviceError
	return errors.As(err, &e)
}
