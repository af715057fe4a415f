package signer

import (
	"context"
	"fmt"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const DefaultSerialBaudRate = 9600

// NewTCPConnector returns a connector dialing the device at the given
// host:port address.
func NewTCPConnector(addr string, driver Driver) (Connector, error) {
	if len(addr) <= 0 {
		return nil, fmt.Errorf("missing device address")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid device address: %s", err)
	}
	if driver == nil {
		return nil, fmt.Errorf("missing device driver")
	}

	return func(ctx context.Context) (Device, error) {
		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, framing.NewTransportError("dial", err)
		}
		return driver(conn), nil
	}, nil
}

type SerialOpts struct {
	// Port is the name of the serial port (ie. /dev/ttyACM0). If empty,
	// the first USB port with the given VID is used.
	Port     string
	VID      string
	BaudRate int
}

func (o SerialOpts) validate() error {
	if len(o.Port) <= 0 && len(o.VID) <= 0 {
		return fmt.Errorf("either serial port or usb vendor id must be defined")
	}
	if o.BaudRate < 0 {
		return fmt.Errorf("invalid serial baud rate")
	}
	return nil
}

// NewSerialConnector returns a connector opening the device on a serial
// port.
func NewSerialConnector(opts SerialOpts, driver Driver) (Connector, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("missing device driver")
	}
	baudRate := opts.BaudRate
	if baudRate == 0 {
		baudRate = DefaultSerialBaudRate
	}

	return func(_ context.Context) (Device, error) {
		portName := opts.Port
		if len(portName) <= 0 {
			name, err := findSerialPort(opts.VID)
			if err != nil {
				return nil, err
			}
			portName = name
		}

		port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
		if err != nil {
			return nil, framing.NewTransportError("open", err)
		}
		log.Debugf("signer: opened serial port %s", portName)
		return driver(port), nil
	}, nil
}

func findSerialPort(vid string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", framing.NewTransportError("enumerate", err)
	}
	for _, port := range ports {
		if port.IsUSB && strings.EqualFold(port.VID, vid) {
			return port.Name, nil
		}
	}
	return "", framing.NewTransportError("enumerate", ErrDeviceNotFound)
}
