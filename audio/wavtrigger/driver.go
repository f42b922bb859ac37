// Package wavtrigger talks to WAV Trigger and Tsunami boards over a serial
// port.
package wavtrigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"simctl/audio"
)

const driverName = "wavtrigger"

const (
	DefaultBaud = 57600
	readTimeout = 500 * time.Millisecond
)

var ErrNoPortFound = errors.New("wavtrigger: no serial port found")

type Driver struct {
	Baud int
}

// DetectPorts lists serial ports that could hold a board, USB adapters first.
func DetectPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("wavtrigger: enumerate ports: %w", err)
	}

	var usb, other []string
	for _, port := range ports {
		if port.IsUSB {
			usb = append(usb, port.Name)
		} else {
			other = append(other, port.Name)
		}
	}
	return append(usb, other...), nil
}

func (d *Driver) Open(portName string) (audio.Conn, error) {
	if portName == "" {
		names, err := DetectPorts()
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, ErrNoPortFound
		}
		portName = names[0]
	}

	baud := d.Baud
	if baud == 0 {
		baud = DefaultBaud
	}

	f, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("wavtrigger: open %s: %w", portName, err)
	}
	if err = f.SetReadTimeout(readTimeout); err != nil {
		f.Close()
		return nil, fmt.Errorf("wavtrigger: set read timeout on %s: %w", portName, err)
	}

	return NewConn(portName, f), nil
}

// Default is the registered driver instance. Set its Baud before opening.
var Default = &Driver{}

func init() {
	audio.Register(driverName, Default)
}

// IsTerminalError reports errors after which the port is gone.
func IsTerminalError(err error) bool {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}
	return strings.Contains(err.Error(), "input/output error")
}
