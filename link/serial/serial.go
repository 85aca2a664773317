// Package serial implements a link.ByteLink over an FTDI-style USB
// serial cable using github.com/tarm/serial, following the same
// device-probing, single-config-struct opening style as mjolnir.Open.
package serial

import (
	"fmt"

	"github.com/tarm/serial"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/link"
)

// defaultBaud is the register-protocol speed Open uses; SetBaudrate
// reopens the port at any other rate.
const defaultBaud = 3_000_000

// Link drives a Sigma cable over a serial port.
type Link struct {
	dev  string
	port *serial.Port
}

// Open opens dev (e.g. "/dev/ttyUSB0") at the register-protocol baud
// rate.
func Open(dev string) (*Link, error) {
	l := &Link{dev: dev}
	if err := l.reopen(defaultBaud); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) reopen(baud int) error {
	if l.port != nil {
		_ = l.port.Close()
	}
	port, err := serial.OpenPort(&serial.Config{Name: l.dev, Baud: baud})
	if err != nil {
		return fmt.Errorf("open %s at %d baud: %w", l.dev, baud, errs.IO)
	}
	l.port = port
	return nil
}

func (l *Link) Write(data []byte) (int, error) {
	n, err := l.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("serial write: %w", errs.IO)
	}
	return n, nil
}

func (l *Link) Read(buf []byte) (int, error) {
	n, err := l.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("serial read: %w", errs.IO)
	}
	return n, nil
}

func (l *Link) Purge() error {
	return l.port.Flush()
}

// SetBitmode is a documented no-op: a plain FTDI UART link has no
// GPIO bitbang mode of its own. Configuration download over this link
// requires a cable whose driver understands bitbang framing; this
// implementation exists for the register-protocol half of the Sigma
// wire format, which never calls SetBitmode(Bitbang, ...).
func (l *Link) SetBitmode(mask byte, mode link.PinMode) error {
	if mode == link.Bitbang {
		return fmt.Errorf("serial link does not support bitbang mode: %w", errs.IO)
	}
	return nil
}

// SetBaudrate closes the port and reopens it at bps.
func (l *Link) SetBaudrate(bps int) error {
	return l.reopen(bps)
}
