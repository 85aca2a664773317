// Package gpiolink implements a link.ByteLink by bitbanging the
// Sigma's eight cable pins directly over host GPIO, following the same
// host.Init() + named-pin wiring style as wshat.Open.
package gpiolink

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/link"
)

// Pins names the eight signals a Sigma cable exposes, in D0..D7 order.
type Pins struct {
	CCLK, PROG, D2, D3, D4 gpio.PinOut
	INIT                   gpio.PinIn
	DIN, D7                gpio.PinOut
}

// Link drives a Sigma cable by toggling discrete GPIO lines. Because
// there is no byte-oriented UART underneath, Write treats each input
// byte as a bitbang sample (one pin-state snapshot) rather than serial
// data; this only makes sense while the register protocol is inactive,
// i.e. during firmware upload.
type Link struct {
	pins Pins
}

// Open initializes the host GPIO subsystem and returns a Link driving
// the given pins.
func Open(pins Pins) (*Link, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", errs.IO)
	}
	if err := pins.INIT.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure INIT pin: %w", errs.IO)
	}
	for _, out := range []gpio.PinOut{pins.CCLK, pins.PROG, pins.D2, pins.D3, pins.D4, pins.DIN, pins.D7} {
		if err := out.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("configure output pin %s: %w", out, errs.IO)
		}
	}
	return &Link{pins: pins}, nil
}

// Write drives one pin-state sample per byte: bit i of each byte
// corresponds to the D<i> signal, matching the bitbang sample format
// package loader generates.
func (l *Link) Write(data []byte) (int, error) {
	for _, sample := range data {
		if err := l.pins.CCLK.Out(bit(sample, 0)); err != nil {
			return 0, fmt.Errorf("drive CCLK: %w", errs.IO)
		}
		if err := l.pins.PROG.Out(bit(sample, 1)); err != nil {
			return 0, fmt.Errorf("drive PROG: %w", errs.IO)
		}
		if err := l.pins.D2.Out(bit(sample, 2)); err != nil {
			return 0, fmt.Errorf("drive D2: %w", errs.IO)
		}
		if err := l.pins.D3.Out(bit(sample, 3)); err != nil {
			return 0, fmt.Errorf("drive D3: %w", errs.IO)
		}
		if err := l.pins.D4.Out(bit(sample, 4)); err != nil {
			return 0, fmt.Errorf("drive D4: %w", errs.IO)
		}
		if err := l.pins.DIN.Out(bit(sample, 6)); err != nil {
			return 0, fmt.Errorf("drive DIN: %w", errs.IO)
		}
		if err := l.pins.D7.Out(bit(sample, 7)); err != nil {
			return 0, fmt.Errorf("drive D7: %w", errs.IO)
		}
	}
	return len(data), nil
}

func bit(sample byte, pos uint) gpio.Level {
	return sample&(1<<pos) != 0
}

// Read samples the INIT pin into bit 5 of buf[0]; this is the
// only input signal the cable exposes during configuration download.
func (l *Link) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var b byte
	if l.pins.INIT.Read() == gpio.High {
		b = 1 << 5 // matches the INIT_B pin position in the bitbang sample byte
	}
	buf[0] = b
	return 1, nil
}

// Purge is a no-op: GPIO has no read buffer to flush.
func (l *Link) Purge() error { return nil }

// SetBitmode is a no-op here: this Link is always in bitbang mode by
// construction.
func (l *Link) SetBitmode(mask byte, mode link.PinMode) error { return nil }

// SetBaudrate is a no-op: bit timing on a direct GPIO link is governed
// by however fast the host can toggle pins, not a configurable clock.
func (l *Link) SetBaudrate(bps int) error { return nil }
