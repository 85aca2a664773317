// Package samplerate implements the Sigma's samplerate and channel
// policy (spec component C4): validating a requested rate against the
// fixed samplerate table, mapping it to a firmware slot and channel
// count, and deriving samples-per-event.
package samplerate

import (
	"fmt"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/loader"
)

// Rate is a supported samplerate, in Hz.
type Rate uint64

// The fixed, ordered table of supported samplerates. Ported from
// libsigrok's samplerates[] (protocol.c): rates above this table are
// rejected outright, there is no interpolation.
const (
	Rate200kHz Rate = 200_000
	Rate250kHz Rate = 250_000
	Rate500kHz Rate = 500_000
	Rate1MHz   Rate = 1_000_000
	Rate5MHz   Rate = 5_000_000
	Rate10MHz  Rate = 10_000_000
	Rate25MHz  Rate = 25_000_000
	Rate50MHz  Rate = 50_000_000
	Rate100MHz Rate = 100_000_000
	Rate200MHz Rate = 200_000_000
)

// Table lists every supported rate in ascending order.
var Table = []Rate{
	Rate200kHz, Rate250kHz, Rate500kHz, Rate1MHz, Rate5MHz,
	Rate10MHz, Rate25MHz, Rate50MHz, Rate100MHz, Rate200MHz,
}

// Supported reports whether rate appears in Table.
func Supported(rate Rate) bool {
	for _, r := range Table {
		if r == rate {
			return true
		}
	}
	return false
}

// Policy derives the firmware slot and channel count for a rate, and
// tracks the currently active selection.
type Policy struct {
	Samplerate      Rate
	NumChannels     int
	SamplesPerEvent int
}

// firmwareSlotFor returns the firmware slot and channel count a given
// rate requires. Rates at or below 50MHz share one 16-channel
// firmware; 100MHz and 200MHz each need their own firmware and have
// fewer channels.
func firmwareSlotFor(rate Rate) (loader.Slot, int) {
	switch {
	case rate <= Rate50MHz:
		return loader.Slot50, 16
	case rate == Rate100MHz:
		return loader.Slot100, 8
	default: // Rate200MHz
		return loader.Slot200, 4
	}
}

// SelectRate validates rate against Table, uploads the firmware slot
// it requires (uploadFirmware is typically loader.Loader.UploadFirmware,
// bound to an open firmware reader by the caller), and updates p on
// success. On failure p is left unchanged, per spec §8: "cur_samplerate
// == r iff rate is supported; otherwise state unchanged."
func (p *Policy) SelectRate(rate Rate, uploadFirmware func(loader.Slot) error) error {
	if !Supported(rate) {
		return fmt.Errorf("samplerate %d Hz is not in the supported table: %w", rate, errs.UnsupportedRate)
	}

	slot, numChannels := firmwareSlotFor(rate)
	if err := uploadFirmware(slot); err != nil {
		return err
	}

	p.Samplerate = rate
	p.NumChannels = numChannels
	p.SamplesPerEvent = 16 / numChannels
	return nil
}
