// Package loader implements the Sigma's FPGA bring-up (spec component
// C3): descrambling an obfuscated netlist, generating the bitbang
// pulse stream for Xilinx slave-serial configuration, running the
// suicide/PROG/INIT_B handshake, and verifying the logic-analyzer
// mode scratch/ID handshake afterward.
//
// All of this is ported from libsigrok's asix-sigma driver
// (sigma_fpga_init_bitbang, sigma_fw_2_bitbang, upload_firmware,
// sigma_fpga_init_la in original_source/src/hardware/asix-sigma/protocol.c),
// which is the literal C source this component was distilled from.
package loader

import (
	"fmt"
	"io"
	"time"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/link"
	"github.com/sigma-la/sigma/register"
)

// Slot identifies one of the five Sigma firmware images. Only Slot50,
// Slot100, and Slot200 are reachable through samplerate selection
// (package samplerate); Slot50Sync and SlotPhasor are supplemental
// operations (see SPEC_FULL.md §12) for the external-clock and
// frequency-counter firmware builds.
type Slot int

const (
	NoFirmware Slot = iota - 1
	Slot50
	Slot100
	Slot200
	Slot50Sync
	SlotPhasor
)

// FirmwareFileNames maps each Slot to the on-disk firmware file name
// the original driver used; firmware-file discovery itself is outside
// this driver's scope (spec §1), but the names are kept here because
// the rest of the ecosystem (and test fixtures) refer to firmware by
// these names.
var FirmwareFileNames = map[Slot]string{
	Slot50:     "asix-sigma-50.fw",
	Slot100:    "asix-sigma-100.fw",
	Slot200:    "asix-sigma-200.fw",
	Slot50Sync: "asix-sigma-50sync.fw",
	SlotPhasor: "asix-sigma-phasor.fw",
}

// FirmwareSizeLimit is the maximum accepted firmware file size.
const FirmwareSizeLimit = 256 * 1024

// Bitbang pin assignments. All pins except INIT are outputs during
// configuration download; INIT is the device's only output back to
// the host in this mode.
const (
	pinCCLK byte = 1 << 0 // D0, CCLK
	pinPROG byte = 1 << 1 // D1, PROG
	pinD2   byte = 1 << 2 // D2, part of suicide
	pinD3   byte = 1 << 3 // D3, part of suicide
	pinD4   byte = 1 << 4 // D4, part of suicide (unused?)
	pinINIT byte = 1 << 5 // D5, INIT, input
	pinDIN  byte = 1 << 6 // D6, DIN
	pinD7   byte = 1 << 7 // D7, part of suicide
)

const (
	bitbangBitrate = 750 * 1000
	bitbangPinMask = 0xff &^ pinINIT
)

// Loader drives firmware upload and the post-upload LA-mode handshake
// over a register.Protocol / link.ByteLink pair.
type Loader struct {
	link    link.ByteLink
	reg     *register.Protocol
	current Slot
}

// New returns a Loader with no firmware currently believed loaded.
func New(l link.ByteLink, reg *register.Protocol) *Loader {
	return &Loader{link: l, reg: reg, current: NoFirmware}
}

// Current reports the slot this Loader believes is live on the
// device, or NoFirmware if none has been uploaded yet this session.
func (ld *Loader) Current() Slot {
	return ld.current
}

// UploadFirmware streams the named slot's netlist to the FPGA and
// re-runs the logic-analyzer handshake. If slot is already the
// current firmware, this is a no-op: neither the cable's bitmode nor
// its baud rate are touched (spec §4.2, §8 scenario 6).
//
// fw must provide exactly fileSize bytes; fileSize must not exceed
// FirmwareSizeLimit.
func (ld *Loader) UploadFirmware(slot Slot, fw io.Reader, fileSize int) error {
	if ld.current == slot {
		return nil
	}

	if fileSize > FirmwareSizeLimit {
		return fmt.Errorf("firmware for slot %d is %d bytes, limit is %d: %w",
			slot, fileSize, FirmwareSizeLimit, errs.InternalBug)
	}

	if err := ld.link.SetBitmode(bitbangPinMask, link.Bitbang); err != nil {
		return fmt.Errorf("enter bitbang mode: %w", errs.IO)
	}
	if err := ld.link.SetBaudrate(bitbangBitrate); err != nil {
		return fmt.Errorf("set bitbang baudrate: %w", errs.IO)
	}

	if err := ld.initBitbang(); err != nil {
		return err
	}

	firmware := make([]byte, fileSize)
	if _, err := io.ReadFull(fw, firmware); err != nil {
		return fmt.Errorf("read firmware: %w", errs.IO)
	}
	descramble(firmware)
	stream := expandBitstream(firmware)

	if _, err := ld.link.Write(stream); err != nil {
		return fmt.Errorf("write bitstream: %w", errs.IO)
	}

	if err := ld.link.SetBitmode(0, link.Reset); err != nil {
		return fmt.Errorf("leave bitbang mode: %w", errs.IO)
	}
	_ = ld.link.Purge()
	drainPendingBytes(ld.link)

	if err := ld.initLA(); err != nil {
		return err
	}

	ld.current = slot
	return nil
}

// descramble reverses the on-disk obfuscation of a Sigma netlist
// in-place. The LCG recurrence and operation order (add, mod 177,
// multiply, all before the XOR) are load-bearing: this is not a
// generic stream cipher, it is the exact sequence the original driver
// applies, preserved bit for bit.
func descramble(firmware []byte) {
	imm := uint32(0x3f6df2ab)
	for i := range firmware {
		imm = (imm+0x0a853753)%177 + imm*0x08034052
		firmware[i] ^= byte(imm)
	}
}

// expandBitstream turns descrambled netlist bytes into bitbang
// samples for Xilinx slave-serial configuration: two samples per
// configuration bit, MSB-first within each byte. CCLK is inverted in
// hardware (a level-shifting byproduct), so each bit is emitted as
// {DIN-level | CCLK-high, DIN-level} — the falling edge the hardware
// sees is the rising edge that latches DIN, satisfying the setup-time
// constraint.
func expandBitstream(firmware []byte) []byte {
	stream := make([]byte, 0, len(firmware)*8*2)
	for _, b := range firmware {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			v := byte(0)
			if b&mask != 0 {
				v = pinDIN
			}
			stream = append(stream, v|pinCCLK, v)
		}
	}
	return stream
}

// initBitbang runs the suicide sequence that halts the FPGA's regular
// execution, then pulses PROG_B and waits for INIT_B to assert.
func (ld *Loader) initBitbang() error {
	suicide := []byte{
		pinD7 | pinD2,
		pinD7 | pinD2,
		pinD7 | pinD3,
		pinD7 | pinD2,
		pinD7 | pinD3,
		pinD7 | pinD2,
		pinD7 | pinD3,
		pinD7 | pinD2,
	}
	for i := 0; i < 4; i++ {
		if _, err := ld.link.Write(suicide); err != nil {
			return fmt.Errorf("suicide sequence: %w", errs.IO)
		}
	}

	initArray := []byte{
		pinCCLK,
		pinCCLK | pinPROG,
		pinCCLK | pinPROG,
		pinCCLK, pinCCLK, pinCCLK, pinCCLK, pinCCLK, pinCCLK, pinCCLK,
	}
	if _, err := ld.link.Write(initArray); err != nil {
		return fmt.Errorf("prog pulse: %w", errs.IO)
	}
	_ = ld.link.Purge()

	var data [1]byte
	for retries := 10; retries > 0; retries-- {
		n, err := ld.link.Read(data[:])
		if err != nil {
			return fmt.Errorf("poll INIT_B: %w", errs.IO)
		}
		if n > 0 && data[0]&pinINIT != 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("INIT_B did not assert: %w", errs.Timeout)
}

// initLA configures the FPGA for logic-analyzer mode: it reads the ID
// register, round-trips 0x55 and 0xaa through the scratch register,
// then kicks off SDRAM initialization via the mode register. Any
// mismatch fails with errs.Protocol; there are no retries.
//
// The original driver batches all three checks into a single write
// followed by a single 3-byte read. This Loader instead issues three
// ordinary register.Protocol round trips in the same order with the
// same expected values and the same no-retry behavior; the extra USB
// round trips are a performance detail, not a semantic difference.
func (ld *Loader) initLA() error {
	id, err := ld.reg.ReadRegister(register.ReadID, 1)
	if err != nil {
		return err
	}
	if id[0] != register.ExpectedID {
		return fmt.Errorf("LA handshake: ID register = %#x, want %#x: %w",
			id[0], register.ExpectedID, errs.Protocol)
	}

	for _, probe := range [2]byte{0x55, 0xaa} {
		if err := ld.reg.SetRegister(register.WriteTest, probe); err != nil {
			return err
		}
		echo, err := ld.reg.ReadRegister(register.WriteTest, 1)
		if err != nil {
			return err
		}
		if echo[0] != probe {
			return fmt.Errorf("LA handshake: scratch register echoed %#x, want %#x: %w",
				echo[0], probe, errs.Protocol)
		}
	}

	return ld.reg.SetRegister(register.WriteMode, register.ModeSDRAMInit)
}

func drainPendingBytes(l link.ByteLink) {
	var b [1]byte
	for {
		n, err := l.Read(b[:])
		if err != nil || n == 0 {
			return
		}
	}
}
