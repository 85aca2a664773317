// Package register implements the Sigma's tiny memory-mapped register
// protocol: 8-bit half-duplex commands, high nibble opcode / low
// nibble payload, layered over a link.ByteLink. It is the transport
// the hardware-facing components (loader, trigger, dram, decode)
// issues its reads and writes through.
//
// The opcode byte values below are this driver's own numbering — the
// vendor's register map header was not available to ground them on,
// so they exist purely to make the wire format self-consistent and
// are exercised end to end by this package's tests. The *shape* of
// the protocol (byte ordering, the half-duplex write-then-read
// discipline, the 80-byte scratch bound, and the position
// double-decrement-and-fixup) is preserved exactly from the libsigrok
// asix-sigma driver this core was distilled from.
package register

import (
	"fmt"
	"sync"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/link"
)

const (
	opAddrLow       byte = 0x00 // payload: reg & 0xf
	opAddrHigh      byte = 0x10 // payload: reg >> 4
	opDataLow       byte = 0x20 // payload: data & 0xf
	opDataHighWrite byte = 0x30 // payload: data >> 4
	opReadAddr      byte = 0x40 // strobe; OR opAddrInc to auto-increment
	opAddrInc       byte = 0x01

	opDRAMBlock     byte = 0x50 // transfer DRAM -> FPGA internal RAM
	opDRAMBlockData byte = 0x60 // transfer FPGA internal RAM -> host
	opDRAMWaitAck   byte = 0x70 // wait for the pending DRAM transfer
	dramSelBit      byte = 0x01
)

// DRAMSel returns the low-nibble selector bit for the ping-pong DRAM
// buffer identified by sel (0 or 1), for use by package dram when
// composing REG_DRAM_BLOCK / REG_DRAM_BLOCK_DATA commands.
func DRAMSel(sel bool) byte {
	if sel {
		return dramSelBit
	}
	return 0
}

// Opcodes exported for package dram, which builds the interleaved
// ping-pong DRAM read command directly (it does not go through
// WriteRegister/ReadRegister framing).
const (
	OpDRAMBlock     = opDRAMBlock
	OpDRAMBlockData = opDRAMBlockData
	OpDRAMWaitAck   = opDRAMWaitAck
)

// Register addresses. Like the opcodes above, these are this driver's
// own numbering of the Sigma's register file.
const (
	ReadID              byte = 0x00
	WriteTest           byte = 0x01 // scratch register used by the LA handshake
	WriteMode           byte = 0x02
	ReadMode            byte = 0x03
	WriteMemrow         byte = 0x04
	ReadTriggerPosLow   byte = 0x05 // first of six auto-increment position registers
	WriteTriggerSelect  byte = 0x06
	WriteTriggerSelect2 byte = 0x07
)

// Mode register flags (WriteMode).
const (
	ModeSDRAMWriteEn byte = 1 << 0
	ModeSDRAMReadEn  byte = 1 << 1
	ModeSDRAMInit    byte = 1 << 2
	ModeForceStop    byte = 1 << 3
)

// Read-mode status flags (ReadMode).
const (
	StatusTriggered     byte = 1 << 0
	StatusPostTriggered byte = 1 << 1
	StatusRound         byte = 1 << 2
)

// ExpectedID is the value the LA-mode handshake's ID register read
// must return.
const ExpectedID byte = 0xa6

// maxRegisterWriteBuf bounds the scratch buffer used to assemble a
// register write. The worst case is 2 setup bytes plus 2 bytes per
// data byte; a write that would not fit is an internal bug, not a
// truncation. This mirrors libsigrok's fixed 80-byte sigma_write_register
// stack buffer exactly.
const maxRegisterWriteBuf = 80

// Protocol drives the register transport over a link.ByteLink. Writes
// and their matching reads must be atomic with respect to other
// callers against the same device; Protocol serializes access with an
// internal mutex so concurrent callers are safe even though the
// reference design assumes a single caller and needs none.
type Protocol struct {
	mu   sync.Mutex
	link link.ByteLink
}

// New returns a Protocol driving cmds over the given link.
func New(l link.ByteLink) *Protocol {
	return &Protocol{link: l}
}

// WriteRegister emits a register write of len(data) bytes: address
// setup followed by (DATA_LOW, DATA_HIGH_WRITE) pairs, one pair per
// byte, in that strict order.
func (p *Protocol) WriteRegister(reg byte, data []byte) error {
	need := 2 + 2*len(data)
	if need > maxRegisterWriteBuf {
		return fmt.Errorf("write_register(reg=%#x, len=%d) needs %d bytes, buffer holds %d: %w",
			reg, len(data), need, maxRegisterWriteBuf, errs.InternalBug)
	}

	buf := make([]byte, 0, need)
	buf = append(buf, opAddrLow|(reg&0xf), opAddrHigh|(reg>>4))
	for _, d := range data {
		buf = append(buf, opDataLow|(d&0xf), opDataHighWrite|(d>>4))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(buf)
}

// SetRegister writes a single byte to reg.
func (p *Protocol) SetRegister(reg, value byte) error {
	return p.WriteRegister(reg, []byte{value})
}

// ReadRegister issues address setup followed by a single READ_ADDR
// strobe, then drains n response bytes from that one strobe. The link
// is half-duplex: the full write is flushed before the read is
// attempted. (Reading several distinct auto-incrementing registers in
// one round trip, as the position counters require, uses
// ReadPositions instead of this generic primitive.)
func (p *Protocol) ReadRegister(reg byte, n int) ([]byte, error) {
	buf := []byte{opAddrLow | (reg & 0xf), opAddrHigh | (reg >> 4), opReadAddr}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(buf); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if err := p.readFull(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAfterWrite writes a caller-assembled command buffer verbatim and
// then reads exactly n response bytes. It exists for callers (package
// dram) that must build their own non-register-framed command
// sequences, such as the interleaved ping-pong DRAM transfer, while
// still sharing this Protocol's half-duplex write/read discipline and
// mutex.
func (p *Protocol) ReadAfterWrite(cmd []byte, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(cmd); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if err := p.readFull(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadPositions reads the trigger and stop position counters. It
// issues one address-setup at ReadTriggerPosLow, then six
// auto-increment READ_ADDR strobes, yielding two packed 24-bit
// little-endian counters: trigger first, then stop.
//
// Both counters point one entity past the event they mark, so each is
// decremented by one after the read. Hardware reserves the last u16
// slot of every 512-slot row; if the decrement lands there
// (pos&0x1ff == 0x1ff) a further 64 is subtracted. This two-step
// adjustment is applied identically to both counters, exactly as the
// original driver does — the comment in the original source
// questioning whether "64 bytes of metadata reside at the top of a
// 512-byte block" is preserved here because the question is still
// open; the arithmetic itself must not be reinterpreted.
func (p *Protocol) ReadPositions() (triggerpos, stoppos uint32, err error) {
	buf := []byte{opAddrLow | (ReadTriggerPosLow & 0xf)}
	for i := 0; i < 6; i++ {
		buf = append(buf, opReadAddr|opAddrInc)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err = p.write(buf); err != nil {
		return 0, 0, err
	}
	result := make([]byte, 6)
	if err = p.readFull(result); err != nil {
		return 0, 0, err
	}

	triggerpos = uint32(result[0]) | uint32(result[1])<<8 | uint32(result[2])<<16
	stoppos = uint32(result[3]) | uint32(result[4])<<8 | uint32(result[5])<<16

	triggerpos = adjustPos(triggerpos)
	stoppos = adjustPos(stoppos)
	return triggerpos, stoppos, nil
}

// adjustPos applies the --pos; if pos&0x1ff==0x1ff { pos -= 64 }
// correction to a raw position counter.
func adjustPos(pos uint32) uint32 {
	pos--
	if pos&0x1ff == 0x1ff {
		pos -= 64
	}
	return pos
}

func (p *Protocol) write(buf []byte) error {
	n, err := p.link.Write(buf)
	if err != nil {
		return fmt.Errorf("register write: %w", errs.IO)
	}
	if n != len(buf) {
		return fmt.Errorf("register write: short write (%d of %d): %w", n, len(buf), errs.IO)
	}
	return nil
}

func (p *Protocol) readFull(buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := p.link.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("register read: %w", errs.IO)
		}
		if n == 0 {
			return fmt.Errorf("register read: no data: %w", errs.IO)
		}
		got += n
	}
	return nil
}
