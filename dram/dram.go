// Package dram implements the Sigma's DRAM block reader (spec
// component C7): addressing a starting row via the memrow register,
// then draining it and a run of following rows through the
// ping-pong DRAM_BLOCK / DRAM_BLOCK_DATA / DRAM_WAIT_ACK handshake.
//
// Ported from sigma_read_dram in original_source/protocol.c.
package dram

import (
	"fmt"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/register"
)

// RowLengthBytes is the size of one DRAM row (512 16-bit cluster
// slots).
const RowLengthBytes = 1024

// MaxRowsPerRead bounds a single Read call, mirroring the original
// driver's hard "only up-to 32 DRAM lines in one go" limit; callers
// retrieving a capture (package decode) must chunk larger requests
// themselves.
const MaxRowsPerRead = 32

// Reader drives DRAM row reads over a register.Protocol.
type Reader struct {
	reg *register.Protocol
}

// New returns a Reader driving reads over reg.
func New(reg *register.Protocol) *Reader {
	return &Reader{reg: reg}
}

// Read retrieves rowCount consecutive DRAM rows starting at
// startRow, wrapping according to the device's circular row numbering
// (callers are responsible for pre-wrapping startRow; this function
// does not mod it). It returns rowCount*RowLengthBytes bytes.
func (r *Reader) Read(startRow uint16, rowCount int) ([]byte, error) {
	if rowCount <= 0 {
		return nil, nil
	}
	if rowCount > MaxRowsPerRead {
		return nil, fmt.Errorf("dram read of %d rows exceeds the %d-row-per-call limit: %w",
			rowCount, MaxRowsPerRead, errs.InternalBug)
	}

	if err := r.reg.WriteRegister(register.WriteMemrow, []byte{byte(startRow >> 8), byte(startRow)}); err != nil {
		return nil, err
	}

	cmd := make([]byte, 0, 2+3*rowCount)
	cmd = append(cmd, register.OpDRAMBlock, register.OpDRAMWaitAck)
	for chunk := 0; chunk < rowCount; chunk++ {
		sel := chunk%2 != 0
		isLast := chunk == rowCount-1
		if !isLast {
			cmd = append(cmd, register.OpDRAMBlock|register.DRAMSel(!sel))
		}
		cmd = append(cmd, register.OpDRAMBlockData|register.DRAMSel(sel))
		if !isLast {
			cmd = append(cmd, register.OpDRAMWaitAck)
		}
	}

	data, err := r.reg.ReadAfterWrite(cmd, rowCount*RowLengthBytes)
	if err != nil {
		return nil, err
	}
	return data, nil
}
