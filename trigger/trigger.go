// Package trigger implements the Sigma's trigger compiler (spec
// component C5): folding a channel-level ONE/ZERO/RISING/FALLING
// trigger description into the value/mask and edge-tally form the
// device accepts, then compiling that into the look-up tables the FPGA
// actually evaluates, and writing them through the register transport.
//
// Ported from sigma_convert_trigger, build_lut_entry,
// add_trigger_function, sigma_build_basic_trigger, and
// sigma_write_trigger_lut in original_source/protocol.c.
package trigger

import (
	"fmt"

	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/register"
)

// Match is a per-channel trigger request.
type Match int

const (
	MatchNone Match = iota
	MatchOne
	MatchZero
	MatchRising
	MatchFalling
)

// Config is the channel-level trigger description Compile consumes:
// value/mask plus edge masks already folded down from whatever
// higher-level multi-stage description a caller builds. Fold produces
// one of these from a []Stage; Config exists as its own type because a
// caller that already has value/mask/edge masks in hand (e.g. a saved
// capture profile) has no reason to round-trip through Stage/ChannelMatch.
type Config struct {
	SimpleValue uint16
	SimpleMask  uint16
	RisingMask  uint16
	FallingMask uint16
}

// ChannelMatch is one channel's requested match within a Stage: ONE/ZERO
// test a static value, RISING/FALLING test an edge. Channel is the
// 0-based channel index (bit position in the folded masks).
type ChannelMatch struct {
	Channel int
	Match   Match
}

// Stage is one stage of a multi-stage trigger description, as the
// enclosing configuration surface would model it (spec.md §1 scopes
// that surface itself out; Stage is the shape Fold expects it to hand
// in). Only stages[0] is ever folded into hardware state (spec.md
// §4.5: "Only the first stage matters"); later stages are accepted but
// ignored, matching the driver's documented inability to chain trigger
// stages in hardware.
type Stage struct {
	Matches []ChannelMatch
}

// Fold walks stages[0] (later stages are ignored, see Stage) and folds
// each ChannelMatch into value/mask/edge masks, exactly as
// sigma_convert_trigger does: ONE/ZERO accumulate into
// SimpleValue/SimpleMask; RISING/FALLING accumulate into the edge
// masks and also advance a trigger-set tally that is checked after
// every single match, not just once at the end, so that two edge
// matches landing on the very same channel are caught before they
// collapse into one set bit indistinguishable from a single match.
// fastTrigger selects the >=100MHz hardware rules (at most one edge
// match total, no value/mask match at all) versus the <=50MHz rules
// (at most one rising/falling match, alongside any number of
// value/mask matches) — mirroring the original's inline rate check
// rather than deferring the tally to Compile, where the individual
// matches no longer exist to re-check.
func Fold(stages []Stage, fastTrigger bool) (Config, error) {
	var cfg Config
	if len(stages) == 0 {
		return cfg, nil
	}

	triggerSet := 0
	for _, m := range stages[0].Matches {
		bit := uint16(1) << uint(m.Channel)

		if fastTrigger {
			if triggerSet > 0 {
				return Config{}, fmt.Errorf("only a single pin trigger is supported in 100 and 200MHz mode: %w", errs.UnsupportedTrigger)
			}
			switch m.Match {
			case MatchFalling:
				cfg.FallingMask |= bit
			case MatchRising:
				cfg.RisingMask |= bit
			default:
				return Config{}, fmt.Errorf("only rising/falling trigger is supported in 100 and 200MHz mode: %w", errs.UnsupportedTrigger)
			}
			triggerSet++
			continue
		}

		switch m.Match {
		case MatchOne:
			cfg.SimpleValue |= bit
			cfg.SimpleMask |= bit
		case MatchZero:
			cfg.SimpleValue &^= bit
			cfg.SimpleMask |= bit
		case MatchFalling:
			cfg.FallingMask |= bit
			triggerSet++
		case MatchRising:
			cfg.RisingMask |= bit
			triggerSet++
		}

		// Actually, Sigma supports 2 rising/falling triggers, but they
		// are ORed and the current trigger syntax does not permit
		// ORed triggers (kept verbatim from the original's own
		// comment on this check).
		if triggerSet > 1 {
			return Config{}, fmt.Errorf("only 1 rising/falling trigger is supported: %w", errs.UnsupportedTrigger)
		}
	}

	return cfg, nil
}

// triggerop/triggerfunc mirror the LUT-building primitives in the
// original; they have no meaning outside buildLUTEntry/addTriggerFunction.
type triggerop int

const (
	opLevel triggerop = iota
	opNot
	opRise
	opFall
	opRiseFall
	opNotRise
	opNotFall
	opNotRiseFall
)

type triggerfunc int

const (
	funcAnd triggerfunc = iota
	funcNand
	funcOr
	funcNor
	funcXor
	funcNxor
)

// Params is the trigger type/selector byte pair sent after the LUT
// table itself. selres selects "event" triggering (constant 3); the
// second byte is reserved padding in the original wire format.
type Params struct {
	Selres byte
	_      byte
}

// LUT is the compiled look-up table the FPGA trigger logic evaluates.
// m2d holds the value/mask term, m0d/m1d the two independent edge
// terms, m3/m3s the glue logic combining them, m4 a fixed constant for
// simple (non-fast) triggers.
type LUT struct {
	M2d    [4]uint16
	M3     uint16
	M3s    uint16
	M4     uint16
	M0d    [4]uint16
	M1d    [4]uint16
	Params Params
}

// Compile validates an already-folded cfg against the rate-dependent
// hardware limits and builds the corresponding LUT.
//
//   - At or above 100MHz ("fast trigger"), only a single rising or
//     falling edge is supported and no value/mask term at all: a
//     non-zero SimpleMask is rejected outright.
//   - At or below 50MHz, at most two edges (rising or falling, in any
//     combination across channels) are accepted in addition to the
//     value/mask term.
//
// This is a popcount over cfg's already-OR'd edge masks, so it only
// catches edge counts that survived folding — it cannot by itself
// reject two edge matches that landed on the very same channel, since
// Config has no way to represent "matched twice" once both collapse
// into one set bit. That per-match tally belongs to Fold, which sees
// the individual matches before they are OR'd together; Compile's
// check here is the coarser, idempotent backstop for any Config
// (whether built by Fold or assembled directly) against the hardware's
// aggregate edge-count limit.
func Compile(cfg Config, fastTrigger bool) (*LUT, error) {
	edgeCount := popcount16(cfg.RisingMask) + popcount16(cfg.FallingMask)

	if fastTrigger {
		if cfg.SimpleMask != 0 {
			return nil, fmt.Errorf("fast trigger mode accepts only a single rising or falling edge, not a value/mask term: %w", errs.UnsupportedTrigger)
		}
		if edgeCount != 1 {
			return nil, fmt.Errorf("fast trigger mode requires exactly one edge, got %d: %w", edgeCount, errs.UnsupportedTrigger)
		}
	} else if edgeCount > 2 {
		return nil, fmt.Errorf("at most 2 edge triggers are supported, got %d: %w", edgeCount, errs.UnsupportedTrigger)
	}

	return buildBasicTrigger(cfg), nil
}

func popcount16(v uint16) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

// buildBasicTrigger ports sigma_build_basic_trigger exactly: it builds
// the value/mask LUT term unconditionally, splits the edge channels
// into two independent per-channel masks (at most one bit each, since
// edgeCount is capped by Compile), and glues their OP_RISE/OP_FALL
// detectors into m3 with FUNC_OR. With no edges at all, m3 is the
// fixed constant 0xffff (always true), so only the value/mask term
// gates the trigger.
func buildBasicTrigger(cfg Config) *LUT {
	lut := &LUT{M4: 0xa000}

	buildLUTEntry(cfg.SimpleValue, cfg.SimpleMask, &lut.M2d)

	var masks [2]uint16
	j := 0
	for i := 0; i < 16; i++ {
		bit := uint16(1) << uint(i)
		if cfg.RisingMask&bit != 0 || cfg.FallingMask&bit != 0 {
			if j < 2 {
				masks[j] = bit
			}
			j++
		}
	}

	buildLUTEntry(masks[0], masks[0], &lut.M0d)
	buildLUTEntry(masks[1], masks[1], &lut.M1d)

	if masks[0] != 0 || masks[1] != 0 {
		if masks[0]&cfg.RisingMask != 0 {
			addTriggerFunction(opRise, funcOr, 0, false, &lut.M3)
		}
		if masks[0]&cfg.FallingMask != 0 {
			addTriggerFunction(opFall, funcOr, 0, false, &lut.M3)
		}
		if masks[1]&cfg.RisingMask != 0 {
			addTriggerFunction(opRise, funcOr, 1, false, &lut.M3)
		}
		if masks[1]&cfg.FallingMask != 0 {
			addTriggerFunction(opFall, funcOr, 1, false, &lut.M3)
		}
	} else {
		lut.M3 = 0xffff
	}

	lut.Params.Selres = 3
	return lut
}

// buildLUTEntry fills a 4-quad look-up table: entry[i] has bit j set
// only if every channel k in quad i (bit = i*4+k) masked by mask
// matches value against the corresponding bit of the 4-bit index j.
// This is a direct port of build_lut_entry; the nested nature of the
// match test (in particular the double negation) is preserved exactly
// because it encodes an XNOR of (value bit set) against (index bit
// set), not a more obvious-looking comparison.
func buildLUTEntry(value, mask uint16, entry *[4]uint16) {
	for i := 0; i < 4; i++ {
		entry[i] = 0xffff
		for j := 0; j < 16; j++ {
			for k := 0; k < 4; k++ {
				bit := uint16(1) << uint(i*4+k)
				if mask&bit != 0 && (value&bit == 0) != (uint16(j)&(1<<uint(k)) == 0) {
					entry[i] &^= 1 << uint(j)
				}
			}
		}
	}
}

// addTriggerFunction ORs/ANDs/XORs a transition detector into mask, a
// direct port of add_trigger_function. oper selects the 2x2 detect
// table addressed by (previous-bit, current-bit); index selects which
// of the 16 LUT inputs carries that channel's (current, previous) bit
// pair; neg transposes the detect table (used for the complex-trigger
// machinery this driver does not expose, kept here because it is
// inseparable from the port); func combines the detector with
// whatever was already in mask.
func addTriggerFunction(oper triggerop, fn triggerfunc, index int, neg bool, mask *uint16) {
	var x [2][2]int

	switch oper {
	case opLevel:
		x[0][1] = 1
		x[1][1] = 1
	case opNot:
		x[0][0] = 1
		x[1][0] = 1
	case opRise:
		x[0][1] = 1
	case opFall:
		x[1][0] = 1
	case opRiseFall:
		x[0][1] = 1
		x[1][0] = 1
	case opNotRise:
		x[1][1] = 1
		x[0][0] = 1
		x[1][0] = 1
	case opNotFall:
		x[1][1] = 1
		x[0][0] = 1
		x[0][1] = 1
	case opNotRiseFall:
		x[1][1] = 1
		x[0][0] = 1
	}

	if neg {
		x[0][1], x[1][0] = x[1][0], x[0][1]
	}

	for i := 0; i < 16; i++ {
		a := (i >> uint(2*index+0)) & 1
		b := (i >> uint(2*index+1)) & 1

		aset := (*mask >> uint(i)) & 1
		bset := uint16(x[b][a])

		var rset uint16
		switch fn {
		case funcAnd, funcNand:
			rset = aset & bset
		case funcOr, funcNor:
			rset = aset | bset
		case funcXor, funcNxor:
			rset = aset ^ bset
		}
		if fn == funcNand || fn == funcNor || fn == funcNxor {
			if rset == 0 {
				rset = 1
			} else {
				rset = 0
			}
		}

		*mask &^= 1 << uint(i)
		if rset != 0 {
			*mask |= 1 << uint(i)
		}
	}
}

// WriteLUT uploads a compiled LUT through the register transport. Per
// bit position 0..15, the eight LUT fields are transposed into two
// bytes (m2d/m3/m3s/m4 into the low byte, m0d/m1d into the high byte)
// and written as one WriteTriggerSelect register write, immediately
// followed by a WriteTriggerSelect2 write selecting that bit position
// (0x30 | i). After all 16 positions, Params is written once more to
// WriteTriggerSelect. This ordering and the 0x30 selector constant are
// exactly what sigma_write_trigger_lut does.
func WriteLUT(reg *register.Protocol, lut *LUT) error {
	for i := 0; i < 16; i++ {
		bit := uint16(1) << uint(i)
		var lo, hi byte

		if lut.M2d[0]&bit != 0 {
			lo |= 0x01
		}
		if lut.M2d[1]&bit != 0 {
			lo |= 0x02
		}
		if lut.M2d[2]&bit != 0 {
			lo |= 0x04
		}
		if lut.M2d[3]&bit != 0 {
			lo |= 0x08
		}
		if lut.M3&bit != 0 {
			lo |= 0x10
		}
		if lut.M3s&bit != 0 {
			lo |= 0x20
		}
		if lut.M4&bit != 0 {
			lo |= 0x40
		}

		if lut.M0d[0]&bit != 0 {
			hi |= 0x01
		}
		if lut.M0d[1]&bit != 0 {
			hi |= 0x02
		}
		if lut.M0d[2]&bit != 0 {
			hi |= 0x04
		}
		if lut.M0d[3]&bit != 0 {
			hi |= 0x08
		}
		if lut.M1d[0]&bit != 0 {
			hi |= 0x10
		}
		if lut.M1d[1]&bit != 0 {
			hi |= 0x20
		}
		if lut.M1d[2]&bit != 0 {
			hi |= 0x40
		}
		if lut.M1d[3]&bit != 0 {
			hi |= 0x80
		}

		if err := reg.WriteRegister(register.WriteTriggerSelect, []byte{lo, hi}); err != nil {
			return err
		}
		if err := reg.SetRegister(register.WriteTriggerSelect2, 0x30|byte(i)); err != nil {
			return err
		}
	}

	return reg.WriteRegister(register.WriteTriggerSelect, []byte{lut.Params.Selres, 0})
}
