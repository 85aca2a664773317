package trigger

import (
	"errors"
	"testing"

	"github.com/sigma-la/sigma/errs"
)

func TestBuildLUTEntryValueMaskSplit(t *testing.T) {
	var entry [4]uint16
	buildLUTEntry(0x00A5, 0x00FF, &entry)

	for j := 0; j < 16; j++ {
		want := j == 0x5
		got := entry[0]&(1<<uint(j)) != 0
		if got != want {
			t.Fatalf("entry[0] bit %d = %v, want %v", j, got, want)
		}
	}
	for j := 0; j < 16; j++ {
		want := j == 0xA
		got := entry[1]&(1<<uint(j)) != 0
		if got != want {
			t.Fatalf("entry[1] bit %d = %v, want %v", j, got, want)
		}
	}
	if entry[2] != 0xffff || entry[3] != 0xffff {
		t.Fatalf("entry[2..3] = %#x, %#x, want 0xffff, 0xffff", entry[2], entry[3])
	}
}

func TestCompileValueMaskOnly(t *testing.T) {
	cfg := Config{SimpleValue: 0x00A5, SimpleMask: 0x00FF}
	lut, err := Compile(cfg, false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if lut.M3 != 0xffff {
		t.Fatalf("m3 = %#x, want 0xffff (no edge channels)", lut.M3)
	}
	if lut.M4 != 0xa000 {
		t.Fatalf("m4 = %#x, want 0xa000", lut.M4)
	}
	if lut.Params.Selres != 3 {
		t.Fatalf("selres = %d, want 3", lut.Params.Selres)
	}
}

func TestCompileRejectsTooManyEdgesBelow100MHz(t *testing.T) {
	cfg := Config{RisingMask: 0x0001, FallingMask: 0x0006}
	_, err := Compile(cfg, false)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger, got %v", err)
	}
}

func TestCompileFastTriggerRejectsValueMask(t *testing.T) {
	cfg := Config{RisingMask: 0x0001, SimpleMask: 0x0002}
	_, err := Compile(cfg, true)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger, got %v", err)
	}
}

func TestCompileFastTriggerRequiresExactlyOneEdge(t *testing.T) {
	_, err := Compile(Config{}, true)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger for zero edges, got %v", err)
	}

	cfg := Config{RisingMask: 0x0001, FallingMask: 0x0002}
	_, err = Compile(cfg, true)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger for two edges, got %v", err)
	}
}

func TestCompileFastTriggerAcceptsSingleEdge(t *testing.T) {
	cfg := Config{RisingMask: 0x0004}
	lut, err := Compile(cfg, true)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if lut.M3 == 0xffff {
		t.Fatalf("m3 should reflect glue logic for the rising edge, not the all-true constant")
	}
}

func TestAddTriggerFunctionOrGlue(t *testing.T) {
	var mask uint16
	addTriggerFunction(opRise, funcOr, 0, false, &mask)
	if mask == 0 {
		t.Fatal("expected addTriggerFunction to set some bits for OP_RISE/FUNC_OR")
	}
}

func TestFoldOneAndZeroAccumulateValueMask(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Match: MatchOne},
		{Channel: 1, Match: MatchZero},
	}}}
	cfg, err := Fold(stages, false)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if cfg.SimpleMask != 0x0003 {
		t.Fatalf("SimpleMask = %#x, want 0x0003", cfg.SimpleMask)
	}
	if cfg.SimpleValue != 0x0001 {
		t.Fatalf("SimpleValue = %#x, want 0x0001 (channel1 cleared)", cfg.SimpleValue)
	}
}

func TestFoldOnlyFirstStageMatters(t *testing.T) {
	stages := []Stage{
		{Matches: []ChannelMatch{{Channel: 2, Match: MatchRising}}},
		{Matches: []ChannelMatch{{Channel: 5, Match: MatchRising}}},
	}
	cfg, err := Fold(stages, false)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if cfg.RisingMask != 0x0004 {
		t.Fatalf("RisingMask = %#x, want 0x0004 (only stage 0's channel 2)", cfg.RisingMask)
	}
}

func TestFoldRejectsTwoEdgesOnTheSameChannelBelow100MHz(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{
		{Channel: 3, Match: MatchRising},
		{Channel: 3, Match: MatchFalling},
	}}}
	_, err := Fold(stages, false)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger for two edge matches on one channel, got %v", err)
	}
}

func TestFoldAcceptsTwoEdgesOnDistinctChannelsBelow100MHz(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{
		{Channel: 1, Match: MatchRising},
		{Channel: 2, Match: MatchFalling},
	}}}
	cfg, err := Fold(stages, false)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if cfg.RisingMask != 0x0002 || cfg.FallingMask != 0x0004 {
		t.Fatalf("masks = rising %#x falling %#x, want 0x0002 0x0004", cfg.RisingMask, cfg.FallingMask)
	}
}

func TestFoldFastTriggerRejectsSecondMatchOfAnyKind(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Match: MatchRising},
		{Channel: 1, Match: MatchRising},
	}}}
	_, err := Fold(stages, true)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger for a second fast-trigger match, got %v", err)
	}
}

func TestFoldFastTriggerRejectsValueMaskMatch(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{{Channel: 0, Match: MatchOne}}}}
	_, err := Fold(stages, true)
	if !errors.Is(err, errs.UnsupportedTrigger) {
		t.Fatalf("expected UnsupportedTrigger for a value/mask match in fast-trigger mode, got %v", err)
	}
}

func TestFoldFastTriggerAcceptsSingleEdge(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{{Channel: 3, Match: MatchFalling}}}}
	cfg, err := Fold(stages, true)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if cfg.FallingMask != 0x0008 {
		t.Fatalf("FallingMask = %#x, want 0x0008", cfg.FallingMask)
	}
}

func TestFoldEmptyStagesIsZeroConfig(t *testing.T) {
	cfg, err := Fold(nil, false)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("cfg = %+v, want zero value", cfg)
	}
}

func TestFoldThenCompileRoundTrip(t *testing.T) {
	stages := []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Match: MatchOne},
		{Channel: 4, Match: MatchZero},
		{Channel: 8, Match: MatchRising},
	}}}
	cfg, err := Fold(stages, false)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if _, err := Compile(cfg, false); err != nil {
		t.Fatalf("Compile(Fold(...)): %v", err)
	}
}
