package device

import (
	"io"
	"testing"
	"time"

	"github.com/sigma-la/sigma/datafeed"
	"github.com/sigma-la/sigma/link"
	"github.com/sigma-la/sigma/loader"
	"github.com/sigma-la/sigma/register"
	"github.com/sigma-la/sigma/samplerate"
	"github.com/sigma-la/sigma/trigger"
)

// fakeLink accepts every write and answers each Read with the next
// entry of reads; an empty entry, or an exhausted queue, reads as no
// data.
type fakeLink struct{ reads [][]byte }

func (f *fakeLink) Write(data []byte) (int, error) { return len(data), nil }
func (f *fakeLink) Read(buf []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, nil
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	return copy(buf, next), nil
}
func (f *fakeLink) Purge() error                                  { return nil }
func (f *fakeLink) SetBitmode(mask byte, mode link.PinMode) error { return nil }
func (f *fakeLink) SetBaudrate(bps int) error                     { return nil }

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

type fakeSink struct{ ended bool }

func (f *fakeSink) SendLogic(data []byte) error { return nil }
func (f *fakeSink) SendTrigger() error          { return nil }
func (f *fakeSink) SendEnd() error              { f.ended = true; return nil }

func TestLimitMsecFromSamplesBoundaryCase(t *testing.T) {
	// 1 sample at 200kHz: nominal time rounds to 0ms under integer
	// division, so the additive pipeline-flush term dominates and must
	// not be skipped.
	got := limitMsecFromSamples(1, samplerate.Rate200kHz)
	want := uint64(0 + 2*65536*1000/200_000)
	if got != want {
		t.Fatalf("limitMsec = %d, want %d", got, want)
	}
	if got == 0 {
		t.Fatal("limitMsec must not be zero even for a 1-sample capture")
	}
}

func TestArmTransitionsToCaptureAndPollNoopsBeforeTimeout(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)
	d.LimitSamples = 0 // no timeout configured

	d.Arm()
	if d.State() != Capture {
		t.Fatalf("state = %v, want Capture", d.State())
	}
	if err := d.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if d.State() != Capture {
		t.Fatalf("state after no-timeout poll = %v, want Capture", d.State())
	}
}

func TestRequestStopOnlyAppliesFromCapture(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)

	d.RequestStop() // from Idle: no-op
	if d.State() != Idle {
		t.Fatalf("state = %v, want Idle", d.State())
	}

	d.Arm()
	d.RequestStop()
	if d.State() != Stopping {
		t.Fatalf("state = %v, want Stopping", d.State())
	}
}

func TestUploadSlotFailsWithoutFirmwareSource(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)

	err := d.SelectRate(samplerate.Rate1MHz)
	if err == nil {
		t.Fatal("expected an error selecting a rate with no firmware source configured")
	}
}

func TestSelectRateUsesConfiguredFirmwareSource(t *testing.T) {
	// The cable reports INIT_B (bit 5) after the PROG pulse; the
	// register side then answers the LA handshake: the ID, then the two
	// scratch-register echoes.
	reg := register.New(&fakeLink{reads: [][]byte{{0xa6}, {0x55}, {0xaa}}})
	d := New(&fakeLink{reads: [][]byte{{0x20}}}, reg)
	d.OpenFirmware = func(slot loader.Slot) (io.ReadCloser, int, error) {
		return nopCloser{Reader: io.LimitReader(zeroReader{}, 0)}, 0, nil
	}

	if err := d.SelectRate(samplerate.Rate1MHz); err != nil {
		t.Fatalf("SelectRate: %v", err)
	}
	if d.Rate.NumChannels != 16 {
		t.Fatalf("NumChannels = %d, want 16", d.Rate.NumChannels)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) { return 0, io.EOF }

func TestDownloadResetsStateEvenOnDecoderError(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)
	d.Sink = &fakeSink{}
	d.ForceStopDeadline = time.Millisecond

	d.Arm()
	if err := d.downloadCapture(); err == nil {
		t.Fatal("expected an error: fakeLink never asserts POSTTRIGGERED")
	}
	if d.State() != Idle {
		t.Fatalf("state after failed download = %v, want Idle", d.State())
	}
}

func TestUploadSyncAndPhasorFirmwareBypassSelectRate(t *testing.T) {
	// Two full uploads: INIT_B and the LA handshake answers twice. The
	// empty entry ends the first upload's drain of pending bytes.
	reg := register.New(&fakeLink{reads: [][]byte{{0xa6}, {0x55}, {0xaa}, {0xa6}, {0x55}, {0xaa}}})
	d := New(&fakeLink{reads: [][]byte{{0x20}, {}, {0x20}}}, reg)

	var gotSlots []loader.Slot
	d.OpenFirmware = func(slot loader.Slot) (io.ReadCloser, int, error) {
		gotSlots = append(gotSlots, slot)
		return nopCloser{Reader: io.LimitReader(zeroReader{}, 0)}, 0, nil
	}

	if err := d.UploadSyncFirmware(); err != nil {
		t.Fatalf("UploadSyncFirmware: %v", err)
	}
	if err := d.UploadPhasorFirmware(); err != nil {
		t.Fatalf("UploadPhasorFirmware: %v", err)
	}
	if len(gotSlots) != 2 || gotSlots[0] != loader.Slot50Sync || gotSlots[1] != loader.SlotPhasor {
		t.Fatalf("opened slots = %v, want [Slot50Sync SlotPhasor]", gotSlots)
	}
}

func TestNewWiresDRAMReader(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)
	if d.DRAM == nil {
		t.Fatal("New should wire a dram.Reader")
	}
	var _ datafeed.Sink = &fakeSink{}
}

func TestArmTriggerRecordsCompiledConfig(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)

	cfg := trigger.Config{SimpleValue: 0x00A5, SimpleMask: 0x00FF}
	if err := d.ArmTrigger(cfg); err != nil {
		t.Fatalf("ArmTrigger: %v", err)
	}
	if d.trigCfg != cfg {
		t.Fatalf("trigCfg = %+v, want %+v", d.trigCfg, cfg)
	}
}

func TestArmTriggerStagesFoldsBeforeArming(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)

	stages := []trigger.Stage{{Matches: []trigger.ChannelMatch{
		{Channel: 0, Match: trigger.MatchRising},
	}}}
	if err := d.ArmTriggerStages(stages); err != nil {
		t.Fatalf("ArmTriggerStages: %v", err)
	}
	if d.trigCfg.RisingMask != 0x0001 {
		t.Fatalf("trigCfg.RisingMask = %#x, want 0x0001", d.trigCfg.RisingMask)
	}
}

func TestArmTriggerStagesPropagatesFoldRejection(t *testing.T) {
	reg := register.New(&fakeLink{})
	d := New(&fakeLink{}, reg)
	d.Rate.Samplerate = samplerate.Rate100MHz

	stages := []trigger.Stage{{Matches: []trigger.ChannelMatch{
		{Channel: 0, Match: trigger.MatchRising},
		{Channel: 1, Match: trigger.MatchFalling},
	}}}
	if err := d.ArmTriggerStages(stages); err == nil {
		t.Fatal("expected ArmTriggerStages to reject a second fast-trigger match")
	}
}
