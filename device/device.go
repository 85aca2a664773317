// Package device wires the Sigma's register transport, FPGA loader,
// samplerate policy, trigger compiler, DRAM reader, and capture
// decoder behind one handle, and drives the acquisition state machine
// (spec component C6): Idle → Capture → Stopping → Download → Idle.
//
// Ported from sigma_set_samplerate, sigma_convert_trigger,
// sigma_limit_samples_to_msec, sigma_capture_mode, and
// sigma_receive_data in original_source/protocol.c.
package device

import (
	"fmt"
	"io"
	"time"

	"github.com/sigma-la/sigma/datafeed"
	"github.com/sigma-la/sigma/decode"
	"github.com/sigma-la/sigma/dram"
	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/link"
	"github.com/sigma-la/sigma/loader"
	"github.com/sigma-la/sigma/register"
	"github.com/sigma-la/sigma/samplerate"
	"github.com/sigma-la/sigma/sigmalog"
	"github.com/sigma-la/sigma/trigger"
)

// State is the acquisition controller's current phase.
type State int

const (
	Idle State = iota
	Capture
	Stopping
	Download
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capture:
		return "capture"
	case Stopping:
		return "stopping"
	case Download:
		return "download"
	default:
		return "unknown"
	}
}

// OpenFirmwareFunc resolves a firmware slot to a readable stream and
// its exact byte size; firmware-file discovery itself is outside this
// driver's scope (spec §1), so production callers supply this however
// their environment stores firmware images.
type OpenFirmwareFunc func(slot loader.Slot) (r io.ReadCloser, size int, err error)

// Device bundles every driver component behind one acquisition
// lifecycle.
type Device struct {
	Link link.ByteLink
	Reg  *register.Protocol
	Load *loader.Loader
	DRAM *dram.Reader
	Rate samplerate.Policy

	Sink         datafeed.Sink
	OpenFirmware OpenFirmwareFunc

	// Log receives diagnostic messages for firmware upload, samplerate
	// changes, and state transitions. Nil is treated as sigmalog.Nop{}.
	Log sigmalog.Logger

	LimitSamples uint64
	UseTriggers  bool

	// ForceStopDeadline is forwarded to decode.Decoder.DownloadCapture.
	ForceStopDeadline time.Duration

	trigCfg trigger.Config

	state     State
	startTime time.Time
	limitMsec uint64

	now func() time.Time
}

// New returns a Device driving l and reg, with no firmware loaded.
func New(l link.ByteLink, reg *register.Protocol) *Device {
	return &Device{
		Link:  l,
		Reg:   reg,
		Load:  loader.New(l, reg),
		DRAM:  dram.New(reg),
		state: Idle,
	}
}

// State reports the current acquisition phase.
func (d *Device) State() State { return d.state }

func (d *Device) log() sigmalog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return sigmalog.Nop{}
}

// SelectRate validates and applies rate, uploading firmware for it if
// needed, and re-derives the sample-count timeout if one is active.
func (d *Device) SelectRate(rate samplerate.Rate) error {
	err := d.Rate.SelectRate(rate, d.uploadSlot)
	if err != nil {
		d.log().Errorf("select samplerate %d: %v", rate, err)
		return err
	}
	d.log().Infof("samplerate set to %d Hz (%d channels)", d.Rate.Samplerate, d.Rate.NumChannels)
	if d.LimitSamples != 0 {
		d.limitMsec = limitMsecFromSamples(d.LimitSamples, d.Rate.Samplerate)
	}
	d.state = Idle
	return nil
}

var errNoFirmwareSource = fmt.Errorf("no firmware source configured: %w", errs.InternalBug)

func (d *Device) uploadSlot(slot loader.Slot) error {
	if d.OpenFirmware == nil {
		return errNoFirmwareSource
	}
	fw, size, err := d.OpenFirmware(slot)
	if err != nil {
		return err
	}
	defer fw.Close()
	d.log().Debugf("uploading firmware slot %d (%d bytes)", slot, size)
	if err := d.Load.UploadFirmware(slot, fw, size); err != nil {
		d.log().Errorf("upload firmware slot %d: %v", slot, err)
		return err
	}
	return nil
}

// SetLimitSamples configures a sample-count cap, translated internally
// to a capture timeout once a samplerate is active.
func (d *Device) SetLimitSamples(n uint64) {
	d.LimitSamples = n
	if d.Rate.Samplerate != 0 {
		d.limitMsec = limitMsecFromSamples(n, d.Rate.Samplerate)
	}
}

// limitMsecFromSamples translates a sample-count limit into a capture
// duration: the nominal time to acquire limitSamples, plus two worst-
// case RLE cluster-flush intervals (one cluster's timestamp can span
// 65536 ticks) to guarantee the final cluster has cleared the
// pipeline.
func limitMsecFromSamples(limitSamples uint64, rate samplerate.Rate) uint64 {
	limitMsec := limitSamples * 1000 / uint64(rate)
	flushMsec := uint64(2*65536) * 1000 / uint64(rate)
	return limitMsec + flushMsec
}

// UploadSyncFirmware loads the external-clock firmware image directly,
// bypassing samplerate selection: Slot50Sync is never reachable through
// SelectRate because it isn't one of the three rate-driven slots.
func (d *Device) UploadSyncFirmware() error {
	return d.uploadSlot(loader.Slot50Sync)
}

// UploadPhasorFirmware loads the frequency-counter firmware image
// directly, for the same reason UploadSyncFirmware bypasses SelectRate.
func (d *Device) UploadPhasorFirmware() error {
	return d.uploadSlot(loader.SlotPhasor)
}

// ArmTrigger compiles cfg for the active samplerate and uploads its
// LUT, recording cfg so the decoder can later re-run the same
// condition for software trigger pinpointing.
func (d *Device) ArmTrigger(cfg trigger.Config) error {
	lut, err := trigger.Compile(cfg, d.Rate.Samplerate >= samplerate.Rate100MHz)
	if err != nil {
		return err
	}
	if err := trigger.WriteLUT(d.Reg, lut); err != nil {
		return err
	}
	d.trigCfg = cfg
	return nil
}

// ArmTriggerStages folds the first stage of stages (per-channel
// ONE/ZERO/RISING/FALLING matches) into a trigger.Config via
// trigger.Fold, then arms it exactly as ArmTrigger does. This is the
// entry point for callers that hold a multi-stage trigger description
// rather than an already-folded Config; the enclosing
// configuration-model surface that produces stages is outside this
// driver's scope (spec.md §1).
func (d *Device) ArmTriggerStages(stages []trigger.Stage) error {
	cfg, err := trigger.Fold(stages, d.Rate.Samplerate >= samplerate.Rate100MHz)
	if err != nil {
		return err
	}
	return d.ArmTrigger(cfg)
}

// Arm transitions Idle -> Capture and records the monotonic start
// time the poll loop measures the configured timeout against.
func (d *Device) Arm() {
	d.startTime = d.clock()
	d.state = Capture
	d.log().Infof("armed, capture started")
}

// RequestStop transitions Capture -> Stopping; the next Poll runs the
// download path unconditionally.
func (d *Device) RequestStop() {
	if d.state == Capture {
		d.state = Stopping
		d.log().Infof("stop requested")
	}
}

// Poll is the single entry point an enclosing event loop calls on
// every tick. In Capture, it checks whether the configured timeout has
// elapsed and transitions to Download if so. In Stopping, it always
// runs the download path. Idle and Download are no-ops here (Download
// completes synchronously inside the call that entered it).
func (d *Device) Poll() error {
	switch d.state {
	case Capture:
		if d.limitMsec == 0 {
			return nil
		}
		elapsed := d.clock().Sub(d.startTime)
		if uint64(elapsed/time.Millisecond) >= d.limitMsec {
			return d.downloadCapture()
		}
		return nil
	case Stopping:
		return d.downloadCapture()
	default:
		return nil
	}
}

func (d *Device) downloadCapture() error {
	d.state = Download
	dec := &decode.Decoder{
		Reg:               d.Reg,
		DRAM:              d.DRAM,
		Sink:              d.Sink,
		Rate:              d.Rate.Samplerate,
		SamplesPerEvent:   d.Rate.SamplesPerEvent,
		Trigger:           d.trigCfg,
		UseTriggers:       d.UseTriggers,
		LimitSamples:      d.LimitSamples,
		ForceStopDeadline: d.ForceStopDeadline,
	}
	if err := dec.DownloadCapture(); err != nil {
		d.log().Errorf("download capture: %v", err)
		d.state = Idle
		return err
	}
	d.log().Infof("capture downloaded")
	d.state = Idle
	return nil
}

func (d *Device) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}
