// Package decode implements the Sigma's capture retrieval and decode
// pipeline (spec component C8): forcing a stop, reading back the
// trigger/stop positions, pulling DRAM rows in bounded chunks, and for
// each row expanding its run-length-encoded clusters into a flat
// sample stream, deinterleaving multi-sample events at 100/200MHz, and
// pinpointing the exact trigger sample within the pipeline-delayed
// hardware trigger position.
//
// Ported from decode_chunk_ts, sigma_decode_dram_cluster,
// get_trigger_offset, sigma_deinterlace_100mhz_data,
// sigma_deinterlace_200mhz_data, sigma_session_send, and
// download_capture in original_source/protocol.c.
package decode

import (
	"fmt"
	"time"

	"github.com/sigma-la/sigma/datafeed"
	"github.com/sigma-la/sigma/dram"
	"github.com/sigma-la/sigma/errs"
	"github.com/sigma-la/sigma/register"
	"github.com/sigma-la/sigma/samplerate"
	"github.com/sigma-la/sigma/trigger"
)

// Row and cluster geometry. A DRAM row holds 64 clusters of 16 bytes
// each (a 2-byte timestamp plus 7 sample entities of 2 bytes); each
// cluster therefore spans 7 "events" in the capture timeline.
const (
	EventsPerCluster = 7
	ClustersPerRow   = 64
	EventsPerRow     = ClustersPerRow * EventsPerCluster
	clusterBytes     = 16
	rowShift         = 9
	rowMask          = 0x1ff
)

// RowCount is the total number of rows in the device's circular DRAM
// buffer. Like the register addresses in package register, this value
// could not be independently verified against the vendor's header and
// is this driver's own accounting constant; the row-accounting
// arithmetic that uses it is preserved exactly from the original.
const RowCount = 16384

// samplesBufferSize bounds the per-cluster scratch buffer: up to
// EventsPerRow/EventsPerCluster... in practice ROW_LENGTH_U16 (512)
// events at up to 4 samples per event, 2 bytes per sample.
const samplesBufferSize = 512 * 2 * 4

// Decoder drives capture retrieval and decode for one acquisition. Its
// lastts/lastsample/sentSamples fields carry RLE and sample-limit
// state across the per-row, per-cluster decode calls of a single
// DownloadCapture run; a Decoder must not be reused concurrently.
type Decoder struct {
	Reg  *register.Protocol
	DRAM *dram.Reader
	Sink datafeed.Sink

	Rate            samplerate.Rate
	SamplesPerEvent int
	Trigger         trigger.Config
	UseTriggers     bool

	// LimitSamples caps the total sample points delivered to Sink via
	// SendLogic across the whole capture; zero means unbounded.
	LimitSamples uint64

	// ForceStopDeadline bounds how long DownloadCapture waits for the
	// hardware to acknowledge a forced stop. The original C driver
	// polls unconditionally; this is the one place SPEC_FULL adds a
	// deadline so a wedged cable cannot hang the caller forever.
	ForceStopDeadline time.Duration

	lastts      uint16
	lastsample  uint16
	sentSamples uint64
	scratch     *sampleScratch
}

// DownloadCapture forces the acquisition to stop, determines how many
// DRAM rows hold valid data (accounting for the circular buffer having
// wrapped, per RMR_ROUND), retrieves them in chunks bounded by
// dram.MaxRowsPerRead, and decodes each one, in the same row/line
// accounting order as the original download_capture.
func (d *Decoder) DownloadCapture() error {
	if err := d.Reg.SetRegister(register.WriteMode, register.ModeForceStop|register.ModeSDRAMWriteEn); err != nil {
		return err
	}

	deadline := time.Now().Add(d.ForceStopDeadline)
	for {
		status, err := d.Reg.ReadRegister(register.ReadMode, 1)
		if err != nil {
			return err
		}
		if status[0]&register.StatusPostTriggered != 0 {
			break
		}
		if d.ForceStopDeadline > 0 && time.Now().After(deadline) {
			return fmt.Errorf("forced stop: POSTTRIGGERED never asserted: %w", errs.Timeout)
		}
		time.Sleep(time.Millisecond)
	}

	if err := d.Reg.SetRegister(register.WriteMode, register.ModeSDRAMReadEn); err != nil {
		return err
	}

	triggerpos, stoppos, err := d.Reg.ReadPositions()
	if err != nil {
		return err
	}

	status, err := d.Reg.ReadRegister(register.ReadMode, 1)
	if err != nil {
		return err
	}
	modestatus := status[0]

	var trgLine, trgEvent uint32
	trgValid := modestatus&register.StatusTriggered != 0
	if trgValid {
		trgLine = triggerpos >> rowShift
		trgEvent = triggerpos & rowMask
	}

	d.sentSamples = 0

	dlFirstLine := uint32(0)
	dlLinesTotal := (stoppos >> rowShift) + 1
	if modestatus&register.StatusRound != 0 {
		dlFirstLine = dlLinesTotal + 1
		dlLinesTotal = RowCount - 2
	}

	dlEventsInLine := uint32(EventsPerRow)
	dlLinesDone := uint32(0)
	for dlLinesTotal > dlLinesDone {
		dlLinesCurr := dlLinesTotal - dlLinesDone
		if dlLinesCurr > dram.MaxRowsPerRead {
			dlLinesCurr = dram.MaxRowsPerRead
		}

		dlLine := (dlFirstLine + dlLinesDone) % RowCount
		data, err := d.DRAM.Read(uint16(dlLine), int(dlLinesCurr))
		if err != nil {
			return err
		}

		if dlLinesDone == 0 {
			d.lastts = clusterTimestamp(data[0:clusterBytes])
			d.lastsample = 0
		}

		for i := uint32(0); i < dlLinesCurr; i++ {
			eventsInLine := dlEventsInLine
			if dlLinesDone+i == dlLinesTotal-1 {
				eventsInLine = stoppos & rowMask
			}

			triggerValid := trgValid && dlLinesDone+i == trgLine
			row := data[i*dram.RowLengthBytes : (i+1)*dram.RowLengthBytes]
			if err := d.decodeChunkTS(row, eventsInLine, triggerValid, trgEvent); err != nil {
				return err
			}
		}

		dlLinesDone += dlLinesCurr
	}

	return d.Sink.SendEnd()
}

// decodeChunkTS decodes every cluster in one 1024-byte DRAM row.
func (d *Decoder) decodeChunkTS(row []byte, eventsInLine uint32, triggerValid bool, triggerEvent uint32) error {
	clustersInLine := (eventsInLine + EventsPerCluster - 1) / EventsPerCluster

	triggerClusterValid := false
	var triggerCluster uint32
	if triggerValid && triggerEvent < EventsPerRow {
		te := triggerEvent
		if d.Rate <= samplerate.Rate50MHz {
			margin := uint32(EventsPerCluster - 1)
			if te < margin {
				margin = te
			}
			te -= margin
		}
		triggerCluster = te / EventsPerCluster
		triggerClusterValid = true
	}

	for i := uint32(0); i < clustersInLine; i++ {
		eventsInCluster := uint32(EventsPerCluster)
		if i == clustersInLine-1 && eventsInLine%EventsPerCluster != 0 {
			eventsInCluster = eventsInLine % EventsPerCluster
		}

		triggered := triggerClusterValid && i == triggerCluster
		cluster := row[i*clusterBytes : (i+1)*clusterBytes]
		if err := d.decodeDRAMCluster(cluster, eventsInCluster, triggered); err != nil {
			return err
		}
	}
	return nil
}

// decodeDRAMCluster expands the RLE gap since the previous cluster,
// deinterleaves this cluster's events according to the active
// samplerate, splits off any pre-trigger samples, and sends everything
// through d.Sink.
func (d *Decoder) decodeDRAMCluster(cluster []byte, eventsInCluster uint32, triggered bool) error {
	ts := clusterTimestamp(cluster)
	tsdiff := ts - d.lastts
	d.lastts = ts + EventsPerCluster

	if d.scratch == nil {
		d.scratch = newSampleScratch(samplesBufferSize)
	}
	samples := d.scratch.slice(samplesBufferSize)

	for i := 0; i < int(tsdiff); i++ {
		idx := i % 1024
		storeSample(samples, idx, d.lastsample)

		if idx == 1023 || i == int(tsdiff)-1 {
			length := (idx + 1) * datafeed.UnitSize
			for j := 0; j < d.SamplesPerEvent; j++ {
				if err := d.send(samples[:length]); err != nil {
					return err
				}
			}
		}
	}

	sendCount := 0
	var sample uint16
	for i := 0; i < int(eventsInCluster); i++ {
		item16 := clusterDataItem(cluster, i)
		switch d.Rate {
		case samplerate.Rate200MHz:
			for k := 0; k < 4; k++ {
				sample = deinterlace200MHz(item16, k)
				storeSample(samples, sendCount, sample)
				sendCount++
			}
		case samplerate.Rate100MHz:
			for k := 0; k < 2; k++ {
				sample = deinterlace100MHz(item16, k)
				storeSample(samples, sendCount, sample)
				sendCount++
			}
		default:
			sample = item16
			storeSample(samples, sendCount, sample)
			sendCount++
		}
	}

	sendOffset := 0
	if triggered {
		// The trigger is not always accurate to the sample because of
		// pipeline delay, but it always fires before the actual event:
		// look ahead at the next samples to pinpoint its exact position.
		triggerOffset := getTriggerOffset(samples, d.lastsample, d.Trigger)
		if triggerOffset > 0 {
			trigCount := triggerOffset * d.SamplesPerEvent
			if err := d.send(samples[:trigCount*datafeed.UnitSize]); err != nil {
				return err
			}
			sendOffset += trigCount * datafeed.UnitSize
			sendCount -= trigCount
		}
		if d.UseTriggers {
			if err := d.Sink.SendTrigger(); err != nil {
				return err
			}
		}
	}

	if sendCount > 0 {
		if err := d.send(samples[sendOffset : sendOffset+sendCount*datafeed.UnitSize]); err != nil {
			return err
		}
	}

	d.lastsample = sample
	return nil
}

// send forwards data to d.Sink.SendLogic, clamping it against
// LimitSamples exactly as sigma_session_send does: once the limit is
// reached no further bytes are ever sent, and a packet that would
// cross the limit is truncated to land on it.
func (d *Decoder) send(data []byte) error {
	if d.LimitSamples == 0 {
		return d.Sink.SendLogic(data)
	}

	sendNow := uint64(len(data)) / datafeed.UnitSize
	if d.sentSamples+sendNow > d.LimitSamples {
		sendNow = d.LimitSamples - d.sentSamples
		data = data[:sendNow*datafeed.UnitSize]
	}
	if sendNow == 0 {
		return nil
	}
	d.sentSamples += sendNow
	return d.Sink.SendLogic(data)
}

// getTriggerOffset performs the software trigger pinpointing described
// above decodeDRAMCluster: it replays the trigger condition against the
// next 8 decoded samples and returns the index of the first one that
// actually satisfies it, or 0 if none does.
func getTriggerOffset(samples []byte, lastSample uint16, t trigger.Config) int {
	var sample uint16
	i := 0
	for ; i < 8; i++ {
		if i > 0 {
			lastSample = sample
		}
		sample = uint16(samples[2*i]) | uint16(samples[2*i+1])<<8

		if sample&t.SimpleMask != t.SimpleValue {
			continue
		}
		if lastSample&t.RisingMask != 0 || sample&t.RisingMask != t.RisingMask {
			continue
		}
		if lastSample&t.FallingMask != t.FallingMask || sample&t.FallingMask != 0 {
			continue
		}
		break
	}
	return i & 0x7
}

// clusterTimestamp reads a cluster's 16-bit timestamp: low byte first,
// high byte second.
func clusterTimestamp(cluster []byte) uint16 {
	return uint16(cluster[1])<<8 | uint16(cluster[0])
}

// clusterDataItem reads the idx'th 16-bit sample entity of a cluster.
// The two wire bytes are assembled low-then-high and then byte-swapped;
// this mirrors sigma_dram_cluster_data exactly, which is not a no-op
// despite appearances: the swap is what puts the interleaved-sample
// bit pattern deinterlace100MHz/200MHz expect into the low byte.
func clusterDataItem(cluster []byte, idx int) uint16 {
	base := 2 + 2*idx
	v := uint16(cluster[base]) | uint16(cluster[base+1])<<8
	return (v >> 8) | (v << 8)
}

// deinterlace100MHz recovers one 8-channel sample (idx 0 or 1) from a
// 16-bit item holding two interleaved 8-bit samples.
func deinterlace100MHz(indata uint16, idx int) uint16 {
	indata >>= uint(idx)
	var out uint16
	for k := uint(0); k < 8; k++ {
		out |= (indata >> k) & (1 << k)
	}
	return out
}

// deinterlace200MHz recovers one 4-channel sample (idx 0..3) from a
// 16-bit item holding four interleaved 4-bit samples.
func deinterlace200MHz(indata uint16, idx int) uint16 {
	indata >>= uint(idx)
	var out uint16
	for k := uint(0); k < 4; k++ {
		out |= (indata >> (3 * k)) & (1 << k)
	}
	return out
}

func storeSample(samples []byte, idx int, data uint16) {
	samples[2*idx] = byte(data)
	samples[2*idx+1] = byte(data >> 8)
}
