// Command sigma-genregmap generates a markdown register map from the
// register addresses this driver core defines, the same
// reflection-over-tagged-struct approach gen_verilog.go uses to derive
// verilog snippets from fpga.Regs.
package main

import (
	"fmt"
	"os"
	"reflect"

	"github.com/sigma-la/sigma/register"
)

// registerMap mirrors the address constants in package register. Genuine
// register.* values are plain byte constants (there is no vendor header
// to reflect over), so this struct exists purely as a reflectable
// description of them for doc generation; it carries no runtime state.
type registerMap struct {
	ReadID              byte `reg:"READ_ID" desc:"FPGA/firmware identifier"`
	WriteTest           byte `reg:"WRITE_TEST" desc:"scratch register used by the LA handshake"`
	WriteMode           byte `reg:"WRITE_MODE" desc:"capture mode flags"`
	ReadMode            byte `reg:"READ_MODE" desc:"capture status flags"`
	WriteMemrow         byte `reg:"WRITE_MEMROW" desc:"DRAM row address, big-endian"`
	ReadTriggerPosLow   byte `reg:"READ_TRIGGER_POS_LOW" desc:"first of six auto-increment position registers"`
	WriteTriggerSelect  byte `reg:"WRITE_TRIGGER_SELECT" desc:"trigger LUT data / params"`
	WriteTriggerSelect2 byte `reg:"WRITE_TRIGGER_SELECT2" desc:"trigger LUT bit-position selector"`
}

func extractRegisters(x interface{}) []string {
	var lines []string
	t := reflect.TypeOf(x)
	v := reflect.ValueOf(x)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		val := v.Field(i).Interface().(byte)
		lines = append(lines, fmt.Sprintf("| `%-22s` | %#04x | %s |", f.Tag.Get("reg"), val, f.Tag.Get("desc")))
	}
	return lines
}

func main() {
	m := registerMap{
		ReadID:              register.ReadID,
		WriteTest:           register.WriteTest,
		WriteMode:           register.WriteMode,
		ReadMode:            register.ReadMode,
		WriteMemrow:         register.WriteMemrow,
		ReadTriggerPosLow:   register.ReadTriggerPosLow,
		WriteTriggerSelect:  register.WriteTriggerSelect,
		WriteTriggerSelect2: register.WriteTriggerSelect2,
	}

	fmt.Fprintln(os.Stdout, "| register | address | description |")
	fmt.Fprintln(os.Stdout, "|---|---|---|")
	for _, line := range extractRegisters(m) {
		fmt.Fprintln(os.Stdout, line)
	}
}
