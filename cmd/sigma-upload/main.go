// Command sigma-upload opens a Sigma cable and uploads one firmware
// slot, the same "open device, drive one operation" shape as pk2.go.
//
// Usage:
//
//	sigma-upload DEVICE FIRMWARE-FILE SLOT
//
// where SLOT is one of 50, 100, 200, 50sync, phasor.
package main

import (
	"fmt"
	"os"

	"github.com/sigma-la/sigma/link/serial"
	"github.com/sigma-la/sigma/loader"
	"github.com/sigma-la/sigma/register"
)

var slotNames = map[string]loader.Slot{
	"50":     loader.Slot50,
	"100":    loader.Slot100,
	"200":    loader.Slot200,
	"50sync": loader.Slot50Sync,
	"phasor": loader.SlotPhasor,
}

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: sigma-upload DEVICE FIRMWARE-FILE SLOT")
		os.Exit(1)
	}
	dev, path, slotName := os.Args[1], os.Args[2], os.Args[3]

	slot, ok := slotNames[slotName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown slot %q\n", slotName)
		os.Exit(1)
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	l, err := serial.Open(dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	reg := register.New(l)
	ld := loader.New(l, reg)

	fmt.Printf("Uploading %s to slot %s...\n", path, slotName)
	if err := ld.UploadFirmware(slot, f, int(info.Size())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("Done.")
}
