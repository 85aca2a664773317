// Command sigma-info polls the Sigma's ID and mode-status registers at
// repeated intervals, the same "burst reads at N milliseconds" shape
// showreg.go documents for digdar registers.
//
// Usage:
//
//	sigma-info DEVICE MILLISECONDS COUNT
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sigma-la/sigma/link/serial"
	"github.com/sigma-la/sigma/register"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: sigma-info DEVICE MILLISECONDS COUNT")
		os.Exit(1)
	}
	dev := os.Args[1]
	interval, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	count, err := strconv.Atoi(os.Args[3])
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

	for i := 0; i < count; i++ {
		id, err := reg.ReadRegister(register.ReadID, 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		mode, err := reg.ReadRegister(register.ReadMode, 1)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("id=%#02x mode=%#02x\n", id[0], mode[0])

		if i < count-1 {
			time.Sleep(time.Duration(interval) * time.Millisecond)
		}
	}
}
