package sigmacfg

import (
	"testing"

	"github.com/sigma-la/sigma/loader"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	if cfg.Device == "" {
		t.Fatal("Default() left Device empty")
	}
	if cfg.Samplerate == 0 {
		t.Fatal("Default() left Samplerate unset")
	}
}

func TestFirmwarePathJoinsDir(t *testing.T) {
	cfg := Config{FirmwareDir: "/opt/firmware"}
	got := cfg.FirmwarePath(loader.Slot100)
	want := "/opt/firmware/asix-sigma-100.fw"
	if got != want {
		t.Fatalf("FirmwarePath = %q, want %q", got, want)
	}
}
