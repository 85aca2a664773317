// Package sigmacfg loads device-wide defaults from a TOML config file,
// following the same viper-based lookup ogdar's loadConfig uses: it
// looks for "sigma.toml" in /opt (the top level of an SD-card image)
// and then the current directory.
package sigmacfg

import (
	"github.com/spf13/viper"

	"github.com/sigma-la/sigma/loader"
	"github.com/sigma-la/sigma/samplerate"
)

// Config holds the settings an operator would otherwise have to pass
// on every run: which cable to open, the default samplerate and
// sample limit, and where firmware images live on disk.
type Config struct {
	Device       string `mapstructure:"device"`
	Samplerate   uint64 `mapstructure:"samplerate"`
	LimitSamples uint64 `mapstructure:"limit_samples"`
	UseTriggers  bool   `mapstructure:"use_triggers"`
	FirmwareDir  string `mapstructure:"firmware_dir"`
}

// Load reads "sigma.toml" from /opt then the working directory.
// Returns false (with cfg left unmodified) if no config file was
// found; callers should fall back to Default() in that case.
func Load(cfg *Config) bool {
	viper.SetConfigName("sigma")
	viper.AddConfigPath("/opt")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return false
	}
	viper.UnmarshalKey("sigma", cfg)
	return true
}

// Default returns sane defaults for a bench setup. There is no
// guarantee these values suit any particular installation; they exist
// so the driver has somewhere to start when no config file is present.
func Default() Config {
	return Config{
		Device:       "/dev/ttyUSB0",
		Samplerate:   uint64(samplerate.Rate1MHz),
		LimitSamples: 0,
		UseTriggers:  true,
		FirmwareDir:  ".",
	}
}

// FirmwarePath joins FirmwareDir with the on-disk name of slot's
// firmware image.
func (c Config) FirmwarePath(slot loader.Slot) string {
	name, ok := loader.FirmwareFileNames[slot]
	if !ok {
		name = "unknown.fw"
	}
	return c.FirmwareDir + "/" + name
}
