// Package sigmalog defines the logging surface this driver core takes
// as an explicit dependency rather than a package-level global,
// following the injected-logging-function style seen across the wider
// pack's hardware drivers (e.g. a LogPrintf field set via SetLogger).
package sigmalog

import "fmt"

// Logger receives diagnostic messages from the driver core. Debugf
// covers per-command/per-row tracing, Infof covers state transitions
// (firmware upload, samplerate change, arm/stop), Errorf covers
// recovered or about-to-be-returned errors worth surfacing even when
// the caller also inspects the returned error value.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop discards every call. It is the zero-value-friendly default: a
// *device.Device with no Logger assigned behaves as if Nop were set.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}

// Std adapts fmt.Printf-shaped output (e.g. a *log.Logger's Printf
// method, or fmt.Printf itself) into a Logger, for callers who just
// want messages on a writer without implementing the interface by
// hand.
type Std struct {
	Printf func(format string, args ...interface{})
}

func (s Std) Debugf(format string, args ...interface{}) { s.print("debug", format, args...) }
func (s Std) Infof(format string, args ...interface{})  { s.print("info", format, args...) }
func (s Std) Errorf(format string, args ...interface{}) { s.print("error", format, args...) }

func (s Std) print(level, format string, args ...interface{}) {
	if s.Printf == nil {
		return
	}
	s.Printf("sigma: %s: %s", level, fmt.Sprintf(format, args...))
}
