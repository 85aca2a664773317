// Package errs defines the small error taxonomy the Sigma driver core
// reports to its caller. All packages in this module wrap one of
// these sentinels with fmt.Errorf("...: %w", ...) rather than
// returning bare strings, so callers can dispatch with errors.Is.
package errs

import "errors"

var (
	// IO indicates a byte-link read or write failure.
	IO = errors.New("sigma: i/o error")

	// Timeout indicates a bounded wait (INIT_B assertion,
	// POSTTRIGGERED poll) ran out of retries.
	Timeout = errors.New("sigma: timeout")

	// Protocol indicates a handshake mismatch: the LA-mode ID or
	// scratch-register echo did not match what was expected.
	Protocol = errors.New("sigma: protocol error")

	// UnsupportedRate indicates a requested samplerate is not in the
	// fixed samplerate table.
	UnsupportedRate = errors.New("sigma: unsupported samplerate")

	// UnsupportedTrigger indicates a trigger description violates the
	// per-rate trigger-channel limits.
	UnsupportedTrigger = errors.New("sigma: unsupported trigger")

	// InternalBug indicates a command buffer would have overflowed;
	// reaching this means a caller violated an internal invariant.
	InternalBug = errors.New("sigma: internal bug")
)
