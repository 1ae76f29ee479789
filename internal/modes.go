package internal

import (
	"strconv"
	"sync/atomic"
)

// Output modes for the envman CLI.
//
// Each mode is seeded from a raw linker-flag string at startup, so a
// pipeline can ship a quiet or debug binary, and raised later from the
// parsed command-line flags. Atomics keep the flip safe even though the
// CLI itself is sequential.
var (
	quietMode   atomic.Bool
	debugMode   atomic.Bool
	verboseMode atomic.Bool
)

// Seeds the modes from rawQuiet, rawDebug, and rawVerbose.
//
// Values that do not parse as booleans leave the mode disabled.
func init() {
	seed(rawQuiet, &quietMode)
	seed(rawDebug, &debugMode)
	seed(rawVerbose, &verboseMode)
}

func seed(raw string, mode *atomic.Bool) {
	if v, err := strconv.ParseBool(raw); err == nil {
		mode.Store(v)
	}
}

// Enables or disables quiet mode. Quiet suppresses informational
// output, leaving warnings and errors.
func SetQuiet(enabled bool) {
	quietMode.Store(enabled)
}

// Returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// Enables or disables debug mode. Debug turns on debug-level logging
// and caller reporting.
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Returns true if debug mode is enabled.
func IsDebug() bool {
	return debugMode.Load()
}

// Enables or disables verbose mode. Verbose surfaces long-form output
// such as image build logs.
func SetVerbose(enabled bool) {
	verboseMode.Store(enabled)
}

// Returns true if verbose mode is enabled.
func IsVerbose() bool {
	return verboseMode.Load()
}
