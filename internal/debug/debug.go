// Package debug holds the process-wide switch for verbose per-tick logging.
package debug

import (
	"os"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

func init() {
	// Tests and tools that never call InitFromLogLevel still honour the env.
	InitFromEnv()
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled sets whether debug logging is enabled.
func SetEnabled(value bool) {
	enabled.Store(value)
}

// InitFromEnv enables debug logging when MEDIALOADER_DEBUG or DEBUG is true,
// or when LOG_LEVEL is debug.
func InitFromEnv() {
	SetEnabled(envEnabled())
}

func envEnabled() bool {
	for _, key := range []string{"MEDIALOADER_DEBUG", "DEBUG"} {
		if strings.EqualFold(os.Getenv(key), "true") {
			return true
		}
	}
	return strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug")
}

func envSet() bool {
	return os.Getenv("MEDIALOADER_DEBUG") != "" || os.Getenv("DEBUG") != "" || os.Getenv("LOG_LEVEL") != ""
}

// InitFromLogLevel follows the configured log level unless one of the
// environment switches is set.
func InitFromLogLevel(logLevel string) {
	if envSet() {
		return
	}
	SetEnabled(strings.EqualFold(logLevel, "debug"))
}
