package util

import (
	"os"
	"strings"
	"sync/atomic"
)

var verbose atomic.Int32 // 0 unset, 1 off, 2 on

// SetVerbose overrides NEXUS_VERBOSE for the life of the process.
func SetVerbose(on bool) {
	if on {
		verbose.Store(2)
		return
	}
	verbose.Store(1)
}

// IsVerbose reports whether bodies and stream events are logged. Without a
// SetVerbose call it reads NEXUS_VERBOSE ("1", "true" or "yes").
func IsVerbose() bool {
	switch verbose.Load() {
	case 1:
		return false
	case 2:
		return true
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("NEXUS_VERBOSE"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
