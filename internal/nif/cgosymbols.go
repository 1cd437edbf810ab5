package nif

import "strings"

// isCGOSymbol reports whether name looks like one of the runtime symbols
// the cgo-enabled Go runtime always emits, used by both platform-specific
// verifyNoCGO implementations.
func isCGOSymbol(name string) bool {
	return strings.HasPrefix(name, "_cgo_init") ||
		strings.HasPrefix(name, "x_cgo_") ||
		strings.Contains(name, "runtime/cgo.")
}
