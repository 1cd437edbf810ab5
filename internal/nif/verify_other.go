//go:build !linux && !darwin

package nif

import "fmt"

// verifyNoCGO has no symbol-table format to scan on other GOOS values;
// the loader refuses rather than silently skip the check.
func verifyNoCGO(path string) error {
	return fmt.Errorf("nif: cgo verification is unsupported on this platform")
}
