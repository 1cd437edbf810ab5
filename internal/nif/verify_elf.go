//go:build linux

package nif

import "debug/elf"

// verifyNoCGO scans the plugin's ELF symbol table for any cgo runtime
// symbol (_cgo_init, x_cgo_*), the closest verifiable Go-native stand-in
// for spec.md's "memory-safe compilation" marker: a plugin built with
// CGO_ENABLED=0 carries none of these.
func verifyNoCGO(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		// A stripped binary with no symbol table at all cannot be
		// positively cleared; treat it the same as cgo-present rather
		// than silently trust it.
		return ErrCGOPresent
	}
	for _, s := range syms {
		if isCGOSymbol(s.Name) {
			return ErrCGOPresent
		}
	}
	return nil
}
