package forkserver

import "github.com/behrlich/go-forkserver/internal/elfsize"

// GetAFLMapSize returns the coverage map size an instrumented binary
// expects, read from its __sancov_guards ELF section (spec.md §4.1). It
// returns an error if the section is missing or the binary can't be
// parsed as ELF.
func GetAFLMapSize(path string) (int, error) {
	size, err := elfsize.GetAFLMapSize(path)
	if err != nil {
		return 0, WrapError("elf_map_size", err)
	}
	return size, nil
}

// GetAFLMapSizeOrDefault is the non-erroring variant: it silently
// returns elfsize.DefaultMapSize when the section is absent (see
// DESIGN.md Open Question 1).
func GetAFLMapSizeOrDefault(path string) int {
	return elfsize.GetAFLMapSizeOrDefault(path)
}

// DefaultMapSize is the fallback coverage map size used by
// GetAFLMapSizeOrDefault.
const DefaultMapSize = elfsize.DefaultMapSize
