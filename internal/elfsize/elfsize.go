// Package elfsize determines the coverage bitmap size an instrumented
// target binary expects, by reading the size of its __sancov_guards ELF
// section (spec.md §4.1). Parsing goes through the standard library's
// debug/elf rather than a third-party ELF library: the pack's own
// bobbydeveaux-starbucks-mugs eBPF loader takes the same approach
// (internal/watcher/ebpf/loader_linux.go), and Go's debug/elf is a
// complete enough reader that nothing here needs goblin, which the
// original Rust implementation used.
package elfsize

import (
	"bytes"
	"debug/elf"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultMapSize is the coverage map size used when a target has no
// __sancov_guards section, matching the constant the original
// implementation falls back to (original_source/bindings/src/compat.rs).
const DefaultMapSize = 65535

const sancovGuardsSection = "__sancov_guards"

// GetAFLMapSize returns the number of coverage-map entries the target
// binary was compiled with: 5 reserved entries plus one per guard in its
// __sancov_guards section. It returns an error if the binary cannot be
// parsed as ELF or the section is absent.
func GetAFLMapSize(path string) (int, error) {
	data, closeFn, err := mmapFile(path)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("elfsize: parse %s: %w", path, err)
	}
	defer f.Close()

	section := f.Section(sancovGuardsSection)
	if section == nil {
		return 0, fmt.Errorf("elfsize: %s: no %s section", path, sancovGuardsSection)
	}

	// Each guard is a 4-byte uint32 counter index; the first 5 map entries
	// are reserved by the instrumentation runtime.
	return 5 + int(section.Size/4), nil
}

// GetAFLMapSizeOrDefault is the non-erroring variant: it silently returns
// DefaultMapSize when the section is missing or the file can't be
// parsed, matching the original implementation's default-map-size
// fallback (see DESIGN.md Open Question 1).
func GetAFLMapSizeOrDefault(path string) int {
	size, err := GetAFLMapSize(path)
	if err != nil {
		return DefaultMapSize
	}
	return size
}

// mmapFile maps path read-only and returns the bytes plus a closer.
func mmapFile(path string) ([]byte, func(), error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("elfsize: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, nil, fmt.Errorf("elfsize: stat %s: %w", path, err)
	}
	if stat.Size == 0 {
		return nil, nil, fmt.Errorf("elfsize: %s is empty", path)
	}

	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("elfsize: mmap %s: %w", path, err)
	}
	return data, func() { _ = unix.Munmap(data) }, nil
}
