package vmm

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem"
)

// earlyScratchBase is the virtual address of PML4 entry 510, one entry
// below the entry (511) reserved for the recursive self-map. It is never
// touched by the recursive-mapping machinery in walk.go, so a bump
// allocator over it cannot collide with anything the mapper itself uses.
const earlyScratchBase = uintptr(0xffffff0000000000)

// earlyReserveNext is the bump pointer backing EarlyReserveRegion.
var earlyReserveNext = earlyScratchBase

var errEarlyReserveExhausted = &kernel.Error{Module: "vmm", Message: "early scratch address space exhausted", Kind: kernel.ErrKindExhausted}

// EarlyReserveRegion reserves size bytes of contiguous virtual address
// space without establishing any mapping for it. It exists to give the Go
// runtime's allocator hooks (sysReserve, sysAlloc) a range of addresses
// they can then map page by page via Map, before any general-purpose
// virtual-memory-area manager exists.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	aligned := (uint64(size) + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)

	start := earlyReserveNext
	next := start + uintptr(aligned)
	if next < start || next >= uintptr(0xffffff8000000000) {
		return 0, errEarlyReserveExhausted
	}

	earlyReserveNext = next
	return start, nil
}
