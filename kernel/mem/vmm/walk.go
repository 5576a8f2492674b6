package vmm

import (
	"unsafe"

	"github.com/achilleasa/nyxos/kernel/mem"
)

// ptePtrFn is used by tests to override the memory access performed by
// walk; when compiling the kernel this indirection is inlined away.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// pageTableWalker is invoked by walk once for each page-table level
// visited on the way down to virtAddr's L1 entry. Returning false aborts
// the walk early.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk descends the four-level page-table hierarchy for virtAddr using
// the recursive self-map trick: entry 511 of the top-level table points
// back at the table itself, so shifting a partially-constructed address
// left by another level's worth of bits and re-indexing through the same
// self-map entry produces the virtual address of the next level down,
// with no separate data structure recording where any table lives.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := pdtVirtualAddr

	for level := uint8(0); level < pageLevels; level++ {
		shift := pageLevelShifts[level]
		entryIndex := (virtAddr >> shift) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		tableAddr = entryAddr << pageLevelBits[level]
	}
}
