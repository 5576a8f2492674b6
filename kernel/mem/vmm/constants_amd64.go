// +build amd64

package vmm

import "math"

const (
	// pageLevels is the number of levels in the x86_64 page-table
	// hierarchy (PML4, PDPT, PD, PT).
	pageLevels = 4

	// ptePhysPageMask masks a page-table entry down to its 40-bit
	// page-aligned physical address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is the fixed virtual address used by MapTemporary.
	// It uses the table indices 510, 511, 511, 511: the last page covered
	// by PML4 entry 510, just below the recursive self-map entry (511).
	tempMappingAddr = uintptr(0xffffff7ffffff000)

	// pdtVirtualAddr is the canonical virtual address of the active
	// top-level table itself, reached by indexing the recursive self-map
	// at every level (511, 511, 511, 511).
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))
)

// pageLevelBits holds the number of bits used for the table index at each
// paging level; x86_64 uses 9 bits (512 entries) at every level.
var pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

// pageLevelShifts holds the bit offset of the table index at each paging
// level: level 4 at bit 39, level 3 at 30, level 2 at 21, level 1 at 12.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// Page-table entry flags, matching the data model in full: low bits are
// flags, bit 63 is NO_EXECUTE, and the high/middle bits (masked by
// ptePhysPageMask) hold the page-aligned physical address.
const (
	FlagPresent PageTableEntryFlag = 1 << iota
	FlagRW
	FlagUserAccessible
	FlagWriteThroughCaching
	FlagDoNotCache
	FlagAccessed
	FlagDirty
	FlagHugePage
	FlagGlobal

	// FlagCopyOnWrite is a software-defined bit (one of the entry's
	// available bits) used to mark a read-only page that should be
	// copied on write rather than faulting unrecoverably.
	FlagCopyOnWrite PageTableEntryFlag = 1 << 9

	// FlagNoExecute is bit 63; its meaning is inverted from the ELF
	// section "executable" flag (is_executable -> !NO_EXECUTE).
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
