package vmm

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
)

// ErrInvalidMapping is returned when an operation needs to walk through an
// intermediate page-table entry that is not present.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "invalid page mapping", Kind: kernel.ErrKindMapError}

// PageTableEntryFlag describes one of the bit flags that can be set on a
// page-table entry.
type PageTableEntryFlag uintptr

// pageTableEntry is a single 64-bit page-table entry. Its low bits carry
// flags; a page-aligned physical address is packed into the remaining
// bits (masked by ptePhysPageMask). A zero value is "unused".
type pageTableEntry uintptr

// IsUnused reports whether this entry has never been set.
func (pte pageTableEntry) IsUnused() bool {
	return pte == 0
}

// SetUnused clears the entry, marking it unused.
func (pte *pageTableEntry) SetUnused() {
	*pte = 0
}

// HasFlags reports whether all bits in flags are set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag reports whether at least one bit in flags is set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags ORs flags into the entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

// ClearFlags clears flags from the entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

// Addr returns the page-aligned physical address encoded in the entry.
func (pte pageTableEntry) Addr() uintptr {
	return uintptr(pte) & ptePhysPageMask
}

// Frame returns the physical frame encoded in the entry. The caller
// should check HasFlags(FlagPresent) first; an unused or huge entry does
// not necessarily encode a meaningful frame for this purpose.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame(pte.Addr() >> mem.PageShift)
}

// SetFrame points the entry at frame, which must be page-aligned. Flags
// are left untouched; callers set them separately via SetFlags.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = (*pte &^ pageTableEntry(ptePhysPageMask)) | pageTableEntry(frame.Address()&ptePhysPageMask)
}

// pteForAddress walks down to the L1 entry for virtAddr, returning
// ErrInvalidMapping if any intermediate entry along the path is not
// present and errNoHugePageSupport if one is a huge entry.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		pte *pageTableEntry
		err *kernel.Error
	)

	walk(virtAddr, func(level uint8, entry *pageTableEntry) bool {
		if level < pageLevels-1 && !entry.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if level < pageLevels-1 && entry.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}
		pte = entry
		return true
	})

	if err != nil {
		return nil, err
	}
	return pte, nil
}
