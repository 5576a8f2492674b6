package vmm

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
)

// hugePageShift returns the number of low bits of a virtual address that
// should be preserved verbatim when a translation bottoms out at a huge
// entry, per level: L3 huge entries cover 1 GiB, L2 huge entries cover
// 2 MiB. level is expressed the same way walk numbers levels (0 == L4).
func hugePageShift(level uint8) uint8 {
	return pageLevelShifts[level]
}

// TranslatePage is the Page-typed counterpart of Translate: it returns
// the frame backing page, or ErrInvalidMapping if page is not mapped.
func TranslatePage(page Page) (pmm.Frame, *kernel.Error) {
	physAddr, err := translateHonoringHugePages(page.Address())
	if err != nil {
		return pmm.InvalidFrame, err
	}
	return pmm.Frame(physAddr >> mem.PageShift), nil
}

// translateHonoringHugePages walks virtAddr down the hierarchy, stopping
// early and computing the physical address directly from a huge entry's
// frame plus the appropriate low-bit offset from virtAddr if one is
// encountered at L3 (1 GiB) or L2 (2 MiB).
func translateHonoringHugePages(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		physAddr uintptr
		err      *kernel.Error
		resolved bool
	)

	walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) && level < pageLevels-1 {
			offsetMask := uintptr(1)<<hugePageShift(level) - 1
			physAddr = pte.Addr() + (virtAddr & offsetMask)
			resolved = true
			return false
		}

		if level == pageLevels-1 {
			physAddr = pte.Addr() + (virtAddr & uintptr(mem.PageSize-1))
			resolved = true
			return false
		}

		return true
	})

	if err != nil {
		return 0, err
	}
	if !resolved {
		return 0, ErrInvalidMapping
	}
	return physAddr, nil
}

// IdentityMap maps frame at the virtual page whose base numerically
// equals the frame's base address.
func IdentityMap(frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) (Page, *kernel.Error) {
	page := PageFromAddress(frame.Address())
	if err := Map(page, frame, flags, allocFn); err != nil {
		return 0, err
	}
	return page, nil
}

// MapToAny allocates a fresh frame via allocFn and maps page to it.
func MapToAny(page Page, flags PageTableEntryFlag, allocFn FrameAllocatorFn) (pmm.Frame, *kernel.Error) {
	frame, err := allocFn()
	if err != nil {
		return pmm.InvalidFrame, err
	}
	if err := Map(page, frame, flags, allocFn); err != nil {
		return pmm.InvalidFrame, err
	}
	return frame, nil
}

// UnmapReturningFrame removes the mapping for page and returns the frame
// it was backed by to allocFn's deallocator, exactly as spec.md's unmap
// operation describes: read the frame, mark the entry unused, invalidate
// the TLB, then return the frame to the allocator. Intermediate empty
// tables are deliberately left in place.
func UnmapReturningFrame(page Page, dealloc func(pmm.Frame)) (pmm.Frame, *kernel.Error) {
	pte, err := pteForAddress(page.Address())
	if err != nil {
		return pmm.InvalidFrame, err
	}
	if pte.HasFlags(FlagHugePage) {
		return pmm.InvalidFrame, errNoHugePageSupport
	}

	frame := pte.Frame()
	if err := Unmap(page); err != nil {
		return pmm.InvalidFrame, err
	}

	dealloc(frame)
	return frame, nil
}
