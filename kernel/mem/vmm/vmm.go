package vmm

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// panicFn is mocked by tests and is automatically inlined by the
	// compiler.
	panicFn = kernel.Panic

	// ReservedZeroedFrame is a single physical frame, zeroed once at
	// Init, used together with FlagCopyOnWrite for lazy-allocation
	// mappings: many virtual pages can point at it read-only until one
	// of them is actually written to.
	ReservedZeroedFrame pmm.Frame

	// protectReservedZeroedPage becomes true once ReservedZeroedFrame is
	// set up; after that point attempting to map it with FlagRW is a bug.
	protectReservedZeroedPage bool
)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// HandlePageFault services a page fault at faultAddress. This package
// does not wire itself to any particular interrupt vector — IDT and
// exception-vector programming belong to the boot/interrupt-controller
// code this design treats as an external collaborator. It is meant to be
// invoked from that code's page-fault exception handler with the
// faulting address (read from CR2) and the x86 page-fault error code.
//
// If the fault is recoverable (a copy-on-write page being written to for
// the first time), HandlePageFault performs the copy, updates the
// mapping, and returns nil; the caller should then retry the faulting
// instruction. Any other fault returns a non-nil, generally fatal error
// describing the reason, via DecodeFaultReason.
func HandlePageFault(faultAddress uintptr, errorCode uint64) *kernel.Error {
	faultPage := PageFromAddress(faultAddress)
	var pageEntry *pageTableEntry

	// Lookup entry for the page where the fault occurred.
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)
		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set.
	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		copyFrame, err := frameAllocator()
		if err != nil {
			return err
		}
		tmpPage, err := mapTemporaryFn(copyFrame, frameAllocator)
		if err != nil {
			return err
		}

		mem.Memcopy(faultPage.Address(), tmpPage.Address(), uint(mem.PageSize))
		if err := unmapFn(tmpPage); err != nil {
			return err
		}

		pageEntry.ClearFlags(FlagCopyOnWrite)
		pageEntry.SetFlags(FlagPresent | FlagRW)
		pageEntry.SetFrame(copyFrame)
		flushTLBEntryFn(faultPage.Address())
		return nil
	}

	return DecodeFaultReason(errorCode)
}

// DecodeFaultReason turns an x86 page-fault error code into a kernel
// error carrying a human-readable description, for a caller that has
// already determined the fault is not recoverable.
func DecodeFaultReason(errorCode uint64) *kernel.Error {
	var reason string
	switch errorCode {
	case 0:
		reason = "read from non-present page"
	case 1:
		reason = "page protection violation (read)"
	case 2:
		reason = "write to non-present page"
	case 3:
		reason = "page protection violation (write)"
	case 4:
		reason = "page-fault in user-mode"
	case 8:
		reason = "page table has reserved bit set"
	case 16:
		reason = "instruction fetch"
	default:
		reason = "unknown"
	}

	return &kernel.Error{Module: "vmm", Message: reason, Kind: kernel.ErrKindMapError}
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests.
func reserveZeroedFrame() *kernel.Error {
	var (
		err      *kernel.Error
		tempPage Page
	)

	if ReservedZeroedFrame, err = frameAllocator(); err != nil {
		return err
	} else if tempPage, err = mapTemporaryFn(ReservedZeroedFrame, frameAllocator); err != nil {
		return err
	}
	mem.Memset(tempPage.Address(), 0, mem.PageSize)
	if err = unmapFn(tempPage); err != nil {
		return err
	}

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag.
	protectReservedZeroedPage = true
	return nil
}

// Init prepares the mapper for use by reserving the zeroed frame used by
// lazy copy-on-write mappings. Registering HandlePageFault with the
// interrupt controller is the responsibility of the boot code that owns
// exception vectors.
func Init() *kernel.Error {
	return reserveZeroedFrame()
}
