// Package stack hands out guard-paged kernel stacks carved out of a
// virtual page range.
package stack

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem/addr"
	"github.com/achilleasa/nyxos/kernel/mem/vmm"
)

// mapToAnyFn and unmapFn are used by tests to override the real mapper
// calls; the compiler inlines them away in the kernel build.
var (
	mapToAnyFn = vmm.MapToAny
	unmapFn    = vmm.Unmap
)

// errZeroPageStack is returned when a caller asks for a zero-page stack.
var errZeroPageStack = &kernel.Error{Module: "stack", Message: "cannot allocate a zero-page stack", Kind: kernel.ErrKindUnsupported}

// errExhausted is returned when the backing range does not have enough
// pages left for a guard page plus the requested stack pages.
var errExhausted = &kernel.Error{Module: "stack", Message: "stack page range exhausted", Kind: kernel.ErrKindExhausted}

// Stack describes the virtual address span handed to a stack's owner.
// Because stacks grow downward, Top is the high address where the first
// push lands (just below it) and Bottom is the low address one past the
// last byte available to the stack.
type Stack struct {
	Top    addr.Virt
	Bottom addr.Virt
}

// Allocator hands out guard-paged stacks from a contiguous virtual page
// range. Each call to Allocate consumes one guard page (left unmapped) plus
// numPages mapped pages from the front of the range; the range's state only
// advances once the whole request has succeeded.
type Allocator struct {
	pages addr.PageRange
}

// New creates an Allocator over pages. The caller owns reserving pages so
// that no other mapping collides with it.
func New(pages addr.PageRange) *Allocator {
	return &Allocator{pages: pages}
}

// Allocate reserves a guard page followed by numPages mapped pages from the
// front of the allocator's range, mapping each of the numPages with
// vmm.MapToAny using allocFn, and returns the resulting Stack.
func (a *Allocator) Allocate(numPages uint64, flags vmm.PageTableEntryFlag, allocFn vmm.FrameAllocatorFn) (Stack, *kernel.Error) {
	if numPages == 0 {
		return Stack{}, errZeroPageStack
	}

	working := a.pages
	if working.Length() < numPages+1 {
		return Stack{}, errExhausted
	}

	// Reserve the guard page; it is never mapped.
	working = working.DropFront(1)

	startPage := working.Start
	endPage := addr.PageNum(uint64(startPage) + numPages)

	for p := startPage; p < endPage; p++ {
		page := vmm.PageFromAddress(uintptr(p.Base()))
		if _, err := mapToAnyFn(page, flags|vmm.FlagRW, allocFn); err != nil {
			// Unwind any pages already mapped for this request before
			// reporting failure; the range itself was never advanced.
			for q := startPage; q < p; q++ {
				unmapFn(vmm.PageFromAddress(uintptr(q.Base())))
			}
			return Stack{}, err
		}
	}

	// Commit: advance the range state only now that every page mapped.
	a.pages = working.DropFront(numPages)

	return Stack{
		Top:    endPage.Base(),
		Bottom: startPage.Base(),
	}, nil
}
