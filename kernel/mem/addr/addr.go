// Package addr implements the typed physical and virtual address
// abstractions that every other mem/ package builds on: Phys and Virt
// addresses, the Page and Frame number types derived from them, and the
// half-open PageRange used by the stack allocator and the mapper.
package addr

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem"
)

var errNonCanonicalAddress = &kernel.Error{Module: "addr", Message: "virtual address is not in canonical form"}

// Phys is a physical memory address. It has value semantics and does not
// implicitly convert to or from Virt.
type Phys uintptr

// IsPageAligned returns true if the address falls on a page boundary.
func (p Phys) IsPageAligned() bool {
	return p&Phys(mem.PageSize-1) == 0
}

// AlignDown rounds the address down to the previous page boundary.
func (p Phys) AlignDown() Phys {
	return p &^ Phys(mem.PageSize-1)
}

// AlignUp rounds the address up to the next page boundary.
func (p Phys) AlignUp() Phys {
	return (p + Phys(mem.PageSize-1)) &^ Phys(mem.PageSize-1)
}

// Frame returns the frame number containing this address.
func (p Phys) Frame() FrameNum {
	return FrameNum(p >> mem.PageShift)
}

// Virt is a virtual memory address. Arithmetic on it must only ever
// produce values in canonical form; IsCanonical and MustCanonical check
// this for a Virt built from a raw integer. Arithmetic on a Virt does not
// check it.
type Virt uintptr

// canonicalMask covers bits 47..63 inclusive.
const canonicalMask = uintptr(0xffff800000000000)

// IsCanonical reports whether the address has a valid canonical form on
// x86_64: bits 47..63 must be all zero or all one.
func (v Virt) IsCanonical() bool {
	top := uintptr(v) & canonicalMask
	return top == 0 || top == canonicalMask
}

// MustCanonical panics (via kernel.Panic) if the address is not in
// canonical form and otherwise returns it unchanged. The mapper and the
// stack allocator do not call it.
func (v Virt) MustCanonical() Virt {
	if !v.IsCanonical() {
		kernel.Panic(errNonCanonicalAddress)
	}
	return v
}

// IsPageAligned returns true if the address falls on a page boundary.
func (v Virt) IsPageAligned() bool {
	return v&Virt(mem.PageSize-1) == 0
}

// AlignDown rounds the address down to the previous page boundary.
func (v Virt) AlignDown() Virt {
	return v &^ Virt(mem.PageSize-1)
}

// AlignUp rounds the address up to the next page boundary.
func (v Virt) AlignUp() Virt {
	return (v + Virt(mem.PageSize-1)) &^ Virt(mem.PageSize-1)
}

// Page returns the page number containing this address.
func (v Virt) Page() PageNum {
	return PageNum(v >> mem.PageShift)
}

// Index returns the 9-bit page-table index for the given table level
// (4 down to 1), per the bit layout in the data model: level 4 at bit 39,
// level 3 at 30, level 2 at 21, level 1 at 12.
func (v Virt) Index(level uint8) uintptr {
	shift := uint(level-1)*9 + 12
	return (uintptr(v) >> shift) & 0x1ff
}

// FrameNum identifies a physical page frame by its page number.
type FrameNum uint64

// ContainingFrame truncates addr down to the frame that covers it.
func ContainingFrame(p Phys) FrameNum {
	return FrameNum(p >> mem.PageShift)
}

// Base returns the physical address of the first byte of this frame.
func (f FrameNum) Base() Phys {
	return Phys(f << mem.PageShift)
}

// PageNum identifies a virtual memory page by its page number.
type PageNum uint64

// ContainingPage truncates addr down to the page that covers it.
func ContainingPage(v Virt) PageNum {
	return PageNum(v >> mem.PageShift)
}

// Base returns the virtual address of the first byte of this page.
func (p PageNum) Base() Virt {
	return Virt(p << mem.PageShift)
}

// PageRange describes a half-open interval [Start, End) of virtual pages.
type PageRange struct {
	Start PageNum
	End   PageNum
}

// Length returns the number of pages covered by the range.
func (r PageRange) Length() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// IsEmpty reports whether the range contains no pages.
func (r PageRange) IsEmpty() bool {
	return r.Length() == 0
}

// DropFront removes the first n pages from the range, returning the
// updated range. It never moves Start past End.
func (r PageRange) DropFront(n uint64) PageRange {
	r.Start += PageNum(n)
	if r.Start > r.End {
		r.Start = r.End
	}
	return r
}

// DropBack removes the last n pages from the range.
func (r PageRange) DropBack(n uint64) PageRange {
	if PageNum(n) > r.End-r.Start {
		r.End = r.Start
	} else {
		r.End -= PageNum(n)
	}
	return r
}

// AddFront extends the range by n pages at the start, moving Start
// backwards. Callers are responsible for ensuring the result still makes
// sense for their address space.
func (r PageRange) AddFront(n uint64) PageRange {
	r.Start -= PageNum(n)
	return r
}

// AddBack extends the range by n pages at the end.
func (r PageRange) AddBack(n uint64) PageRange {
	r.End += PageNum(n)
	return r
}
