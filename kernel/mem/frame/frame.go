// Package frame implements the two frame allocators that hand out
// physical page frames: a Watermark allocator used during early init
// before a heap exists, and a Buddy-backed allocator that forwards to the
// heap once it is available. Both satisfy the Allocator interface so the
// mapper and stack allocator can be written once against either.
package frame

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/hal/multiboot"
	"github.com/achilleasa/nyxos/kernel/mem"
	"github.com/achilleasa/nyxos/kernel/mem/addr"
	"github.com/achilleasa/nyxos/kernel/mem/heap"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
)

var (
	errWatermarkExhausted    = &kernel.Error{Module: "frame", Message: "watermark allocator: no free frames remain", Kind: kernel.ErrKindExhausted}
	errWatermarkRangeUnsupp  = &kernel.Error{Module: "frame", Message: "watermark allocator: allocate_range is not supported", Kind: kernel.ErrKindUnsupported}
)

// Range is a half-open interval [Start, End) of physical frames, the
// frame-allocator analogue of addr.PageRange.
type Range struct {
	Start, End addr.FrameNum
}

// Length returns the number of frames in the range.
func (r Range) Length() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Allocator is the shared interface implemented by Watermark and Buddy.
type Allocator interface {
	// Allocate reserves a single frame.
	Allocate() (pmm.Frame, *kernel.Error)

	// Deallocate returns a single frame.
	Deallocate(pmm.Frame)

	// AllocateRange reserves n contiguous frames.
	AllocateRange(n uint64) (Range, *kernel.Error)

	// DeallocateRange returns a range of frames previously obtained via
	// AllocateRange.
	DeallocateRange(Range)
}

// Watermark is a bump-pointer frame allocator over the memory areas
// reported by the bootloader. It is used only during early init, before
// the buddy heap exists, and is retired once the buddy-backed allocator
// takes over (see DESIGN.md for the chosen deallocate policy).
//
// Watermark relies on the bootloader reporting memory-map entries in
// ascending base-address order, which every Multiboot2-compliant
// bootloader this kernel targets does; this is the same assumption the
// historical bootmem allocators in this codebase's lineage made.
type Watermark struct {
	kernelStart, kernelEnd   addr.Phys
	bootInfoStart, bootInfoEnd addr.Phys
	nextFree                 addr.FrameNum
}

// NewWatermark constructs a watermark allocator that will never hand out
// a frame overlapping the kernel image or the boot-info payload.
func NewWatermark(kernelStart, kernelEnd, bootInfoStart, bootInfoEnd addr.Phys) *Watermark {
	return &Watermark{
		kernelStart:   kernelStart,
		kernelEnd:     kernelEnd,
		bootInfoStart: bootInfoStart,
		bootInfoEnd:   bootInfoEnd,
	}
}

// reservedEnd returns the frame number just past the reserved range
// containing f, or false if f is not inside any reserved range.
func (w *Watermark) reservedEnd(f addr.FrameNum) (addr.FrameNum, bool) {
	base := f.Base()
	if base >= w.kernelStart.AlignDown() && base < w.kernelEnd.AlignUp() {
		return addr.ContainingFrame(w.kernelEnd.AlignUp()), true
	}
	if base >= w.bootInfoStart.AlignDown() && base < w.bootInfoEnd.AlignUp() {
		return addr.ContainingFrame(w.bootInfoEnd.AlignUp()), true
	}
	return 0, false
}

// Allocate returns the next non-reserved frame at or after the current
// watermark, advancing the watermark past it.
func (w *Watermark) Allocate() (pmm.Frame, *kernel.Error) {
	found := pmm.InvalidFrame

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		areaStart := addr.FrameNum(entry.PhysAddress >> mem.PageShift)
		areaEnd := addr.FrameNum((entry.PhysAddress + entry.Length) >> mem.PageShift)

		cur := w.nextFree
		if cur < areaStart {
			cur = areaStart
		}

		for cur < areaEnd {
			if skipTo, reserved := w.reservedEnd(cur); reserved {
				cur = skipTo
				continue
			}
			found = pmm.Frame(cur)
			w.nextFree = cur + 1
			return false
		}

		return true
	})

	if !found.IsValid() {
		return pmm.InvalidFrame, errWatermarkExhausted
	}
	return found, nil
}

// Deallocate is a deliberate no-op: the watermark allocator leaks frames
// on free. It is replaced by the buddy-backed allocator once the heap is
// up, so the leaked window is small and bounded by early-boot activity.
func (w *Watermark) Deallocate(pmm.Frame) {}

// AllocateRange always fails: the watermark allocator only ever hands out
// single frames.
func (w *Watermark) AllocateRange(uint64) (Range, *kernel.Error) {
	return Range{}, errWatermarkRangeUnsupp
}

// DeallocateRange is a no-op for the same reason Deallocate is.
func (w *Watermark) DeallocateRange(Range) {}

// Buddy is a frame allocator backed by the buddy heap: allocate/
// deallocate forward to the heap with layout (PAGE_SIZE, PAGE_SIZE),
// reinterpreting the returned address as a physical frame.
type Buddy struct {
	heap *heap.Allocator
}

// NewBuddy wraps h as a frame allocator.
func NewBuddy(h *heap.Allocator) *Buddy {
	return &Buddy{heap: h}
}

// Allocate reserves a single page-aligned, page-sized frame from the
// heap.
func (b *Buddy) Allocate() (pmm.Frame, *kernel.Error) {
	return b.heap.FramePage()
}

// Deallocate returns f to the heap.
func (b *Buddy) Deallocate(f pmm.Frame) {
	b.heap.ReleaseFramePage(f)
}

// AllocateRange reserves n contiguous frames from the heap.
func (b *Buddy) AllocateRange(n uint64) (Range, *kernel.Error) {
	size := n * uint64(mem.PageSize)
	ptr, err := b.heap.Alloc(heap.Layout{Size: size, Align: uint64(mem.PageSize)})
	if err != nil {
		return Range{}, err
	}
	start := addr.FrameNum(uint64(ptr) >> mem.PageShift)
	return Range{Start: start, End: start + addr.FrameNum(n)}, nil
}

// DeallocateRange returns a range previously obtained via AllocateRange.
func (b *Buddy) DeallocateRange(r Range) {
	size := r.Length() * uint64(mem.PageSize)
	b.heap.Dealloc(uintptr(r.Start.Base()), heap.Layout{Size: size, Align: uint64(mem.PageSize)})
}
