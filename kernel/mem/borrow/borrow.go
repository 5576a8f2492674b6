// Package borrow implements scoped ownership wrappers around heap
// allocations and physical frames. Each wrapper releases its resource
// exactly once, at the point the caller calls Release, mirroring a
// scope-guard: Go has no deterministic destructors, so the call site must
// invoke Release explicitly (typically via defer) where a language with
// drop semantics would do it implicitly at the end of scope.
package borrow

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem/frame"
	"github.com/achilleasa/nyxos/kernel/mem/heap"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
)

// Ptr is a scoped, untyped byte allocation. Release deallocates it via
// the allocator it was borrowed from; calling Release more than once is a
// no-op after the first call.
type Ptr struct {
	addr     uintptr
	layout   heap.Layout
	alloc    *heap.Allocator
	released bool
}

// NewPtr allocates layout from alloc and returns a scoped handle over it.
func NewPtr(alloc *heap.Allocator, layout heap.Layout) (*Ptr, *kernel.Error) {
	addr, err := alloc.Alloc(layout)
	if err != nil {
		return nil, err
	}
	return &Ptr{addr: addr, layout: layout, alloc: alloc}, nil
}

// Addr returns the borrowed address.
func (p *Ptr) Addr() uintptr { return p.addr }

// Release deallocates the borrowed byte range. Acquires the owning
// allocator's mutex momentarily; calling Release while that same mutex is
// already held by the current call path deadlocks, exactly as it would
// for any other allocator call made while holding the lock.
func (p *Ptr) Release() {
	if p.released {
		return
	}
	p.alloc.Dealloc(p.addr, p.layout)
	p.released = true
}

// Frame is a scoped single physical frame, borrowed from a frame.Allocator.
type Frame struct {
	frame    pmm.Frame
	alloc    frame.Allocator
	released bool
}

// NewFrame allocates a single frame from alloc and returns a scoped
// handle over it.
func NewFrame(alloc frame.Allocator) (*Frame, *kernel.Error) {
	f, err := alloc.Allocate()
	if err != nil {
		return nil, err
	}
	return &Frame{frame: f, alloc: alloc}, nil
}

// Value returns the borrowed frame.
func (f *Frame) Value() pmm.Frame { return f.frame }

// Release returns the frame to the allocator it was borrowed from.
func (f *Frame) Release() {
	if f.released {
		return
	}
	f.alloc.Deallocate(f.frame)
	f.released = true
}

// FrameRange is a scoped contiguous run of physical frames, borrowed from
// a frame.Allocator.
type FrameRange struct {
	rng      frame.Range
	alloc    frame.Allocator
	released bool
}

// NewFrameRange allocates n contiguous frames from alloc and returns a
// scoped handle over them.
func NewFrameRange(alloc frame.Allocator, n uint64) (*FrameRange, *kernel.Error) {
	r, err := alloc.AllocateRange(n)
	if err != nil {
		return nil, err
	}
	return &FrameRange{rng: r, alloc: alloc}, nil
}

// Value returns the borrowed frame range.
func (fr *FrameRange) Value() frame.Range { return fr.rng }

// Release returns the frame range to the allocator it was borrowed from.
func (fr *FrameRange) Release() {
	if fr.released {
		return
	}
	fr.alloc.DeallocateRange(fr.rng)
	fr.released = true
}
