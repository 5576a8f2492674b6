package vmm

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
)

// frameCacheSize is the number of frames a FrameCache can hold. Three is
// enough to bootstrap a brand new four-level hierarchy (one frame for each
// intermediate table level other than the one supplied by the caller)
// without recursing back into the general-purpose frame allocator while a
// temporary mapping is in the middle of being established.
const frameCacheSize = 3

// FrameCache is a tiny, fixed-capacity frame allocator backed by a
// preallocated pool. Code that needs to allocate page tables while setting
// up a temporary mapping uses a FrameCache instead of calling back into the
// real allocator, which may not be safe to reenter at that point.
type FrameCache struct {
	frames [frameCacheSize]pmm.Frame
	used   [frameCacheSize]bool
}

// NewFrameCache fills a FrameCache by drawing frameCacheSize frames from
// allocFn up front. If allocFn fails partway through, the frames already
// drawn are returned to allocFn via dealloc before the error is reported.
func NewFrameCache(allocFn FrameAllocatorFn, dealloc func(pmm.Frame)) (*FrameCache, *kernel.Error) {
	fc := &FrameCache{}

	for i := 0; i < frameCacheSize; i++ {
		frame, err := allocFn()
		if err != nil {
			for j := 0; j < i; j++ {
				dealloc(fc.frames[j])
			}
			return nil, err
		}
		fc.frames[i] = frame
		fc.used[i] = true
	}

	return fc, nil
}

// errFrameCacheExhausted is returned by Allocate once all cached frames
// have been handed out.
var errFrameCacheExhausted = &kernel.Error{Module: "vmm", Message: "frame cache exhausted", Kind: kernel.ErrKindExhausted}

// Allocate hands out one of the cached frames. It implements FrameAllocatorFn
// so a *FrameCache can be passed anywhere a FrameAllocatorFn is expected via
// fc.Allocate.
func (fc *FrameCache) Allocate() (pmm.Frame, *kernel.Error) {
	for i := 0; i < frameCacheSize; i++ {
		if fc.used[i] {
			fc.used[i] = false
			return fc.frames[i], nil
		}
	}
	return pmm.InvalidFrame, errFrameCacheExhausted
}

// Deallocate returns frame to the cache. It panics if the cache is already
// full, matching the assumption that a FrameCache only ever holds frames it
// handed out itself.
func (fc *FrameCache) Deallocate(frame pmm.Frame) {
	for i := 0; i < frameCacheSize; i++ {
		if !fc.used[i] {
			fc.frames[i] = frame
			fc.used[i] = true
			return
		}
	}
	panicFn(&kernel.Error{Module: "vmm", Message: "frame cache can only hold three frames"})
}

// TempPage wraps the fixed temporary-mapping virtual page together with the
// FrameCache used to supply any intermediate page-table frames that mapping
// it requires. Using a TempPage instead of calling MapTemporary directly
// keeps that bootstrapping allocation off the main frame allocator.
type TempPage struct {
	page   Page
	frames *FrameCache
}

// NewTempPage creates a TempPage, drawing its FrameCache up front from
// allocFn.
func NewTempPage(allocFn FrameAllocatorFn, dealloc func(pmm.Frame)) (*TempPage, *kernel.Error) {
	frames, err := NewFrameCache(allocFn, dealloc)
	if err != nil {
		return nil, err
	}
	return &TempPage{page: PageFromAddress(tempMappingAddr), frames: frames}, nil
}

// MapTo maps frame at the temporary page, using the TempPage's own
// FrameCache to satisfy any intermediate table allocations, and returns the
// mapped page.
func (tp *TempPage) MapTo(frame pmm.Frame) (Page, *kernel.Error) {
	if err := Map(tp.page, frame, FlagRW, tp.frames.Allocate); err != nil {
		return 0, err
	}
	return tp.page, nil
}

// Unmap removes the mapping established by MapTo.
func (tp *TempPage) Unmap() *kernel.Error {
	return Unmap(tp.page)
}
