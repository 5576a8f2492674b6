// Package heap implements the buddy-block allocator that serves every
// variable-size, variable-alignment allocation in the kernel from a single
// contiguous region of memory. It is the one piece of the memory core that
// must never call back into itself: callers that need intermediate
// storage while the allocator's own mutex is held (the mapper allocating
// page tables, for instance) must use the frame allocator instead.
package heap

import (
	"unsafe"

	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/mem"
	"github.com/achilleasa/nyxos/kernel/mem/list"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
	ksync "github.com/achilleasa/nyxos/kernel/sync"
)

// maxOrders bounds the fixed-capacity free-list array embedded in every
// Allocator. A heap built from min_block_size 16 and maxOrders orders can
// address up to 16<<31 bytes, far beyond anything this kernel will ever
// back with a single contiguous region.
const maxOrders = 32

var (
	errNilStart         = &kernel.Error{Module: "heap", Message: "heap start address is nil", Kind: kernel.ErrKindUnsupported}
	errNotPageAligned   = &kernel.Error{Module: "heap", Message: "heap start address is not page aligned", Kind: kernel.ErrKindUnsupported}
	errHeapSizeNotPow2  = &kernel.Error{Module: "heap", Message: "heap size is not a power of two", Kind: kernel.ErrKindUnsupported}
	errTooManyOrders    = &kernel.Error{Module: "heap", Message: "requested order count exceeds maxOrders", Kind: kernel.ErrKindUnsupported}
	errNoOrders         = &kernel.Error{Module: "heap", Message: "free list count must be at least 1", Kind: kernel.ErrKindUnsupported}
	errBlockTooSmall    = &kernel.Error{Module: "heap", Message: "min block size is smaller than a FreeBlock header", Kind: kernel.ErrKindUnsupported}
	errAlignTooLarge    = &kernel.Error{Module: "heap", Message: "alignment exceeds page size", Kind: kernel.ErrKindUnsupported}
	errLayoutExceedsMax = &kernel.Error{Module: "heap", Message: "layout exceeds heap size", Kind: kernel.ErrKindUnsupported}
	errExhausted        = &kernel.Error{Module: "heap", Message: "heap exhausted", Kind: kernel.ErrKindExhausted}
)

// Layout describes the size and alignment of a requested allocation, the
// same pair every allocator operation in this package is parameterized
// on.
type Layout struct {
	Size  uint64
	Align uint64
}

// FreeBlock is the header stored at the base of every free block. It
// carries no payload beyond the two list links; the rest of the block,
// whatever its order, is unused while the block is free.
type FreeBlock struct {
	link list.Link
}

func blockAt(addr uintptr) *FreeBlock {
	return (*FreeBlock)(unsafe.Pointer(addr))
}

func addrOf(b *FreeBlock) uintptr {
	return uintptr(unsafe.Pointer(b))
}

func linkOf(addr uintptr) *list.Link {
	return &blockAt(addr).link
}

func addrOfLink(l *list.Link) uintptr {
	return addrOf((*FreeBlock)(unsafe.Pointer(l)))
}

// Allocator is a buddy-block heap allocator over a single contiguous
// region [start, start+heapSize). It must be constructed via New; the
// zero value is not usable.
type Allocator struct {
	lk ksync.Spinlock

	start        uintptr
	heapSize     uint64
	minBlockSize uint64
	maxOrder     uint8

	freeLists [maxOrders]list.List
}

// New constructs a buddy allocator over [start, start+heapSize) with
// numOrders free lists (orders 0..numOrders-1). heapSize must be a power
// of two; the derived min_block_size = heapSize >> (numOrders-1) must be
// at least the size of a FreeBlock header.
func New(start uintptr, heapSize uint64, numOrders int) (*Allocator, *kernel.Error) {
	if start == 0 {
		return nil, errNilStart
	}
	if start%uintptr(mem.PageSize) != 0 {
		return nil, errNotPageAligned
	}
	if !isPow2(heapSize) {
		return nil, errHeapSizeNotPow2
	}
	if numOrders < 1 {
		return nil, errNoOrders
	}
	if numOrders > maxOrders {
		return nil, errTooManyOrders
	}

	minBlockSize := heapSize >> uint(numOrders-1)
	if minBlockSize < uint64(unsafe.Sizeof(FreeBlock{})) {
		return nil, errBlockTooSmall
	}

	a := &Allocator{
		start:        start,
		heapSize:     heapSize,
		minBlockSize: minBlockSize,
		maxOrder:     uint8(numOrders - 1),
	}

	// The whole heap starts out as a single free block at max order.
	a.pushBlock(start, a.maxOrder)

	return a, nil
}

// HeapSize returns the total number of bytes managed by the allocator.
func (a *Allocator) HeapSize() uint64 { return a.heapSize }

// MinBlockSize returns the smallest allocatable block size.
func (a *Allocator) MinBlockSize() uint64 { return a.minBlockSize }

// MaxOrder returns the highest valid order for this heap.
func (a *Allocator) MaxOrder() uint8 { return a.maxOrder }

// orderAllocSize returns the block size for the given order.
func (a *Allocator) orderAllocSize(order uint8) uint64 {
	return a.minBlockSize << order
}

// allocSize computes next_pow2(max(size, align, min_block_size)) for a
// requested layout, failing Unsupported if the alignment exceeds the
// page size (the heap's own base alignment) or the resulting size
// exceeds the whole heap.
func (a *Allocator) allocSize(l Layout) (uint64, *kernel.Error) {
	if l.Align > uint64(mem.PageSize) {
		return 0, errAlignTooLarge
	}

	size := l.Size
	if l.Align > size {
		size = l.Align
	}
	if a.minBlockSize > size {
		size = a.minBlockSize
	}
	size = nextPow2(size)

	if size > a.heapSize {
		return 0, errLayoutExceedsMax
	}
	return size, nil
}

// allocOrder computes the order that would serve layout l.
func (a *Allocator) allocOrder(l Layout) (uint8, *kernel.Error) {
	size, err := a.allocSize(l)
	if err != nil {
		return 0, err
	}
	return log2(size) - log2(a.minBlockSize), nil
}

func (a *Allocator) pushBlock(addr uintptr, order uint8) {
	a.freeLists[order].PushFront(linkOf(addr))
}

func (a *Allocator) popBlock(order uint8) (uintptr, bool) {
	l := a.freeLists[order].PopFront()
	if l == nil {
		return 0, false
	}
	return addrOfLink(l), true
}

func (a *Allocator) removeBlock(order uint8, addr uintptr) bool {
	target := linkOf(addr)
	removed := a.freeLists[order].FindAndRemove(func(l *list.Link) bool {
		return l == target
	})
	return removed != nil
}

// GetBuddy returns the buddy of block at the given order: the sibling
// block that, together with block, forms a block of the next-higher
// order. It returns ok == false when order is already the max order (a
// max-order block has no buddy within the heap).
func (a *Allocator) GetBuddy(order uint8, block uintptr) (uintptr, bool) {
	if a.orderAllocSize(order) >= a.heapSize {
		return 0, false
	}
	blockSize := a.orderAllocSize(order)
	offset := uint64(block - a.start)
	return a.start + uintptr(offset^blockSize), true
}

// splitBlock repeatedly halves block, which currently sits at foundOrder,
// down to targetOrder, pushing each resulting upper half onto the
// corresponding free list. It returns the address of the (now
// target-order-sized) lower half.
func (a *Allocator) splitBlock(block uintptr, foundOrder, targetOrder uint8) uintptr {
	for order := foundOrder; order > targetOrder; order-- {
		splitSize := a.orderAllocSize(order) / 2
		upperHalf := block + uintptr(splitSize)
		a.pushBlock(upperHalf, order-1)
	}
	return block
}

// Alloc reserves a block satisfying layout and returns its base address,
// or an Exhausted/Unsupported error.
func (a *Allocator) Alloc(l Layout) (uintptr, *kernel.Error) {
	a.lk.Acquire()
	defer a.lk.Release()

	order, err := a.allocOrder(l)
	if err != nil {
		return 0, err
	}

	for candidate := order; candidate <= a.maxOrder; candidate++ {
		block, ok := a.popBlock(candidate)
		if !ok {
			continue
		}
		return a.splitBlock(block, candidate, order), nil
	}
	return 0, errExhausted
}

// Dealloc returns the block at ptr, originally allocated with layout l,
// to the heap, merging with its buddy chain as far as possible.
func (a *Allocator) Dealloc(ptr uintptr, l Layout) {
	a.lk.Acquire()
	defer a.lk.Release()

	order, err := a.allocOrder(l)
	if err != nil {
		// allocOrder only fails for layouts that could never have
		// been allocated in the first place; a caller presenting
		// such a layout to Dealloc is a kernel bug.
		kernel.Panic(err)
	}

	cur := ptr
	for k := order; k <= a.maxOrder; k++ {
		buddy, ok := a.GetBuddy(k, cur)
		if !ok || !a.removeBlock(k, buddy) {
			a.pushBlock(cur, k)
			return
		}
		if buddy < cur {
			cur = buddy
		}
	}
}

// Realloc resizes the allocation at ptr from oldLayout to newLayout. If
// newLayout still fits within the block's existing order it returns ptr
// unchanged; otherwise it allocates a new block, copies
// min(oldSize,newSize) bytes, and deallocates the old block.
func (a *Allocator) Realloc(ptr uintptr, oldLayout, newLayout Layout) (uintptr, *kernel.Error) {
	oldOrder, err := a.allocOrder(oldLayout)
	if err != nil {
		return 0, err
	}
	newOrder, err := a.allocOrder(newLayout)
	if err != nil {
		return 0, err
	}
	if newOrder == oldOrder {
		return ptr, nil
	}

	newPtr, err := a.Alloc(newLayout)
	if err != nil {
		return 0, err
	}

	n := oldLayout.Size
	if newLayout.Size < n {
		n = newLayout.Size
	}
	mem.Memcopy(ptr, newPtr, uint(n))

	a.Dealloc(ptr, oldLayout)
	return newPtr, nil
}

// UsableSize returns the number of bytes actually reserved for an
// allocation made with layout l, i.e. the capacity of the order it was
// rounded up to.
func (a *Allocator) UsableSize(l Layout) (uint64, *kernel.Error) {
	return a.allocSize(l)
}

// FramePage exposes the allocator as a buddy-backed frame allocator: it
// reserves exactly one page, page-aligned, and reinterprets the result as
// a physical frame. See frame.Buddy, the only caller of this method.
func (a *Allocator) FramePage() (pmm.Frame, *kernel.Error) {
	ptr, err := a.Alloc(Layout{Size: uint64(mem.PageSize), Align: uint64(mem.PageSize)})
	if err != nil {
		return pmm.InvalidFrame, err
	}
	return pmm.Frame(ptr >> mem.PageShift), nil
}

// ReleaseFramePage returns a page previously obtained via FramePage.
func (a *Allocator) ReleaseFramePage(f pmm.Frame) {
	a.Dealloc(f.Address(), Layout{Size: uint64(mem.PageSize), Align: uint64(mem.PageSize)})
}
