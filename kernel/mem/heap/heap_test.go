package heap

import (
	"testing"
	"unsafe"

	"github.com/achilleasa/nyxos/kernel"
)

// A 256-byte heap with 5 orders (0..4) gives min_block_size=16,
// max_order=4, matching the literal walkthrough.
const (
	testHeapSize     = 256
	testHeapOrders   = 5
	testMinBlockSize = 16
)

func newTestHeap(t *testing.T) (*Allocator, uintptr) {
	t.Helper()
	buf := make([]byte, testHeapSize+4096)
	start := (uintptr(unsafe.Pointer(&buf[0])) + 4095) &^ 4095

	a, err := New(start, testHeapSize, testHeapOrders)
	if err != nil {
		t.Fatalf("unexpected error constructing heap: %v", err)
	}
	return a, start
}

func TestNewValidatesStart(t *testing.T) {
	if _, err := New(0, 256, 5); err == nil || !err.Is(kernel.ErrKindUnsupported) {
		t.Fatalf("expected Unsupported for a nil start; got %v", err)
	}
}

func TestNewValidatesHeapSizePow2(t *testing.T) {
	buf := make([]byte, 8192)
	start := (uintptr(unsafe.Pointer(&buf[0])) + 4095) &^ 4095
	if _, err := New(start, 300, 5); err == nil || !err.Is(kernel.ErrKindUnsupported) {
		t.Fatalf("expected Unsupported for a non-power-of-two heap size; got %v", err)
	}
}

func TestNewValidatesMinBlockSize(t *testing.T) {
	buf := make([]byte, 8192)
	start := (uintptr(unsafe.Pointer(&buf[0])) + 4095) &^ 4095
	// heap_size=256, numOrders=32 -> min_block_size = 256 >> 31 == 0, far
	// below sizeof(FreeBlock).
	if _, err := New(start, 256, 32); err == nil || !err.Is(kernel.ErrKindUnsupported) {
		t.Fatalf("expected Unsupported for an undersized min block; got %v", err)
	}
}

func TestHeapDerivedConstants(t *testing.T) {
	a, _ := newTestHeap(t)

	if got, exp := a.HeapSize(), uint64(testHeapSize); got != exp {
		t.Fatalf("expected heap size %d; got %d", exp, got)
	}
	if got, exp := a.MinBlockSize(), uint64(testMinBlockSize); got != exp {
		t.Fatalf("expected min block size %d; got %d", exp, got)
	}
	if got, exp := a.MaxOrder(), uint8(4); got != exp {
		t.Fatalf("expected max order %d; got %d", exp, got)
	}
}

// TestLiteralWalkthrough reproduces the end-to-end scenario from the spec:
// a 256-byte heap with min_block_size=16 and max_order=4.
func TestLiteralWalkthrough(t *testing.T) {
	a, start := newTestHeap(t)

	small := Layout{Size: 8, Align: 8}

	p0, err := a.Alloc(small)
	if err != nil {
		t.Fatalf("alloc 1: unexpected error: %v", err)
	}
	if got, exp := p0, start+0; got != exp {
		t.Fatalf("alloc 1: expected %x; got %x", exp, got)
	}

	p1, err := a.Alloc(small)
	if err != nil {
		t.Fatalf("alloc 2: unexpected error: %v", err)
	}
	if got, exp := p1, start+16; got != exp {
		t.Fatalf("alloc 2: expected %x; got %x", exp, got)
	}

	p2, err := a.Alloc(small)
	if err != nil {
		t.Fatalf("alloc 3: unexpected error: %v", err)
	}
	if got, exp := p2, start+32; got != exp {
		t.Fatalf("alloc 3: expected %x; got %x", exp, got)
	}

	p3, err := a.Alloc(Layout{Size: 32, Align: 32})
	if err != nil {
		t.Fatalf("alloc 4 (32 bytes): unexpected error: %v", err)
	}
	if got, exp := p3, start+64; got != exp {
		t.Fatalf("alloc 4: expected %x; got %x", exp, got)
	}

	p4, err := a.Alloc(small)
	if err != nil {
		t.Fatalf("alloc 5: unexpected error: %v", err)
	}
	if got, exp := p4, start+48; got != exp {
		t.Fatalf("alloc 5: expected %x; got %x", exp, got)
	}

	// Free the four 8-byte blocks and the 32-byte block.
	a.Dealloc(p0, small)
	a.Dealloc(p1, small)
	a.Dealloc(p2, small)
	a.Dealloc(p4, small)
	a.Dealloc(p3, Layout{Size: 32, Align: 32})

	big := Layout{Size: 128, Align: 128}
	b0, err := a.Alloc(big)
	if err != nil {
		t.Fatalf("alloc 128 (1): unexpected error: %v", err)
	}
	if got, exp := b0, start+0; got != exp {
		t.Fatalf("alloc 128 (1): expected %x; got %x", exp, got)
	}

	b1, err := a.Alloc(big)
	if err != nil {
		t.Fatalf("alloc 128 (2): unexpected error: %v", err)
	}
	if got, exp := b1, start+128; got != exp {
		t.Fatalf("alloc 128 (2): expected %x; got %x", exp, got)
	}

	a.Dealloc(b0, big)
	a.Dealloc(b1, big)

	whole := Layout{Size: 256, Align: 256}
	w, err := a.Alloc(whole)
	if err != nil {
		t.Fatalf("alloc whole heap: unexpected error: %v", err)
	}
	if got, exp := w, start+0; got != exp {
		t.Fatalf("alloc whole heap: expected %x; got %x", exp, got)
	}
	a.Dealloc(w, whole)

	assertFullyMerged(t, a, start)
}

func TestGetBuddy(t *testing.T) {
	a, start := newTestHeap(t)

	if got, ok := a.GetBuddy(0, start+0); !ok || got != start+16 {
		t.Fatalf("GetBuddy(0, +0): expected (+16, true); got (%x, %v)", got, ok)
	}
	if got, ok := a.GetBuddy(1, start+64); !ok || got != start+96 {
		t.Fatalf("GetBuddy(1, +64): expected (+96, true); got (%x, %v)", got, ok)
	}
	if _, ok := a.GetBuddy(4, start+0); ok {
		t.Fatal("GetBuddy at max order should have no buddy")
	}
}

func TestGetBuddyIsInvolution(t *testing.T) {
	a, start := newTestHeap(t)

	for order := uint8(0); order < a.MaxOrder(); order++ {
		blockSize := testMinBlockSize << order
		for block := start; block < start+testHeapSize; block += uintptr(blockSize) {
			buddy, ok := a.GetBuddy(order, block)
			if !ok {
				t.Fatalf("order %d block %x: expected a buddy", order, block)
			}
			back, ok := a.GetBuddy(order, buddy)
			if !ok || back != block {
				t.Fatalf("GetBuddy is not an involution for order %d block %x: got back %x", order, block, back)
			}
		}
	}
}

func TestAllocUnsupportedTooLarge(t *testing.T) {
	a, _ := newTestHeap(t)
	if _, err := a.Alloc(Layout{Size: 512, Align: 512}); err == nil || !err.Is(kernel.ErrKindUnsupported) {
		t.Fatalf("expected a layout larger than the heap to fail Unsupported; got %v", err)
	}
}

func TestAllocUnsupportedAlignment(t *testing.T) {
	a, _ := newTestHeap(t)
	// Alignment coarser than the page size can never be satisfied by a
	// heap whose own base alignment is the page size.
	if _, err := a.Alloc(Layout{Size: 8, Align: 8192}); err == nil || !err.Is(kernel.ErrKindUnsupported) {
		t.Fatalf("expected Unsupported for an over-page alignment; got %v", err)
	}
}

func TestAllocExhaustedWhenFreeListsEmpty(t *testing.T) {
	a, _ := newTestHeap(t)

	whole := Layout{Size: 256, Align: 256}
	if _, err := a.Alloc(whole); err != nil {
		t.Fatalf("unexpected error allocating the whole heap: %v", err)
	}

	if _, err := a.Alloc(Layout{Size: 8, Align: 8}); err == nil || !err.Is(kernel.ErrKindExhausted) {
		t.Fatalf("expected Exhausted once the heap is fully allocated; got %v", err)
	}
}

func TestDeallocMergesToSingleMaxOrderBlock(t *testing.T) {
	a, start := newTestHeap(t)

	var ptrs []uintptr
	small := Layout{Size: 8, Align: 8}
	for i := 0; i < 16; i++ {
		p, err := a.Alloc(small)
		if err != nil {
			t.Fatalf("alloc %d: unexpected error: %v", i, err)
		}
		ptrs = append(ptrs, p)
	}

	if _, err := a.Alloc(small); err == nil {
		t.Fatal("expected the heap to be fully allocated at this point")
	}

	for _, p := range ptrs {
		a.Dealloc(p, small)
	}

	assertFullyMerged(t, a, start)
}

// assertFullyMerged checks invariant #1 from the spec: after a balanced
// sequence of allocate/deallocate pairs, the free lists reconstitute a
// single max-order block at start.
func assertFullyMerged(t *testing.T, a *Allocator, start uintptr) {
	t.Helper()

	for order := uint8(0); order < a.maxOrder; order++ {
		if !a.freeLists[order].IsEmpty() {
			t.Fatalf("expected free list for order %d to be empty after full merge; len=%d", order, a.freeLists[order].Len())
		}
	}
	if got, exp := a.freeLists[a.maxOrder].Len(), uint64(1); got != exp {
		t.Fatalf("expected exactly one free block at max order; got %d", got)
	}
	if got := addrOfLink(a.freeLists[a.maxOrder].Front()); got != start {
		t.Fatalf("expected the merged block to sit at heap start; got %x", got)
	}
}

func TestAllocatedBlocksNeverOverlap(t *testing.T) {
	a, _ := newTestHeap(t)

	type region struct{ start, end uintptr }
	var live []region

	overlaps := func(a, b region) bool {
		return a.start < b.end && b.start < a.end
	}

	layouts := []Layout{
		{Size: 8, Align: 8},
		{Size: 16, Align: 16},
		{Size: 8, Align: 8},
		{Size: 32, Align: 32},
	}

	for _, l := range layouts {
		p, err := a.Alloc(l)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		size, err := a.UsableSize(l)
		if err != nil {
			t.Fatalf("unexpected error from UsableSize: %v", err)
		}
		r := region{start: p, end: p + uintptr(size)}
		for _, other := range live {
			if overlaps(r, other) {
				t.Fatalf("allocation %+v overlaps existing allocation %+v", r, other)
			}
		}
		live = append(live, r)
	}
}

func TestReallocSameOrderReturnsSamePointer(t *testing.T) {
	a, _ := newTestHeap(t)

	p, err := a.Alloc(Layout{Size: 8, Align: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 12 bytes still rounds up to the same 16-byte order as 8 bytes.
	newP, err := a.Realloc(p, Layout{Size: 8, Align: 8}, Layout{Size: 12, Align: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newP != p {
		t.Fatalf("expected Realloc within the same order to return the original pointer; got %x want %x", newP, p)
	}
}

func TestReallocGrowsAndCopies(t *testing.T) {
	a, _ := newTestHeap(t)

	oldLayout := Layout{Size: 8, Align: 8}
	p, err := a.Alloc(oldLayout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := (*[8]byte)(unsafe.Pointer(p))
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	newLayout := Layout{Size: 64, Align: 8}
	newP, err := a.Realloc(p, oldLayout, newLayout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newP == p {
		t.Fatal("expected Realloc to a larger order to move the allocation")
	}

	copied := (*[8]byte)(unsafe.Pointer(newP))
	for i := range copied {
		if copied[i] != byte(i+1) {
			t.Fatalf("expected byte %d to be copied; got %d want %d", i, copied[i], i+1)
		}
	}
}

func TestUsableSize(t *testing.T) {
	a, _ := newTestHeap(t)

	size, err := a.UsableSize(Layout{Size: 5, Align: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, exp := size, uint64(testMinBlockSize); got != exp {
		t.Fatalf("expected usable size %d (rounded up to min block); got %d", exp, got)
	}
}

func TestFramePageRoundTrip(t *testing.T) {
	// A page frame does not fit in the 256-byte test heap, so this test
	// builds a two-page heap whose minimum block is one page.
	buf := make([]byte, 2*4096+4096)
	start := (uintptr(unsafe.Pointer(&buf[0])) + 4095) &^ 4095
	a, err := New(start, 2*4096, 2)
	if err != nil {
		t.Fatalf("unexpected error constructing heap: %v", err)
	}

	f, err := a.FramePage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.Address(); got != start {
		t.Fatalf("expected the first page frame to sit at heap start; got %x", got)
	}

	a.ReleaseFramePage(f)
	assertFullyMerged(t, a, start)
}

func TestNextPow2(t *testing.T) {
	specs := []struct{ in, out uint64 }{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{1023, 1024},
		{1024, 1024},
		{1025, 2048},
	}
	for _, s := range specs {
		if got := nextPow2(s.in); got != s.out {
			t.Errorf("nextPow2(%d): expected %d; got %d", s.in, s.out, got)
		}
	}
}

func TestIsPow2(t *testing.T) {
	for _, v := range []uint64{1, 2, 4, 1024, 1 << 20} {
		if !isPow2(v) {
			t.Errorf("isPow2(%d): expected true", v)
		}
	}
	for _, v := range []uint64{0, 3, 5, 6, 1023} {
		if isPow2(v) {
			t.Errorf("isPow2(%d): expected false", v)
		}
	}
}

func TestLog2(t *testing.T) {
	specs := []struct {
		in  uint64
		out uint8
	}{
		{1, 0},
		{2, 1},
		{4, 2},
		{1024, 10},
	}
	for _, s := range specs {
		if got := log2(s.in); got != s.out {
			t.Errorf("log2(%d): expected %d; got %d", s.in, s.out, got)
		}
	}
}
