package kmain

import (
	"github.com/achilleasa/nyxos/kernel"
	"github.com/achilleasa/nyxos/kernel/goruntime"
	"github.com/achilleasa/nyxos/kernel/hal"
	"github.com/achilleasa/nyxos/kernel/hal/multiboot"
	"github.com/achilleasa/nyxos/kernel/mem"
	"github.com/achilleasa/nyxos/kernel/mem/addr"
	"github.com/achilleasa/nyxos/kernel/mem/frame"
	"github.com/achilleasa/nyxos/kernel/mem/heap"
	"github.com/achilleasa/nyxos/kernel/mem/pmm"
	"github.com/achilleasa/nyxos/kernel/mem/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// earlyHeapSize is the size, in bytes, of the region reserved for the
// buddy heap immediately following the kernel image. It is a fixed
// constant rather than something derived from the memory map because the
// region must lie inside the identity mapping the boot assembly already
// set up for the kernel image; deriving it from InitParams's heap
// base/top would require the mapper to be up already, which in turn
// needs the heap.
const earlyHeapSize = 8 << 20 // 8 MiB

// earlyHeapOrders yields min_block_size == 16 bytes for earlyHeapSize.
const earlyHeapOrders = 20

// frameAllocator is the frame allocator currently backing the mapper; it
// starts out as the watermark allocator and is swapped for the
// buddy-backed one once the heap is constructed.
var frameAllocator frame.Allocator

func allocateFrame() (pmm.Frame, *kernel.Error) {
	return frameAllocator.Allocate()
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	bootInfoStart, bootInfoEnd := multiboot.InfoBounds()

	watermark := frame.NewWatermark(
		addr.Phys(kernelStart), addr.Phys(kernelEnd),
		addr.Phys(bootInfoStart), addr.Phys(bootInfoEnd),
	)
	frameAllocator = watermark

	heapBase := (kernelEnd + uintptr(mem.PageSize-1)) &^ uintptr(mem.PageSize-1)

	var err *kernel.Error
	var heapAllocator *heap.Allocator
	if heapAllocator, err = heap.New(heapBase, earlyHeapSize, earlyHeapOrders); err != nil {
		panic(err)
	}

	// Hand future frame requests to the buddy-backed allocator now that
	// the heap exists; the watermark allocator is retired (see DESIGN.md
	// for why its leaked frames up to this point are acceptable).
	frameAllocator = frame.NewBuddy(heapAllocator)

	vmm.SetFrameAllocator(allocateFrame)
	goruntime.SetFrameAllocator(allocateFrame)

	if err = vmm.Init(); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}
