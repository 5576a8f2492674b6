package multiboot

import "unsafe"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. According to the spec, each tag starts at a 8-byte aligned
	// address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// FramebufferType defines the type of the initialized framebuffer.
type FramebufferType uint8

const (
	// FrameBufferTypeIndexed specifies a 256-color palette.
	FrameBufferTypeIndexed FramebufferType = iota

	// FramebufferTypeRGB specifies direct RGB mode.
	FramebufferTypeRGB

	// FramebufferTypeEGA specifies EGA text mode.
	FramebufferTypeEGA
)

// FramebufferInfo provides information about the initialized framebuffer.
type FramebufferInfo struct {
	// The framebuffer physical address.
	PhysAddr uint64

	// Row pitch in bytes.
	Pitch uint32

	// Width and height in pixels (or characters if Type = FramebufferTypeEGA)
	Width, Height uint32

	// Bits per pixel (non EGA modes only).
	Bpp uint8

	// Framebuffer type.
	Type FramebufferType
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// elfSectionsHeader describes the header that precedes the ELF section
// entries carried by the tagElfSymbols tag.
type elfSectionsHeader struct {
	num       uint32
	entrySize uint32
	shndx     uint32
	reserved  uint32
}

// ElfSectionFlag describes the permission/allocation bits carried by an
// ELF section header, as defined by the ELF64 spec (sh_flags).
type ElfSectionFlag uint64

const (
	// ElfSectionWritable indicates the section should be mapped writable.
	ElfSectionWritable ElfSectionFlag = 1 << 0

	// ElfSectionAlloc indicates the section occupies memory during
	// execution and must be mapped at all.
	ElfSectionAlloc ElfSectionFlag = 1 << 1

	// ElfSectionExecutable indicates the section contains executable
	// instructions.
	ElfSectionExecutable ElfSectionFlag = 1 << 2
)

// ElfSection describes a single ELF64 section header as reported by the
// bootloader for the loaded kernel image.
type ElfSection struct {
	NameIndex uint32
	Type      uint32
	Flags     ElfSectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Align     uint64
	EntrySize uint64
}

// ElfSectionVisitor defines a visitor function that gets invoked by
// VisitElfSections for each ELF section header reported by the
// bootloader. The visitor must return true to continue or false to abort
// the scan.
type ElfSectionVisitor func(entry *ElfSection) bool

// sectionTypeNull is the SHT_NULL section type; such sections are
// placeholders and are skipped by VisitElfSections.
const sectionTypeNull = 0

// VisitElfSections invokes the supplied visitor for every non-null ELF
// section header reported by the bootloader for the kernel image. It is
// the source of the {name, type, flags, vaddr, size, align} tuples that
// make up InitParams' ELF section list. It only reports the sections; it
// does not create any page-table mappings for them.
func VisitElfSections(visitor ElfSectionVisitor) {
	curPtr, size := findTagByType(tagElfSymbols)
	if size == 0 {
		return
	}

	header := (*elfSectionsHeader)(unsafe.Pointer(curPtr))
	curPtr += 16

	for i := uint32(0); i < header.num; i++ {
		entry := (*ElfSection)(unsafe.Pointer(curPtr))
		if entry.Type != sectionTypeNull {
			if !visitor(entry) {
				return
			}
		}
		curPtr += uintptr(header.entrySize)
	}
}

var (
	infoData uintptr
)

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// InfoBounds returns the physical address range [start, end) occupied by
// the multiboot info payload itself, as reported by its own header. Callers
// use this to reserve the region with a frame allocator so that it is not
// handed out from underneath still-pending reads of the boot info.
func InfoBounds() (start, end uintptr) {
	hdr := (*info)(unsafe.Pointer(infoData))
	return infoData, infoData + uintptr(hdr.totalSize)
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry *MemoryMapEntry
	for curPtr != endPtr {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// GetFramebufferInfo returns information about the framebuffer initialized by the
// bootloader. This function returns nil if no framebuffer info is available.
func GetFramebufferInfo() *FramebufferInfo {
	var info *FramebufferInfo

	curPtr, size := findTagByType(tagFramebufferInfo)
	if size != 0 {
		info = (*FramebufferInfo)(unsafe.Pointer(curPtr))
	}

	return info
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagByType will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
