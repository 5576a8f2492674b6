package mem

import (
	"reflect"
	"unsafe"
)

// Memcopy copies size bytes from src to dst. The two regions must not
// overlap; this package has no overlap-safe variant.
func Memcopy(src, dst uintptr, size uint) {
	if size == 0 {
		return
	}

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstSlice, srcSlice)
}
