package vmm

import "github.com/achilleasa/nyxos/kernel"

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. Huge entries at L3 (1 GiB) and
// L2 (2 MiB) are honored the same way TranslatePage does.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return translateHonoringHugePages(virtAddr)
}
