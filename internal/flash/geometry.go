package flash

import "fmt"

// Geometry describes a dual-bank flash whose banks are contiguous in the address map.
type Geometry struct {
	Base          uint32 // address of bank 1 page 0
	PageSize      uint32
	PagesPerBank  uint32
	ReservedPages uint32 // bootloader pages at the start of bank 1
}

// STM32G474 in dual-bank mode: 2 x 128 pages of 2 KiB, bootloader in the first 16 KiB.
var STM32G474 = Geometry{
	Base:          0x08000000,
	PageSize:      2048,
	PagesPerBank:  128,
	ReservedPages: 8,
}

// Validate checks that the geometry can hold the reserved region and fits in 32 bits.
func (g Geometry) Validate() error {
	if g.PageSize == 0 || g.PageSize%DoubleWordSize != 0 {
		return fmt.Errorf("page size %d must be a nonzero multiple of %d", g.PageSize, DoubleWordSize)
	}
	if g.PagesPerBank == 0 {
		return fmt.Errorf("pages per bank must be nonzero")
	}
	if g.ReservedPages >= g.PagesPerBank {
		return fmt.Errorf("reserved pages %d must be fewer than pages per bank %d", g.ReservedPages, g.PagesPerBank)
	}
	if uint64(g.Base)+uint64(g.Size()) > 1<<32 {
		return fmt.Errorf("flash at 0x%08X of %d bytes exceeds the 32-bit address space", g.Base, g.Size())
	}
	return nil
}

// BankSize returns the size of one bank in bytes.
func (g Geometry) BankSize() uint32 {
	return g.PageSize * g.PagesPerBank
}

// Size returns the size of both banks in bytes.
func (g Geometry) Size() uint32 {
	return 2 * g.BankSize()
}

// ErasablePages returns how many pages may be erased, excluding the reserved region.
func (g Geometry) ErasablePages() uint32 {
	return 2*g.PagesPerBank - g.ReservedPages
}

// ApplicationStart returns the first address after the reserved region.
func (g Geometry) ApplicationStart() uint32 {
	return g.Base + g.ReservedPages*g.PageSize
}

// PageAddress returns the address of page in bank.
func (g Geometry) PageAddress(bank Bank, page uint32) uint32 {
	addr := g.Base + page*g.PageSize
	if bank == Bank2 {
		addr += g.BankSize()
	}
	return addr
}

// Contains reports whether [address, address+n) lies inside the flash.
func (g Geometry) Contains(address, n uint32) bool {
	if address < g.Base {
		return false
	}
	return uint64(address-g.Base)+uint64(n) <= uint64(g.Size())
}

// PagesFor returns the page count an erase needs so that a write ending at
// end (exclusive) stays strictly below the resulting erase watermark.
func (g Geometry) PagesFor(end uint32) uint32 {
	start := g.ApplicationStart()
	if end <= start {
		return 1
	}
	// Round the end up to the padded double word the last write produces
	end = (end + DoubleWordSize - 1) &^ (DoubleWordSize - 1)
	return (end-start)/g.PageSize + 1
}
