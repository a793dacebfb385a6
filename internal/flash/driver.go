package flash

import (
	"errors"
	"fmt"
)

// Bank selects one of the two independently erasable flash banks.
type Bank uint8

const (
	Bank1 Bank = 1
	Bank2 Bank = 2
)

func (b Bank) String() string {
	switch b {
	case Bank1:
		return "bank1"
	case Bank2:
		return "bank2"
	default:
		return fmt.Sprintf("bank(%d)", uint8(b))
	}
}

// DoubleWordSize is the programmable unit: 8 bytes written atomically.
const DoubleWordSize = 8

// ErasedByte is the value of every byte of an erased page.
const ErasedByte = 0xFF

var (
	ErrLocked     = errors.New("flash control is locked")
	ErrNotErased  = errors.New("double word is not erased")
	ErrUnaligned  = errors.New("address is not double-word aligned")
	ErrOutOfRange = errors.New("address outside flash")
	ErrPageRange  = errors.New("page range outside bank")
)

// PageError reports the first page an erase failed on.
type PageError struct {
	Bank Bank
	Page uint32
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("erase %s page %d: %v", e.Bank, e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Driver is the raw flash controller capability consumed by the bootloader.
type Driver interface {
	Unlock() error
	Lock() error

	// Erase erases count pages of bank starting at startPage.
	Erase(bank Bank, startPage, count uint32) error

	// ProgramDoubleWord programs value (little-endian) at a double-word aligned address.
	ProgramDoubleWord(address uint32, value uint64) error
}

// Reader is implemented by drivers that can read back programmed memory.
type Reader interface {
	ReadDoubleWord(address uint32) (uint64, error)
}
