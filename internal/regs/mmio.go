package regs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
)

// DefaultMemDevice is the physical memory device used for register mapping.
const DefaultMemDevice = "/dev/mem"

// MMIO is a Bank backed by a memory-mapped physical register window.
type MMIO struct {
	name  string
	base  uint64
	size  uint32
	file  *os.File
	page  mmap.MMap
	delta uint32 // offset of base inside the page-aligned mapping
}

// OpenMMIO maps size bytes of physical memory starting at base.
func OpenMMIO(device, name string, base uint64, size uint32) (*MMIO, error) {
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("regs: %s: size %#x must be a non-zero multiple of 4", name, size)
	}

	f, err := os.OpenFile(device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("regs: open %s: %w", device, err)
	}

	pageSize := uint64(os.Getpagesize())
	aligned := base &^ (pageSize - 1)
	delta := uint32(base - aligned)

	page, err := mmap.MapRegion(f, int(delta+size), mmap.RDWR, 0, int64(aligned))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("regs: map %s at %#x: %w", name, base, err)
	}

	return &MMIO{
		name:  name,
		base:  base,
		size:  size,
		file:  f,
		page:  page,
		delta: delta,
	}, nil
}

// Name returns the bank name.
func (m *MMIO) Name() string {
	return m.name
}

// Read32 implements Bank.
func (m *MMIO) Read32(off uint32) uint32 {
	return atomic.LoadUint32(m.word(off))
}

// Write32 implements Bank.
func (m *MMIO) Write32(off uint32, v uint32) {
	atomic.StoreUint32(m.word(off), v)
}

func (m *MMIO) word(off uint32) *uint32 {
	if off%4 != 0 || off+4 > m.size {
		panic(fmt.Sprintf("regs: %s: offset %#x outside window of %#x bytes", m.name, off, m.size))
	}
	return (*uint32)(unsafe.Pointer(&m.page[m.delta+off]))
}

// Close unmaps the window.
func (m *MMIO) Close() error {
	err := m.page.Unmap()
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
