// Package regs provides access to the display hardware register blocks.
//
// Each physical block (layer mixer, timing generator, PHY, clock generator) is
// exposed as a Bank. Banks are owned by exactly one component and injected at
// construction time; PHY and clock-generator programming that spans pipes is
// serialized through a ClockDomain.
package regs

import "sync"

// Bank is a 32-bit register window addressed by byte offset.
type Bank interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Update performs a read-modify-write of the bits selected by mask.
func Update(b Bank, off, mask, val uint32) {
	cur := b.Read32(off)
	b.Write32(off, (cur&^mask)|(val&mask))
}

// SetBits sets the bits in mask.
func SetBits(b Bank, off, mask uint32) {
	Update(b, off, mask, mask)
}

// ClearBits clears the bits in mask.
func ClearBits(b Bank, off, mask uint32) {
	Update(b, off, mask, 0)
}

// Field extracts the bits in mask, shifted down by shift.
func Field(v, mask uint32, shift uint) uint32 {
	return (v & mask) >> shift
}

// ClockDomain serializes PHY and clock generator programming for every pipe
// that shares the same clock source.
type ClockDomain struct {
	name string
	mu   sync.Mutex
}

// NewClockDomain creates a clock domain.
func NewClockDomain(name string) *ClockDomain {
	return &ClockDomain{name: name}
}

// Name returns the domain name.
func (d *ClockDomain) Name() string {
	return d.name
}

// Do runs fn while holding the domain lock.
func (d *ClockDomain) Do(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}

// window is a Bank shifted by a fixed offset into a parent bank.
type window struct {
	parent Bank
	base   uint32
}

func (w window) Read32(off uint32) uint32     { return w.parent.Read32(w.base + off) }
func (w window) Write32(off uint32, v uint32) { w.parent.Write32(w.base+off, v) }

// Window returns a Bank whose offset 0 is base in parent. It is used when two
// blocks share one mapping.
func Window(parent Bank, base uint32) Bank {
	if base == 0 {
		return parent
	}
	return window{parent: parent, base: base}
}
