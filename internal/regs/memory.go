package regs

import (
	"sort"
	"sync"
)

// Memory is an in-memory Bank. It counts writes per offset and lets callers
// attach read and write hooks to emulate status bits.
type Memory struct {
	name       string
	mu         sync.Mutex
	values     map[uint32]uint32
	writes     map[uint32]int
	readHooks  map[uint32]func(stored uint32) uint32
	writeHooks map[uint32]func(old, v uint32) uint32
}

// NewMemory creates an empty in-memory bank.
func NewMemory(name string) *Memory {
	return &Memory{
		name:       name,
		values:     make(map[uint32]uint32),
		writes:     make(map[uint32]int),
		readHooks:  make(map[uint32]func(uint32) uint32),
		writeHooks: make(map[uint32]func(uint32, uint32) uint32),
	}
}

// Name returns the bank name.
func (m *Memory) Name() string {
	return m.name
}

// Read32 implements Bank.
func (m *Memory) Read32(off uint32) uint32 {
	m.mu.Lock()
	v := m.values[off]
	hook := m.readHooks[off]
	m.mu.Unlock()

	if hook != nil {
		return hook(v)
	}
	return v
}

// Write32 implements Bank.
func (m *Memory) Write32(off uint32, v uint32) {
	m.mu.Lock()
	hook := m.writeHooks[off]
	old := m.values[off]
	m.writes[off]++
	m.mu.Unlock()

	if hook != nil {
		v = hook(old, v)
	}

	m.mu.Lock()
	m.values[off] = v
	m.mu.Unlock()
}

// Poke stores a value without counting it as a write or running hooks.
func (m *Memory) Poke(off, v uint32) {
	m.mu.Lock()
	m.values[off] = v
	m.mu.Unlock()
}

// Peek returns the stored value without running read hooks.
func (m *Memory) Peek(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[off]
}

// OnRead installs a hook that computes the value returned for off.
func (m *Memory) OnRead(off uint32, hook func(stored uint32) uint32) {
	m.mu.Lock()
	m.readHooks[off] = hook
	m.mu.Unlock()
}

// OnWrite installs a hook that computes the value stored for off.
func (m *Memory) OnWrite(off uint32, hook func(old, v uint32) uint32) {
	m.mu.Lock()
	m.writeHooks[off] = hook
	m.mu.Unlock()
}

// Writes returns how many times off was written.
func (m *Memory) Writes(off uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[off]
}

// TotalWrites returns the number of writes across all offsets.
func (m *Memory) TotalWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.writes {
		n += c
	}
	return n
}

// ResetCounters clears the write counters.
func (m *Memory) ResetCounters() {
	m.mu.Lock()
	m.writes = make(map[uint32]int)
	m.mu.Unlock()
}

// Offsets returns every offset holding a value, in ascending order.
func (m *Memory) Offsets() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	offs := make([]uint32, 0, len(m.values))
	for off := range m.values {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}
