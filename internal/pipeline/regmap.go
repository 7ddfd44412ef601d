package pipeline

// Timing generator register offsets.
const (
	RegTGCtrl       uint32 = 0x00
	RegTGHTotal     uint32 = 0x04
	RegTGHSync      uint32 = 0x08
	RegTGHActive    uint32 = 0x0c
	RegTGVTotal     uint32 = 0x10
	RegTGVSync      uint32 = 0x14
	RegTGVActive    uint32 = 0x18
	RegTGClockDiv   uint32 = 0x20
	RegTGIntEnable  uint32 = 0x30
	RegTGIntPending uint32 = 0x34
)

// Timing generator control bits.
const (
	TGEnable      uint32 = 1 << 0
	TGInterlace   uint32 = 1 << 1
	TGHSyncInvert uint32 = 1 << 4
	TGVSyncInvert uint32 = 1 << 5
	TGClockEnable uint32 = 1 << 8
)

// Interrupt bits of RegTGIntEnable and RegTGIntPending. Pending bits are
// write-one-to-clear.
const (
	IntVblank    uint32 = 1 << 0
	IntUnderflow uint32 = 1 << 1
	IntField     uint32 = 1 << 2
	IntAll              = IntVblank | IntUnderflow | IntField
)
