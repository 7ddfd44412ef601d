package layer

// Mixer register offsets.
const (
	RegMixerCtrl  uint32 = 0x000
	RegScreenSize uint32 = 0x004
	RegBackground uint32 = 0x008

	layerBase   uint32 = 0x040
	layerStride uint32 = 0x040
)

// Per-layer register offsets relative to LayerBase.
const (
	RegLayerCtrl      uint32 = 0x00
	RegLayerLeftRight uint32 = 0x04
	RegLayerTopBottom uint32 = 0x08
	RegLayerStride    uint32 = 0x0c
	RegLayerAddress   uint32 = 0x10
	RegLayerAlpha     uint32 = 0x14
	RegLayerTPColor   uint32 = 0x18
	RegLayerInvColor  uint32 = 0x1c
	RegLayerHScale    uint32 = 0x20
	RegLayerVScale    uint32 = 0x24
	RegLayerSource    uint32 = 0x28
)

// Mixer control bits.
const (
	MixerEnable     uint32 = 1 << 0
	MixerDirty      uint32 = 1 << 1
	MixerPowerGamma uint32 = 1 << 4
	MixerSleepGamma uint32 = 1 << 5
	mixerPrioShift         = 8
	mixerPrioMask   uint32 = 0x3 << mixerPrioShift
)

// Layer control bits. The format code occupies bits 16..31.
const (
	LayerEnable      uint32 = 1 << 0
	LayerDirty       uint32 = 1 << 4
	LayerBlend       uint32 = 1 << 5
	LayerTPEnable    uint32 = 1 << 6
	LayerInvEnable   uint32 = 1 << 7
	layerFormatShift        = 16
	layerFormatMask  uint32 = 0xffff << layerFormatShift
)

// ScaleFilter is set in the scale registers when the filter is active.
const ScaleFilter uint32 = 1 << 28

// LayerBase returns the register block offset of layer index.
func LayerBase(index int) uint32 {
	return layerBase + uint32(index)*layerStride
}
