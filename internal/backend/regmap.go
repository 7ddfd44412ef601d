package backend

// Register offsets inside an output block. Every back-end owns one block; the
// mux register at offset 0 is common to all of them.
const (
	RegOutputMux uint32 = 0x000 // bit0 enable, bits 3:1 source pipe

	RegRGBCtrl uint32 = 0x010 // bit0 MPU interface

	RegLVDSCtrl     uint32 = 0x020 // bits 1:0 format, bits 7:4 inversions
	RegLVDSPLL      uint32 = 0x024 // p | m<<8 | s<<20 | band<<24
	RegLVDSVoltage  uint32 = 0x028
	RegLVDSPHYReset uint32 = 0x02c // bit0 held in reset

	RegDSIConfig     uint32 = 0x040 // bits 1:0 lanes-1, bits 5:4 format, bits 7:6 channel
	RegDSIPMS        uint32 = 0x044 // p | m<<8 | s<<20
	RegDSIBand       uint32 = 0x048
	RegDSIReset      uint32 = 0x04c // bit0 engine in reset
	RegDSIClock      uint32 = 0x050 // bit0 PLL enable, bit1 HS clock
	RegDSIPLLStatus  uint32 = 0x054 // bit0 locked
	RegDSIEscapeDiv  uint32 = 0x058
	RegDSIPktHeader  uint32 = 0x060
	RegDSIPayload    uint32 = 0x064
	RegDSIFIFOStatus uint32 = 0x068
	RegDSIRxData     uint32 = 0x06c

	RegHDMICtrl      uint32 = 0x080 // bit0 TMDS, bit1 DVI
	RegHDMIPreset    uint32 = 0x084
	RegHDMIQuant     uint32 = 0x088 // 0 limited, 1 full
	RegHDMIPHYConfig uint32 = 0x090 // four consecutive words
	RegHDMIPHYCtrl   uint32 = 0x0a0 // bit0 PHY enable
	RegHDMIPHYStatus uint32 = 0x0a4 // bit0 ready
	RegHDMIHPD       uint32 = 0x0b0 // bit0 sink attached
	RegHDMIIRQ       uint32 = 0x0b4 // bit0 plug, bit1 unplug; write 1 to clear

	RegTVCtrl uint32 = 0x0c0 // bit0 CCIR enable, bit1 PAL
	RegTVDAC  uint32 = 0x0c4 // bit0 DAC power
)

// Register bits.
const (
	MuxEnable = 1 << 0

	LVDSInvertHSync = 1 << 4
	LVDSInvertVSync = 1 << 5
	LVDSInvertDE    = 1 << 6
	LVDSInvertClock = 1 << 7

	DSIPLLEnable = 1 << 0
	DSIHSClock   = 1 << 1
	DSIPLLLocked = 1 << 0

	DSIHeaderFull  = 1 << 0
	DSIPayloadFull = 1 << 1
	DSIReadDone    = 1 << 4
	DSIRxEmpty     = 1 << 5

	HDMITMDSEnable = 1 << 0
	HDMIDVI        = 1 << 1
	HDMIPHYEnable  = 1 << 0
	HDMIPHYReady   = 1 << 0
	HDMIHPDActive  = 1 << 0
	HDMIIRQPlug    = 1 << 0
	HDMIIRQUnplug  = 1 << 1

	TVCCIREnable = 1 << 0
	TVPAL        = 1 << 1
	TVDACPower   = 1 << 0
)
