package mode

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	edidBlockLen  = 128
	dtdLen        = 18
	ceaExtTag     = 0x02
	ceaVideoBlock = 2
	ceaVendorBlk  = 3
	hdmiOUI       = 0x000C03
)

var edidHeader = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// EDID is the decoded subset of a monitor's extended display identification data.
type EDID struct {
	Manufacturer string      `json:"manufacturer"`
	ProductCode  uint16      `json:"product_code"`
	Serial       uint32      `json:"serial"`
	Year         int         `json:"year"`
	Version      string      `json:"version"`
	Name         string      `json:"name,omitempty"`
	HDMI         bool        `json:"hdmi"`
	Modes        []Candidate `json:"modes"`
}

// Preferred returns the preferred candidate, if one was declared.
func (e *EDID) Preferred() (Mode, bool) {
	for _, c := range e.Modes {
		if c.Preferred {
			return c.Mode, true
		}
	}
	return Mode{}, false
}

// ParseEDID decodes the base block and any CEA-861 extension blocks.
func ParseEDID(data []byte) (*EDID, error) {
	if len(data) < edidBlockLen {
		return nil, fmt.Errorf("edid: need %d bytes, got %d", edidBlockLen, len(data))
	}
	base := data[:edidBlockLen]
	if !bytes.Equal(base[:8], edidHeader) {
		return nil, fmt.Errorf("edid: bad header % x", base[:8])
	}
	if err := checkBlock(base); err != nil {
		return nil, err
	}

	e := &EDID{
		Manufacturer: decodeManufacturer(uint16(base[8])<<8 | uint16(base[9])),
		ProductCode:  uint16(base[10]) | uint16(base[11])<<8,
		Serial:       uint32(base[12]) | uint32(base[13])<<8 | uint32(base[14])<<16 | uint32(base[15])<<24,
		Year:         int(base[17]) + 1990,
		Version:      fmt.Sprintf("%d.%d", base[18], base[19]),
	}

	seen := make(map[Mode]bool)
	add := func(m Mode, preferred bool) {
		if seen[m] {
			if preferred {
				for i := range e.Modes {
					if e.Modes[i].Mode == m {
						e.Modes[i].Preferred = true
					}
				}
			}
			return
		}
		seen[m] = true
		e.Modes = append(e.Modes, Candidate{Mode: m, Preferred: preferred, Origin: OriginEDID})
	}

	// The first detailed timing is the preferred mode for EDID 1.3 and later.
	firstDTD := true
	for i := 0; i < 4; i++ {
		d := base[54+i*dtdLen : 54+(i+1)*dtdLen]
		if d[0] == 0 && d[1] == 0 {
			if d[3] == 0xFC {
				e.Name = strings.TrimSpace(strings.SplitN(string(d[5:18]), "\n", 2)[0])
			}
			continue
		}
		m, ok := decodeDTD(d)
		if !ok {
			continue
		}
		add(m, firstDTD)
		firstDTD = false
	}

	if base[35]&0x20 != 0 {
		if m, ok := lookupTiming(640, 480, 60); ok {
			add(m, false)
		}
	}
	if base[35]&0x01 != 0 {
		if m, ok := lookupTiming(800, 600, 60); ok {
			add(m, false)
		}
	}
	if base[36]&0x08 != 0 {
		if m, ok := lookupTiming(1024, 768, 60); ok {
			add(m, false)
		}
	}

	for i := 0; i < 8; i++ {
		b1, b2 := base[38+i*2], base[39+i*2]
		if b1 == 0x01 && b2 == 0x01 || b1 == 0x00 {
			continue
		}
		w := (int(b1) + 31) * 8
		var h int
		switch b2 >> 6 {
		case 0:
			h = w * 10 / 16
		case 1:
			h = w * 3 / 4
		case 2:
			h = w * 4 / 5
		case 3:
			h = w * 9 / 16
		}
		refresh := int(b2&0x3F) + 60
		if m, ok := lookupTiming(w, h, refresh); ok {
			add(m, false)
		}
	}

	ext := int(base[126])
	for n := 1; n <= ext; n++ {
		start := n * edidBlockLen
		if len(data) < start+edidBlockLen {
			break
		}
		block := data[start : start+edidBlockLen]
		if block[0] != ceaExtTag {
			continue
		}
		if err := checkBlock(block); err != nil {
			return nil, fmt.Errorf("edid: extension %d: %w", n, err)
		}
		e.parseCEA(block, add)
	}

	return e, nil
}

func (e *EDID) parseCEA(block []byte, add func(Mode, bool)) {
	dtdStart := int(block[2])
	if dtdStart == 0 || dtdStart > edidBlockLen-1 {
		dtdStart = edidBlockLen - 1
	}

	for i := 4; i < dtdStart; {
		tag := block[i] >> 5
		n := int(block[i] & 0x1F)
		if i+1+n > dtdStart {
			break
		}
		payload := block[i+1 : i+1+n]
		switch tag {
		case ceaVideoBlock:
			for _, svd := range payload {
				vic := int(svd & 0x7F)
				native := svd&0x80 != 0 && vic <= 64
				if svd >= 193 {
					vic = int(svd)
				}
				if p, ok := PresetByVIC(vic); ok {
					add(p.Mode, native)
				}
			}
		case ceaVendorBlk:
			if n >= 3 && int(payload[0])|int(payload[1])<<8|int(payload[2])<<16 == hdmiOUI {
				e.HDMI = true
			}
		}
		i += 1 + n
	}

	for off := dtdStart; off+dtdLen <= edidBlockLen-1; off += dtdLen {
		d := block[off : off+dtdLen]
		if d[0] == 0 && d[1] == 0 {
			break
		}
		if m, ok := decodeDTD(d); ok {
			add(m, false)
		}
	}
}

func checkBlock(block []byte) error {
	var sum byte
	for _, b := range block[:edidBlockLen] {
		sum += b
	}
	if sum != 0 {
		return fmt.Errorf("edid: checksum mismatch (sum %#02x)", sum)
	}
	return nil
}

func decodeManufacturer(v uint16) string {
	letters := []byte{
		byte(v>>10&0x1F) + 'A' - 1,
		byte(v>>5&0x1F) + 'A' - 1,
		byte(v&0x1F) + 'A' - 1,
	}
	return string(letters)
}

func encodeManufacturer(s string) uint16 {
	s = strings.ToUpper(s + "AAA")[:3]
	var v uint16
	for i := 0; i < 3; i++ {
		v = v<<5 | uint16(s[i]-'A'+1)&0x1F
	}
	return v
}

func decodeDTD(d []byte) (Mode, bool) {
	clk := int64(uint16(d[0])|uint16(d[1])<<8) * 10_000
	if clk == 0 {
		return Mode{}, false
	}
	hActive := int(d[2]) | int(d[4]>>4)<<8
	hBlank := int(d[3]) | int(d[4]&0x0F)<<8
	vActive := int(d[5]) | int(d[7]>>4)<<8
	vBlank := int(d[6]) | int(d[7]&0x0F)<<8
	hFP := int(d[8]) | int(d[11]>>6&0x03)<<8
	hSync := int(d[9]) | int(d[11]>>4&0x03)<<8
	vFP := int(d[10]>>4) | int(d[11]>>2&0x03)<<4
	vSync := int(d[10]&0x0F) | int(d[11]&0x03)<<4
	flags := d[17]

	if hActive == 0 || vActive == 0 || hFP+hSync > hBlank || vFP+vSync > vBlank {
		return Mode{}, false
	}

	m := Mode{
		HActive:      hActive,
		HFrontPorch:  hFP,
		HSyncLen:     hSync,
		HBackPorch:   hBlank - hFP - hSync,
		VActive:      vActive,
		VFrontPorch:  vFP,
		VSyncLen:     vSync,
		VBackPorch:   vBlank - vFP - vSync,
		PixelClockHz: clk,
		Interlaced:   flags&0x80 != 0,
	}
	if flags&0x18 == 0x18 {
		if flags&0x04 != 0 {
			m.VSyncPolarity = ActiveHigh
		}
		if flags&0x02 != 0 {
			m.HSyncPolarity = ActiveHigh
		}
	}

	total := int64(m.HTotal()) * int64(m.VTotal())
	m.RefreshHz = int((clk + total/2) / total)

	if m.Interlaced {
		m.VActive *= 2
		m.VFrontPorch *= 2
		m.VSyncLen *= 2
		m.VBackPorch *= 2
	}
	return m, true
}

func encodeDTD(m Mode) [dtdLen]byte {
	var d [dtdLen]byte
	vActive, vFP, vSync, vBP := m.VActive, m.VFrontPorch, m.VSyncLen, m.VBackPorch
	if m.Interlaced {
		vActive, vFP, vSync, vBP = vActive/2, vFP/2, vSync/2, vBP/2
	}
	clk := uint16(m.PixelClockHz / 10_000)
	hBlank := m.HFrontPorch + m.HSyncLen + m.HBackPorch
	vBlank := vFP + vSync + vBP

	d[0], d[1] = byte(clk), byte(clk>>8)
	d[2] = byte(m.HActive)
	d[3] = byte(hBlank)
	d[4] = byte(m.HActive>>8)<<4 | byte(hBlank>>8)&0x0F
	d[5] = byte(vActive)
	d[6] = byte(vBlank)
	d[7] = byte(vActive>>8)<<4 | byte(vBlank>>8)&0x0F
	d[8] = byte(m.HFrontPorch)
	d[9] = byte(m.HSyncLen)
	d[10] = byte(vFP&0x0F)<<4 | byte(vSync&0x0F)
	d[11] = byte(m.HFrontPorch>>8&0x03)<<6 | byte(m.HSyncLen>>8&0x03)<<4 |
		byte(vFP>>4&0x03)<<2 | byte(vSync>>4&0x03)
	d[17] = 0x18
	if m.Interlaced {
		d[17] |= 0x80
	}
	if m.VSyncPolarity == ActiveHigh {
		d[17] |= 0x04
	}
	if m.HSyncPolarity == ActiveHigh {
		d[17] |= 0x02
	}
	return d
}

// EDIDSpec describes a monitor for BuildEDID.
type EDIDSpec struct {
	Manufacturer string
	ProductCode  uint16
	Name         string
	// Timings become detailed timing descriptors; the first is the preferred mode.
	Timings []Mode
	// VICs are advertised in a CEA-861 video data block.
	VICs []int
	HDMI bool
}

// BuildEDID encodes spec as an EDID 1.4 base block, followed by a CEA-861
// extension block when VICs, HDMI or more than three timings are requested.
func BuildEDID(spec EDIDSpec) []byte {
	base := make([]byte, edidBlockLen)
	copy(base, edidHeader)
	mfg := encodeManufacturer(spec.Manufacturer)
	base[8], base[9] = byte(mfg>>8), byte(mfg)
	base[10], base[11] = byte(spec.ProductCode), byte(spec.ProductCode>>8)
	base[16] = 1
	base[17] = 34 // 2024
	base[18], base[19] = 1, 4
	base[20] = 0xA5 // digital, 8 bpc, DisplayPort/HDMI interface
	base[24] = 0x0A // RGB 4:4:4, preferred timing includes native format
	for i := 38; i < 54; i++ {
		base[i] = 0x01
	}

	slot := 0
	timings := spec.Timings
	for slot < 3 && len(timings) > 0 {
		d := encodeDTD(timings[0])
		copy(base[54+slot*dtdLen:], d[:])
		timings = timings[1:]
		slot++
	}
	if spec.Name != "" && slot < 4 {
		d := base[54+slot*dtdLen : 54+(slot+1)*dtdLen]
		d[3] = 0xFC
		name := []byte(spec.Name)
		if len(name) > 13 {
			name = name[:13]
		}
		n := copy(d[5:], name)
		if n < 13 {
			d[5+n] = 0x0A
			for i := 5 + n + 1; i < dtdLen; i++ {
				d[i] = 0x20
			}
		}
		slot++
	}
	for ; slot < 4; slot++ {
		base[54+slot*dtdLen+3] = 0x10
	}

	needExt := len(spec.VICs) > 0 || spec.HDMI || len(timings) > 0
	if needExt {
		base[126] = 1
	}
	finishBlock(base)
	if !needExt {
		return base
	}

	ext := make([]byte, edidBlockLen)
	ext[0], ext[1] = ceaExtTag, 3
	off := 4
	if len(spec.VICs) > 0 {
		ext[off] = ceaVideoBlock<<5 | byte(len(spec.VICs))
		for i, vic := range spec.VICs {
			ext[off+1+i] = byte(vic)
		}
		off += 1 + len(spec.VICs)
	}
	if spec.HDMI {
		ext[off] = ceaVendorBlk<<5 | 5
		ext[off+1], ext[off+2], ext[off+3] = 0x03, 0x0C, 0x00
		ext[off+4], ext[off+5] = 0x10, 0x00 // physical address 1.0.0.0
		off += 6
	}
	ext[2] = byte(off)
	for _, m := range timings {
		if off+dtdLen > edidBlockLen-1 {
			break
		}
		d := encodeDTD(m)
		copy(ext[off:], d[:])
		off += dtdLen
	}
	finishBlock(ext)

	return append(base, ext...)
}

func finishBlock(block []byte) {
	var sum byte
	for _, b := range block[:edidBlockLen-1] {
		sum += b
	}
	block[edidBlockLen-1] = -sum
}
