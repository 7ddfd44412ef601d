package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/regs"
)

// PacketType is a DSI command packet type. Types below DCSLongWrite are short
// packets carrying at most two parameter bytes in the header.
type PacketType int

// Packet types.
const (
	GenericShortWrite0 PacketType = iota
	GenericShortWrite1
	GenericShortWrite2
	GenericRead0
	GenericRead1
	GenericRead2
	DCSShortWrite0
	DCSShortWrite1
	DCSRead
	DCSLongWrite
	GenericLongWrite
)

var packetTypes = []struct {
	name     string
	dataType byte
}{
	GenericShortWrite0: {"generic_short_write_0", 0x03},
	GenericShortWrite1: {"generic_short_write_1", 0x13},
	GenericShortWrite2: {"generic_short_write_2", 0x23},
	GenericRead0:       {"generic_read_0", 0x04},
	GenericRead1:       {"generic_read_1", 0x14},
	GenericRead2:       {"generic_read_2", 0x24},
	DCSShortWrite0:     {"dcs_short_write_0", 0x05},
	DCSShortWrite1:     {"dcs_short_write_1", 0x15},
	DCSRead:            {"dcs_read", 0x06},
	DCSLongWrite:       {"dcs_long_write", 0x39},
	GenericLongWrite:   {"generic_long_write", 0x29},
}

// ParsePacketType looks a packet type up by name, e.g. "dcs_short_write_1".
func ParsePacketType(s string) (PacketType, error) {
	for i, p := range packetTypes {
		if p.name == s {
			return PacketType(i), nil
		}
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "backend.ParsePacketType", "unknown DSI packet type %q", s)
}

func (t PacketType) valid() bool { return t >= 0 && int(t) < len(packetTypes) }

func (t PacketType) String() string {
	if !t.valid() {
		return fmt.Sprintf("PacketType(%d)", int(t))
	}
	return packetTypes[t].name
}

// DataType returns the DSI data identifier without the virtual channel bits.
func (t PacketType) DataType() byte {
	if !t.valid() {
		return 0
	}
	return packetTypes[t].dataType
}

// Long reports whether the packet carries a length-prefixed payload.
func (t PacketType) Long() bool { return t >= DCSLongWrite }

// Read reports whether the packet expects a response.
func (t PacketType) Read() bool {
	return t == GenericRead0 || t == GenericRead1 || t == GenericRead2 || t == DCSRead
}

// Transport moves DSI command packets to and from the panel.
type Transport interface {
	SendPacket(channel int, typ PacketType, header [2]byte, payload []byte) error
	ReceivePacket(channel int, expectedLen int) ([]byte, error)
}

// FIFOTransport is the DSI host's command FIFO. Payload words are queued
// before the header, which triggers transmission.
type FIFOTransport struct {
	bank  regs.Bank
	tries int
}

// NewFIFOTransport creates a transport over the DSI register block. tries
// bounds every FIFO status poll; zero selects 10000.
func NewFIFOTransport(bank regs.Bank, tries int) *FIFOTransport {
	if tries <= 0 {
		tries = 10000
	}
	return &FIFOTransport{bank: bank, tries: tries}
}

func (f *FIFOTransport) waitClear(mask uint32, op string) error {
	for range f.tries {
		if f.bank.Read32(RegDSIFIFOStatus)&mask == 0 {
			return nil
		}
	}
	return disperr.Newf(disperr.CodeHardwareNotReady, op, "FIFO status %#x did not clear", mask)
}

// SendPacket implements Transport.
func (f *FIFOTransport) SendPacket(channel int, typ PacketType, header [2]byte, payload []byte) error {
	if channel < 0 || channel > 3 {
		return disperr.Newf(disperr.CodeInvalidArgument, "dsi.SendPacket", "virtual channel %d", channel)
	}
	if !typ.valid() {
		return disperr.Newf(disperr.CodeInvalidArgument, "dsi.SendPacket", "packet type %d", int(typ))
	}

	for off := 0; off < len(payload); off += 4 {
		if err := f.waitClear(DSIPayloadFull, "dsi.SendPacket"); err != nil {
			return err
		}
		var word [4]byte
		copy(word[:], payload[off:])
		f.bank.Write32(RegDSIPayload, binary.LittleEndian.Uint32(word[:]))
	}

	if err := f.waitClear(DSIHeaderFull, "dsi.SendPacket"); err != nil {
		return err
	}
	di := uint32(typ.DataType()) | uint32(channel)<<6
	f.bank.Write32(RegDSIPktHeader, di|uint32(header[0])<<8|uint32(header[1])<<16)
	return nil
}

// ReceivePacket implements Transport.
func (f *FIFOTransport) ReceivePacket(channel int, expectedLen int) ([]byte, error) {
	if expectedLen <= 0 {
		return nil, nil
	}

	done := false
	for range f.tries {
		if f.bank.Read32(RegDSIFIFOStatus)&DSIReadDone != 0 {
			done = true
			break
		}
	}
	if !done {
		return nil, disperr.Newf(disperr.CodeHardwareNotReady, "dsi.ReceivePacket", "no response on channel %d", channel)
	}

	out := make([]byte, 0, expectedLen)
	for len(out) < expectedLen {
		if f.bank.Read32(RegDSIFIFOStatus)&DSIRxEmpty != 0 {
			break
		}
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], f.bank.Read32(RegDSIRxData))
		n := min(4, expectedLen-len(out))
		out = append(out, word[:n]...)
	}
	return out, nil
}
