package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/regs"
)

// DSIPixelFormat is the pixel stream format on the DSI link.
type DSIPixelFormat uint32

// DSI pixel formats.
const (
	DSIRGB888 DSIPixelFormat = iota
	DSIRGB666
	DSIRGB666Packed
	DSIRGB565
)

// ParseDSIPixelFormat accepts "rgb888", "rgb666", "rgb666_packed" and "rgb565".
func ParseDSIPixelFormat(s string) (DSIPixelFormat, error) {
	switch s {
	case "rgb888", "":
		return DSIRGB888, nil
	case "rgb666":
		return DSIRGB666, nil
	case "rgb666_packed":
		return DSIRGB666Packed, nil
	case "rgb565":
		return DSIRGB565, nil
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "backend.ParseDSIPixelFormat", "unknown DSI pixel format %q", s)
}

// BitsPerPixel returns the link bits per pixel.
func (f DSIPixelFormat) BitsPerPixel() int {
	switch f {
	case DSIRGB565:
		return 16
	case DSIRGB666Packed:
		return 18
	default:
		return 24
	}
}

// Message is a generic DSI command. Short packet types take at most two Tx
// bytes; RxLen is only used by read types.
type Message struct {
	Channel int
	Type    PacketType
	Tx      []byte
	RxLen   int
}

// InitCommand is a panel init message followed by a delay.
type InitCommand struct {
	Message
	Delay time.Duration
}

// MIPIOptions configures a DSI output.
type MIPIOptions struct {
	Lanes         int
	PixelFormat   DSIPixelFormat
	Channel       int
	BitrateLPMbps int
	BitrateHSMbps int
	Init          []InitCommand
	LockTries     int
}

// MIPI drives a DSI panel in video mode.
type MIPI struct {
	Common
	opts      MIPIOptions
	transport Transport
	pll       PLL
}

// NewMIPI creates a DSI output. A nil transport uses the register FIFO of bank.
func NewMIPI(name string, bank regs.Bank, domain *regs.ClockDomain, panel PanelSource, transport Transport, opts MIPIOptions, logger *slog.Logger) *MIPI {
	if transport == nil {
		transport = NewFIFOTransport(bank, 0)
	}
	if opts.Lanes == 0 {
		opts.Lanes = 4
	}
	if opts.LockTries == 0 {
		opts.LockTries = 1000
	}
	m := &MIPI{opts: opts, transport: transport}
	m.init(KindMIPI, name, bank, domain, panel, logger)
	return m
}

// ApplyMode programs lane count, pixel format and the D-PHY PLL for the
// configured high-speed bit rate.
func (m *MIPI) ApplyMode(md mode.Mode) error {
	if _, err := m.boundPipe("mipi.ApplyMode"); err != nil {
		return err
	}

	pll, err := DSIPLLFor(m.opts.BitrateHSMbps)
	if err != nil {
		return err
	}

	cfg := uint32(m.opts.Lanes-1)&0x3 | (uint32(m.opts.PixelFormat)&0x3)<<4 | (uint32(m.opts.Channel)&0x3)<<6
	escDiv := uint32(1)
	if m.opts.BitrateLPMbps > 0 {
		escDiv = uint32(max(1, m.opts.BitrateHSMbps/(8*m.opts.BitrateLPMbps)))
	}

	err = m.domain.Do(func() error {
		m.bank.Write32(RegDSIConfig, cfg)
		m.bank.Write32(RegDSIPMS, pll.P|pll.M<<8|pll.S<<20)
		m.bank.Write32(RegDSIBand, pll.Band)
		m.bank.Write32(RegDSIEscapeDiv, escDiv)
		return nil
	})
	m.pll = pll

	need := md.PixelClockHz * int64(m.opts.PixelFormat.BitsPerPixel()) / int64(m.opts.Lanes)
	if have := int64(m.opts.BitrateHSMbps) * 1_000_000; need > have {
		m.logger.Warn("DSI bit rate below mode requirement", "mode", md.String(), "need_mbps", need/1_000_000, "have_mbps", m.opts.BitrateHSMbps)
	}
	m.logger.Debug("MIPI mode applied", "mode", md.String(), "lanes", m.opts.Lanes, "pll", pll.Output().String(), "band", pll.Band)
	return err
}

// Prepare resets the DSI engine, starts the PLL and HS clock and sends the
// panel init sequence. Init messages are best effort; only cancellation of
// ctx aborts the sequence.
func (m *MIPI) Prepare(ctx context.Context) error {
	if _, err := m.boundPipe("mipi.Prepare"); err != nil {
		return err
	}

	err := m.domain.Do(func() error {
		m.bank.Write32(RegDSIReset, 1)
		m.bank.Write32(RegDSIReset, 0)
		regs.SetBits(m.bank, RegDSIClock, DSIPLLEnable)
		for range m.opts.LockTries {
			if m.bank.Read32(RegDSIPLLStatus)&DSIPLLLocked != 0 {
				regs.SetBits(m.bank, RegDSIClock, DSIHSClock)
				return nil
			}
		}
		return disperr.New(disperr.CodeHardwareNotReady, "mipi.Prepare", "D-PHY PLL did not lock")
	})
	if err != nil {
		m.logger.Warn("DSI PLL lock poll timed out, continuing", "error", err)
	}

	for i, cmd := range m.opts.Init {
		if _, err := m.Transfer(cmd.Message); err != nil {
			m.logger.Warn("Panel init command failed", "step", i, "type", cmd.Type.String(), "error", err)
		}
		if cmd.Delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cmd.Delay):
		}
	}
	return nil
}

// Unprepare stops the HS clock and PLL and holds the engine in reset.
func (m *MIPI) Unprepare() error {
	return m.domain.Do(func() error {
		regs.ClearBits(m.bank, RegDSIClock, DSIHSClock|DSIPLLEnable)
		m.bank.Write32(RegDSIReset, 1)
		return nil
	})
}

// Power switches the output mux.
func (m *MIPI) Power(on bool) error {
	return m.setMux("mipi.Power", on)
}

// Transfer relays a generic command message to the panel and returns the
// response bytes for read types.
func (m *MIPI) Transfer(msg Message) ([]byte, error) {
	if !msg.Type.valid() {
		return nil, disperr.Newf(disperr.CodeInvalidArgument, "mipi.Transfer", "packet type %d", int(msg.Type))
	}

	var header [2]byte
	var payload []byte
	if msg.Type.Long() {
		if len(msg.Tx) > 0xffff {
			return nil, disperr.Newf(disperr.CodeInvalidArgument, "mipi.Transfer", "payload of %d bytes", len(msg.Tx))
		}
		header[0] = byte(len(msg.Tx))
		header[1] = byte(len(msg.Tx) >> 8)
		payload = msg.Tx
	} else {
		if len(msg.Tx) > 2 {
			return nil, disperr.Newf(disperr.CodeInvalidArgument, "mipi.Transfer", "%s carries at most 2 bytes, got %d", msg.Type, len(msg.Tx))
		}
		copy(header[:], msg.Tx)
	}

	if err := m.transport.SendPacket(msg.Channel, msg.Type, header, payload); err != nil {
		return nil, err
	}
	if !msg.Type.Read() {
		return nil, nil
	}
	return m.transport.ReceivePacket(msg.Channel, msg.RxLen)
}
