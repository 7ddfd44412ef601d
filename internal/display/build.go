package display

import (
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/config"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/panel"
	"github.com/smazurov/displaynode/internal/regs"
	"github.com/smazurov/displaynode/internal/sim"
)

// mixerOffset is where the layer mixer sits inside a pipe's register window.
const mixerOffset = 0x800

type banks struct {
	timing regs.Bank
	mixer  regs.Bank
	output regs.Bank
}

func (s *Subsystem) openBanks(p config.Pipe) (banks, error) {
	if s.sim != nil {
		timing, mixer := s.sim.Pipe(p.Index)
		return banks{timing: timing, mixer: mixer, output: s.sim.Output(p.Name, backend.Kind(p.Output))}, nil
	}

	if p.RegisterBase == 0 || p.PHYBase == 0 {
		return banks{}, disperr.Newf(disperr.CodeInvalidArgument, "display.New", "pipe %d: register_base and phy_base are required", p.Index)
	}
	win, err := regs.OpenMMIO(s.memDevice, p.Name, p.RegisterBase, p.RegisterSize)
	if err != nil {
		return banks{}, err
	}
	s.closers = append(s.closers, win)
	phy, err := regs.OpenMMIO(s.memDevice, p.Name+"-phy", p.PHYBase, p.PHYSize)
	if err != nil {
		return banks{}, err
	}
	s.closers = append(s.closers, phy)
	return banks{timing: regs.Window(win, 0), mixer: regs.Window(win, mixerOffset), output: phy}, nil
}

func (s *Subsystem) domain(name string) *regs.ClockDomain {
	d, ok := s.domains[name]
	if !ok {
		d = regs.NewClockDomain(name)
		s.domains[name] = d
	}
	return d
}

func (s *Subsystem) panelSource(p config.Pipe) backend.PanelSource {
	switch {
	case s.sim != nil && p.Output == config.OutputHDMI:
		sink := s.sim.Sink(p.Name)
		if !p.Panel.Absent {
			sink.Plug(sim.MonitorEDID())
		}
		return sink
	case p.Panel.EDID != "":
		return panel.NewEDIDFile(p.Panel.EDID)
	default:
		return panel.NewStatic(!p.Panel.Absent, p.Panel.Timing, nil)
	}
}

func (s *Subsystem) newBackend(p config.Pipe, b banks) (backend.Backend, error) {
	src := s.panelSource(p)
	dom := s.domain(p.ClockDomain)
	logger := s.logger.With("pipe", p.Index)

	switch p.Output {
	case config.OutputRGB:
		return backend.NewRGB(p.Name, b.output, src, p.RGB.MPU, logger), nil

	case config.OutputLVDS:
		format, err := backend.ParseLVDSFormat(p.LVDS.Format)
		if err != nil {
			return nil, err
		}
		return backend.NewLVDS(p.Name, b.output, dom, src, backend.LVDSOptions{
			Format:       format,
			InvertHSync:  p.LVDS.InvertHSync,
			InvertVSync:  p.LVDS.InvertVSync,
			InvertDE:     p.LVDS.InvertDE,
			InvertClock:  p.LVDS.InvertClock,
			VoltageLevel: uint32(p.LVDS.VoltageLevel),
		}, logger), nil

	case config.OutputMIPI:
		format, err := backend.ParseDSIPixelFormat(p.MIPI.PixelFormat)
		if err != nil {
			return nil, err
		}
		cmds, err := initCommands(p.MIPI)
		if err != nil {
			return nil, err
		}
		return backend.NewMIPI(p.Name, b.output, dom, src, backend.NewFIFOTransport(b.output, 0), backend.MIPIOptions{
			Lanes:         p.MIPI.Lanes,
			PixelFormat:   format,
			Channel:       p.MIPI.Channel,
			BitrateLPMbps: p.MIPI.BitrateLPMbps,
			BitrateHSMbps: p.MIPI.BitrateHSMbps,
			Init:          cmds,
		}, logger), nil

	case config.OutputHDMI:
		rng, err := backend.ParseColorRange(p.HDMI.ColorRange)
		if err != nil {
			return nil, err
		}
		return backend.NewHDMI(p.Name, b.output, dom, src, backend.HDMIOptions{
			DVI:          p.HDMI.DVI,
			ColorRange:   rng,
			NativeVIC:    p.HDMI.NativeVIC,
			PollInterval: time.Duration(p.HDMI.PollMs) * time.Millisecond,
			PollTries:    p.HDMI.PollTries,
		}, logger), nil

	case config.OutputTVOut:
		format, err := backend.ParseCCIRFormat(p.TVOut.Format)
		if err != nil {
			return nil, err
		}
		return backend.NewTVOut(p.Name, b.output, format, logger), nil
	}
	return nil, disperr.Newf(disperr.CodeInvalidArgument, "display.New", "pipe %d: unknown output %q", p.Index, p.Output)
}

func initCommands(m config.MIPIOutput) ([]backend.InitCommand, error) {
	out := make([]backend.InitCommand, 0, len(m.Init))
	for _, c := range m.Init {
		typ, err := backend.ParsePacketType(c.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, backend.InitCommand{
			Message: backend.Message{Channel: m.Channel, Type: typ, Tx: c.Bytes()},
			Delay:   time.Duration(c.DelayMs) * time.Millisecond,
		})
	}
	return out, nil
}

func powerSteps(p config.Panel) []panel.Step {
	steps := make([]panel.Step, len(p.Power))
	for i, st := range p.Power {
		active := gpio.High
		if st.ActiveLow {
			active = gpio.Low
		}
		steps[i] = panel.Step{Line: st.GPIO, Active: active, Delay: time.Duration(st.DelayMs) * time.Millisecond}
	}
	return steps
}

func (s *Subsystem) newSequence(p config.Pipe) *panel.Sequence {
	if len(p.Panel.Power) == 0 && p.Panel.Backlight == "" {
		return nil
	}
	logger := s.logger.With("pipe", p.Index)
	bl := panel.NewBacklight(p.Panel.Backlight, s.gpio, logger)
	return panel.NewSequence(s.gpio, powerSteps(p.Panel), bl, p.Panel.BacklightDelay(), logger)
}
