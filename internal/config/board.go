package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
)

// Output kinds accepted in a pipe's output field.
const (
	OutputRGB   = "rgb"
	OutputLVDS  = "lvds"
	OutputMIPI  = "mipi"
	OutputHDMI  = "hdmi"
	OutputTVOut = "tvout"
)

// Board is the static description of the display hardware, the equivalent of
// the display nodes of a device tree.
type Board struct {
	Name     string    `toml:"name"`
	Pipes    []Pipe    `toml:"pipe"`
	Clusters []Cluster `toml:"cluster"`
	Hotplug  Hotplug   `toml:"hotplug"`
	IRQ      IRQ       `toml:"irq"`
}

// Pipe describes one timing generator and the output wired to it.
type Pipe struct {
	Index        int    `toml:"index"`
	Name         string `toml:"name"`
	Output       string `toml:"output"`
	ClockHz      int64  `toml:"clock_hz"`
	RegisterBase uint64 `toml:"register_base"`
	RegisterSize uint32 `toml:"register_size"`
	PHYBase      uint64 `toml:"phy_base"`
	PHYSize      uint32 `toml:"phy_size"`
	ClockDomain  string `toml:"clock_domain"`

	RGB   RGBOutput   `toml:"rgb"`
	LVDS  LVDSOutput  `toml:"lvds"`
	MIPI  MIPIOutput  `toml:"mipi"`
	HDMI  HDMIOutput  `toml:"hdmi"`
	TVOut TVOutOutput `toml:"tvout"`

	Panel Panel `toml:"panel"`
}

// RGBOutput holds parallel RGB parameters.
type RGBOutput struct {
	MPU bool `toml:"mpu"`
}

// LVDSOutput holds LVDS PHY parameters.
type LVDSOutput struct {
	Format       string `toml:"format"`
	InvertHSync  bool   `toml:"invert_hsync"`
	InvertVSync  bool   `toml:"invert_vsync"`
	InvertDE     bool   `toml:"invert_de"`
	InvertClock  bool   `toml:"invert_clock"`
	VoltageLevel int    `toml:"voltage_level"`
}

// MIPIOutput holds DSI link parameters and the panel init sequence.
type MIPIOutput struct {
	Lanes         int          `toml:"lanes"`
	PixelFormat   string       `toml:"pixel_format"`
	BitrateLPMbps int          `toml:"bitrate_lp_mbps"`
	BitrateHSMbps int          `toml:"bitrate_hs_mbps"`
	Channel       int          `toml:"channel"`
	Init          []DSICommand `toml:"init"`
}

// DSICommand is one panel init message sent during prepare.
type DSICommand struct {
	Type    string `toml:"type"`
	Data    []int  `toml:"data"`
	DelayMs int    `toml:"delay_ms"`
}

// Bytes returns Data as bytes.
func (c DSICommand) Bytes() []byte {
	out := make([]byte, len(c.Data))
	for i, v := range c.Data {
		out[i] = byte(v)
	}
	return out
}

// HDMIOutput holds HDMI transmitter parameters.
type HDMIOutput struct {
	DVI        bool   `toml:"dvi"`
	ColorRange string `toml:"color_range"`
	NativeVIC  int    `toml:"native_vic"`
	PollMs     int    `toml:"ready_poll_ms"`
	PollTries  int    `toml:"ready_poll_tries"`
}

// TVOutOutput holds analog encoder parameters.
type TVOutOutput struct {
	Format string `toml:"format"`
}

// Panel describes what is attached to a pipe and how to power it.
type Panel struct {
	Absent           bool        `toml:"absent"`
	Timing           *mode.Mode  `toml:"timing"`
	EDID             string      `toml:"edid"`
	Power            []PowerStep `toml:"power"`
	Backlight        string      `toml:"backlight"`
	BacklightDelayMs int         `toml:"backlight_delay_ms"`
}

// BacklightDelay returns the delay before the backlight is unblanked.
func (p Panel) BacklightDelay() time.Duration {
	return time.Duration(p.BacklightDelayMs) * time.Millisecond
}

// PowerStep asserts one GPIO line and waits DelayMs before the next step.
type PowerStep struct {
	GPIO      string `toml:"gpio"`
	ActiveLow bool   `toml:"active_low"`
	DelayMs   int    `toml:"delay_ms"`
}

// Cluster groups pipes that act as one logical screen.
type Cluster struct {
	Name      string `toml:"name"`
	Members   []int  `toml:"members"`
	Reference int    `toml:"reference"`
	Direction string `toml:"direction"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
}

// Hotplug holds hotplug detection tunables.
type Hotplug struct {
	DebounceMs int  `toml:"debounce_ms"`
	Uevent     bool `toml:"uevent"`
}

// Debounce returns the debounce interval.
func (h Hotplug) Debounce() time.Duration {
	return time.Duration(h.DebounceMs) * time.Millisecond
}

// IRQ holds interrupt reactor tunables.
type IRQ struct {
	QueueSize      int `toml:"queue_size"`
	PollIntervalMs int `toml:"poll_interval_ms"`
}

// PollInterval returns the status poll interval, zero when polling is off.
func (q IRQ) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

// Defaults.
const (
	DefaultHotplugDebounceMs = 1000
	DefaultIRQQueueSize      = 64
	DefaultHDMIPollMs        = 10
	DefaultHDMIPollTries     = 500
	DefaultRegisterSize      = 0x1000
)

// LoadBoard reads, defaults and validates a board description.
func LoadBoard(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}
	return ParseBoard(data)
}

// ParseBoard decodes a board description. Unknown keys are rejected.
func ParseBoard(data []byte) (*Board, error) {
	var b Board
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse board: %w", err)
	}
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Board) applyDefaults() {
	if b.Hotplug.DebounceMs == 0 {
		b.Hotplug.DebounceMs = DefaultHotplugDebounceMs
	}
	if b.IRQ.QueueSize == 0 {
		b.IRQ.QueueSize = DefaultIRQQueueSize
	}
	for i := range b.Pipes {
		p := &b.Pipes[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("%s%d", p.Output, p.Index)
		}
		if p.RegisterSize == 0 {
			p.RegisterSize = DefaultRegisterSize
		}
		if p.PHYSize == 0 {
			p.PHYSize = DefaultRegisterSize
		}
		if p.ClockDomain == "" {
			p.ClockDomain = p.Output
		}
		switch p.Output {
		case OutputMIPI:
			if p.MIPI.Lanes == 0 {
				p.MIPI.Lanes = 4
			}
			if p.MIPI.PixelFormat == "" {
				p.MIPI.PixelFormat = "rgb888"
			}
			if p.MIPI.BitrateLPMbps == 0 {
				p.MIPI.BitrateLPMbps = 10
			}
		case OutputLVDS:
			if p.LVDS.Format == "" {
				p.LVDS.Format = "vesa"
			}
		case OutputHDMI:
			if p.HDMI.PollMs == 0 {
				p.HDMI.PollMs = DefaultHDMIPollMs
			}
			if p.HDMI.PollTries == 0 {
				p.HDMI.PollTries = DefaultHDMIPollTries
			}
		case OutputTVOut:
			if p.TVOut.Format == "" {
				p.TVOut.Format = "ntsc"
			}
		}
	}
	for i := range b.Clusters {
		if b.Clusters[i].Direction == "" {
			b.Clusters[i].Direction = "horizontal"
		}
	}
}

// Validate checks the description for structural mistakes. All problems are
// reported together.
func (b *Board) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, disperr.Newf(disperr.CodeInvalidArgument, "board", format, args...))
	}

	if len(b.Pipes) == 0 {
		bad("no pipes defined")
	}

	seen := make(map[int]bool)
	for _, p := range b.Pipes {
		if p.Index < 0 {
			bad("pipe %q: negative index", p.Name)
		}
		if seen[p.Index] {
			bad("pipe index %d defined twice", p.Index)
		}
		seen[p.Index] = true

		switch p.Output {
		case OutputRGB, OutputLVDS, OutputHDMI, OutputTVOut:
		case OutputMIPI:
			if p.MIPI.Lanes < 1 || p.MIPI.Lanes > 4 {
				bad("pipe %d: mipi lanes must be 1..4, got %d", p.Index, p.MIPI.Lanes)
			}
			if p.MIPI.BitrateHSMbps <= 0 {
				bad("pipe %d: mipi bitrate_hs_mbps required", p.Index)
			}
		default:
			bad("pipe %d: unknown output %q", p.Index, p.Output)
		}

		switch p.HDMI.ColorRange {
		case "", "auto", "full", "limited":
		default:
			bad("pipe %d: color_range must be auto, full or limited", p.Index)
		}

		if p.Panel.Timing != nil {
			if err := p.Panel.Timing.Validate(); err != nil {
				bad("pipe %d: panel timing: %v", p.Index, err)
			}
		}
		for i, s := range p.Panel.Power {
			if s.GPIO == "" {
				bad("pipe %d: power step %d has no gpio", p.Index, i)
			}
			if s.DelayMs < 0 {
				bad("pipe %d: power step %d has negative delay", p.Index, i)
			}
		}
	}

	for _, c := range b.Clusters {
		if len(c.Members) < 2 {
			bad("cluster %q: needs at least two members", c.Name)
		}
		for _, m := range c.Members {
			if !seen[m] {
				bad("cluster %q: unknown member pipe %d", c.Name, m)
			}
		}
		if !slices.Contains(c.Members, c.Reference) {
			bad("cluster %q: reference %d is not a member", c.Name, c.Reference)
		}
		switch c.Direction {
		case "horizontal", "vertical", "clone":
		default:
			bad("cluster %q: unknown direction %q", c.Name, c.Direction)
		}
		// zero derives the size from the reference mode
		if c.Width < 0 || c.Height < 0 {
			bad("cluster %q: combined size must not be negative", c.Name)
		}
	}

	return errors.Join(errs...)
}

// Pipe returns the pipe with the given index.
func (b *Board) Pipe(index int) (Pipe, bool) {
	for _, p := range b.Pipes {
		if p.Index == index {
			return p, true
		}
	}
	return Pipe{}, false
}

// DefaultBoard is used by simulation when no board file exists: a MIPI panel
// on pipe 0 and an HDMI connector on pipe 1.
func DefaultBoard() *Board {
	b := &Board{
		Name: "simulated",
		Pipes: []Pipe{
			{
				Index:   0,
				Name:    "dsi0",
				Output:  OutputMIPI,
				ClockHz: 800_000_000,
				MIPI: MIPIOutput{
					Lanes:         4,
					PixelFormat:   "rgb888",
					BitrateHSMbps: 480,
					Init: []DSICommand{
						{Type: "dcs_short_write_0", Data: []int{0x11}, DelayMs: 120},
						{Type: "dcs_short_write_0", Data: []int{0x29}, DelayMs: 20},
					},
				},
				Panel: Panel{
					Timing: &mode.Mode{
						HActive: 800, HSyncLen: 4, HBackPorch: 36, HFrontPorch: 24,
						VActive: 1280, VSyncLen: 2, VBackPorch: 14, VFrontPorch: 16,
						PixelClockHz: 69_000_000, RefreshHz: 60,
					},
					Power: []PowerStep{
						{GPIO: "LCD_EN", DelayMs: 10},
						{GPIO: "LCD_RESET", DelayMs: 20},
					},
					BacklightDelayMs: 100,
				},
			},
			{
				Index:   1,
				Name:    "hdmi0",
				Output:  OutputHDMI,
				ClockHz: 800_000_000,
			},
		},
	}
	b.applyDefaults()
	return b
}
