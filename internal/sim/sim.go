// Package sim emulates the display register blocks in memory so the whole
// pipeline can run without the SoC. Status bits behave like the hardware:
// dirty flags clear at the next frame, PLLs lock once enabled, interrupt
// pending bits are write-one-to-clear and the HDMI hotplug line follows a
// simulated sink.
package sim

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/pipeline"
	"github.com/smazurov/displaynode/internal/regs"
)

// DefaultFrame is the simulated frame period.
const DefaultFrame = time.Second / 60

type pipeBanks struct {
	index  int
	timing *regs.Memory
	mixer  *regs.Memory
}

// Hardware is a set of simulated register blocks.
type Hardware struct {
	logger *slog.Logger

	mu      sync.Mutex
	pipes   []pipeBanks
	outputs map[string]*regs.Memory
	sinks   map[string]*Sink

	frames atomic.Uint64
}

// New creates empty simulated hardware.
func New(logger *slog.Logger) *Hardware {
	if logger == nil {
		logger = logging.GetLogger("sim")
	}
	return &Hardware{
		logger:  logger,
		outputs: make(map[string]*regs.Memory),
		sinks:   make(map[string]*Sink),
	}
}

func writeOneToClear(old, v uint32) uint32 { return old &^ v }

// Pipe returns the timing generator and mixer blocks of pipe index, creating
// them on first use.
func (h *Hardware) Pipe(index int) (timing, mixer *regs.Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.pipes {
		if p.index == index {
			return p.timing, p.mixer
		}
	}

	timing = regs.NewMemory("tg" + strconv.Itoa(index))
	timing.OnWrite(pipeline.RegTGIntPending, writeOneToClear)
	mixer = regs.NewMemory("mixer" + strconv.Itoa(index))

	h.pipes = append(h.pipes, pipeBanks{index: index, timing: timing, mixer: mixer})
	return timing, mixer
}

// Output returns the register block of an output, creating it on first use
// with the status behavior of kind.
func (h *Hardware) Output(name string, kind backend.Kind) *regs.Memory {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.outputs[name]; ok {
		return b
	}

	b := regs.NewMemory(name)
	switch kind {
	case backend.KindMIPI:
		b.OnRead(backend.RegDSIPLLStatus, func(uint32) uint32 {
			if b.Peek(backend.RegDSIClock)&backend.DSIPLLEnable != 0 {
				return backend.DSIPLLLocked
			}
			return 0
		})
		// Never full; reads complete at once with zero data.
		b.OnRead(backend.RegDSIFIFOStatus, func(uint32) uint32 { return backend.DSIReadDone })
	case backend.KindHDMI:
		b.OnRead(backend.RegHDMIPHYStatus, func(uint32) uint32 {
			if b.Peek(backend.RegHDMIPHYCtrl)&backend.HDMIPHYEnable != 0 {
				return backend.HDMIPHYReady
			}
			return 0
		})
		b.OnWrite(backend.RegHDMIIRQ, writeOneToClear)
	}
	h.outputs[name] = b
	return b
}

// Sink returns the simulated monitor on an HDMI output. It starts
// unplugged.
func (h *Hardware) Sink(name string) *Sink {
	bank := h.Output(name, backend.KindHDMI)

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sinks[name]; ok {
		return s
	}
	s := &Sink{name: name, bank: bank, logger: h.logger}
	h.sinks[name] = s
	return s
}

// Tick advances one frame: committed registers latch, and enabled pipes
// raise their vblank interrupt.
func (h *Hardware) Tick() {
	h.mu.Lock()
	pipes := h.pipes
	h.mu.Unlock()

	for _, p := range pipes {
		latch(p.mixer)
		if p.timing.Peek(pipeline.RegTGCtrl)&pipeline.TGEnable == 0 {
			continue
		}
		if p.timing.Peek(pipeline.RegTGIntEnable)&pipeline.IntVblank != 0 {
			p.timing.Poke(pipeline.RegTGIntPending, p.timing.Peek(pipeline.RegTGIntPending)|pipeline.IntVblank)
		}
	}
	h.frames.Add(1)
}

// latch clears the mixer and layer dirty flags.
func latch(mixer *regs.Memory) {
	if v := mixer.Peek(layer.RegMixerCtrl); v&layer.MixerDirty != 0 {
		mixer.Poke(layer.RegMixerCtrl, v&^layer.MixerDirty)
	}
	for _, off := range mixer.Offsets() {
		if off < layer.LayerBase(0) || (off-layer.LayerBase(0))%(layer.LayerBase(1)-layer.LayerBase(0)) != layer.RegLayerCtrl {
			continue
		}
		if v := mixer.Peek(off); v&layer.LayerDirty != 0 {
			mixer.Poke(off, v&^layer.LayerDirty)
		}
	}
}

// Frames returns the number of simulated frames.
func (h *Hardware) Frames() uint64 { return h.frames.Load() }

// Run ticks every frame period until ctx is done.
func (h *Hardware) Run(ctx context.Context, frame time.Duration) error {
	if frame <= 0 {
		frame = DefaultFrame
	}
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	h.logger.Info("Simulated display hardware running", "frame", frame)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Sink is a simulated HDMI monitor. It implements backend.PanelSource.
type Sink struct {
	name   string
	bank   *regs.Memory
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	edid      []byte
}

var _ backend.PanelSource = (*Sink)(nil)

// Plug attaches a monitor with the given EDID, raising the hotplug line and
// the plug interrupt.
func (s *Sink) Plug(edid []byte) {
	s.mu.Lock()
	s.connected = true
	s.edid = edid
	s.mu.Unlock()

	s.bank.Poke(backend.RegHDMIHPD, backend.HDMIHPDActive)
	s.bank.Poke(backend.RegHDMIIRQ, s.bank.Peek(backend.RegHDMIIRQ)|backend.HDMIIRQPlug)
	s.logger.Info("Simulated monitor plugged", "output", s.name, "edid_bytes", len(edid))
}

// Unplug detaches the monitor.
func (s *Sink) Unplug() {
	s.mu.Lock()
	s.connected = false
	s.edid = nil
	s.mu.Unlock()

	s.bank.Poke(backend.RegHDMIHPD, 0)
	s.bank.Poke(backend.RegHDMIIRQ, s.bank.Peek(backend.RegHDMIIRQ)|backend.HDMIIRQUnplug)
	s.logger.Info("Simulated monitor unplugged", "output", s.name)
}

// Present implements backend.PanelSource.
func (s *Sink) Present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Timing implements backend.PanelSource. Monitors have no fixed timing.
func (s *Sink) Timing() (mode.Mode, bool) { return mode.Mode{}, false }

// EDID implements backend.PanelSource.
func (s *Sink) EDID() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edid, s.connected && len(s.edid) > 0
}

// MonitorEDID builds the EDID of a simulated 1080p HDMI monitor that also
// lists 720p.
func MonitorEDID() []byte {
	p1080, _ := mode.PresetByVIC(16)
	return mode.BuildEDID(mode.EDIDSpec{
		Manufacturer: "DNS",
		ProductCode:  0x1080,
		Name:         "sim monitor",
		Timings:      []mode.Mode{p1080.Mode},
		VICs:         []int{16, 4},
		HDMI:         true,
	})
}
