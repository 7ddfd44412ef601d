// Package display assembles pipes, back-ends, clusters and hotplug
// monitors from a board description and exposes the operations the
// surrounding display server uses.
package display

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/cluster"
	"github.com/smazurov/displaynode/internal/config"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/hotplug"
	"github.com/smazurov/displaynode/internal/irq"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/metrics"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/panel"
	"github.com/smazurov/displaynode/internal/pipeline"
	"github.com/smazurov/displaynode/internal/regs"
	"github.com/smazurov/displaynode/internal/sim"
	"github.com/smazurov/displaynode/pkg/uevent"
)

// Service is the display surface used by the API.
type Service interface {
	EnumeratePipes() []PipeInfo
	Pipe(index int) (PipeInfo, error)
	Modes(index int) ([]mode.Candidate, error)
	NegotiateAndApply(index int) (mode.Mode, error)
	SetPower(ctx context.Context, index int, target pipeline.Target) error
	UpdateLayer(index, layerIndex int, u LayerUpdate) (layer.Layer, error)
	Commit(index int) (int, error)
	OnHotplug(fn HotplugFunc) func()
}

// HotplugFunc is called after a debounced connector change and the
// renegotiation it triggers.
type HotplugFunc func(pipe int, connected bool)

// Options configures a Subsystem.
type Options struct {
	Board *config.Board
	// Simulate runs every pipe against in-memory registers.
	Simulate bool
	// Sim supplies the simulated hardware; created when nil.
	Sim *sim.Hardware
	// MemDevice is the physical memory device for register mapping.
	MemDevice string
	// GPIO overrides the panel line controller.
	GPIO   panel.GPIO
	Bus    *events.Bus
	Logger *slog.Logger
}

type pipe struct {
	cfg     config.Pipe
	ctrl    *pipeline.Controller
	hdmi    *backend.HDMI
	hotplug *hotplug.Monitor
	cluster *cluster.Group
}

// Subsystem owns every pipe of a board.
type Subsystem struct {
	bus       *events.Bus
	logger    *slog.Logger
	neg       *mode.Negotiator
	reactor   *irq.Reactor
	poller    *irq.Poller
	sim       *sim.Hardware
	gpio      panel.GPIO
	memDevice string
	uevents   bool

	pipes    map[int]*pipe
	order    []int
	clusters []*cluster.Group
	domains  map[string]*regs.ClockDomain
	closers  []io.Closer

	// mu guards board, handlers and the cfg of every pipe.
	mu       sync.Mutex
	board    *config.Board
	handlers map[int]HotplugFunc
	nextID   int
}

var _ Service = (*Subsystem)(nil)

// New builds the subsystem described by opts.Board. Nothing is powered on.
func New(opts Options) (*Subsystem, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("display")
	}
	board := opts.Board
	if board == nil {
		return nil, disperr.New(disperr.CodeInvalidArgument, "display.New", "no board description")
	}
	if err := board.Validate(); err != nil {
		return nil, err
	}

	s := &Subsystem{
		bus:       opts.Bus,
		logger:    logger,
		neg:       mode.NewNegotiator(logging.GetLogger("mode")),
		reactor:   irq.NewReactor(board.IRQ.QueueSize, logging.GetLogger("irq")),
		gpio:      opts.GPIO,
		memDevice: opts.MemDevice,
		uevents:   board.Hotplug.Uevent && !opts.Simulate,
		pipes:     make(map[int]*pipe),
		domains:   make(map[string]*regs.ClockDomain),
		board:     board,
		handlers:  make(map[int]HotplugFunc),
	}
	if s.memDevice == "" {
		s.memDevice = regs.DefaultMemDevice
	}
	if opts.Simulate {
		s.sim = opts.Sim
		if s.sim == nil {
			s.sim = sim.New(logging.GetLogger("sim"))
		}
		if s.gpio == nil {
			s.gpio = panel.NewNoopGPIO(logging.GetLogger("panel"))
		}
	}
	if s.gpio == nil {
		s.gpio = panel.NewGPIO(logging.GetLogger("panel"))
	}

	pollEvery := board.IRQ.PollInterval()
	if pollEvery > 0 || s.sim != nil {
		s.poller = irq.NewPoller(s.reactor, pollEvery, logging.GetLogger("irq"))
	}

	for _, pc := range board.Pipes {
		if err := s.addPipe(pc); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	for _, cc := range board.Clusters {
		if err := s.addCluster(cc); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.reactor.Handle(irq.SourceVblank, s.handleVblank)
	s.reactor.Handle(irq.SourceHotplug, s.handleHotplugIRQ)

	logger.Info("Display subsystem ready", "board", board.Name, "pipes", len(s.order), "clusters", len(s.clusters), "simulated", s.sim != nil)
	return s, nil
}

func (s *Subsystem) addPipe(pc config.Pipe) error {
	b, err := s.openBanks(pc)
	if err != nil {
		return err
	}
	be, err := s.newBackend(pc, b)
	if err != nil {
		return err
	}

	comp := layer.NewCompositor(pc.Index, b.mixer, layer.Options{}, logging.GetLogger("layer"))
	ctrl, err := pipeline.New(b.timing, comp, be, pipeline.Options{
		Index:    pc.Index,
		Name:     pc.Name,
		ClockHz:  pc.ClockHz,
		Sequence: s.newSequence(pc),
		Bus:      s.bus,
		Logger:   logging.GetLogger("pipeline"),
	})
	if err != nil {
		return err
	}

	p := &pipe{cfg: pc, ctrl: ctrl}
	if h, ok := be.(*backend.HDMI); ok {
		p.hdmi = h
		p.hotplug = hotplug.New(hotplug.Options{
			Pipe:     pc.Index,
			Backend:  string(be.Kind()),
			Status:   h.IsConnected,
			Debounce: s.board.Hotplug.Debounce(),
			Notify:   s.hotplugChanged,
			Bus:      s.bus,
			Logger:   logging.GetLogger("hotplug"),
		})
	}

	if s.poller != nil {
		ctrl.VblankIRQEnable(true)
		s.poller.Add(irq.Line{Source: irq.SourceVblank, Pipe: pc.Index, Ack: ctrl.VblankIRQAck})
		if p.hdmi != nil {
			s.poller.Add(irq.Line{Source: irq.SourceHotplug, Pipe: pc.Index, Ack: hotplugAck(p.hdmi)})
		}
	}

	s.pipes[pc.Index] = p
	s.order = append(s.order, pc.Index)
	slices.Sort(s.order)
	return nil
}

func hotplugAck(h *backend.HDMI) func() uint32 {
	return func() uint32 {
		plug, unplug := h.HotplugEvents()
		var bits uint32
		if plug {
			bits |= irq.HotplugPlug
		}
		if unplug {
			bits |= irq.HotplugUnplug
		}
		if bits != 0 {
			h.AckHotplug()
		}
		return bits
	}
}

func (s *Subsystem) addCluster(cc config.Cluster) error {
	dir, err := cluster.ParseDirection(cc.Direction)
	if err != nil {
		return err
	}
	members := make([]cluster.Member, 0, len(cc.Members))
	ref := 0
	for i, idx := range cc.Members {
		p := s.pipes[idx]
		if p.cluster != nil {
			return disperr.Newf(disperr.CodeInvalidArgument, "display.New", "pipe %d is in two clusters", idx)
		}
		if idx == cc.Reference {
			ref = i
		}
		members = append(members, p.ctrl)
	}

	g, err := cluster.New(cluster.Config{
		Name:      cc.Name,
		Reference: ref,
		Direction: dir,
		Width:     cc.Width,
		Height:    cc.Height,
	}, members, s.neg, logging.GetLogger("cluster"))
	if err != nil {
		return err
	}
	for _, idx := range cc.Members {
		s.pipes[idx].cluster = g
	}
	s.clusters = append(s.clusters, g)
	return nil
}

func (s *Subsystem) handleVblank(ev irq.Event) {
	p, ok := s.pipes[ev.Pipe]
	if !ok {
		return
	}
	if ev.Bits&pipeline.IntUnderflow != 0 {
		s.logger.Warn("Mixer underflow", "pipe", ev.Pipe)
	}
	if ev.Bits&pipeline.IntVblank != 0 {
		p.ctrl.HandleVblank()
	}
}

func (s *Subsystem) handleHotplugIRQ(ev irq.Event) {
	p, ok := s.pipes[ev.Pipe]
	if !ok || p.hotplug == nil {
		return
	}
	p.hotplug.Interrupt(ev.Bits&irq.HotplugPlug != 0, ev.Bits&irq.HotplugUnplug != 0)
}

// hotplugChanged runs on the debounce timer after a confirmed change.
func (s *Subsystem) hotplugChanged(index int, connected bool) {
	p := s.pipes[index]
	s.neg.Invalidate(p.ctrl.Backend().Name())
	if p.cluster != nil {
		p.cluster.Invalidate()
	}

	if connected {
		if m, err := s.NegotiateAndApply(index); err != nil {
			s.logger.Warn("Renegotiation after hotplug failed", "pipe", index, "error", err)
		} else {
			s.logger.Info("Renegotiated after hotplug", "pipe", index, "mode", m.String())
		}
	}

	s.mu.Lock()
	handlers := make([]HotplugFunc, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(index, connected)
	}
}

// Sim returns the simulated hardware, or nil.
func (s *Subsystem) Sim() *sim.Hardware { return s.sim }

// Reactor returns the interrupt reactor so other sources can raise events.
func (s *Subsystem) Reactor() *irq.Reactor { return s.reactor }

// Run services interrupts until ctx is done. In simulation it also drives
// the simulated frame clock.
func (s *Subsystem) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Display task failed", "task", name, "error", err)
			}
		}()
	}

	run("reactor", s.reactor.Run)
	if s.poller != nil {
		run("poller", s.poller.Run)
	}
	if s.sim != nil {
		run("sim", func(ctx context.Context) error { return s.sim.Run(ctx, sim.DefaultFrame) })
	}
	if s.uevents {
		run("uevent", s.listenUevents)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// listenUevents raises a hotplug interrupt on every HDMI pipe for each DRM
// hotplug uevent. The monitors sample the line themselves.
func (s *Subsystem) listenUevents(ctx context.Context) error {
	mon, err := uevent.NewMonitor()
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()
	mon.AddFilter(uevent.DRMHotplug)

	ch := make(chan uevent.Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- mon.Run(ctx, ch) }()

	for ev := range ch {
		s.logger.Debug("DRM hotplug uevent", "kobj", ev.KObj, "seqnum", ev.Seqnum)
		for _, idx := range s.order {
			if s.pipes[idx].hotplug != nil {
				s.reactor.Raise(irq.Event{Source: irq.SourceHotplug, Pipe: idx, Bits: irq.HotplugPlug | irq.HotplugUnplug})
			}
		}
	}
	return <-errc
}

// Suspend suspends every pipe.
func (s *Subsystem) Suspend() error {
	var errs []error
	for _, idx := range slices.Backward(s.order) {
		if err := s.pipes[idx].ctrl.Suspend(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resume resumes every pipe.
func (s *Subsystem) Resume(ctx context.Context) error {
	var errs []error
	for _, idx := range s.order {
		if err := s.pipes[idx].ctrl.Resume(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close powers every pipe off, stops the hotplug monitors and unmaps the
// register windows.
func (s *Subsystem) Close() error {
	var errs []error
	for _, idx := range slices.Backward(s.order) {
		p := s.pipes[idx]
		if p.hotplug != nil {
			p.hotplug.Stop()
		}
		if err := p.ctrl.PowerTransition(context.Background(), pipeline.TargetOff); err != nil {
			errs = append(errs, err)
		}
		metrics.DeletePipe(idx)
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
