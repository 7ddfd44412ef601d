// Package pipeline sequences one display pipe: the timing generator, its
// layer mixer, the output back-end and the panel power lines.
//
// Power-on runs backend.Prepare, the timing generator, backend.Power(true)
// and the mixer in that order and then starts the panel GPIO and backlight
// sequence in the background. Power-off cancels that sequence and waits for
// it before tearing everything down in reverse. A failing power-on step
// stops the sequence without rolling back; power-off attempts every step.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/metrics"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/panel"
	"github.com/smazurov/displaynode/internal/regs"
)

// Options configures a Controller.
type Options struct {
	Index int
	Name  string
	// ClockHz is the source clock the pixel clock is divided from. Zero
	// disables the divider and leaves it at 1.
	ClockHz int64
	// Sequence is the panel power sequence; nil means none.
	Sequence *panel.Sequence
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Controller owns one timing generator and everything attached to it.
type Controller struct {
	index   int
	name    string
	clockHz int64
	timing  regs.Bank
	comp    *layer.Compositor
	be      backend.Backend
	seq     *panel.Sequence
	bus     *events.Bus
	logger  *slog.Logger

	mu        sync.Mutex
	state     PowerState
	target    Target
	partial   bool
	suspended bool
	resumeOn  bool
	mode      *mode.Mode
	syncInfo  SyncInfo

	taskCancel context.CancelFunc
	taskDone   chan struct{}

	vmu        sync.Mutex
	vblanks    uint64
	vwait      chan struct{}
	irqEnabled bool
}

// New creates a controller over the timing generator bank, mixer and
// back-end. The back-end is bound to the pipe index.
func New(timing regs.Bank, comp *layer.Compositor, be backend.Backend, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("pipeline")
	}
	if opts.Name == "" {
		opts.Name = string(be.Kind())
	}
	if err := be.Open(opts.Index); err != nil {
		return nil, err
	}

	c := &Controller{
		index:   opts.Index,
		name:    opts.Name,
		clockHz: opts.ClockHz,
		timing:  timing,
		comp:    comp,
		be:      be,
		seq:     opts.Sequence,
		bus:     opts.Bus,
		logger:  logger.With("pipe", opts.Index),
		target:  TargetOff,
		vwait:   make(chan struct{}),
	}
	if c.seq != nil {
		if err := c.seq.Configure(); err != nil {
			c.logger.Warn("Panel GPIO configuration failed", "error", err)
		}
	}
	metrics.SetPipePowered(c.index, false)
	return c, nil
}

// Index returns the pipe index.
func (c *Controller) Index() int { return c.index }

// Name returns the pipe name.
func (c *Controller) Name() string { return c.name }

// Backend returns the output back-end.
func (c *Controller) Backend() backend.Backend { return c.be }

// Compositor returns the layer mixer.
func (c *Controller) Compositor() *layer.Compositor { return c.comp }

// Sequence returns the panel power sequence, or nil.
func (c *Controller) Sequence() *panel.Sequence { return c.seq }

// State returns the power state.
func (c *Controller) State() PowerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the current mode.
func (c *Controller) Mode() (mode.Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == nil {
		return mode.Mode{}, false
	}
	return *c.mode, true
}

// Sync returns the sync fields derived from the current mode.
func (c *Controller) Sync() (SyncInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncInfo, c.mode != nil
}

// Info is a snapshot of a pipe for status reporting.
type Info struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Output     string     `json:"output"`
	State      PowerState `json:"state"`
	Target     string     `json:"target"`
	Partial    bool       `json:"partial"`
	Suspended  bool       `json:"suspended"`
	Connected  bool       `json:"connected"`
	Mode       *mode.Mode `json:"mode,omitempty"`
	Sync       *SyncInfo  `json:"sync,omitempty"`
	IRQEnabled bool       `json:"irq_enabled"`
	Vblanks    uint64     `json:"vblanks"`
}

// Info returns a status snapshot.
func (c *Controller) Info() Info {
	c.mu.Lock()
	info := Info{
		Index:     c.index,
		Name:      c.name,
		Output:    string(c.be.Kind()),
		State:     c.state,
		Target:    c.target.String(),
		Partial:   c.partial,
		Suspended: c.suspended,
	}
	if c.mode != nil {
		m, s := *c.mode, c.syncInfo
		info.Mode, info.Sync = &m, &s
	}
	c.mu.Unlock()

	info.Connected = c.be.IsConnected()
	c.vmu.Lock()
	info.IRQEnabled = c.irqEnabled
	info.Vblanks = c.vblanks
	c.vmu.Unlock()
	return info
}

func busy(op string, s PowerState) error {
	return disperr.Newf(disperr.CodeResourceBusy, op, "pipe is %s", s)
}

// SetMode programs m into the back-end, the timing generator and the mixer
// screen size. It fails with RESOURCE_BUSY during a power transition or
// while suspended. On a pipe that is on, a different mode stops the output,
// unprepares the back-end, programs the mode and prepares and starts the
// output again so PHY settings follow the new clock; the panel lines and
// backlight are left alone. If the restart fails the pipe is left off and
// partial with the new mode current. Any other error keeps the previous mode.
func (c *Controller) SetMode(m mode.Mode) error {
	const op = "pipeline.SetMode"
	if err := m.Validate(); err != nil {
		return err
	}
	if m.HActive > layer.MaxScreenSize || m.VActive > layer.MaxScreenSize {
		return disperr.Newf(disperr.CodeNoMatchingMode, op, "%s exceeds the mixer", m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePreparing || c.state == StateDisabling {
		return busy(op, c.state)
	}
	if c.suspended {
		return disperr.New(disperr.CodeResourceBusy, op, "pipe is suspended")
	}

	live := c.state == StateOn
	if live {
		if c.mode != nil && *c.mode == m {
			return nil
		}
		if err := c.stopOutputLocked(); err != nil {
			c.state, c.partial = StateOff, true
			c.finishTransition(TargetOff, StateOff, err)
			return err
		}
	}

	if err := c.applyLocked(m); err != nil {
		if live {
			_ = c.restartOutputLocked()
		}
		return err
	}

	stored := m
	c.mode = &stored
	c.syncInfo = deriveSync(m)
	metrics.SetPixelClock(c.index, m.PixelClockHz)
	c.logger.Info("Mode set", "mode", m.String(), "pixel_clock", m.PixelClock().String(), "live", live)
	c.bus.Publish(events.ModeChangedEvent{
		Pipe:         c.index,
		Mode:         m.String(),
		Width:        m.HActive,
		Height:       m.VActive,
		RefreshHz:    m.RefreshHz,
		PixelClockHz: m.PixelClockHz,
		Timestamp:    time.Now().Format(time.RFC3339),
	})
	if live {
		return c.restartOutputLocked()
	}
	return nil
}

// stopOutputLocked takes a running output down for a mode change. Caller
// holds c.mu.
func (c *Controller) stopOutputLocked() error {
	if err := c.be.Power(false); err != nil {
		return err
	}
	regs.ClearBits(c.timing, RegTGCtrl, TGEnable)
	return c.be.Unprepare()
}

// restartOutputLocked brings the output back after stopOutputLocked. A
// failure leaves the pipe off and partial. Caller holds c.mu.
func (c *Controller) restartOutputLocked() error {
	err := c.be.Prepare(context.Background())
	if err == nil {
		regs.SetBits(c.timing, RegTGCtrl, TGClockEnable|TGEnable)
		err = c.be.Power(true)
	}
	if err != nil {
		c.logger.Warn("Output restart after mode change failed", "error", err)
		if c.taskCancel != nil {
			c.taskCancel()
			<-c.taskDone
			c.taskCancel, c.taskDone = nil, nil
		}
		c.state, c.partial = StateOff, true
		c.finishTransition(TargetOn, StateOff, err)
	}
	return err
}

// applyLocked writes clock, then timing, then mixer size.
func (c *Controller) applyLocked(m mode.Mode) error {
	if err := c.be.ApplyMode(m); err != nil {
		return err
	}

	div := uint32(1)
	if c.clockHz > 0 && m.PixelClockHz > 0 {
		div = uint32(max(1, (c.clockHz+m.PixelClockHz/2)/m.PixelClockHz))
	}
	c.timing.Write32(RegTGClockDiv, div)

	c.timing.Write32(RegTGHTotal, uint32(m.HTotal()-1))
	c.timing.Write32(RegTGHSync, uint32(m.HSyncLen)|uint32(m.HBackPorch)<<16)
	c.timing.Write32(RegTGHActive, uint32(m.HActive)|uint32(m.HFrontPorch)<<16)
	c.timing.Write32(RegTGVTotal, uint32(m.VTotal()-1))
	c.timing.Write32(RegTGVSync, uint32(m.VSyncLen)|uint32(m.VBackPorch)<<16)
	c.timing.Write32(RegTGVActive, uint32(m.VActive)|uint32(m.VFrontPorch)<<16)

	var flags uint32
	if m.Interlaced {
		flags |= TGInterlace
	}
	if m.HSyncPolarity == mode.ActiveLow {
		flags |= TGHSyncInvert
	}
	if m.VSyncPolarity == mode.ActiveLow {
		flags |= TGVSyncInvert
	}
	regs.Update(c.timing, RegTGCtrl, TGInterlace|TGHSyncInvert|TGVSyncInvert, flags)

	return c.comp.SetScreenSize(m.HActive, m.VActive)
}

func deriveSync(m mode.Mode) SyncInfo {
	s := SyncInfo{
		HTotal:     m.HTotal(),
		HSyncStart: m.HActive + m.HFrontPorch,
		VTotal:     m.VTotal(),
		VSyncStart: m.VActive + m.VFrontPorch,
		Interlaced: m.Interlaced,
		FieldLines: m.VTotal(),
	}
	s.HSyncEnd = s.HSyncStart + m.HSyncLen
	s.VSyncEnd = s.VSyncStart + m.VSyncLen
	if m.Interlaced {
		s.FieldLines = (s.VTotal + 1) / 2
	}
	return s
}

// PowerTransition moves the pipe to target. Powering on requires a mode.
func (c *Controller) PowerTransition(ctx context.Context, target Target) error {
	var err error
	switch target {
	case TargetOn:
		err = c.powerOn(ctx)
	case TargetStandby, TargetSuspend, TargetOff:
		err = c.powerOff(target)
	default:
		err = disperr.Newf(disperr.CodeInvalidArgument, "pipeline.PowerTransition", "unknown target %d", int(target))
		c.logger.Error("Rejected power transition", "target", target.String(), "error", err)
	}
	return err
}

func (c *Controller) powerOn(ctx context.Context) error {
	const op = "pipeline.PowerOn"

	c.mu.Lock()
	switch {
	case c.suspended:
		c.mu.Unlock()
		return disperr.New(disperr.CodeResourceBusy, op, "pipe is suspended")
	case c.state == StateOn:
		c.mu.Unlock()
		return nil
	case c.state != StateOff:
		s := c.state
		c.mu.Unlock()
		return busy(op, s)
	case c.mode == nil:
		c.mu.Unlock()
		return disperr.New(disperr.CodeNoMatchingMode, op, "no mode set")
	}
	c.state = StatePreparing
	c.mu.Unlock()

	err := c.runPowerOn(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = StateOff
		c.partial = true
	} else {
		c.state = StateOn
		c.partial = false
		c.target = TargetOn
		c.startPanelTaskLocked()
	}
	state := c.state
	c.mu.Unlock()

	c.finishTransition(TargetOn, state, err)
	return err
}

func (c *Controller) runPowerOn(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"backend_prepare", func() error { return c.be.Prepare(ctx) }},
		{"timing_enable", func() error {
			regs.SetBits(c.timing, RegTGCtrl, TGClockEnable|TGEnable)
			return nil
		}},
		{"backend_power", func() error { return c.be.Power(true) }},
		{"mixer_enable", func() error {
			c.comp.SetEnable(true)
			return nil
		}},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			c.logger.Warn("Power on step failed", "step", st.name, "error", err)
			return err
		}
	}
	return nil
}

// startPanelTaskLocked runs the panel sequence in the background. Caller
// holds c.mu.
func (c *Controller) startPanelTaskLocked() {
	if c.seq == nil || c.seq.Empty() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.taskCancel, c.taskDone = cancel, done

	go func() {
		defer close(done)
		if err := c.seq.PowerOn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("Panel power sequence failed", "error", err)
		}
	}()
}

// WaitPanel blocks until the background panel sequence has finished.
func (c *Controller) WaitPanel(ctx context.Context) error {
	c.mu.Lock()
	done := c.taskDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) powerOff(target Target) error {
	const op = "pipeline.PowerOff"

	c.mu.Lock()
	switch {
	case c.state == StateOff && !c.partial:
		c.target = target
		c.mu.Unlock()
		return nil
	case c.state == StatePreparing || c.state == StateDisabling:
		s := c.state
		c.mu.Unlock()
		return busy(op, s)
	}
	c.state = StateDisabling
	cancel, done := c.taskCancel, c.taskDone
	c.taskCancel, c.taskDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	err := c.runPowerOff()

	c.mu.Lock()
	c.state = StateOff
	c.partial = false
	c.target = target
	c.mu.Unlock()

	c.finishTransition(target, StateOff, err)
	return err
}

func (c *Controller) runPowerOff() error {
	var errs []error
	step := func(name string, err error) {
		if err != nil {
			c.logger.Warn("Power off step failed", "step", name, "error", err)
			errs = append(errs, err)
		}
	}

	if c.seq != nil {
		step("panel_power_off", c.seq.PowerOff())
	}
	c.comp.SetEnable(false)
	step("backend_power", c.be.Power(false))
	regs.ClearBits(c.timing, RegTGCtrl, TGEnable|TGClockEnable)
	step("backend_unprepare", c.be.Unprepare())
	return errors.Join(errs...)
}

func (c *Controller) finishTransition(target Target, state PowerState, err error) {
	metrics.RecordPowerTransition(c.index, target.String(), err)
	metrics.SetPipePowered(c.index, state == StateOn)

	ev := events.PowerStateEvent{
		Pipe:      c.index,
		Target:    target.String(),
		State:     state.String(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
		c.logger.Warn("Power transition failed", "target", target.String(), "state", state.String(), "error", err)
	} else {
		c.logger.Info("Power transition complete", "target", target.String(), "state", state.String())
	}
	c.bus.Publish(ev)
}

// Suspend powers the pipe down for system sleep and remembers whether it was
// on. Power transitions and mode changes are refused until Resume.
func (c *Controller) Suspend() error {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		return nil
	}
	if c.state == StatePreparing || c.state == StateDisabling {
		s := c.state
		c.mu.Unlock()
		return busy("pipeline.Suspend", s)
	}
	wasOn := c.state == StateOn
	c.mu.Unlock()

	var err error
	if wasOn {
		err = c.powerOff(TargetSuspend)
	}

	c.mu.Lock()
	c.suspended = true
	c.resumeOn = wasOn
	c.mu.Unlock()
	c.logger.Info("Pipe suspended", "was_on", wasOn)
	return err
}

// Resume restores registers lost during suspend and returns the pipe to the
// power state it had before Suspend.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if !c.suspended {
		c.mu.Unlock()
		return nil
	}
	c.suspended = false
	resumeOn := c.resumeOn
	var err error
	if c.mode != nil {
		err = c.applyLocked(*c.mode)
	}
	c.mu.Unlock()

	c.comp.Restore()
	c.restoreIRQ()
	if err != nil {
		return err
	}
	c.logger.Info("Pipe resumed", "power_on", resumeOn)
	if resumeOn {
		return c.powerOn(ctx)
	}
	return nil
}

// Suspended reports whether the pipe is in system suspend.
func (c *Controller) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}
