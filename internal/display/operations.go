package display

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/pipeline"
)

// HotplugInfo is the connector state of an HDMI pipe.
type HotplugInfo struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	DebounceMs int64  `json:"debounce_ms"`
}

// PipeInfo describes one pipe.
type PipeInfo struct {
	pipeline.Info
	Cluster string        `json:"cluster,omitempty"`
	Hotplug *HotplugInfo  `json:"hotplug,omitempty"`
	Layers  []layer.Layer `json:"layers"`
}

// Lookup failures wrap these, so callers can tell a missing resource from a
// bad argument.
var (
	ErrUnknownPipe  = errors.New("unknown pipe")
	ErrUnknownLayer = errors.New("unknown layer")
)

func (s *Subsystem) pipe(op string, index int) (*pipe, error) {
	p, ok := s.pipes[index]
	if !ok {
		return nil, disperr.Wrap(disperr.CodeInvalidArgument, op, fmt.Sprintf("pipe %d", index), ErrUnknownPipe)
	}
	return p, nil
}

func (p *pipe) info() PipeInfo {
	out := PipeInfo{
		Info:   p.ctrl.Info(),
		Layers: p.ctrl.Compositor().Layers(),
	}
	if p.cluster != nil {
		out.Cluster = p.cluster.Config().Name
	}
	if p.hotplug != nil {
		out.Hotplug = &HotplugInfo{
			Connected:  p.hotplug.Connected(),
			State:      p.hotplug.State().String(),
			DebounceMs: p.hotplug.Debounce().Milliseconds(),
		}
	}
	return out
}

// EnumeratePipes describes every pipe in index order.
func (s *Subsystem) EnumeratePipes() []PipeInfo {
	out := make([]PipeInfo, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, s.pipes[idx].info())
	}
	return out
}

// Pipe describes one pipe.
func (s *Subsystem) Pipe(index int) (PipeInfo, error) {
	p, err := s.pipe("display.Pipe", index)
	if err != nil {
		return PipeInfo{}, err
	}
	return p.info(), nil
}

// Modes lists the candidate modes of a pipe's output. Cluster members list
// the combined modes of their cluster.
func (s *Subsystem) Modes(index int) ([]mode.Candidate, error) {
	p, err := s.pipe("display.Modes", index)
	if err != nil {
		return nil, err
	}
	src := mode.Source(p.ctrl.Backend())
	if p.cluster != nil {
		src = p.cluster
	}
	return slices.Collect(src.EnumerateModes()), nil
}

// NegotiateAndApply discovers the mode for a pipe and sets it. A cluster
// member resolves and distributes the mode of its whole cluster.
func (s *Subsystem) NegotiateAndApply(index int) (mode.Mode, error) {
	const op = "display.NegotiateAndApply"
	p, err := s.pipe(op, index)
	if err != nil {
		return mode.Mode{}, err
	}

	if g := p.cluster; g != nil {
		if !g.IsConnected() {
			return mode.Mode{}, disperr.Newf(disperr.CodeNotConnected, op, "cluster %s has a disconnected member", g.Config().Name)
		}
		m, err := g.ResolveMode()
		if err != nil {
			return mode.Mode{}, err
		}
		if !g.ValidateMode(m) {
			g.Invalidate()
			return mode.Mode{}, disperr.Newf(disperr.CodeNoMatchingMode, op, "cluster %s reference rejected %s", g.Config().Name, m)
		}
		return m, g.Distribute(m)
	}

	be := p.ctrl.Backend()
	if !be.IsConnected() {
		return mode.Mode{}, disperr.Newf(disperr.CodeNotConnected, op, "nothing attached to %s", be.Name())
	}
	m, ok := s.neg.Discover(be)
	if !ok {
		return mode.Mode{}, disperr.Newf(disperr.CodeNoMatchingMode, op, "no usable mode on %s", be.Name())
	}
	if !s.neg.Validate(be, m) {
		s.neg.Invalidate(be.Name())
		return mode.Mode{}, disperr.Newf(disperr.CodeNoMatchingMode, op, "%s rejected %s", be.Name(), m)
	}
	if err := p.ctrl.SetMode(m); err != nil {
		return mode.Mode{}, err
	}
	return m, nil
}

// SetPower moves a pipe to target. Cluster members move the whole cluster
// in member order.
func (s *Subsystem) SetPower(ctx context.Context, index int, target pipeline.Target) error {
	p, err := s.pipe("display.SetPower", index)
	if err != nil {
		return err
	}
	if p.cluster != nil {
		return p.cluster.PowerAll(ctx, target)
	}
	return p.ctrl.PowerTransition(ctx, target)
}

// ColorSetting is a blending control value and whether it is enabled.
type ColorSetting struct {
	Value   int  `json:"value"`
	Enabled bool `json:"enabled"`
}

// LayerUpdate changes any subset of a layer's configuration. Fields are
// applied in the order the hardware requires: format, position, address,
// color controls, enable.
type LayerUpdate struct {
	Format         *string       `json:"format,omitempty"`
	Source         *layer.Rect   `json:"source,omitempty"`
	Dest           *layer.Rect   `json:"dest,omitempty"`
	Address        *uint32       `json:"address,omitempty"`
	Stride         *int          `json:"stride,omitempty"`
	Alpha          *ColorSetting `json:"alpha,omitempty"`
	TransparentKey *ColorSetting `json:"transparent_key,omitempty"`
	InvertKey      *ColorSetting `json:"invert_key,omitempty"`
	Enabled        *bool         `json:"enabled,omitempty"`
	// CommitNow latches the change at once instead of waiting for Commit.
	CommitNow bool `json:"commit_now,omitempty"`
}

// UpdateLayer applies u to one layer and returns the resulting state. The
// first failing step stops the update; earlier steps stay applied.
func (s *Subsystem) UpdateLayer(index, layerIndex int, u LayerUpdate) (layer.Layer, error) {
	const op = "display.UpdateLayer"
	p, err := s.pipe(op, index)
	if err != nil {
		return layer.Layer{}, err
	}
	comp := p.ctrl.Compositor()
	if _, err := comp.Layer(layerIndex); err != nil {
		return layer.Layer{}, disperr.Wrap(disperr.CodeInvalidArgument, op, fmt.Sprintf("pipe %d layer %d", index, layerIndex), ErrUnknownLayer)
	}

	var fields []string
	apply := func(name string, fn func() error) error {
		if err := fn(); err != nil {
			return err
		}
		fields = append(fields, name)
		return nil
	}

	err = s.applyLayerUpdate(comp, layerIndex, u, apply)
	if len(fields) > 0 {
		s.bus.Publish(events.LayerUpdatedEvent{
			Pipe:      index,
			Layer:     layerIndex,
			Fields:    fields,
			Committed: u.CommitNow,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	l, lerr := comp.Layer(layerIndex)
	if err != nil {
		return l, err
	}
	return l, lerr
}

func (s *Subsystem) applyLayerUpdate(comp *layer.Compositor, idx int, u LayerUpdate, apply func(string, func() error) error) error {
	now := u.CommitNow

	if u.Format != nil {
		f, err := layer.ParseFormat(*u.Format)
		if err != nil {
			return err
		}
		if err := apply("format", func() error { return comp.SetFormat(idx, f) }); err != nil {
			return err
		}
	}

	if u.Source != nil || u.Dest != nil {
		cur, _ := comp.Layer(idx)
		src, dst := cur.Source, cur.Dest
		if u.Dest != nil {
			dst = *u.Dest
			// RGB planes cannot scale, so their source follows the new size.
			if cur.Kind == layer.KindRGB {
				src = layer.Rect{}
			}
		}
		if u.Source != nil {
			src = *u.Source
		}
		if err := apply("position", func() error { return comp.SetPosition(idx, src, dst, now) }); err != nil {
			return err
		}
	}

	if u.Address != nil || u.Stride != nil {
		cur, _ := comp.Layer(idx)
		addr, stride := cur.Address, cur.Stride
		if u.Address != nil {
			addr = *u.Address
		}
		if u.Stride != nil {
			stride = *u.Stride
		}
		if err := apply("address", func() error { return comp.SetAddress(idx, addr, stride, now) }); err != nil {
			return err
		}
	}

	colors := []struct {
		name string
		kind layer.ColorKind
		set  *ColorSetting
	}{
		{"alpha", layer.ColorAlpha, u.Alpha},
		{"transparent_key", layer.ColorTransparentKey, u.TransparentKey},
		{"invert_key", layer.ColorInvertKey, u.InvertKey},
	}
	for _, c := range colors {
		if c.set == nil {
			continue
		}
		set := *c.set
		if err := apply(c.name, func() error { return comp.SetColor(idx, c.kind, set.Value, set.Enabled, now) }); err != nil {
			return err
		}
	}

	if u.Enabled != nil {
		on := *u.Enabled
		if err := apply("enabled", func() error { return comp.SetLayerEnable(idx, on, now) }); err != nil {
			return err
		}
	}
	return nil
}

// Commit latches every layer of a pipe with uncommitted writes and returns
// how many were committed.
func (s *Subsystem) Commit(index int) (int, error) {
	p, err := s.pipe("display.Commit", index)
	if err != nil {
		return 0, err
	}
	return p.ctrl.Compositor().CommitPending(), nil
}

// OnHotplug registers fn for connector changes and returns a function that
// removes it.
func (s *Subsystem) OnHotplug(fn HotplugFunc) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}
