// Package cluster drives several pipes as one logical screen. Timing comes
// from a reference member; the combined active area is split between the
// members according to the direction.
package cluster

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/pipeline"
)

// Direction is how members are arranged.
type Direction string

// Directions.
const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
	Clone      Direction = "clone"
)

// ParseDirection accepts "horizontal", "vertical" and "clone".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Horizontal, Vertical, Clone:
		return d, nil
	}
	return "", disperr.Newf(disperr.CodeInvalidArgument, "cluster.ParseDirection", "unknown direction %q", s)
}

// Member is a pipe taking part in a cluster. *pipeline.Controller
// implements it.
type Member interface {
	Index() int
	Backend() backend.Backend
	SetMode(mode.Mode) error
	PowerTransition(ctx context.Context, target pipeline.Target) error
}

// Config describes a cluster.
type Config struct {
	Name string
	// Reference is the position in the member list whose timing is used.
	Reference int
	Direction Direction
	// Width and Height are the combined active size. Zero derives it from
	// the reference mode and the member count.
	Width  int
	Height int
}

// Group is a set of pipes presented as one screen. It implements
// mode.Source so it can be negotiated like a single output.
type Group struct {
	cfg     Config
	members []Member
	neg     *mode.Negotiator
	logger  *slog.Logger

	mu        sync.Mutex
	snapshots []mode.Mode
}

var _ mode.Source = (*Group)(nil)

// New creates a group. Members are powered up in the given order and down
// in reverse.
func New(cfg Config, members []Member, neg *mode.Negotiator, logger *slog.Logger) (*Group, error) {
	const op = "cluster.New"
	if logger == nil {
		logger = logging.GetLogger("cluster")
	}
	if len(members) < 2 {
		return nil, disperr.Newf(disperr.CodeInvalidArgument, op, "cluster %q needs at least two members", cfg.Name)
	}
	if cfg.Reference < 0 || cfg.Reference >= len(members) {
		return nil, disperr.Newf(disperr.CodeInvalidArgument, op, "reference %d outside %d members", cfg.Reference, len(members))
	}
	if cfg.Direction == "" {
		cfg.Direction = Horizontal
	}
	if _, err := ParseDirection(string(cfg.Direction)); err != nil {
		return nil, err
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, disperr.Newf(disperr.CodeInvalidArgument, op, "combined size %dx%d", cfg.Width, cfg.Height)
	}
	if neg == nil {
		neg = mode.NewNegotiator(logger)
	}
	return &Group{
		cfg:     cfg,
		members: members,
		neg:     neg,
		logger:  logger.With("cluster", cfg.Name),
	}, nil
}

// Name implements mode.Source.
func (g *Group) Name() string { return "cluster:" + g.cfg.Name }

// Config returns the group configuration.
func (g *Group) Config() Config { return g.cfg }

// Members returns the pipe indices of the members in power-up order.
func (g *Group) Members() []int {
	out := make([]int, len(g.members))
	for i, m := range g.members {
		out[i] = m.Index()
	}
	return out
}

func (g *Group) reference() backend.Backend {
	return g.members[g.cfg.Reference].Backend()
}

// IsConnected implements mode.Source. A cluster is usable only when every
// member is connected.
func (g *Group) IsConnected() bool {
	for _, m := range g.members {
		if !m.Backend().IsConnected() {
			return false
		}
	}
	return true
}

// combine replaces the active size of a reference mode with the combined size.
func (g *Group) combine(m mode.Mode) mode.Mode {
	n := len(g.members)
	w, h := g.cfg.Width, g.cfg.Height
	if w == 0 {
		w = m.HActive
		if g.cfg.Direction == Horizontal {
			w *= n
		}
	}
	if h == 0 {
		h = m.VActive
		if g.cfg.Direction == Vertical {
			h *= n
		}
	}
	m.HActive, m.VActive = w, h
	return m
}

// EnumerateModes implements mode.Source with the reference member's
// candidates resized to the combined area.
func (g *Group) EnumerateModes() iter.Seq[mode.Candidate] {
	return func(yield func(mode.Candidate) bool) {
		for c := range g.reference().EnumerateModes() {
			c.Mode = g.combine(c.Mode)
			if !yield(c) {
				return
			}
		}
	}
}

// FixedTiming implements mode.Source.
func (g *Group) FixedTiming() (mode.Mode, bool) {
	m, ok := g.reference().FixedTiming()
	if !ok {
		return mode.Mode{}, false
	}
	return g.combine(m), true
}

// ValidateMode implements mode.Source: the reference member must accept its
// share of m.
func (g *Group) ValidateMode(m mode.Mode) bool {
	parts, err := g.Split(m)
	if err != nil {
		return false
	}
	return g.reference().ValidateMode(parts[g.cfg.Reference])
}

// Split divides a combined mode between the members. All parts share the
// combined mode's timing; only the active size differs. When the combined
// size does not divide evenly the last member takes the remainder.
func (g *Group) Split(m mode.Mode) ([]mode.Mode, error) {
	n := len(g.members)
	parts := make([]mode.Mode, n)
	for i := range parts {
		parts[i] = m
	}

	switch g.cfg.Direction {
	case Clone:
		return parts, nil
	case Horizontal:
		share := m.HActive / n
		if share == 0 {
			return nil, disperr.Newf(disperr.CodeNoMatchingMode, "cluster.Split", "width %d across %d members", m.HActive, n)
		}
		for i := range parts {
			parts[i].HActive = share
		}
		parts[n-1].HActive = m.HActive - share*(n-1)
	case Vertical:
		share := m.VActive / n
		if share == 0 {
			return nil, disperr.Newf(disperr.CodeNoMatchingMode, "cluster.Split", "height %d across %d members", m.VActive, n)
		}
		for i := range parts {
			parts[i].VActive = share
		}
		parts[n-1].VActive = m.VActive - share*(n-1)
	}
	return parts, nil
}

// ResolveMode negotiates the reference member and applies the combined
// active size, rebuilding the per-member snapshots.
func (g *Group) ResolveMode() (mode.Mode, error) {
	m, ok := g.neg.Discover(g)
	if !ok {
		return mode.Mode{}, disperr.Newf(disperr.CodeNoMatchingMode, "cluster.ResolveMode", "no mode for reference %s", g.reference().Name())
	}
	parts, err := g.Split(m)
	if err != nil {
		return mode.Mode{}, err
	}

	g.mu.Lock()
	g.snapshots = parts
	g.mu.Unlock()

	g.logger.Info("Cluster mode resolved", "mode", m.String(), "direction", string(g.cfg.Direction), "members", len(g.members))
	return m, nil
}

// Distribute sets each member's share of m. Every member is attempted.
func (g *Group) Distribute(m mode.Mode) error {
	parts, err := g.Split(m)
	if err != nil {
		return err
	}

	var errs []error
	for i, member := range g.members {
		if err := member.SetMode(parts[i]); err != nil {
			g.logger.Warn("Member rejected mode", "pipe", member.Index(), "mode", parts[i].String(), "error", err)
			errs = append(errs, err)
		}
	}

	g.mu.Lock()
	g.snapshots = parts
	g.mu.Unlock()
	return errors.Join(errs...)
}

// MemberModes returns the per-member modes of the last resolve or
// distribute.
func (g *Group) MemberModes() []mode.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.snapshots)
}

// PowerAll moves every member to target, first to last when powering on
// and last to first otherwise. Every member is attempted.
func (g *Group) PowerAll(ctx context.Context, target pipeline.Target) error {
	order := make([]Member, len(g.members))
	copy(order, g.members)
	if target != pipeline.TargetOn {
		slices.Reverse(order)
	}

	var errs []error
	for _, m := range order {
		if err := m.PowerTransition(ctx, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invalidate drops the cached negotiation result, e.g. after hotplug.
func (g *Group) Invalidate() {
	g.neg.Invalidate(g.Name())
}
