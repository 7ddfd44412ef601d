package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/panel"
	"github.com/smazurov/displaynode/internal/pipeline"
	"github.com/smazurov/displaynode/internal/regs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var halfPanel = mode.Mode{
	HActive: 960, HFrontPorch: 48, HSyncLen: 32, HBackPorch: 80,
	VActive: 1080, VFrontPorch: 3, VSyncLen: 5, VBackPorch: 23,
	PixelClockHz: 74_000_000, RefreshHz: 60,
	HSyncPolarity: mode.ActiveHigh, VSyncPolarity: mode.ActiveLow,
}

type powerLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *powerLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

type fakeMember struct {
	idx    int
	be     backend.Backend
	modes  []mode.Mode
	setErr error
	log    *powerLog
}

func (f *fakeMember) Index() int               { return f.idx }
func (f *fakeMember) Backend() backend.Backend { return f.be }

func (f *fakeMember) SetMode(m mode.Mode) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.modes = append(f.modes, m)
	return nil
}

func (f *fakeMember) PowerTransition(_ context.Context, target pipeline.Target) error {
	f.log.add(target.String() + ":" + string(rune('0'+f.idx)))
	return nil
}

func newMembers(t *testing.T, present ...bool) ([]*fakeMember, []Member, *powerLog) {
	t.Helper()
	log := &powerLog{}
	var fakes []*fakeMember
	var members []Member
	for i, p := range present {
		timing := halfPanel
		be := backend.NewLVDS("lvds"+string(rune('0'+i)), regs.NewMemory("lvds"), regs.NewClockDomain("lvds"),
			panel.NewStatic(p, &timing, nil), backend.LVDSOptions{}, testLogger())
		if err := be.Open(i); err != nil {
			t.Fatal(err)
		}
		f := &fakeMember{idx: i, be: be, log: log}
		fakes = append(fakes, f)
		members = append(members, f)
	}
	return fakes, members, log
}

func TestGroup_ResolveHorizontal(t *testing.T) {
	_, members, _ := newMembers(t, true, true)
	g, err := New(Config{Name: "dash", Reference: 0, Direction: Horizontal, Width: 1920, Height: 1080}, members, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	m, err := g.ResolveMode()
	if err != nil {
		t.Fatal(err)
	}
	if m.HActive != 1920 || m.VActive != 1080 || !m.SameTiming(halfPanel) {
		t.Errorf("resolved %+v", m)
	}

	parts := g.MemberModes()
	if len(parts) != 2 {
		t.Fatalf("got %d member modes", len(parts))
	}
	for i, p := range parts {
		if p.HActive != 960 || p.VActive != 1080 {
			t.Errorf("member %d size %dx%d", i, p.HActive, p.VActive)
		}
		if p != halfPanel {
			t.Errorf("member %d timing differs from reference: %+v", i, p)
		}
	}
}

func TestGroup_Split(t *testing.T) {
	base := halfPanel
	tests := []struct {
		name   string
		dir    Direction
		n      int
		w, h   int
		wantW  []int
		wantH  []int
		hasErr bool
	}{
		{"horizontal even", Horizontal, 2, 1920, 1080, []int{960, 960}, []int{1080, 1080}, false},
		{"horizontal odd", Horizontal, 2, 1921, 1080, []int{960, 961}, []int{1080, 1080}, false},
		{"horizontal three", Horizontal, 3, 1000, 600, []int{333, 333, 334}, []int{600, 600, 600}, false},
		{"vertical", Vertical, 2, 1280, 1601, []int{1280, 1280}, []int{800, 801}, false},
		{"clone", Clone, 2, 1280, 800, []int{1280, 1280}, []int{800, 800}, false},
		{"too narrow", Horizontal, 3, 2, 10, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			present := make([]bool, tt.n)
			for i := range present {
				present[i] = true
			}
			_, members, _ := newMembers(t, present...)
			g, err := New(Config{Name: "s", Direction: tt.dir}, members, nil, testLogger())
			if err != nil {
				t.Fatal(err)
			}
			m := base
			m.HActive, m.VActive = tt.w, tt.h
			parts, err := g.Split(m)
			if tt.hasErr {
				if !errors.Is(err, disperr.ErrNoMatchingMode) {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			sumW, sumH := 0, 0
			for i, p := range parts {
				if p.HActive != tt.wantW[i] || p.VActive != tt.wantH[i] {
					t.Errorf("part %d = %dx%d, want %dx%d", i, p.HActive, p.VActive, tt.wantW[i], tt.wantH[i])
				}
				if !p.SameTiming(m) {
					t.Errorf("part %d timing differs", i)
				}
				sumW += p.HActive
				sumH += p.VActive
			}
			switch tt.dir {
			case Horizontal:
				if sumW != tt.w {
					t.Errorf("widths sum to %d, want %d", sumW, tt.w)
				}
			case Vertical:
				if sumH != tt.h {
					t.Errorf("heights sum to %d, want %d", sumH, tt.h)
				}
			}
		})
	}
}

func TestGroup_DerivedSize(t *testing.T) {
	_, members, _ := newMembers(t, true, true)
	g, _ := New(Config{Name: "wide", Direction: Horizontal}, members, nil, testLogger())
	m, err := g.ResolveMode()
	if err != nil {
		t.Fatal(err)
	}
	if m.HActive != 1920 || m.VActive != 1080 {
		t.Errorf("derived size %dx%d", m.HActive, m.VActive)
	}

	_, members, _ = newMembers(t, true, true)
	g, _ = New(Config{Name: "mirror", Direction: Clone}, members, nil, testLogger())
	m, _ = g.ResolveMode()
	if m.HActive != 960 {
		t.Errorf("clone width = %d", m.HActive)
	}
}

func TestGroup_Disconnected(t *testing.T) {
	_, members, _ := newMembers(t, true, false)
	g, _ := New(Config{Name: "dash", Width: 1920, Height: 1080}, members, nil, testLogger())
	if g.IsConnected() {
		t.Error("cluster with an absent panel reports connected")
	}
	if _, err := g.ResolveMode(); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Errorf("ResolveMode = %v", err)
	}
}

func TestGroup_Validate(t *testing.T) {
	_, members, _ := newMembers(t, true, true)
	g, _ := New(Config{Name: "dash", Width: 1920, Height: 1080}, members, nil, testLogger())

	combined := halfPanel
	combined.HActive = 1920
	if !g.ValidateMode(combined) {
		t.Error("combined panel mode rejected")
	}
	combined.HActive = 2000
	if g.ValidateMode(combined) {
		t.Error("mode with wrong member width accepted")
	}
}

func TestGroup_Distribute(t *testing.T) {
	fakes, members, _ := newMembers(t, true, true)
	g, _ := New(Config{Name: "dash", Width: 1920, Height: 1080}, members, nil, testLogger())

	combined := halfPanel
	combined.HActive = 1920
	if err := g.Distribute(combined); err != nil {
		t.Fatal(err)
	}
	for i, f := range fakes {
		if len(f.modes) != 1 || f.modes[0] != halfPanel {
			t.Errorf("member %d got %+v", i, f.modes)
		}
	}

	fakes[0].setErr = disperr.New(disperr.CodeResourceBusy, "test", "busy")
	err := g.Distribute(combined)
	if !errors.Is(err, disperr.ErrResourceBusy) {
		t.Errorf("Distribute = %v", err)
	}
	if len(fakes[1].modes) != 2 {
		t.Error("second member skipped after first failed")
	}
}

func TestGroup_PowerOrder(t *testing.T) {
	_, members, log := newMembers(t, true, true, true)
	g, _ := New(Config{Name: "wall", Reference: 1}, members, nil, testLogger())

	_ = g.PowerAll(context.Background(), pipeline.TargetOn)
	_ = g.PowerAll(context.Background(), pipeline.TargetOff)

	want := []string{"on:0", "on:1", "on:2", "off:2", "off:1", "off:0"}
	if !slices.Equal(log.calls, want) {
		t.Errorf("calls = %v, want %v", log.calls, want)
	}
	if !slices.Equal(g.Members(), []int{0, 1, 2}) {
		t.Errorf("Members() = %v", g.Members())
	}
}

func TestNew_Validation(t *testing.T) {
	_, members, _ := newMembers(t, true, true)
	tests := []struct {
		name    string
		cfg     Config
		members []Member
	}{
		{"single member", Config{Name: "x"}, members[:1]},
		{"reference out of range", Config{Name: "x", Reference: 2}, members},
		{"bad direction", Config{Name: "x", Direction: "diagonal"}, members},
		{"negative size", Config{Name: "x", Width: -1}, members},
	}
	for _, tt := range tests {
		if _, err := New(tt.cfg, tt.members, nil, testLogger()); !errors.Is(err, disperr.ErrInvalidArgument) {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}
}
