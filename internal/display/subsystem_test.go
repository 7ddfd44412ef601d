package display

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/smazurov/displaynode/internal/config"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/pipeline"
)

const testBoard = `
name = "bench"

[hotplug]
debounce_ms = 20

[irq]
poll_interval_ms = 2

[[pipe]]
index = 0
name = "lvds0"
output = "lvds"
clock_hz = 300000000

[pipe.panel]
backlight = "gpio:BL_EN"
backlight_delay_ms = 1

[pipe.panel.timing]
h_active = 1024
h_sync_len = 20
h_back_porch = 140
h_front_porch = 160
v_active = 600
v_sync_len = 3
v_back_porch = 20
v_front_porch = 12
pixel_clock_hz = 51200000
refresh_hz = 60

[[pipe.panel.power]]
gpio = "LCD_EN"
delay_ms = 1

[[pipe]]
index = 1
name = "hdmi1"
output = "hdmi"
clock_hz = 800000000

[pipe.hdmi]
ready_poll_ms = 1

[[pipe]]
index = 2
output = "lvds"

[pipe.panel.timing]
h_active = 960
h_sync_len = 20
h_back_porch = 60
h_front_porch = 60
v_active = 720
v_sync_len = 5
v_back_porch = 15
v_front_porch = 10
pixel_clock_hz = 53000000
refresh_hz = 60

[[pipe]]
index = 3
output = "lvds"

[pipe.panel.timing]
h_active = 960
h_sync_len = 20
h_back_porch = 60
h_front_porch = 60
v_active = 720
v_sync_len = 5
v_back_porch = 15
v_front_porch = 10
pixel_clock_hz = 53000000
refresh_hz = 60

[[cluster]]
name = "dash"
members = [2, 3]
reference = 2
width = 1920
height = 720
`

type recordingGPIO struct {
	mu  sync.Mutex
	log []string
}

func (r *recordingGPIO) Configure(id string, _ gpio.Level, _ time.Duration) error { return nil }

func (r *recordingGPIO) Set(id string, level gpio.Level) error {
	r.mu.Lock()
	r.log = append(r.log, id+"="+level.String())
	r.mu.Unlock()
	return nil
}

func (r *recordingGPIO) Lines() []string { return nil }

func (r *recordingGPIO) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func newTestSubsystem(t *testing.T, bus *events.Bus) (*Subsystem, *recordingGPIO) {
	t.Helper()
	return newBoardSubsystem(t, testBoard, bus)
}

func newBoardSubsystem(t *testing.T, text string, bus *events.Bus) (*Subsystem, *recordingGPIO) {
	t.Helper()
	board, err := config.ParseBoard([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	lines := &recordingGPIO{}
	s, err := New(Options{
		Board:    board,
		Simulate: true,
		GPIO:     lines,
		Bus:      bus,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, lines
}

func TestSubsystem_EnumeratePipes(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)

	pipes := s.EnumeratePipes()
	if len(pipes) != 4 {
		t.Fatalf("got %d pipes", len(pipes))
	}
	for i, p := range pipes {
		if p.Index != i {
			t.Errorf("pipe %d has index %d", i, p.Index)
		}
		if len(p.Layers) != layer.DefaultRGBLayers+1 {
			t.Errorf("pipe %d has %d layers", i, len(p.Layers))
		}
	}
	if pipes[1].Hotplug == nil || !pipes[1].Hotplug.Connected {
		t.Errorf("hdmi hotplug info = %+v", pipes[1].Hotplug)
	}
	if pipes[0].Hotplug != nil {
		t.Error("lvds pipe has hotplug info")
	}
	if pipes[2].Cluster != "dash" || pipes[3].Cluster != "dash" {
		t.Error("cluster membership missing")
	}

	if _, err := s.Pipe(9); !errors.Is(err, disperr.ErrInvalidArgument) {
		t.Errorf("Pipe(9) = %v", err)
	}
}

func TestSubsystem_NegotiateAndApply(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)

	m, err := s.NegotiateAndApply(0)
	if err != nil {
		t.Fatal(err)
	}
	if m.HActive != 1024 || m.VActive != 600 {
		t.Errorf("lvds mode = %s", m)
	}
	info, _ := s.Pipe(0)
	if info.Mode == nil || *info.Mode != m {
		t.Errorf("pipe mode = %+v", info.Mode)
	}

	m, err = s.NegotiateAndApply(1)
	if err != nil {
		t.Fatal(err)
	}
	if m.HActive != 1920 || m.VActive != 1080 || m.RefreshHz != 60 {
		t.Errorf("hdmi mode = %s", m)
	}

	modes, err := s.Modes(1)
	if err != nil || len(modes) == 0 {
		t.Errorf("Modes(1) = %d candidates, %v", len(modes), err)
	}
}

func TestSubsystem_ClusterNegotiation(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)

	m, err := s.NegotiateAndApply(3)
	if err != nil {
		t.Fatal(err)
	}
	if m.HActive != 1920 || m.VActive != 720 {
		t.Errorf("combined mode = %s", m)
	}
	for _, idx := range []int{2, 3} {
		info, _ := s.Pipe(idx)
		if info.Mode == nil || info.Mode.HActive != 960 || info.Mode.HFrontPorch != 60 {
			t.Errorf("member %d mode = %+v", idx, info.Mode)
		}
	}

	if err := s.SetPower(context.Background(), 2, pipeline.TargetOn); err != nil {
		t.Fatal(err)
	}
	for _, idx := range []int{2, 3} {
		if info, _ := s.Pipe(idx); info.State != pipeline.StateOn {
			t.Errorf("member %d state = %v", idx, info.State)
		}
	}
}

func TestSubsystem_ClusterRejectsModeReferenceCannotShow(t *testing.T) {
	// 1922 splits into 961-pixel shares, one wider than the 960 panels
	s, _ := newBoardSubsystem(t, strings.Replace(testBoard, "width = 1920", "width = 1922", 1), nil)

	if _, err := s.NegotiateAndApply(2); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Fatalf("NegotiateAndApply = %v, want NO_MATCHING_MODE", err)
	}
	for _, idx := range []int{2, 3} {
		if info, _ := s.Pipe(idx); info.Mode != nil {
			t.Errorf("member %d got mode %s", idx, info.Mode)
		}
	}
}

func TestSubsystem_NotConnected(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)
	s.Sim().Sink("hdmi1").Unplug()

	if _, err := s.NegotiateAndApply(1); !errors.Is(err, disperr.ErrNotConnected) {
		t.Errorf("NegotiateAndApply = %v", err)
	}
}

func TestSubsystem_PowerSequence(t *testing.T) {
	s, lines := newTestSubsystem(t, nil)

	if err := s.SetPower(context.Background(), 0, pipeline.TargetOn); !errors.Is(err, disperr.ErrNoMatchingMode) {
		t.Errorf("power on without mode = %v", err)
	}
	if _, err := s.NegotiateAndApply(0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPower(context.Background(), 0, pipeline.TargetOn); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.pipes[0].ctrl.WaitPanel(ctx); err != nil {
		t.Fatal(err)
	}
	got := lines.calls()
	if len(got) != 2 || got[0] != "LCD_EN=High" || got[1] != "BL_EN=High" {
		t.Errorf("gpio calls = %v", got)
	}

	if err := s.SetPower(context.Background(), 0, pipeline.TargetOff); err != nil {
		t.Fatal(err)
	}
	if info, _ := s.Pipe(0); info.State != pipeline.StateOff {
		t.Errorf("state = %v", info.State)
	}
}

func ptr[T any](v T) *T { return &v }

func TestSubsystem_UpdateLayer(t *testing.T) {
	bus := events.New()
	updates := make(chan events.LayerUpdatedEvent, 4)
	unsub := bus.Subscribe(func(e events.LayerUpdatedEvent) { updates <- e })
	defer unsub()

	s, _ := newTestSubsystem(t, bus)
	if _, err := s.NegotiateAndApply(0); err != nil {
		t.Fatal(err)
	}

	_, err := s.UpdateLayer(0, 0, LayerUpdate{Address: ptr(uint32(0x4000_0000)), Stride: ptr(2048)})
	if !errors.Is(err, disperr.ErrInvalidLayerSequencing) {
		t.Fatalf("address before format = %v", err)
	}

	l, err := s.UpdateLayer(0, 0, LayerUpdate{
		Format:  ptr("rgb565"),
		Dest:    &layer.Rect{W: 1024, H: 600},
		Address: ptr(uint32(0x4000_0000)),
		Stride:  ptr(2048),
		Alpha:   &ColorSetting{Value: 8, Enabled: true},
		Enabled: ptr(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.State != layer.StateEnabled || l.Color.Alpha != 8 || !l.Pending {
		t.Errorf("layer = %+v", l)
	}

	select {
	case e := <-updates:
		want := []string{"format", "position", "address", "alpha", "enabled"}
		if len(e.Fields) != len(want) {
			t.Fatalf("fields = %v", e.Fields)
		}
		for i := range want {
			if e.Fields[i] != want[i] {
				t.Errorf("fields = %v, want %v", e.Fields, want)
				break
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no layer event")
	}

	n, err := s.Commit(0)
	if err != nil || n != 1 {
		t.Errorf("Commit = %d, %v", n, err)
	}
	if n, _ := s.Commit(0); n != 0 {
		t.Errorf("second Commit = %d", n)
	}

	if _, err := s.UpdateLayer(0, 0, LayerUpdate{Format: ptr("yuv420")}); !errors.Is(err, disperr.ErrUnsupportedPixelFormat) {
		t.Errorf("yuv on rgb layer = %v", err)
	}
	if _, err := s.UpdateLayer(0, 7, LayerUpdate{}); !errors.Is(err, disperr.ErrInvalidArgument) {
		t.Errorf("unknown layer = %v", err)
	}
}

func TestSubsystem_HotplugRenegotiates(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)
	if _, err := s.NegotiateAndApply(1); err != nil {
		t.Fatal(err)
	}

	type change struct {
		pipe      int
		connected bool
	}
	changes := make(chan change, 4)
	unsub := s.OnHotplug(func(pipe int, connected bool) { changes <- change{pipe, connected} })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sink := s.Sim().Sink("hdmi1")
	sink.Unplug()
	select {
	case c := <-changes:
		if c.pipe != 1 || c.connected {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unplug not reported")
	}

	sink.Plug(nil)
	select {
	case c := <-changes:
		if !c.connected {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("plug not reported")
	}

	// Without an EDID the sink falls back to the preset table.
	info, _ := s.Pipe(1)
	if info.Mode == nil {
		t.Fatal("no mode after replug")
	}
}

func TestSubsystem_VblankThroughReactor(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)
	if _, err := s.NegotiateAndApply(1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPower(context.Background(), 1, pipeline.TargetOn); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	n, err := s.pipes[1].ctrl.WaitVblank(wctx)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Error("vblank count is zero")
	}
}

func TestSubsystem_ApplyTunables(t *testing.T) {
	s, _ := newTestSubsystem(t, nil)

	board, err := config.ParseBoard([]byte(testBoard))
	if err != nil {
		t.Fatal(err)
	}
	board.Hotplug.DebounceMs = 300
	board.Pipes[0].Panel.Power[0].DelayMs = 40
	board.Pipes[0].Panel.BacklightDelayMs = 70
	board.Pipes[1].HDMI.ColorRange = "full"

	s.ApplyTunables(board)

	if d := s.pipes[1].hotplug.Debounce(); d != 300*time.Millisecond {
		t.Errorf("debounce = %v", d)
	}
	seq := s.pipes[0].ctrl.Sequence()
	if seq.Steps()[0].Delay != 40*time.Millisecond || seq.BacklightDelay() != 70*time.Millisecond {
		t.Errorf("sequence timing = %v / %v", seq.Steps()[0].Delay, seq.BacklightDelay())
	}
	if _, err := s.NegotiateAndApply(1); err != nil {
		t.Fatal(err)
	}
	if s.pipes[1].hdmi.ColorRange().String() != "full" {
		t.Errorf("color range = %v", s.pipes[1].hdmi.ColorRange())
	}
	if s.Board() != board {
		t.Error("board not replaced")
	}
}
