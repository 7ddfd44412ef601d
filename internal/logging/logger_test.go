package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func reset() {
	mu.Lock()
	modules = make(map[string]*moduleLogger)
	cfg = Config{}
	initialized = false
	history = nil
	onEntry = nil
	mu.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	reset()
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"pipeline": "debug",
			"hotplug":  "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"pipeline", true, true, true},
		{"hotplug", false, false, true},
		{"layer", false, true, true},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitializeFollowsLevel(t *testing.T) {
	reset()

	early := GetLogger("backend")
	if early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"backend": "debug"}})

	if !early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("early logger should follow the configured module level")
	}
}

func TestSetModuleLevel(t *testing.T) {
	reset()
	Initialize(Config{Level: "info"})

	logger := GetLogger("cluster")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected info level")
	}

	if !SetModuleLevel("cluster", "DEBUG") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug after SetModuleLevel")
	}
	if SetModuleLevel("cluster", "loud") {
		t.Error("SetModuleLevel accepted an unknown level")
	}
	if got := Levels()["cluster"]; got != "debug" {
		t.Errorf("Levels()[cluster] = %q, want debug", got)
	}
}

func TestHistoryCapturesRecords(t *testing.T) {
	reset()
	Initialize(Config{Level: "debug"})

	var seen []Entry
	OnEntry(func(e Entry) { seen = append(seen, e) })

	GetLogger("irq").Warn("IRQ queue full", "pipe", 1, "error", errors.New("dropped"),
		slog.Group("bits", "vsync", true))

	entries := History().Snapshot()
	if len(entries) == 0 {
		t.Fatal("history is empty")
	}
	e := entries[len(entries)-1]
	if e.Module != "irq" || e.Level != "warn" || e.Message != "IRQ queue full" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Attributes["error"] != "dropped" {
		t.Errorf("error attribute = %v", e.Attributes["error"])
	}
	if e.Attributes["bits.vsync"] != true {
		t.Errorf("group attribute = %v", e.Attributes["bits.vsync"])
	}
	if len(seen) != 1 {
		t.Errorf("callback ran %d times, want 1", len(seen))
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := range 5 {
		rb.Write(Entry{Message: string(rune('a' + i)), Timestamp: time.Unix(int64(i), 0)})
	}

	got := rb.Snapshot()
	if len(got) != 3 || rb.Len() != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"c", "d", "e"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}

	tail := rb.Tail(2)
	if len(tail) != 2 || tail[0].Message != "d" {
		t.Errorf("Tail(2) = %+v", tail)
	}
}

func TestMultiHandlerRespectsEachLevel(t *testing.T) {
	var buf bytes.Buffer
	debug := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	info := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	slog.New(NewMultiHandler(debug, info)).Debug("vblank wait")

	if n := strings.Count(buf.String(), "vblank wait"); n != 1 {
		t.Errorf("debug record written %d times, want 1", n)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", 0, false},
		{"trace", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
