package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	Listen    string        `toml:"server.listen" env:"SERVER_LISTEN"`
	Simulate  bool          `toml:"display.simulate" env:"DISPLAY_SIMULATE"`
	QueueSize int           `toml:"irq.queue_size" env:"IRQ_QUEUE_SIZE"`
	MemBase   uint64        `toml:"regs.base" env:"REGS_BASE"`
	Settle    time.Duration `toml:"panel.settle" env:"PANEL_SETTLE"`
	Pipes     []string      `toml:"display.pipes" env:"DISPLAY_PIPES"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeFile(t, "displaynode.toml", `
[server]
listen = ":9000"

[display]
simulate = true
pipes = ["dsi0", "hdmi0"]

[irq]
queue_size = 128

[regs]
base = 0xc0102000

[panel]
settle = "150ms"
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Listen != ":9000" {
		t.Errorf("Listen = %q", opts.Listen)
	}
	if !opts.Simulate {
		t.Error("Simulate should be true")
	}
	if opts.QueueSize != 128 {
		t.Errorf("QueueSize = %d", opts.QueueSize)
	}
	if opts.MemBase != 0xc0102000 {
		t.Errorf("MemBase = %#x", opts.MemBase)
	}
	if opts.Settle != 150*time.Millisecond {
		t.Errorf("Settle = %v", opts.Settle)
	}
	if !reflect.DeepEqual(opts.Pipes, []string{"dsi0", "hdmi0"}) {
		t.Errorf("Pipes = %v", opts.Pipes)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeFile(t, "displaynode.toml", "[server]\nlisten = \":9000\"\n[irq]\nqueue_size = 128\n")

	t.Setenv("DISPLAYNODE_SERVER_LISTEN", ":9100")
	t.Setenv("DISPLAYNODE_REGS_BASE", "0x1000")
	t.Setenv("DISPLAYNODE_PANEL_SETTLE", "2s")
	t.Setenv("DISPLAYNODE_DISPLAY_PIPES", "a, b")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}

	if opts.Listen != ":9100" {
		t.Errorf("env should override file, got %q", opts.Listen)
	}
	if opts.QueueSize != 128 {
		t.Errorf("file value should survive, got %d", opts.QueueSize)
	}
	if opts.MemBase != 0x1000 {
		t.Errorf("MemBase = %#x", opts.MemBase)
	}
	if opts.Settle != 2*time.Second {
		t.Errorf("Settle = %v", opts.Settle)
	}
	if !reflect.DeepEqual(opts.Pipes, []string{"a", "b"}) {
		t.Errorf("Pipes = %v", opts.Pipes)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeFile(t, "displaynode.toml", "[server]\nlisten = \":9000\"\n")
	t.Setenv("DISPLAYNODE_SERVER_LISTEN", ":9100")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.Listen, "listen", ":8090", "")
	if err := cmd.Flags().Set("listen", ":7000"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.Listen != ":7000" {
		t.Errorf("CLI flag should win, got %q", opts.Listen)
	}
}

func TestLoadConfigMissingAndInvalidFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Listen: ":8090"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Errorf("missing file should not be an error: %v", err)
	}
	if opts.Listen != ":8090" {
		t.Errorf("default should survive, got %q", opts.Listen)
	}

	bad := &testOptions{Config: writeFile(t, "bad.toml", "[server\nlisten=")}
	if err := LoadConfig(bad, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Listen":            "listen",
		"HotplugDebounceMs": "hotplug-debounce-ms",
		"LoggingLevel":      "logging-level",
		"LoggingIRQ":        "logging-irq",
		"HTTPPort":          "http-port",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": "deep"}},
		"x": "flat",
	}
	if got := getNestedValue(data, "a.b.c"); got != "deep" {
		t.Errorf("a.b.c = %v", got)
	}
	if got := getNestedValue(data, "x"); got != "flat" {
		t.Errorf("x = %v", got)
	}
	if got := getNestedValue(data, "x.y"); got != nil {
		t.Errorf("x.y = %v, want nil", got)
	}
}
