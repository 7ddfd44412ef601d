package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/smazurov/displaynode/internal/config"
	"github.com/smazurov/displaynode/internal/mode"
)

func run(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}

func TestModesCmd(t *testing.T) {
	out, err := run(t, CreateModesCmd())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1920x1080") {
		t.Errorf("1080p preset missing:\n%s", out)
	}

	all, err := run(t, CreateModesCmd(), "--all")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(all, "\n") < strings.Count(out, "\n") {
		t.Error("--all listed fewer presets")
	}
}

func TestEDIDCmd(t *testing.T) {
	p1080, _ := mode.PresetByVIC(16)
	blob := mode.BuildEDID(mode.EDIDSpec{
		Manufacturer: "ABC",
		ProductCode:  0x1234,
		Name:         "Bench",
		Timings:      []mode.Mode{p1080.Mode},
		HDMI:         true,
	})
	path := filepath.Join(t.TempDir(), "edid.bin")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, CreateEDIDCmd(), path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ABC", "0x1234", "Bench", "1920x1080"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, CreateEDIDCmd(), "--json", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"manufacturer": "ABC"`) {
		t.Errorf("json output:\n%s", out)
	}

	if _, err := run(t, CreateEDIDCmd(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestBoardCmd_DefaultRoundTrips(t *testing.T) {
	out, err := run(t, CreateBoardCmd(), "--default")
	if err != nil {
		t.Fatal(err)
	}
	b, err := config.ParseBoard([]byte(out))
	if err != nil {
		t.Fatalf("default board does not parse back: %v\n%s", err, out)
	}
	if len(b.Pipes) != 2 || b.Pipes[0].Panel.Timing == nil {
		t.Errorf("round trip lost pipes: %+v", b.Pipes)
	}

	path := filepath.Join(t.TempDir(), "board.toml")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err := run(t, CreateBoardCmd(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "dsi0") || !strings.Contains(summary, "hdmi0") {
		t.Errorf("summary:\n%s", summary)
	}
}

func TestBoardCmd_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.toml")
	if err := os.WriteFile(path, []byte("[[pipe]]\nindex = 0\noutput = \"vga\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, CreateBoardCmd(), path); err == nil {
		t.Error("unknown output accepted")
	}
	if _, err := run(t, CreateBoardCmd()); err == nil {
		t.Error("missing file accepted")
	}
}
