package panel

import (
	"fmt"
	"os"

	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/mode"
)

// Static is a panel described entirely by configuration.
type Static struct {
	present bool
	timing  *mode.Mode
	edid    []byte
}

var (
	_ backend.PanelSource = (*Static)(nil)
	_ backend.PanelSource = (*EDIDFile)(nil)
)

// NewStatic creates a panel source. timing and edid may be nil.
func NewStatic(present bool, timing *mode.Mode, edid []byte) *Static {
	return &Static{present: present, timing: timing, edid: edid}
}

// Present implements backend.PanelSource.
func (s *Static) Present() bool { return s.present }

// Timing implements backend.PanelSource.
func (s *Static) Timing() (mode.Mode, bool) {
	if s.timing == nil {
		return mode.Mode{}, false
	}
	return *s.timing, true
}

// EDID implements backend.PanelSource.
func (s *Static) EDID() ([]byte, bool) {
	return s.edid, len(s.edid) > 0
}

// EDIDFile reads EDID from a file on every call, such as a DRM connector's
// sysfs edid attribute.
type EDIDFile struct {
	path string
}

// NewEDIDFile creates an EDID source for path.
func NewEDIDFile(path string) *EDIDFile {
	return &EDIDFile{path: path}
}

// Present implements backend.PanelSource.
func (f *EDIDFile) Present() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Timing implements backend.PanelSource.
func (f *EDIDFile) Timing() (mode.Mode, bool) { return mode.Mode{}, false }

// EDID implements backend.PanelSource.
func (f *EDIDFile) EDID() ([]byte, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// LoadEDID reads and validates an EDID blob.
func LoadEDID(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read EDID: %w", err)
	}
	if _, err := mode.ParseEDID(data); err != nil {
		return nil, fmt.Errorf("invalid EDID in %s: %w", path, err)
	}
	return data, nil
}
