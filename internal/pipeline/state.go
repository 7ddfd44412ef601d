package pipeline

import (
	"fmt"

	"github.com/smazurov/displaynode/internal/disperr"
)

// PowerState is the power sequencing state of a pipe.
type PowerState int

// Power states.
const (
	StateOff PowerState = iota
	StatePreparing
	StateOn
	StateDisabling
)

var stateNames = [...]string{"off", "preparing", "on", "disabling"}

func (s PowerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("PowerState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s PowerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Target is a DPMS power level requested of a pipe. Every target other than
// TargetOn powers the pipe down.
type Target int

// DPMS targets.
const (
	TargetOn Target = iota
	TargetStandby
	TargetSuspend
	TargetOff
)

var targetNames = [...]string{"on", "standby", "suspend", "off"}

// ParseTarget accepts "on", "standby", "suspend" and "off".
func ParseTarget(s string) (Target, error) {
	for i, n := range targetNames {
		if n == s {
			return Target(i), nil
		}
	}
	return 0, disperr.Newf(disperr.CodeInvalidArgument, "pipeline.ParseTarget", "unknown power target %q", s)
}

func (t Target) valid() bool { return t >= 0 && int(t) < len(targetNames) }

func (t Target) String() string {
	if !t.valid() {
		return fmt.Sprintf("Target(%d)", int(t))
	}
	return targetNames[t]
}

// SyncInfo are the timing fields other components derive from the current
// mode. Sync positions are counted from the first active pixel or line.
type SyncInfo struct {
	HTotal     int  `json:"h_total"`
	HSyncStart int  `json:"h_sync_start"`
	HSyncEnd   int  `json:"h_sync_end"`
	VTotal     int  `json:"v_total"`
	VSyncStart int  `json:"v_sync_start"`
	VSyncEnd   int  `json:"v_sync_end"`
	Interlaced bool `json:"interlaced"`
	// FieldLines is the line count of one field, equal to VTotal when
	// progressive.
	FieldLines int `json:"field_lines"`
}
