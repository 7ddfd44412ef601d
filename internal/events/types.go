package events

// Event type identifiers for kelindar/event.
const (
	TypeHotplug uint32 = iota + 1
	TypeModeChanged
	TypePowerState
	TypeLayerUpdated
	TypeVblank
	TypeLogEntry
)

// Event is implemented by everything published on the bus.
type Event interface {
	Type() uint32
}

// HotplugEvent reports a debounced connect or disconnect on an output.
type HotplugEvent struct {
	Pipe      int    `json:"pipe" example:"1" doc:"Display pipe index"`
	Backend   string `json:"backend" example:"hdmi" doc:"Output back-end kind"`
	Connected bool   `json:"connected" example:"true" doc:"Whether a sink is attached"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for HotplugEvent.
func (e HotplugEvent) Type() uint32 { return TypeHotplug }

// ModeChangedEvent is published after a pipe accepts a new mode.
type ModeChangedEvent struct {
	Pipe         int    `json:"pipe" example:"0" doc:"Display pipe index"`
	Mode         string `json:"mode" example:"1920x1080p@60" doc:"Mode summary"`
	Width        int    `json:"width" example:"1920" doc:"Active width in pixels"`
	Height       int    `json:"height" example:"1080" doc:"Active height in lines"`
	RefreshHz    int    `json:"refresh_hz" example:"60" doc:"Vertical refresh rate"`
	PixelClockHz int64  `json:"pixel_clock_hz" example:"148500000" doc:"Pixel clock"`
	Timestamp    string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ModeChangedEvent.
func (e ModeChangedEvent) Type() uint32 { return TypeModeChanged }

// PowerStateEvent is published when a power transition finishes, successfully
// or not.
type PowerStateEvent struct {
	Pipe      int    `json:"pipe" example:"0" doc:"Display pipe index"`
	Target    string `json:"target" example:"on" doc:"Requested DPMS target"`
	State     string `json:"state" example:"on" doc:"Resulting pipe state"`
	Error     string `json:"error,omitempty" example:"HARDWARE_NOT_READY" doc:"Failure, if any"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PowerStateEvent.
func (e PowerStateEvent) Type() uint32 { return TypePowerState }

// LayerUpdatedEvent is published after a layer update batch is applied.
type LayerUpdatedEvent struct {
	Pipe      int      `json:"pipe" example:"0" doc:"Display pipe index"`
	Layer     int      `json:"layer" example:"1" doc:"Layer index"`
	Fields    []string `json:"fields" example:"[\"format\",\"position\"]" doc:"Properties that changed"`
	Committed bool     `json:"committed" example:"true" doc:"Whether the change was committed"`
	Timestamp string   `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LayerUpdatedEvent.
func (e LayerUpdatedEvent) Type() uint32 { return TypeLayerUpdated }

// VblankEvent is published for every serviced vertical blank interrupt. It is
// internal and not forwarded to SSE clients.
type VblankEvent struct {
	Pipe  int
	Count uint64
}

// Type returns the event type identifier for VblankEvent.
func (e VblankEvent) Type() uint32 { return TypeVblank }

// LogEntryEvent carries a log record to SSE clients.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pipeline" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
