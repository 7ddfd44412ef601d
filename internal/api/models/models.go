package models

import (
	"github.com/smazurov/displaynode/internal/display"
	"github.com/smazurov/displaynode/internal/layer"
	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/updater"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2026-01-02T03:04:05Z" doc:"Build or commit timestamp"`
	Modified  bool   `json:"modified" doc:"Built from a dirty working tree"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// PipeInput addresses one display pipe.
type PipeInput struct {
	Pipe int `path:"pipe" minimum:"0" example:"0" doc:"Display pipe index"`
}

// Pipe models
type PipeListData struct {
	Pipes []display.PipeInfo `json:"pipes" doc:"All display pipes in index order"`
	Count int                `json:"count" example:"2" doc:"Number of pipes"`
}

type PipeListResponse struct {
	Body PipeListData
}

type PipeResponse struct {
	Body display.PipeInfo
}

// Mode models
type ModeData struct {
	mode.Mode
	Name      string `json:"name" example:"1920x1080p@60" doc:"Mode summary"`
	Preferred bool   `json:"preferred" example:"true" doc:"Whether the sink prefers this mode"`
	Origin    string `json:"origin" example:"edid" enum:"edid,timing,preset" doc:"Where the mode came from"`
}

type ModeListData struct {
	Pipe  int        `json:"pipe" example:"1" doc:"Display pipe index"`
	Modes []ModeData `json:"modes" doc:"Candidate modes, preferred first"`
	Count int        `json:"count" example:"4" doc:"Number of candidate modes"`
}

type ModeListResponse struct {
	Body ModeListData
}

// NewModeData converts a negotiation candidate.
func NewModeData(c mode.Candidate) ModeData {
	return ModeData{
		Mode:      c.Mode,
		Name:      c.Mode.String(),
		Preferred: c.Preferred,
		Origin:    string(c.Origin),
	}
}

type NegotiateData struct {
	Pipe int       `json:"pipe" example:"1" doc:"Display pipe index"`
	Mode mode.Mode `json:"mode" doc:"Mode that was applied"`
	Name string    `json:"name" example:"1920x1080p@60" doc:"Mode summary"`
}

type NegotiateResponse struct {
	Body NegotiateData
}

// Power models
type PowerRequest struct {
	Pipe int `path:"pipe" minimum:"0" example:"0" doc:"Display pipe index"`
	Body struct {
		Target string `json:"target" enum:"on,standby,suspend,off" example:"on" doc:"DPMS target state"`
	}
}

// Layer models
type LayerRequest struct {
	Pipe  int `path:"pipe" minimum:"0" example:"0" doc:"Display pipe index"`
	Layer int `path:"layer" minimum:"0" example:"0" doc:"Layer index; the last index is the video layer"`
	Body  display.LayerUpdate
}

type LayerResponse struct {
	Body layer.Layer
}

type CommitData struct {
	Pipe      int `json:"pipe" example:"0" doc:"Display pipe index"`
	Committed int `json:"committed" example:"2" doc:"Number of layers latched"`
}

type CommitResponse struct {
	Body CommitData
}

// Log models
type LogLevelsData struct {
	Levels map[string]string `json:"levels" doc:"Effective level per module"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type LogLevelRequest struct {
	Module string `path:"module" example:"hotplug" doc:"Logger module name"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

// Update models
type UpdateCheckResponse struct {
	Body updater.UpdateInfo
}

type UpdateStatusResponse struct {
	Body updater.Status
}

type UpdateMessage struct {
	Message string `json:"message" example:"Update applied, restarting..." doc:"Status message"`
}

type UpdateMessageResponse struct {
	Body UpdateMessage
}

// Simulation models
type SimSinkRequest struct {
	Pipe int `path:"pipe" example:"1" doc:"HDMI pipe index"`
	Body struct {
		Connected bool `json:"connected" doc:"Attach (true) or detach (false) the simulated monitor"`
	}
}

type SimSinkData struct {
	Pipe      int  `json:"pipe"`
	Connected bool `json:"connected"`
}

type SimSinkResponse struct {
	Body SimSinkData
}
