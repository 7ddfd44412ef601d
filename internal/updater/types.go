// Package updater replaces the running displaynode binary with a newer
// release, keeping one backup for rollback.
package updater

import (
	"context"
	"time"
)

// State is the phase of the update process.
type State string

// Update states.
const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateAvailable   State = "available"
	StateDownloading State = "downloading"
	StateApplying    State = "applying"
	StateRestarting  State = "restarting"
	StateError       State = "error"
	StateRolledBack  State = "rolled_back"
)

// Service checks for, applies and rolls back releases.
type Service interface {
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)
	// ApplyUpdate installs the latest release and schedules a restart.
	ApplyUpdate(ctx context.Context) error
	Rollback(ctx context.Context) error
	GetStatus(ctx context.Context) *Status
	// IsEnabled is false when the binary's directory is not writable.
	IsEnabled() bool
	DisabledReason() string
}

// UpdateInfo describes the latest release relative to the running version.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes"`
	ReleaseURL      string    `json:"release_url"`
	PublishedAt     time.Time `json:"published_at"`
	AssetSize       int       `json:"asset_size"`
	UpdateAvailable bool      `json:"update_available"`
}

// Status is a snapshot of the updater.
type Status struct {
	State           State      `json:"state"`
	CurrentVersion  string     `json:"current_version"`
	TargetVersion   string     `json:"target_version,omitempty"`
	Error           string     `json:"error,omitempty"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	BackupAvailable bool       `json:"backup_available"`
	BackupVersion   string     `json:"backup_version,omitempty"`
}

// Options configures the updater.
type Options struct {
	Repository string // GitHub slug, e.g. "smazurov/displaynode"
	Prerelease bool
	// BackupDir holds the previous binary. Defaults to
	// ~/.cache/displaynode/backup.
	BackupDir string
	// Restart is called after a new binary is in place. The default sends
	// SIGTERM to this process so the service manager restarts it after a
	// clean shutdown of the display pipes.
	Restart func()
	// RestartDelay lets the HTTP response go out before Restart runs.
	RestartDelay time.Duration

	source     source
	executable func() (string, error)
}
