package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/version"
)

type service struct {
	opts       Options
	src        source
	backup     *backupManager
	executable func() (string, error)
	logger     *slog.Logger

	mu          sync.RWMutex
	state       State
	target      string
	lastError   string
	lastChecked *time.Time
	latest      *release

	enabled        bool
	disabledReason string
}

// NewService creates an updater for opts.Repository.
func NewService(opts Options) (Service, error) {
	if opts.Repository == "" {
		return nil, fmt.Errorf("update repository is required")
	}
	if opts.BackupDir == "" {
		opts.BackupDir = defaultBackupDir()
	}
	if opts.Restart == nil {
		opts.Restart = terminateSelf
	}
	if opts.RestartDelay == 0 {
		opts.RestartDelay = 500 * time.Millisecond
	}
	if opts.executable == nil {
		opts.executable = selfupdate.ExecutablePath
	}

	src := opts.source
	if src == nil {
		gh, err := newGitHubSource(opts.Repository, opts.Prerelease)
		if err != nil {
			return nil, err
		}
		src = gh
	}

	s := &service{
		opts:       opts,
		src:        src,
		backup:     &backupManager{dir: opts.BackupDir},
		executable: opts.executable,
		logger:     logging.GetLogger("updater"),
		state:      StateIdle,
	}
	s.enabled, s.disabledReason = s.checkWritePermission()
	if !s.enabled {
		s.logger.Warn("Self-update disabled", "reason", s.disabledReason)
	}
	return s, nil
}

func (s *service) checkWritePermission() (bool, string) {
	exe, err := s.executable()
	if err != nil {
		return false, fmt.Sprintf("cannot locate executable: %v", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(exe), ".displaynode-write-test-*")
	if err != nil {
		return false, fmt.Sprintf("no write permission to %s", filepath.Dir(exe))
	}
	name := tmp.Name()
	tmp.Close()
	_ = os.Remove(name)
	return true, ""
}

func (s *service) IsEnabled() bool {
	return s.enabled
}

func (s *service) DisabledReason() string {
	return s.disabledReason
}

func (s *service) setState(state State, target, errMsg string) {
	s.mu.Lock()
	s.state = state
	s.target = target
	s.lastError = errMsg
	s.mu.Unlock()
}

// begin moves from a resting state to next, or fails if an update is in flight.
func (s *service) begin(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateChecking, StateDownloading, StateApplying, StateRestarting:
		return fail(CodeBusy, "begin", fmt.Sprintf("update in progress (%s)", s.state), nil)
	}
	s.state = next
	s.lastError = ""
	return nil
}

func (s *service) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	if err := s.begin(StateChecking); err != nil {
		return nil, err
	}

	current := version.Version
	rel, found, err := s.src.Latest(ctx, current)
	now := time.Now()
	s.mu.Lock()
	s.lastChecked = &now
	s.mu.Unlock()

	if err != nil {
		s.setState(StateError, "", err.Error())
		return nil, fail(CodeCheckFailed, "check", "failed to query releases", err)
	}
	if !found {
		s.setState(StateIdle, "", "")
		return nil, fail(CodeNoRelease, "check", "no release found for this platform", nil)
	}

	info := &UpdateInfo{
		CurrentVersion:  current,
		LatestVersion:   rel.Version,
		ReleaseNotes:    rel.Notes,
		ReleaseURL:      rel.URL,
		PublishedAt:     rel.PublishedAt,
		AssetSize:       rel.AssetSize,
		UpdateAvailable: rel.Newer,
	}

	s.mu.Lock()
	if rel.Newer {
		s.latest = &rel
		s.state = StateAvailable
		s.target = rel.Version
	} else {
		s.latest = nil
		s.state = StateIdle
		s.target = ""
	}
	s.mu.Unlock()

	s.logger.Info("Checked for update", "current", current, "latest", rel.Version, "available", rel.Newer)
	return info, nil
}

func (s *service) ApplyUpdate(ctx context.Context) error {
	if !s.enabled {
		return fail(CodeDisabled, "apply", s.disabledReason, nil)
	}

	s.mu.RLock()
	rel := s.latest
	s.mu.RUnlock()
	if rel == nil {
		if _, err := s.CheckForUpdate(ctx); err != nil {
			return err
		}
		s.mu.RLock()
		rel = s.latest
		s.mu.RUnlock()
		if rel == nil {
			return fail(CodeUpToDate, "apply", "already running the latest release", nil)
		}
	}

	if err := s.begin(StateDownloading); err != nil {
		return err
	}
	s.setState(StateDownloading, rel.Version, "")

	exe, err := s.executable()
	if err != nil {
		s.setState(StateError, rel.Version, err.Error())
		return fail(CodeInstallFailed, "apply", "cannot locate executable", err)
	}

	if err := s.backup.create(exe, version.Version); err != nil {
		s.setState(StateError, rel.Version, err.Error())
		return fail(CodeBackupFailed, "apply", "failed to back up current binary", err)
	}

	s.setState(StateApplying, rel.Version, "")
	s.logger.Info("Installing update", "version", rel.Version, "executable", exe)
	if err := s.src.Install(ctx, *rel, exe); err != nil {
		s.setState(StateError, rel.Version, err.Error())
		return fail(CodeInstallFailed, "apply", "failed to install release", err)
	}

	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
	s.setState(StateRestarting, rel.Version, "")
	s.scheduleRestart()
	return nil
}

func (s *service) Rollback(_ context.Context) error {
	if !s.enabled {
		return fail(CodeDisabled, "rollback", s.disabledReason, nil)
	}
	if !s.backup.exists() {
		return fail(CodeNoBackup, "rollback", "no backup available", nil)
	}
	if err := s.begin(StateApplying); err != nil {
		return err
	}

	target := s.backup.version()
	exe, err := s.executable()
	if err != nil {
		s.setState(StateError, target, err.Error())
		return fail(CodeRollbackFailed, "rollback", "cannot locate executable", err)
	}
	if err := s.backup.restore(exe); err != nil {
		s.setState(StateError, target, err.Error())
		return fail(CodeRollbackFailed, "rollback", "failed to restore backup", err)
	}

	s.logger.Info("Rolled back", "version", target)
	s.setState(StateRolledBack, target, "")
	s.scheduleRestart()
	return nil
}

func (s *service) GetStatus(_ context.Context) *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &Status{
		State:           s.state,
		CurrentVersion:  version.Version,
		TargetVersion:   s.target,
		Error:           s.lastError,
		LastChecked:     s.lastChecked,
		BackupAvailable: s.backup.exists(),
	}
	if st.BackupAvailable {
		st.BackupVersion = s.backup.version()
	}
	return st
}

func (s *service) scheduleRestart() {
	time.AfterFunc(s.opts.RestartDelay, func() {
		s.logger.Info("Restarting to finish update")
		s.opts.Restart()
	})
}

// terminateSelf lets the service manager restart us after the normal
// shutdown path has powered the pipes down.
func terminateSelf() {
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		_ = p.Signal(syscall.SIGTERM)
	}
}
