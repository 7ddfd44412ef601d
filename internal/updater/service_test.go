package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	rel        release
	found      bool
	latestErr  error
	installErr error
	installed  atomic.Int32
}

func (f *fakeSource) Latest(context.Context, string) (release, bool, error) {
	return f.rel, f.found, f.latestErr
}

func (f *fakeSource) Install(_ context.Context, rel release, exe string) error {
	if f.installErr != nil {
		return f.installErr
	}
	f.installed.Add(1)
	return os.WriteFile(exe, []byte("binary "+rel.Version), 0o755)
}

func newTestService(t *testing.T, src *fakeSource) (*service, string, chan struct{}) {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "displaynode")
	if err := os.WriteFile(exe, []byte("binary dev"), 0o755); err != nil {
		t.Fatal(err)
	}

	restarted := make(chan struct{}, 1)
	svc, err := NewService(Options{
		Repository:   "smazurov/displaynode",
		BackupDir:    filepath.Join(dir, "backup"),
		Restart:      func() { restarted <- struct{}{} },
		RestartDelay: time.Millisecond,
		source:       src,
		executable:   func() (string, error) { return exe, nil },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc.(*service), exe, restarted
}

func waitRestart(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("restart was not scheduled")
	}
}

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Fatal("expected error for empty repository")
	}
}

func TestCheckForUpdate(t *testing.T) {
	src := &fakeSource{rel: release{Version: "1.2.0", Newer: true}, found: true}
	svc, _, _ := newTestService(t, src)

	info, err := svc.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if !info.UpdateAvailable || info.LatestVersion != "1.2.0" {
		t.Errorf("info = %+v", info)
	}

	st := svc.GetStatus(context.Background())
	if st.State != StateAvailable || st.TargetVersion != "1.2.0" {
		t.Errorf("status = %+v", st)
	}
	if st.LastChecked == nil {
		t.Error("LastChecked not set")
	}
}

func TestCheckForUpdateErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeSource{})
		_, err := svc.CheckForUpdate(context.Background())
		var ue *Error
		if !errors.As(err, &ue) || ue.Code != CodeNoRelease {
			t.Fatalf("err = %v, want %s", err, CodeNoRelease)
		}
		if st := svc.GetStatus(context.Background()); st.State != StateIdle {
			t.Errorf("state = %s, want idle", st.State)
		}
	})

	t.Run("source failure", func(t *testing.T) {
		svc, _, _ := newTestService(t, &fakeSource{latestErr: errors.New("rate limited")})
		_, err := svc.CheckForUpdate(context.Background())
		var ue *Error
		if !errors.As(err, &ue) || ue.Code != CodeCheckFailed {
			t.Fatalf("err = %v, want %s", err, CodeCheckFailed)
		}
		st := svc.GetStatus(context.Background())
		if st.State != StateError || st.Error == "" {
			t.Errorf("status = %+v", st)
		}
	})
}

func TestApplyUpdateBacksUpAndRestarts(t *testing.T) {
	src := &fakeSource{rel: release{Version: "1.2.0", Newer: true}, found: true}
	svc, exe, restarted := newTestService(t, src)

	if err := svc.ApplyUpdate(context.Background()); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	waitRestart(t, restarted)

	if got, _ := os.ReadFile(exe); string(got) != "binary 1.2.0" {
		t.Errorf("executable = %q", got)
	}
	st := svc.GetStatus(context.Background())
	if st.State != StateRestarting {
		t.Errorf("state = %s, want restarting", st.State)
	}
	if !st.BackupAvailable || st.BackupVersion != "dev" {
		t.Errorf("backup = %v %q", st.BackupAvailable, st.BackupVersion)
	}
}

func TestApplyUpdateNothingNewer(t *testing.T) {
	src := &fakeSource{rel: release{Version: "1.0.0"}, found: true}
	svc, _, _ := newTestService(t, src)

	err := svc.ApplyUpdate(context.Background())
	var ue *Error
	if !errors.As(err, &ue) || ue.Code != CodeUpToDate {
		t.Fatalf("err = %v, want %s", err, CodeUpToDate)
	}
	if src.installed.Load() != 0 {
		t.Error("install should not run")
	}
}

func TestApplyUpdateInstallFailure(t *testing.T) {
	src := &fakeSource{
		rel:        release{Version: "1.2.0", Newer: true},
		found:      true,
		installErr: errors.New("checksum mismatch"),
	}
	svc, exe, _ := newTestService(t, src)

	err := svc.ApplyUpdate(context.Background())
	var ue *Error
	if !errors.As(err, &ue) || ue.Code != CodeInstallFailed {
		t.Fatalf("err = %v, want %s", err, CodeInstallFailed)
	}
	if got, _ := os.ReadFile(exe); string(got) != "binary dev" {
		t.Errorf("executable changed to %q", got)
	}
	if st := svc.GetStatus(context.Background()); st.State != StateError {
		t.Errorf("state = %s, want error", st.State)
	}
}

func TestRollback(t *testing.T) {
	src := &fakeSource{rel: release{Version: "1.2.0", Newer: true}, found: true}
	svc, exe, restarted := newTestService(t, src)

	err := svc.Rollback(context.Background())
	var ue *Error
	if !errors.As(err, &ue) || ue.Code != CodeNoBackup {
		t.Fatalf("err = %v, want %s", err, CodeNoBackup)
	}

	if err := svc.ApplyUpdate(context.Background()); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	waitRestart(t, restarted)

	// A restart would normally reset state.
	svc.setState(StateIdle, "", "")

	if err := svc.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	waitRestart(t, restarted)

	if got, _ := os.ReadFile(exe); string(got) != "binary dev" {
		t.Errorf("executable = %q, want original", got)
	}
	if st := svc.GetStatus(context.Background()); st.State != StateRolledBack || st.TargetVersion != "dev" {
		t.Errorf("status = %+v", st)
	}
	if _, err := os.Stat(exe + ".old"); !os.IsNotExist(err) {
		t.Error("aside copy left behind")
	}
}

func TestBusyStateRejected(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeSource{found: true})
	svc.setState(StateApplying, "1.2.0", "")

	_, err := svc.CheckForUpdate(context.Background())
	var ue *Error
	if !errors.As(err, &ue) || ue.Code != CodeBusy {
		t.Fatalf("err = %v, want %s", err, CodeBusy)
	}
}

func TestDisabledWhenDirectoryReadOnly(t *testing.T) {
	svc, err := NewService(Options{
		Repository: "smazurov/displaynode",
		BackupDir:  t.TempDir(),
		source:     &fakeSource{},
		executable: func() (string, error) { return "", errors.New("no executable") },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if svc.IsEnabled() || svc.DisabledReason() == "" {
		t.Fatal("expected disabled service")
	}
	err = svc.ApplyUpdate(context.Background())
	var ue *Error
	if !errors.As(err, &ue) || ue.Code != CodeDisabled {
		t.Fatalf("err = %v, want %s", err, CodeDisabled)
	}
}
