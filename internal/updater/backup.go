package updater

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	backupBinary   = "displaynode.backup"
	backupMetadata = "backup.json"
)

type backupInfo struct {
	Version   string    `json:"version"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

type backupManager struct {
	dir string
}

func defaultBackupDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "displaynode-backup")
	}
	return filepath.Join(home, ".cache", "displaynode", "backup")
}

// create copies exe into the backup directory, replacing any older backup.
func (b *backupManager) create(exe, ver string) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	dst := filepath.Join(b.dir, backupBinary)
	if err := copyFile(exe, dst, 0o755); err != nil {
		return err
	}

	meta, err := json.Marshal(backupInfo{Version: ver, Path: exe, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.dir, backupMetadata), meta, 0o644)
}

// restore puts the backup over exe. The running binary is renamed aside first
// so that a failed copy leaves something in place.
func (b *backupManager) restore(exe string) error {
	if !b.exists() {
		return os.ErrNotExist
	}

	aside := exe + ".old"
	if err := os.Rename(exe, aside); err != nil {
		return fmt.Errorf("move current binary: %w", err)
	}
	if err := copyFile(filepath.Join(b.dir, backupBinary), exe, 0o755); err != nil {
		if renameErr := os.Rename(aside, exe); renameErr != nil {
			return fmt.Errorf("restore failed (%w) and current binary lost: %w", err, renameErr)
		}
		return err
	}
	_ = os.Remove(aside)
	return nil
}

func (b *backupManager) exists() bool {
	_, err := os.Stat(filepath.Join(b.dir, backupBinary))
	return err == nil
}

func (b *backupManager) version() string {
	data, err := os.ReadFile(filepath.Join(b.dir, backupMetadata))
	if err != nil {
		return ""
	}
	var info backupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ""
	}
	return info.Version
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
