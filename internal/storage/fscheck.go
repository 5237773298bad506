package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mount types the journal database must not live on. SQLite relies on
// POSIX locks and mmap for WAL, which these do not provide reliably.
var networkFilesystems = map[string]struct{}{
	"9p":          {},
	"afpfs":       {},
	"afs":         {},
	"cifs":        {},
	"fuse.sshfs":  {},
	"nfs":         {},
	"smb2":        {},
	"smbfs":       {},
	"webdav":      {},
	"osxfusefs":   {},
	"macfuse":     {},
	"fuse.rclone": {},
}

// FilesystemError reports a journal database path on a network mount.
type FilesystemError struct {
	Path      string
	Inspected string
	FSType    string
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("journal database %q is on %s (checked %s); the call journal needs a local disk, set state.path or disable the journal",
		e.Path, e.FSType, e.Inspected)
}

// CheckLocal refuses database paths on network mounts. The path need not
// exist yet; its nearest existing parent is inspected instead.
func CheckLocal(path string) error {
	return checkLocal(path, detectFilesystemType)
}

func checkLocal(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	inspect, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}
	fsType, err := detect(inspect)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspect, err)
	}
	if isNetworkFilesystem(fsType) {
		return &FilesystemError{Path: path, Inspected: inspect, FSType: strings.TrimSpace(strings.ToLower(fsType))}
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
