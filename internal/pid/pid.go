// Package pid keeps a single daemon instance per pid file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"codeberg.org/mutker/profilectl/internal/errors"
)

// DefaultPath is where the daemon records its pid.
const DefaultPath = "/run/profilectl.pid"

// File is a pid file at a fixed path.
type File struct {
	path string
}

func New(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

// Acquire writes the current process ID, failing if the file names another
// live process. A stale or unreadable file is replaced.
func (f *File) Acquire() error {
	errFactory := errors.New()

	if owner, ok := f.owner(); ok && owner != os.Getpid() {
		return errFactory.WithData(errors.ErrAlreadyRunning, struct {
			Path string
			PID  int
		}{f.path, owner})
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	return nil
}

// Release removes the pid file if it still names this process.
func (f *File) Release() error {
	if owner, ok := f.owner(); ok && owner != os.Getpid() {
		return nil
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

// owner returns the live process named by the file.
func (f *File) owner() (int, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	// Signal 0 checks for existence; EPERM still means someone owns the pid.
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return 0, false
	}

	return pid, true
}
