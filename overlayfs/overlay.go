//go:build linux

// Package overlayfs composes a writable sandbox root from a read-only
// lower image and a writable upper directory, both merged at a target
// mount point via a single overlay mount.
package overlayfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/juniper-oj/judgebox/logger"
)

// PreconditionError reports a missing or malformed directory argument
// discovered before any mount syscall is attempted.
type PreconditionError struct {
	Path string
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %q: %v", e.Path, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// MountError wraps a failed overlay mount syscall.
type MountError struct {
	Op  string
	Err error
}

func (e *MountError) Error() string { return fmt.Sprintf("overlay %s: %v", e.Op, e.Err) }

func (e *MountError) Unwrap() error { return e.Err }

// Mount represents one overlay mount composed of a read-only lower
// directory and a writable upper directory, merged at target.
type Mount struct {
	lower    string
	upper    string
	target   string
	workdir  string
	unmounts bool
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// sameDevice reports whether a and b live on the same filesystem, which
// the overlay driver requires of its upper/work layer relative to the
// directory that hosts it.
func sameDevice(a, b string) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false, err
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false, err
	}
	return sa.Dev == sb.Dev, nil
}

// New mounts an overlay filesystem at target whose contents initially
// equal lower and whose writes land in upper. lower, upper, and target
// must already exist as distinct directories, and upper/target must
// reside on the same filesystem (the overlay driver's own requirement
// for its work directory).
func New(lower, upper, target string) (*Mount, error) {
	for _, p := range []string{lower, upper, target} {
		if !isDir(p) {
			return nil, &PreconditionError{Path: p, Err: errors.New("not an existing directory")}
		}
	}

	same, err := sameDevice(upper, target)
	if err != nil {
		return nil, &PreconditionError{Path: upper, Err: err}
	}
	if !same {
		return nil, &MountError{Op: "mount", Err: errors.New("upper and target must share a filesystem")}
	}

	workdir := filepath.Join(target, ".ovl-work")
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, &MountError{Op: "mkdir workdir", Err: err}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, workdir)
	if err := unix.Mount("overlay", target, "overlay", 0, opts); err != nil {
		_ = os.RemoveAll(workdir)
		return nil, &MountError{Op: "mount", Err: err}
	}

	return &Mount{lower: lower, upper: upper, target: target, workdir: workdir, unmounts: true}, nil
}

// Target returns the merged view's path.
func (m *Mount) Target() string { return m.target }

// Unmount releases the overlay mount. It is idempotent: a second call
// on an already-unmounted Mount logs a warning and returns nil.
func (m *Mount) Unmount() error {
	if m == nil || !m.unmounts {
		logger.Log.Warn("double unmount of sandbox overlay", slog.String("target", targetOf(m)))
		return nil
	}
	if err := unix.Unmount(m.target, unix.MNT_DETACH); err != nil && !errors.Is(err, unix.EINVAL) {
		return &MountError{Op: "unmount", Err: err}
	}
	m.unmounts = false
	return nil
}

func targetOf(m *Mount) string {
	if m == nil {
		return "<nil>"
	}
	return m.target
}
