//go:build linux

// Package cgroupv1 creates and drives a named Linux v1 cgroup spanning the
// memory, pids, freezer, and cpuacct controllers: limit programming,
// counter reads, and the freezer-based kill-all primitive that is the only
// way to guarantee a fork bomb leaves no surviving task.
package cgroupv1

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/juniper-oj/judgebox/logger"
)

const (
	cgroupRoot = "/sys/fs/cgroup"
	parentName = "judgebox"

	swapUsageFile = "memory.memsw.usage_in_bytes"
	swapPeakFile  = "memory.memsw.max_usage_in_bytes"
	pollDelay     = 100 * time.Millisecond
)

// controllers lists the four v1 hierarchies the bundle spans, in the
// order their parent directories are probed/created.
var controllers = []string{"memory", "pids", "freezer", "cpuacct"}

// HasSwapAccounting reports whether the host exposes the memory+swap usage
// pseudo-file, the detection mechanism spec.md names for the
// "cgroup_enable=memory swapaccount=1" boot parameter precondition.
func HasSwapAccounting() bool {
	_, err := os.Stat(filepath.Join(cgroupRoot, "memory", swapUsageFile))
	return err == nil
}

// Bundle is a uniquely-named cgroup spanning memory, pids, freezer, and
// cpuacct. Each run creates a fresh Bundle and destroys it on completion.
type Bundle struct {
	name  string
	paths map[string]string
}

// New creates name as a subdirectory of the judgebox parent in each of the
// four v1 controller hierarchies.
func New(name string) (*Bundle, error) {
	if !HasSwapAccounting() {
		return nil, &PreconditionError{Controller: "memory", Err: errors.New("memory+swap accounting is not available (boot with cgroup_enable=memory swapaccount=1)")}
	}

	b := &Bundle{name: name, paths: make(map[string]string, len(controllers))}
	for _, ctrl := range controllers {
		parent := filepath.Join(cgroupRoot, ctrl, parentName)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, &PreconditionError{Controller: ctrl, Err: err}
		}
		path := filepath.Join(parent, name)
		if err := os.Mkdir(path, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			b.removeAll()
			return nil, &CgroupError{Op: "mkdir " + ctrl, Err: err}
		}
		b.paths[ctrl] = path
	}
	return b, nil
}

func (b *Bundle) path(ctrl, file string) string {
	return filepath.Join(b.paths[ctrl], file)
}

func writeValue(path string, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

func readUint64(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// Attach moves pid into every one of the bundle's four controllers. The
// caller must do this before the process runs any user code.
func (b *Bundle) Attach(pid int) error {
	for _, ctrl := range controllers {
		if err := writeValue(b.path(ctrl, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
			return &CgroupError{Op: "attach " + ctrl, Err: err}
		}
	}
	return nil
}

// SetMemoryLimit caps physical and memory+swap usage at limit*2. The
// doubling is deliberate hysteresis (spec.md §4.2): a hard cap above the
// user-facing limit lets peak usage be observed and classified after the
// fact instead of having the kernel OOM-kill the process at the exact
// limit, which would give the caller no measurement.
func (b *Bundle) SetMemoryLimit(limit uint64) error {
	doubled := strconv.FormatUint(limit*2, 10)
	if err := writeValue(b.path("memory", "memory.limit_in_bytes"), doubled); err != nil {
		return &CgroupError{Op: "set memory.limit_in_bytes", Err: err}
	}
	if err := writeValue(b.path("memory", "memory.memsw.limit_in_bytes"), doubled); err != nil {
		return &CgroupError{Op: "set memory.memsw.limit_in_bytes", Err: err}
	}
	return nil
}

// SetPidsLimit caps the number of tasks the bundle may hold.
func (b *Bundle) SetPidsLimit(n uint16) error {
	if err := writeValue(b.path("pids", "pids.max"), strconv.Itoa(int(n))); err != nil {
		return &CgroupError{Op: "set pids.max", Err: err}
	}
	return nil
}

// ResetCounters zeroes peak memory and accumulated CPU time ahead of a run.
// Best-effort: some kernels refuse a write-reset of these files outright,
// in which case the bundle simply reports cumulative values since creation.
func (b *Bundle) ResetCounters() {
	_ = writeValue(b.path("memory", swapPeakFile), "0")
	_ = writeValue(b.path("cpuacct", "cpuacct.usage"), "0")
}

// PeakMemory reads the memory+swap high-water mark since the last reset.
func (b *Bundle) PeakMemory() (uint64, error) {
	v, err := readUint64(b.path("memory", swapPeakFile))
	if err != nil {
		return 0, &CgroupError{Op: "read " + swapPeakFile, Err: err}
	}
	return v, nil
}

// CPUTime reads accumulated CPU nanoseconds across every task the bundle
// has ever held, aggregated correctly across multi-process trees (unlike
// rusage, which only sees direct children).
func (b *Bundle) CPUTime() (time.Duration, error) {
	v, err := readUint64(b.path("cpuacct", "cpuacct.usage"))
	if err != nil {
		return 0, &CgroupError{Op: "read cpuacct.usage", Err: err}
	}
	return time.Duration(v), nil
}

// Tasks returns the pids currently attached to the freezer controller.
func (b *Bundle) Tasks() ([]int, error) {
	data, err := os.ReadFile(b.path("freezer", "cgroup.procs"))
	if err != nil {
		return nil, &CgroupError{Op: "read freezer tasks", Err: err}
	}
	var out []int
	for _, f := range bytes.Fields(data) {
		if pid, err := strconv.Atoi(string(f)); err == nil {
			out = append(out, pid)
		}
	}
	return out, nil
}

// IsEmpty reports whether no task is attached to the freezer controller.
func (b *Bundle) IsEmpty() (bool, error) {
	tasks, err := b.Tasks()
	if err != nil {
		return false, err
	}
	return len(tasks) == 0, nil
}

func (b *Bundle) freezerState() (string, error) {
	data, err := os.ReadFile(b.path("freezer", "freezer.state"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// KillAll is the only way to guarantee no leaked process survives a fork
// bomb: freeze every task so they stop forking, SIGKILL them all, thaw so
// the signals are delivered, then confirm the cgroup drained. Returns
// *KillAllError (non-fatal, the caller logs and proceeds) if tasks remain
// after timeout.
func (b *Bundle) KillAll(timeout time.Duration) error {
	empty, err := b.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		return nil
	}

	if err := writeValue(b.path("freezer", "freezer.state"), "FROZEN"); err != nil {
		return &CgroupError{Op: "freeze", Err: err}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, err := b.freezerState()
		if err == nil && state == "FROZEN" {
			break
		}
		time.Sleep(pollDelay)
	}

	tasks, err := b.Tasks()
	if err != nil {
		return err
	}
	for _, pid := range tasks {
		_ = unix.Kill(pid, unix.SIGKILL)
	}

	if err := writeValue(b.path("freezer", "freezer.state"), "THAWED"); err != nil {
		return &CgroupError{Op: "thaw", Err: err}
	}

	for time.Now().Before(deadline) {
		if empty, err := b.IsEmpty(); err == nil && empty {
			return nil
		}
		time.Sleep(pollDelay)
	}

	if empty, err := b.IsEmpty(); err == nil && empty {
		return nil
	}
	return &KillAllError{Name: b.name}
}

func (b *Bundle) removeAll() {
	for ctrl, path := range b.paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Log.Warn("failed to remove cgroup directory", slog.String("controller", ctrl), slog.String("path", path), slog.Any("err", err))
		}
	}
}

// Close removes all four controller directories. The caller must have
// drained every task first (typically via KillAll); a non-empty cgroup
// directory refuses rmdir, which is surfaced here as a warning rather than
// escalated, matching spec.md §7's teardown-never-masks-success policy.
func (b *Bundle) Close() error {
	b.removeAll()
	return nil
}
