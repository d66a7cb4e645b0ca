//go:build linux

// Package launcher spawns the sandboxed command as PID 1 of a fresh PID
// namespace, attaches it to a cgroup bundle before it ever runs user code,
// and reports whether it reached its final exec attempt.
package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/juniper-oj/judgebox/cgroupv1"
	"github.com/juniper-oj/judgebox/logger"
)

// SpawnError wraps a failure to create or wire up the sandboxed child
// before the parent can hand control back to the caller.
type SpawnError struct {
	Op  string
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Op, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// spawnFailureSentinel is the exit code a child reports when it unix.Exit's
// itself after a setup or exec failure. It collides with a legitimate user
// exit code of 127 (command not found), which is why Process.ReachedExec
// exists: the status pipe, not the exit code alone, tells the two apart.
const spawnFailureSentinel = 127

// Options configures one sandboxed spawn.
type Options struct {
	// MountPoint is the merged overlay root the child chroots into.
	MountPoint string

	// Command is passed verbatim to /bin/sh -c.
	Command string

	// Stdin, Stdout, Stderr are dup2'd onto fds 0, 1, 2 in the child. A nil
	// entry leaves the corresponding fd inherited from the parent.
	Stdin, Stdout, Stderr *os.File

	// Cgroup is the bundle the child is attached to before it is signaled
	// to continue past the synchronization pipe.
	Cgroup *cgroupv1.Bundle

	// Capabilities is applied in the child immediately before exec. A nil
	// value falls back to DefaultCapabilityOpts.
	Capabilities *CapabilityOpts
}

// Process is a running sandboxed child: PID 1 of its own PID namespace.
type Process struct {
	pid       int
	pidfd     int
	statusRfd int
}

// Linux clone3 ABI struct (uapi/linux/sched.h).
type cloneArgs struct {
	Flags      uint64
	Pidfd      uint64
	ChildTid   uint64
	ParentTid  uint64
	ExitSignal uint64
	Stack      uint64
	StackSize  uint64
	TLS        uint64
	SetTid     uint64
	SetTidSize uint64
	Cgroup     uint64
}

// cloneFlags carries only the namespace isolation this runtime needs: a
// fresh PID namespace and a pidfd to wait on it race-free. No network,
// user, mount, or UTS namespace; those back features this runtime
// excludes.
const cloneFlags = unix.CLONE_NEWPID | unix.CLONE_PIDFD

// Spawn creates the sandboxed child via clone3(CLONE_NEWPID|CLONE_PIDFD),
// selecting approach (b): the cloned process is PID 1 of the new namespace
// directly, with no intermediate relay process. The child blocks on a
// synchronization pipe until the parent has attached it to the cgroup
// bundle, guaranteeing the limits are in place before any user code runs.
func Spawn(opts Options) (*Process, error) {
	if unix.Geteuid() != 0 {
		return nil, &SpawnError{Op: "precondition", Err: fmt.Errorf("judgebox must run as root")}
	}

	syncRfd, syncWfd, err := MakeSyncPipe()
	if err != nil {
		return nil, &SpawnError{Op: "sync pipe", Err: err}
	}
	statusRfd, statusWfd, err := MakeSyncPipe()
	if err != nil {
		ClosePipe(syncRfd, syncWfd)
		return nil, &SpawnError{Op: "status pipe", Err: err}
	}

	var childPidfd int32
	args := cloneArgs{
		Flags:      uint64(cloneFlags),
		Pidfd:      uint64(uintptr(unsafe.Pointer(&childPidfd))),
		ExitSignal: uint64(unix.SIGCHLD),
	}

	pid, _, errno := unix.Syscall(unix.SYS_CLONE3, uintptr(unsafe.Pointer(&args)), unsafe.Sizeof(args), 0)
	if errno != 0 {
		ClosePipe(syncRfd, syncWfd)
		ClosePipe(statusRfd, statusWfd)
		return nil, &SpawnError{Op: "clone3", Err: errno}
	}

	if pid == 0 {
		runChild(opts, syncRfd, statusWfd)
		panic("unreachable: runChild never returns")
	}

	unix.Close(statusWfd)

	if opts.Cgroup != nil {
		if err := opts.Cgroup.Attach(int(pid)); err != nil {
			ClosePipe(syncRfd, syncWfd)
			unix.Close(statusRfd)
			_ = unix.Kill(int(pid), unix.SIGKILL)
			return nil, &SpawnError{Op: "attach cgroup", Err: err}
		}
	}

	if err := SignalChild(syncWfd); err != nil {
		unix.Close(statusRfd)
		return nil, &SpawnError{Op: "signal child", Err: err}
	}
	unix.Close(syncRfd)

	return &Process{pid: int(pid), pidfd: int(childPidfd), statusRfd: statusRfd}, nil
}

// runChild executes entirely in the cloned child until exec, or until it
// unix.Exit's on a setup failure. It must not return.
func runChild(opts Options, syncRfd, statusWfd int) {
	if err := WaitForParent(syncRfd); err != nil {
		unix.Exit(spawnFailureSentinel)
	}

	if err := unix.Chroot(opts.MountPoint); err != nil {
		logger.Log.Error("chroot failed", slog.Any("err", err))
		unix.Exit(spawnFailureSentinel)
	}
	if err := unix.Chdir("/"); err != nil {
		logger.Log.Error("chdir failed", slog.Any("err", err))
		unix.Exit(spawnFailureSentinel)
	}

	for fd, f := range []*os.File{opts.Stdin, opts.Stdout, opts.Stderr} {
		if f == nil {
			continue
		}
		if err := unix.Dup2(int(f.Fd()), fd); err != nil {
			logger.Log.Error("dup2 failed", slog.Int("fd", fd), slog.Any("err", err))
			unix.Exit(spawnFailureSentinel)
		}
	}

	caps := opts.Capabilities
	if caps == nil {
		caps = DefaultCapabilityOpts()
	}
	if err := caps.Apply(); err != nil {
		logger.Log.Error("dropping capabilities failed", slog.Any("err", err))
		unix.Exit(spawnFailureSentinel)
	}

	markReachedExec(statusWfd)
	unix.Close(statusWfd)

	argv := []string{"/bin/sh", "-c", opts.Command}
	err := unix.Exec("/bin/sh", argv, DefaultEnv().ToStringArray())

	logger.Log.Error("exec failed", slog.Any("err", err))
	unix.Exit(spawnFailureSentinel)
}

// Pid returns the child's PID as seen from the parent's own namespace.
func (p *Process) Pid() int { return p.pid }

// TryWait performs a single non-blocking wait4, for use in a poll loop
// alongside cgroup emptiness checks.
func (p *Process) TryWait() (exited bool, ws unix.WaitStatus, err error) {
	wpid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		if err == unix.EINTR {
			return false, ws, nil
		}
		return false, ws, err
	}
	return wpid == p.pid, ws, nil
}

// Wait blocks until the child is reaped. Used once the cgroup has already
// reported empty, where the child is known to have exited and the
// remaining wait is the kernel finishing its bookkeeping, not a real
// suspension.
func (p *Process) Wait() (ws unix.WaitStatus, err error) {
	for {
		wpid, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, err
		}
		if wpid == p.pid {
			return ws, nil
		}
	}
}

// ReachedExec reports whether the child wrote its status marker before
// exiting, i.e. whether it got past every setup step and attempted the
// final exec. Must only be called once the child is known to have exited.
func (p *Process) ReachedExec() bool {
	return readReachedExec(p.statusRfd)
}

// Close releases the process's pidfd. Safe to call once, after Wait/TryWait
// has reaped the child.
func (p *Process) Close() error {
	if p.pidfd >= 0 {
		return unix.Close(p.pidfd)
	}
	return nil
}
