//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/juniper-oj/judgebox/cgroupv1"
	"github.com/juniper-oj/judgebox/supervisor"
)

// requireRuntime skips end-to-end tests outside a privileged Linux CI with
// the v1 controllers and swap accounting this runtime requires as hard
// preconditions. Its own tests assume the same environment it needs to
// operate at all.
func requireRuntime(t *testing.T) {
	t.Helper()
	if unix.Geteuid() != 0 {
		t.Skip("sandboxing requires root (mount, chroot, clone3 with CLONE_NEWPID)")
	}
	if !cgroupv1.HasSwapAccounting() {
		t.Skip("host lacks memory+swap cgroup accounting (cgroup_enable=memory swapaccount=1)")
	}
}

// bindMountHostRootfs produces a read-only view of the host's own root
// filesystem to use as a lower image, so /bin/sh is guaranteed reachable
// without shipping a fixture rootfs into the test binary.
func bindMountHostRootfs(t *testing.T) string {
	t.Helper()
	lower := t.TempDir()
	require.NoError(t, unix.Mount("/", lower, "", unix.MS_BIND|unix.MS_REC, ""))
	require.NoError(t, unix.Mount("", lower, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""))
	t.Cleanup(func() { _ = unix.Unmount(lower, unix.MNT_DETACH) })
	return lower
}

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	lower := bindMountHostRootfs(t)
	work := filepath.Join(t.TempDir(), "work")
	target := filepath.Join(t.TempDir(), "target")
	require.NoError(t, os.MkdirAll(work, 0o755))
	require.NoError(t, os.MkdirAll(target, 0o755))

	s, err := New(lower, work, target)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunEchoSucceeds(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	outcome, err := s.Run(Config{
		WallTimeLimit: time.Second,
		MemoryLimit:   8 * 1024 * 1024,
		PidsLimit:     5,
		Command:       "echo 'Hello, World!'",
	})
	require.NoError(t, err)

	assert.Equal(t, supervisor.Success, outcome.Status)
	assert.Zero(t, outcome.ReturnCode)
	assert.Less(t, outcome.UsedTimeMs(), uint64(500))
	assert.Less(t, outcome.MaxMemoryBytes, uint64(8*1024*1024))
}

func TestRunExceedsWallTime(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	outcome, err := s.Run(Config{
		WallTimeLimit: time.Second,
		MemoryLimit:   64 * 1024 * 1024,
		PidsLimit:     5,
		Command:       "sleep 2",
	})
	require.NoError(t, err)

	assert.Equal(t, supervisor.TimeLimitExceeded, outcome.Status)
}

func TestRunExceedsMemory(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	outcome, err := s.Run(Config{
		WallTimeLimit: time.Second,
		MemoryLimit:   8 * 1024 * 1024,
		PidsLimit:     5,
		Command:       "for i in $(seq 1 10000000000); do echo $i; done",
	})
	require.NoError(t, err)

	assert.Contains(t, []supervisor.Status{supervisor.MemoryLimitExceeded, supervisor.TimeLimitExceeded}, outcome.Status)
}

func TestRunNonZeroExit(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	outcome, err := s.Run(Config{
		WallTimeLimit: time.Second,
		MemoryLimit:   64 * 1024 * 1024,
		PidsLimit:     5,
		Command:       "exit 255",
	})
	require.NoError(t, err)

	assert.Equal(t, supervisor.RuntimeError, outcome.Status)
	assert.EqualValues(t, 255, outcome.ReturnCode)
}

func TestRunForkBombIsContained(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	start := time.Now()
	outcome, err := s.Run(Config{
		WallTimeLimit: time.Second,
		MemoryLimit:   64 * 1024 * 1024,
		PidsLimit:     5,
		Command:       ":(){ :|: & };:",
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Contains(t, []supervisor.Status{supervisor.TimeLimitExceeded, supervisor.RuntimeError}, outcome.Status)
	assert.Less(t, elapsed, 3*time.Second, "run must return within wall_time_limit + kill_all_timeout + grace")
}

func TestSequentialRunsDoNotLeakCounters(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	cfg := Config{
		WallTimeLimit: time.Second,
		MemoryLimit:   32 * 1024 * 1024,
		PidsLimit:     5,
		Command:       "echo ok",
	}

	first, err := s.Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, supervisor.Success, first.Status)

	second, err := s.Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, supervisor.Success, second.Status)
}

func TestCloseIsIdempotent(t *testing.T) {
	requireRuntime(t)
	s := newTestSandbox(t)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
