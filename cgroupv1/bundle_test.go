//go:build linux

package cgroupv1

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func requireV1Controllers(t *testing.T) {
	t.Helper()
	if unix.Geteuid() != 0 {
		t.Skip("cgroup v1 controller management requires root")
	}
	if !HasSwapAccounting() {
		t.Skip("host lacks memory+swap cgroup accounting (cgroup_enable=memory swapaccount=1)")
	}
}

func TestNewRequiresSwapAccounting(t *testing.T) {
	if HasSwapAccounting() {
		t.Skip("host has swap accounting enabled; precondition failure path not reachable here")
	}
	_, err := New(uuid.NewString())
	require.Error(t, err)
	var precondition *PreconditionError
	assert.ErrorAs(t, err, &precondition)
}

func TestBundleLimitsAndCounters(t *testing.T) {
	requireV1Controllers(t)

	name := uuid.NewString()
	b, err := New(name)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.SetMemoryLimit(64*1024*1024))
	require.NoError(t, b.SetPidsLimit(8))

	empty, err := b.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty, "a freshly created bundle holds no tasks")

	b.ResetCounters()

	peak, err := b.PeakMemory()
	require.NoError(t, err)
	assert.Zero(t, peak)

	cpu, err := b.CPUTime()
	require.NoError(t, err)
	assert.Zero(t, cpu)
}

func TestKillAllOnEmptyBundleIsANoOp(t *testing.T) {
	requireV1Controllers(t)

	b, err := New(uuid.NewString())
	require.NoError(t, err)
	defer b.Close()

	assert.NoError(t, b.KillAll(time.Second))
}

func TestCloseIsIdempotent(t *testing.T) {
	requireV1Controllers(t)

	b, err := New(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
