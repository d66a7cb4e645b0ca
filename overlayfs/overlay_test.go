//go:build linux

package overlayfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestNewRejectsMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	lower := filepath.Join(dir, "lower")
	upper := filepath.Join(dir, "upper")
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(lower, 0o755))
	require.NoError(t, os.Mkdir(upper, 0o755))
	// target deliberately not created.

	_, err := New(lower, upper, target)
	require.Error(t, err)

	var precondition *PreconditionError
	assert.ErrorAs(t, err, &precondition)
}

func TestNewRequiresUpperAndTargetOnSameDevice(t *testing.T) {
	if unix.Geteuid() != 0 {
		t.Skip("requires root to set up a cross-device bind mount fixture")
	}
	t.Skip("cross-filesystem fixture requires a dedicated mount namespace; covered by integration testing")
}

func TestMountLifecycle(t *testing.T) {
	if unix.Geteuid() != 0 {
		t.Skip("overlay mount requires root")
	}

	dir := t.TempDir()
	lower := filepath.Join(dir, "lower")
	upper := filepath.Join(dir, "upper")
	target := filepath.Join(dir, "target")
	for _, p := range []string{lower, upper, target} {
		require.NoError(t, os.Mkdir(p, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(lower, "seed.txt"), []byte("from lower"), 0o644))

	m, err := New(lower, upper, target)
	require.NoError(t, err)
	require.Equal(t, target, m.Target())

	data, err := os.ReadFile(filepath.Join(target, "seed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from lower", string(data))

	require.NoError(t, os.WriteFile(filepath.Join(target, "new.txt"), []byte("written"), 0o644))
	data, err = os.ReadFile(filepath.Join(upper, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))

	_, err = os.Stat(filepath.Join(lower, "new.txt"))
	assert.True(t, os.IsNotExist(err), "writes must not leak back into the lower layer")

	require.NoError(t, m.Unmount())
	// Double unmount is a logged warning, not an error.
	assert.NoError(t, m.Unmount())
}
