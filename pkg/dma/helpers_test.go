package dma

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newRegionFD returns a file descriptor backed by a fresh file of the given
// size, standing in for the guest-memory fd the hypervisor hands over.
// Ownership passes to the controller on a successful AddRegion.
func newRegionFD(t *testing.T, size int64) int {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "dma-region-*")
	require.NoError(t, err)

	require.NoError(t, f.Truncate(size))

	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)

	require.NoError(t, f.Close())

	return fd
}

func newTestController(t *testing.T, maxRegions int) *Controller {
	t.Helper()

	c, err := New(maxRegions, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
	})

	return c
}
