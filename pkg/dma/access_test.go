package dma

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRangeRoundtrip(t *testing.T) {
	t.Parallel()

	c := newTestController(t, 4)

	_, err := c.AddRegion(0x0000, 0x1000, newRegionFD(t, 0x1000), 0, ProtRead|ProtWrite)
	require.NoError(t, err)
	_, err = c.AddRegion(0x1000, 0x1000, newRegionFD(t, 0x1000), 0, ProtRead|ProtWrite)
	require.NoError(t, err)

	data := make([]byte, 0x800)
	_, err = rand.Read(data)
	require.NoError(t, err)

	h := &Hint{}

	// Straddles the region boundary.
	require.NoError(t, c.WriteRange(h, 0x0C00, data))

	got := make([]byte, len(data))
	require.NoError(t, c.ReadRange(h, 0x0C00, got))

	require.True(t, bytes.Equal(data, got))
}

func TestWriteRangeMarksDirty(t *testing.T) {
	t.Parallel()

	c := newTestController(t, 4)

	require.NoError(t, c.StartDirtyLogging(0x1000))

	_, err := c.AddRegion(0x0000, 0x4000, newRegionFD(t, 0x4000), 0, ProtRead|ProtWrite)
	require.NoError(t, err)

	require.NoError(t, c.WriteRange(nil, 0x2000, make([]byte, 0x10)))

	buf := make([]byte, 1)
	require.NoError(t, c.DirtyBitmap(0x0000, 0x4000, 0x1000, buf))
	require.Equal(t, byte(0b00000100), buf[0])

	// Reads leave the bitmap untouched.
	require.NoError(t, c.ReadRange(nil, 0x0000, make([]byte, 0x1000)))

	require.NoError(t, c.DirtyBitmap(0x0000, 0x4000, 0x1000, buf))
	require.Equal(t, byte(0), buf[0])
}

func TestCopyRangeGrowsSGList(t *testing.T) {
	t.Parallel()

	c := newTestController(t, 32)

	// More adjacent regions than the initial scatter-gather list holds.
	const regions = 16
	for i := 0; i < regions; i++ {
		_, err := c.AddRegion(Addr(i)*0x1000, 0x1000, newRegionFD(t, 0x1000), 0, ProtRead|ProtWrite)
		require.NoError(t, err)
	}

	data := make([]byte, regions*0x1000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	require.NoError(t, c.WriteRange(nil, 0x0000, data))

	got := make([]byte, len(data))
	require.NoError(t, c.ReadRange(nil, 0x0000, got))

	require.True(t, bytes.Equal(data, got))
}

func TestCopyRangeSplitsOversizedRounds(t *testing.T) {
	t.Parallel()

	c := newTestController(t, 32)
	// Force multiple rounds by capping the per-round scatter-gather list.
	c.sgBatch = 4

	const regions = 12
	for i := 0; i < regions; i++ {
		_, err := c.AddRegion(Addr(i)*0x1000, 0x1000, newRegionFD(t, 0x1000), 0, ProtRead|ProtWrite)
		require.NoError(t, err)
	}

	data := make([]byte, regions*0x1000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	require.NoError(t, c.WriteRange(nil, 0x0000, data))

	got := make([]byte, len(data))
	require.NoError(t, c.ReadRange(nil, 0x0000, got))

	require.True(t, bytes.Equal(data, got))

	// Nothing stays pinned behind.
	for _, info := range c.Regions() {
		require.Equal(t, int32(0), info.Refs)
	}
}

func TestCopyRangeErrors(t *testing.T) {
	t.Parallel()

	c := newTestController(t, 4)

	_, err := c.AddRegion(0x0000, 0x1000, newRegionFD(t, 0x1000), 0, ProtRead)
	require.NoError(t, err)
	_, err = c.AddRegion(0x1000, 0x1000, -1, 0, ProtRead|ProtWrite)
	require.NoError(t, err)

	// Write intent into a read-only region.
	err = c.WriteRange(nil, 0x0000, make([]byte, 0x10))
	require.ErrorIs(t, err, ErrProtection)

	// Unmapped address space.
	err = c.ReadRange(nil, 0x8000, make([]byte, 0x10))
	require.ErrorIs(t, err, ErrBadAddress)

	// Unmappable region translates but cannot be pinned.
	err = c.ReadRange(nil, 0x1000, make([]byte, 0x10))
	require.ErrorIs(t, err, ErrNoHostMapping)

	// Empty access is a no-op.
	require.NoError(t, c.ReadRange(nil, 0x0000, nil))
}
