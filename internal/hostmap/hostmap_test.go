package hostmap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBackingFile(t *testing.T, size int64) *os.File {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "hostmap-*")
	require.NoError(t, err)

	require.NoError(t, f.Truncate(size))

	t.Cleanup(func() {
		f.Close()
	})

	return f
}

func TestMapWriteReadThrough(t *testing.T) {
	t.Parallel()

	const size = 0x2000

	f := newBackingFile(t, size)

	m, err := Map(f, 0, size)
	require.NoError(t, err)
	require.Equal(t, uint64(size), m.Size())

	copy(m.Slice(0x100, 4), []byte{1, 2, 3, 4})

	require.NoError(t, m.Flush())

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data[0x100:0x104])

	require.NoError(t, m.Unmap())
}

func TestMapAtOffset(t *testing.T) {
	t.Parallel()

	pageSize := int64(os.Getpagesize())

	f := newBackingFile(t, 4*pageSize)

	_, err := f.WriteAt([]byte{0xAA}, pageSize)
	require.NoError(t, err)

	m, err := Map(f, pageSize, uint64(pageSize))
	require.NoError(t, err)

	require.Equal(t, byte(0xAA), m.Bytes()[0])

	require.NoError(t, m.Unmap())
}

func TestMapInvalidFile(t *testing.T) {
	t.Parallel()

	f := newBackingFile(t, 0x1000)
	require.NoError(t, f.Close())

	_, err := Map(f, 0, 0x1000)
	require.Error(t, err)
}
