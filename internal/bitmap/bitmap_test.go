package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkRangeAndSnapshot(t *testing.T) {
	t.Parallel()

	m := New(12)

	m.MarkRange(0, 1)
	m.MarkRange(3, 3)
	m.MarkRange(9, 11)

	buf := make([]byte, ByteLen(m.Bits()))
	m.Snapshot(buf, false)

	require.Equal(t, []byte{0b00001011, 0b00001110}, buf)
}

func TestMarkIsIdempotent(t *testing.T) {
	t.Parallel()

	m := New(8)

	m.MarkRange(2, 4)
	m.MarkRange(2, 4)
	m.MarkRange(3, 3)

	buf := make([]byte, 1)
	m.Snapshot(buf, false)

	require.Equal(t, byte(0b00011100), buf[0])
}

func TestMarkRangeIgnoresOutOfBounds(t *testing.T) {
	t.Parallel()

	m := New(4)

	m.MarkRange(2, 100)

	buf := make([]byte, 1)
	m.Snapshot(buf, false)

	require.Equal(t, byte(0b00001100), buf[0])
}

func TestSnapshotClear(t *testing.T) {
	t.Parallel()

	m := New(8)
	m.MarkRange(0, 7)

	buf := make([]byte, 1)

	m.Snapshot(buf, true)
	require.Equal(t, byte(0xFF), buf[0])

	m.Snapshot(buf, false)
	require.Equal(t, byte(0), buf[0])
}

func TestByteLen(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ByteLen(0))
	require.Equal(t, 1, ByteLen(1))
	require.Equal(t, 1, ByteLen(8))
	require.Equal(t, 2, ByteLen(9))
}

func TestSetAll(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 2)
	SetAll(buf, 11)

	require.Equal(t, []byte{0xFF, 0b00000111}, buf)
}
