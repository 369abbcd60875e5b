package bitmap

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Bitmap records which pages of a single region have been written. Marking
// happens concurrently with other translations, so the bitmap carries its
// own lock.
type Bitmap struct {
	b    *bitset.BitSet
	mu   sync.Mutex
	bits uint
}

func New(bits uint) *Bitmap {
	return &Bitmap{
		b:    bitset.New(bits),
		bits: bits,
	}
}

func (m *Bitmap) Bits() uint {
	return m.bits
}

// MarkRange sets bits start through end, inclusive. Bits beyond the bitmap
// length are ignored.
func (m *Bitmap) MarkRange(start, end uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := start; i <= end && i < m.bits; i++ {
		m.b.Set(i)
	}
}

func (m *Bitmap) Test(i uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.b.Test(i)
}

// Snapshot packs the bitmap into buf, bit i of byte i/8 at position i%8
// (LSB-first). When clear is set the bitmap is reset to zero, so the next
// snapshot only reports writes that happened in between.
func (m *Bitmap) Snapshot(buf []byte, clear bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clearBytes(buf)

	for i, ok := m.b.NextSet(0); ok && i < m.bits; i, ok = m.b.NextSet(i + 1) {
		buf[i/8] |= 1 << (i % 8)
	}

	if clear {
		m.b.ClearAll()
	}
}

// ByteLen returns the buffer size Snapshot needs for the given bit count.
func ByteLen(bits uint) int {
	return int((bits + 7) / 8)
}

// SetAll writes an all-ones bitmap of the given bit count into buf.
func SetAll(buf []byte, bits uint) {
	clearBytes(buf)

	for i := uint(0); i < bits; i++ {
		buf[i/8] |= 1 << (i % 8)
	}
}

func clearBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
