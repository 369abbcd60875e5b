package dma

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/emudev/dmactl/internal/bitmap"
)

// StartDirtyLogging starts dirty page tracking at the given granularity,
// allocating a zeroed bitmap for every installed region. pageSize must be a
// positive power of two.
func (c *Controller) StartDirtyLogging(pageSize uint64) error {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return fmt.Errorf("page size %#x is not a positive power of two: %w", pageSize, ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dirtyPageSize != 0 {
		return fmt.Errorf("logging active with page size %#x: %w", c.dirtyPageSize, ErrAlreadyLogging)
	}

	c.dirtyPageSize = pageSize
	for _, r := range c.regions {
		if r != nil {
			r.dirty = bitmap.New(pageCount(r.size, pageSize))
		}
	}

	c.log.Info("dirty page logging started", zap.Uint64("page_size", pageSize))

	return nil
}

// StopDirtyLogging stops tracking and frees every region's bitmap.
func (c *Controller) StopDirtyLogging() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dirtyPageSize == 0 {
		return ErrNotLogging
	}

	c.dirtyPageSize = 0
	for _, r := range c.regions {
		if r != nil {
			r.dirty = nil
		}
	}

	c.log.Info("dirty page logging stopped")

	return nil
}

// DirtyBitmap writes a snapshot of the dirty bitmap of the region whose
// span exactly equals [base, base+size) into buf, bit i of byte i/8 at
// position i%8 (LSB-first), page 0 covering [base, base+pageSize).
//
// The snapshot clears the bitmap: a bit set in a later call denotes a write
// that happened between the two calls. pageSize must equal the active
// logging granularity, and buf must hold at least ceil(size/pageSize/8)
// bytes.
func (c *Controller) DirtyBitmap(base Addr, size, pageSize uint64, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dirtyPageSize == 0 {
		return ErrNotLogging
	}
	if pageSize != c.dirtyPageSize {
		return fmt.Errorf("page size %#x does not match active granularity %#x: %w", pageSize, c.dirtyPageSize, ErrInvalidArgument)
	}

	idx := c.findExactLocked(base, size)
	if idx < 0 {
		return fmt.Errorf("region %#x+%#x: %w", uint64(base), size, ErrNotFound)
	}

	pages := pageCount(size, pageSize)
	need := bitmap.ByteLen(pages)
	if len(buf) < need {
		return fmt.Errorf("bitmap needs %d bytes, buffer has %d: %w", need, len(buf), ErrBufferTooSmall)
	}

	r := c.regions[idx]
	if r.dirty == nil {
		// No bitmap for this region: report the safe upper bound.
		bitmap.SetAll(buf[:need], pages)

		return nil
	}

	r.dirty.Snapshot(buf[:need], true)

	return nil
}

// markDirtyLocked marks the pages covering [off, off+length) of r dirty.
// Called during write-intent translation under the read lock; the bitmap
// carries its own lock.
func (c *Controller) markDirtyLocked(r *region, off, length uint64) {
	if r.dirty == nil {
		return
	}

	start := uint(off / c.dirtyPageSize)
	end := uint((off + length - 1) / c.dirtyPageSize)
	r.dirty.MarkRange(start, end)
}

func pageCount(size, pageSize uint64) uint {
	return uint((size + pageSize - 1) / pageSize)
}
