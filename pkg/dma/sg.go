package dma

import (
	"fmt"
)

// SG is a single scatter-gather entry produced by AddrToSG. The device
// should treat it as opaque apart from Length and Mappable, which it may
// read for batching decisions.
type SG struct {
	// Region is the stable region number.
	Region int
	// Base is the region's base address at translation time; UnmapSG
	// dereferences the region through it.
	Base Addr
	// Offset is the byte offset into the region.
	Offset uint64
	// Length is the byte length covered by this entry.
	Length uint64
	// Mappable reports whether the region had a host mapping at translation
	// time.
	Mappable bool
}

// Hint caches the region of a caller's last translation so that repeated
// single-region translations skip the table scan. Keep one Hint per device
// execution context; the zero value is ready to use. The hint is advisory
// and re-validated on every call, so a stale or shared hint is never a
// correctness hazard.
type Hint struct {
	region int
}

// AddrToSG translates the span [addr, addr+length) into scatter-gather
// entries written to sgs, returning how many entries were emitted. The span
// may cross regions only where they are exactly adjacent in the address
// space. When sgs is too small the call fails with an SGOverflowError
// carrying the required entry count.
//
// A write-intent translation requires write permission on every region
// touched and, while dirty logging is active, marks the covered pages
// dirty. Marking happens at translation rather than at map time: a DMA
// write is authorized by the translation, and the device may write before
// or without pinning, so translation gives an upper bound on the pages
// actually written.
func (c *Controller) AddrToSG(h *Hint, addr Addr, length uint64, sgs []SG, prot Prot) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Fast path: the whole span falls inside the hinted region.
	if h != nil && len(sgs) > 0 && length > 0 && h.region >= 0 && h.region < len(c.regions) {
		if r := c.regions[h.region]; r != nil &&
			addr >= r.base &&
			uint64(addr)+length >= uint64(addr) &&
			uint64(addr)+length <= uint64(r.end()) {
			if err := c.initSGLocked(&sgs[0], r, h.region, addr, length, prot); err != nil {
				return 0, err
			}

			return 1, nil
		}
	}

	// Slow path: walk the table by address.
	n, err := c.splitLocked(addr, length, sgs, prot)
	if err != nil {
		return 0, err
	}

	if h != nil {
		h.region = sgs[n-1].Region
	}

	return n, nil
}

// splitLocked covers [addr, addr+length) with consecutive regions, walking
// by address rather than table order so that adjacency means adjacency in
// the DMA address space. The first pass validates coverage and permissions
// and counts the entries needed; only the emit pass mutates anything.
func (c *Controller) splitLocked(addr Addr, length uint64, sgs []SG, prot Prot) (int, error) {
	if length == 0 {
		return 0, fmt.Errorf("zero-length translation: %w", ErrInvalidArgument)
	}
	if uint64(addr)+length < uint64(addr) {
		return 0, fmt.Errorf("span %#x+%#x wraps the address space: %w", uint64(addr), length, ErrInvalidArgument)
	}

	needed := 0
	cur := addr
	remaining := length
	for remaining > 0 {
		idx := c.findContainingLocked(cur)
		if idx < 0 {
			return 0, fmt.Errorf("no region covers %#x: %w", uint64(cur), ErrBadAddress)
		}

		r := c.regions[idx]
		if prot&ProtWrite != 0 && r.prot&ProtWrite == 0 {
			return 0, fmt.Errorf("write access to read-only region %d: %w", idx, ErrProtection)
		}

		take := uint64(r.end() - cur)
		if take > remaining {
			take = remaining
		}

		needed++
		remaining -= take
		cur += Addr(take)
	}

	if needed > len(sgs) {
		return 0, &SGOverflowError{Needed: needed}
	}

	cur = addr
	remaining = length
	for i := 0; i < needed; i++ {
		idx := c.findContainingLocked(cur)
		r := c.regions[idx]

		take := uint64(r.end() - cur)
		if take > remaining {
			take = remaining
		}

		if err := c.initSGLocked(&sgs[i], r, idx, cur, take, prot); err != nil {
			return 0, err
		}

		remaining -= take
		cur += Addr(take)
	}

	return needed, nil
}

func (c *Controller) initSGLocked(sg *SG, r *region, idx int, addr Addr, length uint64, prot Prot) error {
	if prot&ProtWrite != 0 && r.prot&ProtWrite == 0 {
		return fmt.Errorf("write access to read-only region %d: %w", idx, ErrProtection)
	}

	off := uint64(addr - r.base)

	*sg = SG{
		Region:   idx,
		Base:     r.base,
		Offset:   off,
		Length:   length,
		Mappable: r.host != nil,
	}

	if prot&ProtWrite != 0 && c.dirtyPageSize > 0 {
		c.markDirtyLocked(r, off, length)
	}

	return nil
}
