package dma

import (
	"fmt"

	"go.uber.org/zap"
)

// MapSG pins the regions referenced by sgs and returns one host byte slice
// per entry, each aliasing the region's host mapping. The slices stay valid
// until the matching UnmapSG; while any pin is outstanding the region
// cannot be removed.
//
// On error no pins are held: refcounts taken for earlier entries are rolled
// back.
func (c *Controller) MapSG(sgs []SG) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	iovs := make([][]byte, len(sgs))
	for i, sg := range sgs {
		r, err := c.regionForSGLocked(sg)
		if err != nil {
			c.unpinLocked(sgs[:i])

			return nil, err
		}

		iovs[i] = r.host.Slice(sg.Offset, sg.Length)
		r.refs.Add(1)
	}

	c.log.Debug("mapped sg list", zap.Int("entries", len(sgs)))

	return iovs, nil
}

// UnmapSG drops the pins taken by a MapSG over the same list. Entries whose
// region has since disappeared are skipped.
func (c *Controller) UnmapSG(sgs []SG) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.unpinLocked(sgs)

	c.log.Debug("unmapped sg list", zap.Int("entries", len(sgs)))
}

func (c *Controller) regionForSGLocked(sg SG) (*region, error) {
	if sg.Region < 0 || sg.Region >= len(c.regions) || c.regions[sg.Region] == nil {
		return nil, fmt.Errorf("scatter-gather entry references unknown region %d: %w", sg.Region, ErrInvalidArgument)
	}

	r := c.regions[sg.Region]
	if sg.Offset+sg.Length > r.size {
		return nil, fmt.Errorf("scatter-gather entry %#x+%#x exceeds region %d: %w", sg.Offset, sg.Length, sg.Region, ErrInvalidArgument)
	}
	if r.host == nil {
		return nil, fmt.Errorf("region %d: %w", sg.Region, ErrNoHostMapping)
	}

	return r, nil
}

// unpinLocked locates each entry's region by its base address rather than
// its region number, tolerating table reshuffling between map and unmap.
// Refcounts never drop below zero.
func (c *Controller) unpinLocked(sgs []SG) {
	for _, sg := range sgs {
		idx := c.findByBaseLocked(sg.Base)
		if idx < 0 {
			continue
		}

		refs := &c.regions[idx].refs
		for {
			cur := refs.Load()
			if cur <= 0 {
				break
			}
			if refs.CompareAndSwap(cur, cur-1) {
				break
			}
		}
	}
}
