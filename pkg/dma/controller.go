package dma

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emudev/dmactl/internal/bitmap"
	"github.com/emudev/dmactl/internal/cfg"
	"github.com/emudev/dmactl/internal/hostmap"
)

// Controller is the DMA address-space registry. Mutating operations take
// the write lock; translation and map/unmap run under the read lock, so
// device threads may translate and pin concurrently between registration
// messages.
type Controller struct {
	mu sync.RWMutex

	// regions has fixed capacity; nil slots are free. A region's slot index
	// is its stable region number.
	regions  []*region
	nregions int

	// dirtyPageSize is the active logging granularity, 0 while logging is
	// off.
	dirtyPageSize uint64

	// sgBatch caps the scatter-gather list the copy helpers build per
	// round.
	sgBatch int

	log *zap.Logger
	id  string
}

// UnregisterFunc is invoked by RemoveRegion when the region still has
// outstanding mappings, to signal the upper layer that quiescence is
// required before the removal can be retried.
type UnregisterFunc func(info RegionInfo)

// New creates an empty controller with capacity for maxRegions regions.
// A nil logger disables logging.
func New(maxRegions int, log *zap.Logger) (*Controller, error) {
	if maxRegions <= 0 {
		return nil, fmt.Errorf("max regions must be positive, got %d: %w", maxRegions, ErrInvalidArgument)
	}

	if log == nil {
		log = zap.NewNop()
	}

	id := uuid.NewString()

	return &Controller{
		regions: make([]*region, maxRegions),
		sgBatch: iovMax,
		log:     log.With(zap.String("dma_controller_id", id)),
		id:      id,
	}, nil
}

// NewFromEnv creates a controller configured from DMA_* environment
// variables.
func NewFromEnv(log *zap.Logger) (*Controller, error) {
	config, err := cfg.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	c, err := New(config.MaxRegions, log)
	if err != nil {
		return nil, err
	}

	if config.MaxSGBatch > 0 {
		c.sgBatch = config.MaxSGBatch
	}

	return c, nil
}

// AddRegion registers [base, base+size) backed by size bytes of fd starting
// at fileOff and returns the region number. A negative fd registers the
// region as unmappable: it still participates in overlap accounting and
// dirty tracking, but MapSG on it fails.
//
// The controller takes ownership of fd and closes it when the region is
// removed; on error the caller retains ownership.
func (c *Controller) AddRegion(base Addr, size uint64, fd int, fileOff int64, prot Prot) (int, error) {
	if size == 0 {
		return 0, fmt.Errorf("region size must be positive: %w", ErrInvalidArgument)
	}
	if uint64(base)+size < uint64(base) {
		return 0, fmt.Errorf("region %#x+%#x wraps the address space: %w", uint64(base), size, ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	slot := -1
	for i, r := range c.regions {
		if r == nil {
			if slot < 0 {
				slot = i
			}
			continue
		}
		if r.overlaps(base, size) {
			return 0, &OverlapError{Index: i}
		}
	}
	if slot < 0 {
		return 0, ErrNoSpace
	}

	r := &region{
		base:    base,
		size:    size,
		prot:    prot,
		fileOff: fileOff,
	}

	if fd >= 0 {
		r.file = os.NewFile(uintptr(fd), fmt.Sprintf("dma-region-%#x", uint64(base)))

		host, err := hostmap.Map(r.file, fileOff, size)
		if err != nil {
			// The region is still installed so that overlap accounting and
			// dirty tracking stay correct; MapSG on it returns
			// ErrNoHostMapping.
			c.log.Warn("failed to host-map region, installing as unmappable",
				zap.Uint64("base", uint64(base)),
				zap.Uint64("size", size),
				zap.Error(err),
			)
		} else {
			r.host = host
		}
	}

	if c.dirtyPageSize > 0 {
		r.dirty = bitmap.New(pageCount(size, c.dirtyPageSize))
	}

	c.regions[slot] = r
	c.nregions++

	c.log.Info("registered dma region",
		zap.Int("region", slot),
		zap.Uint64("base", uint64(base)),
		zap.Uint64("size", size),
		zap.Bool("mappable", r.host != nil),
	)

	return slot, nil
}

// RemoveRegion unregisters the region whose span exactly equals
// [base, base+size). While the region has outstanding mappings it invokes
// onBusy once and returns ErrBusy; the caller retries after it has dropped
// its mappings.
func (c *Controller) RemoveRegion(base Addr, size uint64, onBusy UnregisterFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.findExactLocked(base, size)
	if idx < 0 {
		return fmt.Errorf("region %#x+%#x: %w", uint64(base), size, ErrNotFound)
	}

	r := c.regions[idx]
	if refs := r.refs.Load(); refs > 0 {
		if onBusy != nil {
			onBusy(r.info(idx))
		}

		return fmt.Errorf("region %d has %d outstanding mappings: %w", idx, refs, ErrBusy)
	}

	c.releaseLocked(idx, r)

	c.log.Info("unregistered dma region",
		zap.Int("region", idx),
		zap.Uint64("base", uint64(base)),
		zap.Uint64("size", size),
	)

	return nil
}

// RemoveAllRegions unmaps and frees every region regardless of refcounts.
// Safe only during teardown.
func (c *Controller) RemoveAllRegions() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.regions {
		if r != nil {
			c.releaseLocked(i, r)
		}
	}
}

// Close tears the controller down, releasing every region.
func (c *Controller) Close() error {
	c.RemoveAllRegions()

	return nil
}

// ID identifies this controller instance in logs.
func (c *Controller) ID() string {
	return c.id
}

// Regions returns a snapshot of the installed regions in slot order.
func (c *Controller) Regions() []RegionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]RegionInfo, 0, c.nregions)
	for i, r := range c.regions {
		if r != nil {
			out = append(out, r.info(i))
		}
	}

	return out
}

func (c *Controller) releaseLocked(idx int, r *region) {
	if r.host != nil {
		if err := r.host.Unmap(); err != nil {
			c.log.Error("failed to unmap region", zap.Int("region", idx), zap.Error(err))
		}
		r.host = nil
	}

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			c.log.Error("failed to close region fd", zap.Int("region", idx), zap.Error(err))
		}
		r.file = nil
	}

	r.dirty = nil
	c.regions[idx] = nil
	c.nregions--
}

func (c *Controller) findExactLocked(base Addr, size uint64) int {
	for i, r := range c.regions {
		if r != nil && r.base == base && r.size == size {
			return i
		}
	}

	return -1
}

func (c *Controller) findContainingLocked(addr Addr) int {
	for i, r := range c.regions {
		if r != nil && r.contains(addr) {
			return i
		}
	}

	return -1
}

func (c *Controller) findByBaseLocked(base Addr) int {
	for i, r := range c.regions {
		if r != nil && r.base == base {
			return i
		}
	}

	return -1
}
