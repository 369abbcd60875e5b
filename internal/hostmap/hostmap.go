package hostmap

import (
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapping is a host virtual mapping of a region's backing file. The mapping
// is always read-write towards the host; DMA access permissions are checked
// at translation time, not here.
type Mapping struct {
	mm mmap.MMap
}

// Map maps size bytes of f starting at offset. The offset must satisfy the
// platform's mmap alignment.
func Map(f *os.File, offset int64, size uint64) (*Mapping, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("mapping size too big: %d > %d", size, math.MaxInt)
	}

	mm, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, offset)
	if err != nil {
		return nil, fmt.Errorf("error mapping file: %w", err)
	}

	return &Mapping{mm: mm}, nil
}

func (m *Mapping) Size() uint64 {
	return uint64(len(m.mm))
}

// Slice returns the host bytes at [off, off+length) of the mapped region.
// The slice stays valid until Unmap.
func (m *Mapping) Slice(off, length uint64) []byte {
	return m.mm[off : off+length]
}

func (m *Mapping) Bytes() []byte {
	return m.mm
}

func (m *Mapping) Flush() error {
	return m.mm.Flush()
}

func (m *Mapping) Unmap() error {
	return m.mm.Unmap()
}
