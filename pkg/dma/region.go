package dma

import (
	"os"
	"sync/atomic"

	"github.com/emudev/dmactl/internal/bitmap"
	"github.com/emudev/dmactl/internal/hostmap"
)

// Addr is an address in the controller's 64-bit DMA address space,
// typically a guest physical address.
type Addr uint64

// Prot declares which DMA access intents are permitted on a region.
type Prot uint32

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

type region struct {
	base    Addr
	size    uint64
	prot    Prot
	fileOff int64

	// file backs the region; nil when the region was registered without an
	// fd. The controller owns it and closes it on removal.
	file *os.File
	// host is the region's host mapping; nil means the region is
	// unmappable: translations succeed, MapSG fails.
	host *hostmap.Mapping

	// refs counts outstanding MapSG pins. The region cannot be removed
	// while it is positive.
	refs atomic.Int32

	// dirty is present while page logging covers this region.
	dirty *bitmap.Bitmap
}

func (r *region) end() Addr {
	return r.base + Addr(r.size)
}

func (r *region) overlaps(base Addr, size uint64) bool {
	return base < r.end() && r.base < base+Addr(size)
}

func (r *region) contains(addr Addr) bool {
	return addr >= r.base && addr < r.end()
}

// RegionInfo is a read-only snapshot of a table entry, handed to the
// embedding server for queries and unregister callbacks.
type RegionInfo struct {
	Index      int
	Base       Addr
	Size       uint64
	Prot       Prot
	FileOffset int64
	Mappable   bool
	Refs       int32
}

func (r *region) info(idx int) RegionInfo {
	return RegionInfo{
		Index:      idx,
		Base:       r.base,
		Size:       r.size,
		Prot:       r.prot,
		FileOffset: r.fileOff,
		Mappable:   r.host != nil,
		Refs:       r.refs.Load(),
	}
}
