// Package dma emulates a DMA controller for a device-emulation application
// that performs DMA against a foreign memory space.
//
// A controller owns a 64-bit DMA address space. Foreign memory is made
// available in linear chunks called regions; each region is backed by a
// file descriptor and registered at a unique, non-overlapping span of the
// address space. To perform DMA the application first translates a DMA
// address span into a scatter-gather list with AddrToSG, then pins the
// referenced regions with MapSG to obtain host byte slices for direct
// access, and drops the pins with UnmapSG when done. Every region is mapped
// into the process at registration time with read-write host access;
// declared region permissions are enforced at translation time only.
//
// When dirty page logging is active, write-intent translations mark the
// covered pages dirty, and DirtyBitmap exports a per-region snapshot for
// live migration.
package dma
