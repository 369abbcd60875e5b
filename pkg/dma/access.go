package dma

import (
	"errors"
	"fmt"

	"github.com/tklauser/go-sysconf"
)

// iovMax is the limit of the vectors that can be passed in a single ioctl
// call; the copy helpers also cap their per-round scatter-gather lists by
// it.
var iovMax = getIOVMax()

func getIOVMax() int {
	v, err := sysconf.Sysconf(sysconf.SC_IOV_MAX)
	if err != nil || v <= 0 {
		return 1024
	}

	return int(v)
}

// ReadRange copies len(p) bytes of guest memory starting at addr into p.
// It translates, pins, copies and unpins in rounds, growing its
// scatter-gather list as needed.
func (c *Controller) ReadRange(h *Hint, addr Addr, p []byte) error {
	return c.copyRange(h, addr, p, false)
}

// WriteRange copies p into guest memory starting at addr. The covered pages
// are marked dirty through the write-intent translation while logging is
// active.
func (c *Controller) WriteRange(h *Hint, addr Addr, p []byte) error {
	return c.copyRange(h, addr, p, true)
}

func (c *Controller) copyRange(h *Hint, addr Addr, p []byte, write bool) error {
	prot := ProtRead
	if write {
		prot = ProtWrite
	}

	sgs := make([]SG, 8)
	for len(p) > 0 {
		span := uint64(len(p))

		var n int
		for {
			var err error
			n, err = c.AddrToSG(h, addr, span, sgs, prot)
			if err == nil {
				break
			}

			var overflow *SGOverflowError
			if !errors.As(err, &overflow) {
				return err
			}

			if overflow.Needed <= c.sgBatch {
				sgs = make([]SG, overflow.Needed)
				continue
			}

			// The span crosses more regions than one round may pin; shorten
			// it and let the outer loop continue from the split point.
			span /= 2
			if span == 0 {
				return fmt.Errorf("cannot split access at %#x: %w", uint64(addr), ErrBadAddress)
			}
		}

		iovs, err := c.MapSG(sgs[:n])
		if err != nil {
			return err
		}

		done := 0
		for _, iov := range iovs {
			if write {
				copy(iov, p[done:])
			} else {
				copy(p[done:], iov)
			}
			done += len(iov)
		}

		c.UnmapSG(sgs[:n])

		p = p[span:]
		addr += Addr(span)
	}

	return nil
}
