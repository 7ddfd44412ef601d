package pipeline

import (
	"context"

	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/metrics"
	"github.com/smazurov/displaynode/internal/regs"
)

// VblankIRQEnable enables or disables the vblank interrupt.
func (c *Controller) VblankIRQEnable(on bool) {
	c.vmu.Lock()
	defer c.vmu.Unlock()
	c.irqEnabled = on
	if on {
		regs.SetBits(c.timing, RegTGIntEnable, IntVblank)
	} else {
		regs.ClearBits(c.timing, RegTGIntEnable, IntVblank)
	}
}

func (c *Controller) restoreIRQ() {
	c.vmu.Lock()
	on := c.irqEnabled
	c.vmu.Unlock()
	c.VblankIRQEnable(on)
}

// VblankIRQAck clears every pending interrupt bit, not only the one that
// fired, and returns the bits that were pending.
func (c *Controller) VblankIRQAck() uint32 {
	pending := c.timing.Read32(RegTGIntPending)
	c.timing.Write32(RegTGIntPending, IntAll)
	return pending
}

// PendingIRQ reads the interrupt pending bits without clearing them.
func (c *Controller) PendingIRQ() uint32 {
	return c.timing.Read32(RegTGIntPending)
}

// HandleVblank is the bottom half of a vblank interrupt: it counts the frame
// and wakes WaitVblank callers. The pending bits must already have been taken
// with VblankIRQAck; acking here would drop a frame latched since then. It
// never touches layers.
func (c *Controller) HandleVblank() {
	c.vmu.Lock()
	c.vblanks++
	count := c.vblanks
	close(c.vwait)
	c.vwait = make(chan struct{})
	c.vmu.Unlock()

	metrics.IncVblank(c.index)
	c.bus.Publish(events.VblankEvent{Pipe: c.index, Count: count})
}

// WaitVblank blocks until the next serviced vblank and returns its count.
func (c *Controller) WaitVblank(ctx context.Context) (uint64, error) {
	c.vmu.Lock()
	ch := c.vwait
	c.vmu.Unlock()

	select {
	case <-ch:
		c.vmu.Lock()
		defer c.vmu.Unlock()
		return c.vblanks, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// VblankCount returns the number of serviced vblanks.
func (c *Controller) VblankCount() uint64 {
	c.vmu.Lock()
	defer c.vmu.Unlock()
	return c.vblanks
}
