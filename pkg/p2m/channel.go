package p2m

import (
	"context"
	"sync/atomic"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// Channel is one hardware P2M DMA channel. At most one transaction is in
// flight per channel; callers queue on the semaphore in arrival order.
type Channel struct {
	id   int
	sem  chan struct{}
	done chan struct{}
	err  atomic.Bool

	transfers atomic.Uint64
	failures  atomic.Uint64
}

func newChannel(id int) *Channel {
	return &Channel{
		id:   id,
		sem:  make(chan struct{}, 1),
		done: make(chan struct{}, 1),
	}
}

// ID returns the channel index
func (c *Channel) ID() int {
	return c.id
}

// Busy reports whether a transaction currently holds the channel
func (c *Channel) Busy() bool {
	return len(c.sem) == 1
}

// Stats returns completed and failed transaction counts
func (c *Channel) Stats() (transfers, failures uint64) {
	return c.transfers.Load(), c.failures.Load()
}

func (c *Channel) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return driver.NewErrorWithCause(driver.StatusCanceled, "waiting for P2M channel", ctx.Err())
	}
}

func (c *Channel) release() {
	<-c.sem
}

// arm discards a stale completion left by a late interrupt
func (c *Channel) arm() {
	select {
	case <-c.done:
	default:
	}
	c.err.Store(false)
}

// signal completes the pending wait, if any. Never blocks.
func (c *Channel) signal() {
	select {
	case c.done <- struct{}{}:
	default:
	}
}
