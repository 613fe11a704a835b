package encoder

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// slot holds one published descriptor. seq is zero while the slot is being
// written and pos+1 once descriptor pos is complete, so a reader can tell a
// torn or overwritten slot from the one it asked for.
type slot struct {
	seq      atomic.Uint64
	chanVop  atomic.Uint32
	mpegOff  atomic.Uint32
	mpegSize atomic.Uint32
	jpegOff  atomic.Uint32
	jpegSize atomic.Uint32
	stamp    atomic.Int64
}

// DescriptorRing is the fixed-size software ring between the encoder
// interrupt and the per-reader delivery tasks. There is one producer.
// Consumers each keep their own Cursor and never block the producer.
type DescriptorRing struct {
	slots [driver.SoftRingSize]slot
	head  atomic.Uint64

	mu      sync.Mutex
	waiters map[int]map[chan struct{}]struct{}
}

// NewDescriptorRing creates an empty ring
func NewDescriptorRing() *DescriptorRing {
	return &DescriptorRing{
		waiters: make(map[int]map[chan struct{}]struct{}),
	}
}

// Head returns the number of descriptors ever published
func (r *DescriptorRing) Head() uint64 {
	return r.head.Load()
}

// Publish appends d and wakes the waiters registered for its channel.
// Only the interrupt dispatcher calls Publish.
func (r *DescriptorRing) Publish(d FrameDescriptor) uint64 {
	pos := r.head.Load()
	s := &r.slots[pos%driver.SoftRingSize]

	s.seq.Store(0)
	s.chanVop.Store(uint32(d.Channel)<<8 | uint32(d.Vop))
	s.mpegOff.Store(d.MPEGOffset)
	s.mpegSize.Store(d.MPEGSize)
	s.jpegOff.Store(d.JPEGOffset)
	s.jpegSize.Store(d.JPEGSize)
	s.stamp.Store(d.Timestamp.UnixNano())
	s.seq.Store(pos + 1)

	r.head.Store(pos + 1)
	r.wake(d.Channel)
	return pos
}

// load copies descriptor pos out of the ring. It fails if the slot has
// since been reused.
func (r *DescriptorRing) load(pos uint64) (FrameDescriptor, bool) {
	s := &r.slots[pos%driver.SoftRingSize]
	if s.seq.Load() != pos+1 {
		return FrameDescriptor{}, false
	}
	cv := s.chanVop.Load()
	d := FrameDescriptor{
		Seq:        pos,
		Channel:    int(cv >> 8),
		Vop:        VopType(cv & 0xff),
		MPEGOffset: s.mpegOff.Load(),
		MPEGSize:   s.mpegSize.Load(),
		JPEGOffset: s.jpegOff.Load(),
		JPEGSize:   s.jpegSize.Load(),
		Timestamp:  time.Unix(0, s.stamp.Load()),
	}
	if s.seq.Load() != pos+1 {
		return FrameDescriptor{}, false
	}
	return d, true
}

// Notify registers a wakeup channel for publications on channel. The
// returned function unregisters it.
func (r *DescriptorRing) Notify(channel int) (<-chan struct{}, func()) {
	c := make(chan struct{}, 1)

	r.mu.Lock()
	set, ok := r.waiters[channel]
	if !ok {
		set = make(map[chan struct{}]struct{})
		r.waiters[channel] = set
	}
	set[c] = struct{}{}
	r.mu.Unlock()

	return c, func() {
		r.mu.Lock()
		delete(r.waiters[channel], c)
		r.mu.Unlock()
	}
}

func (r *DescriptorRing) wake(channel int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.waiters[channel] {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// AnyChannel makes a cursor return descriptors of every channel
const AnyChannel = -1

// Cursor is one consumer's read position, filtered to a channel
type Cursor struct {
	ring    *DescriptorRing
	channel int
	pos     uint64
	lost    uint64
}

// NewCursor returns a cursor for channel positioned at the current head,
// so only descriptors published from now on are seen
func (r *DescriptorRing) NewCursor(channel int) *Cursor {
	return &Cursor{ring: r, channel: channel, pos: r.head.Load()}
}

// Channel returns the channel the cursor filters on
func (c *Cursor) Channel() int {
	return c.channel
}

// Position returns the next index the cursor will examine
func (c *Cursor) Position() uint64 {
	return c.pos
}

// Lost returns how many descriptors were overwritten before the cursor
// reached them
func (c *Cursor) Lost() uint64 {
	return c.lost
}

// Next returns the next descriptor for the cursor's channel, scanning no
// further than the producer index observed on entry
func (c *Cursor) Next() (FrameDescriptor, bool) {
	head := c.ring.head.Load()
	if head-c.pos > driver.SoftRingSize {
		skip := head - driver.SoftRingSize - c.pos
		c.lost += skip
		c.pos += skip
	}

	for c.pos < head {
		pos := c.pos
		c.pos++
		d, ok := c.ring.load(pos)
		if !ok {
			c.lost++
			continue
		}
		if c.channel == AnyChannel || d.Channel == c.channel {
			return d, true
		}
	}
	return FrameDescriptor{}, false
}
