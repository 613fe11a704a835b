package p2m

import (
	"context"
	"fmt"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// Segment is one contiguous piece of a ring read
type Segment struct {
	RingOffset uint32 // offset within the ring
	BufOffset  uint32 // offset within the destination buffer
	Length     uint32
}

// Split breaks a read of length bytes at off in a ring of the given
// capacity into at most two contiguous segments
func Split(off, length, capacity uint32) ([]Segment, error) {
	if capacity == 0 || off >= capacity || length > capacity {
		return nil, driver.NewError(driver.StatusInvalidArgument,
			fmt.Sprintf("ring read off=%d len=%d cap=%d", off, length, capacity))
	}
	if off+length <= capacity {
		return []Segment{{RingOffset: off, BufOffset: 0, Length: length}}, nil
	}
	head := capacity - off
	return []Segment{
		{RingOffset: off, BufOffset: 0, Length: head},
		{RingOffset: 0, BufOffset: head, Length: length - head},
	}, nil
}

// Ring is a circular region of device external memory
type Ring struct {
	Base     uint32
	Capacity uint32
}

// ReadRing copies length bytes starting at ring offset off into buf,
// splitting the DMA at the ring boundary
func (e *Engine) ReadRing(ctx context.Context, id int, ring Ring, buf []byte, off, length uint32) error {
	if uint32(len(buf)) < length {
		return driver.NewError(driver.StatusBufferTooSmall,
			fmt.Sprintf("ring read of %d bytes into %d", length, len(buf)))
	}
	segs, err := Split(off, length, ring.Capacity)
	if err != nil {
		return err
	}
	for _, s := range segs {
		dst := buf[s.BufOffset : s.BufOffset+s.Length]
		if err := e.Transfer(ctx, id, driver.DmaFromDevice, dst, ring.Base+s.RingOffset, s.Length); err != nil {
			return err
		}
	}
	return nil
}
