package driver

import "fmt"

// BounceMapper stages P2M transfers through a DMA-coherent region split
// into one slot per channel. A channel has at most one transfer in flight,
// so a slot is never shared.
type BounceMapper struct {
	region   []byte
	busAddr  uint64
	slotSize int
	slots    int
}

// NewBounceMapper splits region into slots equal slots. busAddr is the
// bus address of region[0].
func NewBounceMapper(region []byte, busAddr uint64, slots int) *BounceMapper {
	slotSize := (len(region) / slots) &^ 3
	return &BounceMapper{
		region:   region,
		busAddr:  busAddr,
		slotSize: slotSize,
		slots:    slots,
	}
}

// SlotSize returns the largest transfer a single Map can stage
func (m *BounceMapper) SlotSize() int {
	return m.slotSize
}

// Map stages buf in the channel's slot
func (m *BounceMapper) Map(channel int, buf []byte, dir DmaDirection) (Mapping, error) {
	if channel < 0 || channel >= m.slots {
		return nil, NewError(StatusInvalidChannel, fmt.Sprintf("bounce slot %d", channel))
	}
	if len(buf) > m.slotSize {
		return nil, NewError(StatusInvalidArgument,
			fmt.Sprintf("transfer of %d bytes exceeds bounce slot of %d", len(buf), m.slotSize))
	}

	start := channel * m.slotSize
	slot := m.region[start : start+len(buf)]
	if dir == DmaToDevice {
		copy(slot, buf)
	}

	return &bounceMapping{
		addr: uint32(m.busAddr + uint64(start)),
		slot: slot,
		buf:  buf,
		dir:  dir,
	}, nil
}

type bounceMapping struct {
	addr     uint32
	slot     []byte
	buf      []byte
	dir      DmaDirection
	unmapped bool
}

func (b *bounceMapping) Addr() uint32 {
	return b.addr
}

func (b *bounceMapping) Unmap() error {
	if b.unmapped {
		return nil
	}
	b.unmapped = true
	if b.dir == DmaFromDevice {
		copy(b.buf, b.slot)
	}
	return nil
}
