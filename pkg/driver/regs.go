package driver

// Registers is memory-mapped access to 32-bit device registers.
// Accesses are ordered and may have side effects on the device.
type Registers interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// DmaDirection represents a P2M transfer direction
type DmaDirection uint32

const (
	DmaFromDevice DmaDirection = 0
	DmaToDevice   DmaDirection = 1
)

// String returns the direction name
func (d DmaDirection) String() string {
	if d == DmaToDevice {
		return "to-device"
	}
	return "from-device"
}

// Mapping is a host buffer made visible to the device for one transfer
type Mapping interface {
	// Addr is the bus address programmed into P2M_TAR_ADR
	Addr() uint32
	// Unmap releases the mapping. For from-device transfers it also makes
	// the transferred bytes visible in the host buffer.
	Unmap() error
}

// Mapper maps host buffers for DMA on a given P2M channel
type Mapper interface {
	Map(channel int, buf []byte, dir DmaDirection) (Mapping, error)
}

// IrqSource delivers raw interrupt assertions from the device
type IrqSource interface {
	// WaitIRQ blocks until the device raises an interrupt and returns the
	// number of interrupts seen since the previous call
	WaitIRQ() (uint32, error)
	// EnableIRQ re-arms interrupt delivery after a WaitIRQ
	EnableIRQ() error
}
