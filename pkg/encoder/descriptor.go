package encoder

import (
	"fmt"
	"time"
)

// VopType is the MPEG-4 picture coding type reported by the encoder
type VopType uint8

const (
	VopI VopType = 0
	VopP VopType = 1
	VopB VopType = 2
	VopS VopType = 3
)

// String returns the picture type letter
func (v VopType) String() string {
	switch v {
	case VopI:
		return "I"
	case VopP:
		return "P"
	case VopB:
		return "B"
	case VopS:
		return "S"
	default:
		return fmt.Sprintf("VopType(%d)", uint8(v))
	}
}

// IsKey reports whether the picture is independently decodable
func (v VopType) IsKey() bool {
	return v == VopI
}

// FrameDescriptor locates one encoded frame in the device's external rings
type FrameDescriptor struct {
	Seq        uint64
	Channel    int
	Vop        VopType
	MPEGOffset uint32
	MPEGSize   uint32
	JPEGOffset uint32
	JPEGSize   uint32
	Timestamp  time.Time
}
