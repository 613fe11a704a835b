package stream

import (
	"encoding/binary"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// VOLHeaderSize is the length of the MPEG-4 VOL header put in front of
// key frames
const VOLHeaderSize = 32

// Pixel aspect ratio codes
const (
	parNTSC43 = 3
	parPAL43  = 2
)

var volTemplate = [VOLHeaderSize]byte{
	0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x20,
	0x02, 0x48, 0x05, 0xc0, 0x00, 0x40, 0x00, 0x40,
	0x00, 0x40, 0x00, 0x80, 0x00, 0x97, 0x53, 0x04,
	0x1f, 0x4c, 0x58, 0x10, 0x78, 0x51, 0x18, 0x3e,
}

// vopStartCode begins every VOP the encoder writes
var vopStartCode = [4]byte{0x00, 0x00, 0x01, 0xb6}

// VopHeader is the 64 byte record the encoder writes ahead of each frame
// in the MPEG ring
type VopHeader struct {
	Size        uint32
	VopType     uint8
	Channel     uint8
	Interlace   bool
	Progressive bool
	VSize       uint8 // height / 16
	HSize       uint8 // width / 16
}

// Width returns the encoded picture width in pixels
func (h VopHeader) Width() int {
	return int(h.HSize) << 4
}

// Height returns the encoded picture height in pixels
func (h VopHeader) Height() int {
	return int(h.VSize) << 4
}

// ParseVopHeader decodes the hardware header
func ParseVopHeader(b []byte) (VopHeader, error) {
	if len(b) < driver.VopHeaderSize {
		return VopHeader{}, driver.NewError(driver.StatusCorrupt, "short vop header")
	}
	w0 := binary.LittleEndian.Uint32(b[0:])
	w1 := binary.LittleEndian.Uint32(b[4:])
	return VopHeader{
		Size:        w0 & 0xfffff,
		VopType:     uint8(w0>>22) & 3,
		Channel:     uint8(w0>>24) & 0xf,
		Interlace:   w0&(1<<30) != 0,
		Progressive: w0&(1<<31) != 0,
		VSize:       uint8(w1),
		HSize:       uint8(w1 >> 8),
	}, nil
}

// VOLParams are the values patched into the VOL header
type VOLParams struct {
	Standard  driver.VideoStandard
	FPS       uint32
	Interval  uint32
	Width     int
	Height    int
	Interlace bool
}

// BuildVOLHeader writes the VOL header for p into dst, which must hold
// VOLHeaderSize bytes
func BuildVOLHeader(dst []byte, p VOLParams) {
	copy(dst, volTemplate[:])

	if p.Standard == driver.StandardNTSC {
		dst[10] |= (parNTSC43 << 3) & 0x78
	} else {
		dst[10] |= (parPAL43 << 3) & 0x78
	}

	// 16 bit fixed point, as the encoder expects
	fps := uint16(p.FPS * 1000)
	interval := uint16(p.Interval * 1000)

	dst[22] = byte(fps >> 4)
	dst[23] = byte((fps<<4)&0xf0) | 0x0c | byte((interval>>13)&0x3)
	dst[24] = byte(interval >> 5)
	dst[25] = byte((interval<<3)&0xf8) | 0x04

	dst[26] = byte(p.Width >> 3)
	dst[27] = byte((p.Height>>9)&0x0f) | 0x10
	dst[28] = byte(p.Height >> 1)

	if p.Interlace {
		dst[29] |= 0x20
	}
}
