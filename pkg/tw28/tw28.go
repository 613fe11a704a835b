// Package tw28 drives the Techwell TW2815 and TW2864 video decoders that
// feed the SOLO6010's capture inputs. Each chip serves four channels and
// sits on the board's I2C bus at BaseAddr plus its index.
package tw28

import (
	"fmt"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// BaseAddr is the I2C address of the first decoder chip
const BaseAddr uint8 = 0x28

// ChannelsPerChip is the number of video inputs on one decoder
const ChannelsPerChip = 4

// Bus reads and writes decoder registers
type Bus interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, val uint8) error
}

// Kind identifies a decoder's register layout
type Kind int

const (
	KindTW2815 Kind = iota
	KindTW286x
)

// String returns the chip family name
func (k Kind) String() string {
	if k == KindTW286x {
		return "TW286x"
	}
	return "TW2815"
}

// Field is a per-channel decoder register
type Field int

const (
	FieldHue Field = iota
	FieldSaturationU
	FieldSaturationV
	FieldContrast
	FieldBrightness
)

// addr returns the register holding field for on-chip channel n. TW2815
// has a single saturation register, so U and V share it.
func (k Kind) addr(f Field, n uint8) uint8 {
	if k == KindTW286x {
		switch f {
		case FieldBrightness:
			return 0x01 | n<<4
		case FieldContrast:
			return 0x02 | n<<4
		case FieldSaturationU:
			return 0x04 | n<<4
		case FieldSaturationV:
			return 0x05 | n<<4
		default:
			return 0x06 | n<<4
		}
	}
	switch f {
	case FieldSaturationU, FieldSaturationV:
		return 0x08 | n<<4
	case FieldContrast:
		return 0x09 | n<<4
	case FieldBrightness:
		return 0x0a | n<<4
	default:
		return 0x07 | n<<4
	}
}

// Chip is one detected decoder
type Chip struct {
	Index int
	Addr  uint8
	Kind  Kind
}

// WriteField writes val to field of on-chip channel n
func (c Chip) WriteField(bus Bus, f Field, n uint8, val uint8) error {
	return bus.WriteReg(c.Addr, c.Kind.addr(f, n), val)
}

// ReadField reads field of on-chip channel n
func (c Chip) ReadField(bus Bus, f Field, n uint8) (uint8, error) {
	return bus.ReadReg(c.Addr, c.Kind.addr(f, n))
}

// Detect identifies the chip at addr from its ID registers
func Detect(bus Bus, addr uint8) (Kind, error) {
	id, err := bus.ReadReg(addr, 0xff)
	if err != nil {
		return 0, driver.NewErrorWithCause(driver.StatusNotFound, fmt.Sprintf("decoder at 0x%02x", addr), err)
	}
	if id>>3 == 0x0c {
		return KindTW286x, nil
	}

	id, err = bus.ReadReg(addr, 0x59)
	if err != nil {
		return 0, driver.NewErrorWithCause(driver.StatusNotFound, fmt.Sprintf("decoder at 0x%02x", addr), err)
	}
	if id>>3 == 0x04 {
		return KindTW2815, nil
	}
	return 0, driver.NewError(driver.StatusNotFound, fmt.Sprintf("unknown techwell chip at 0x%02x (id 0x%02x)", addr, id))
}
