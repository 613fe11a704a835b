package tw28

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// Control is a user-visible picture adjustment
type Control int

const (
	Brightness Control = iota
	Contrast
	Saturation
	Hue
)

// String returns the control name
func (c Control) String() string {
	switch c {
	case Brightness:
		return "brightness"
	case Contrast:
		return "contrast"
	case Saturation:
		return "saturation"
	case Hue:
		return "hue"
	default:
		return fmt.Sprintf("Control(%d)", int(c))
	}
}

// ParseControl parses a control name
func ParseControl(s string) (Control, error) {
	for _, c := range []Control{Brightness, Contrast, Saturation, Hue} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("unknown control %q", s))
}

// Decoders is the set of decoder chips serving a board's channels
type Decoders struct {
	bus    Bus
	chips  []Chip
	mu     sync.Mutex
	logger *slog.Logger
}

// Probe detects the chips needed for channels inputs
func Probe(bus Bus, channels int) (*Decoders, error) {
	n := (channels + ChannelsPerChip - 1) / ChannelsPerChip
	if n == 0 {
		return nil, driver.NewError(driver.StatusInvalidArgument, "no channels")
	}

	d := &Decoders{bus: bus, logger: logging.GetLogger("device")}
	for i := 0; i < n; i++ {
		addr := BaseAddr + uint8(i)
		kind, err := Detect(bus, addr)
		if err != nil {
			return nil, err
		}
		d.chips = append(d.chips, Chip{Index: i, Addr: addr, Kind: kind})
		d.logger.Debug("decoder detected", "chip", i, "addr", fmt.Sprintf("0x%02x", addr), "kind", kind)
	}
	return d, nil
}

// Chips returns the detected chips
func (d *Decoders) Chips() []Chip {
	return d.chips
}

func (d *Decoders) locate(ch int) (Chip, uint8, error) {
	if ch < 0 || ch/ChannelsPerChip >= len(d.chips) {
		return Chip{}, 0, driver.NewError(driver.StatusInvalidChannel, fmt.Sprintf("decoder channel %d", ch))
	}
	return d.chips[ch/ChannelsPerChip], uint8(ch % ChannelsPerChip), nil
}

// Set writes a picture control for channel ch. val must be 0..255.
func (d *Decoders) Set(ch int, ctrl Control, val int) error {
	if val < 0 || val > 255 {
		return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("%s %d out of range 0..255", ctrl, val))
	}
	chip, n, err := d.locate(ch)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tw286x := chip.Kind == KindTW286x
	switch ctrl {
	case Hue:
		if tw286x {
			val = remapHue(val)
		}
		return chip.WriteField(d.bus, FieldHue, n, uint8(val))

	case Saturation:
		if tw286x {
			if err := chip.WriteField(d.bus, FieldSaturationU, n, uint8(val)); err != nil {
				return err
			}
		}
		return chip.WriteField(d.bus, FieldSaturationV, n, uint8(val))

	case Contrast:
		return chip.WriteField(d.bus, FieldContrast, n, uint8(val))

	case Brightness:
		if tw286x {
			val = remapBrightness(val)
		}
		return chip.WriteField(d.bus, FieldBrightness, n, uint8(val))
	}
	return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("unsupported control %d", int(ctrl)))
}

// Get reads the raw register behind a picture control for channel ch
func (d *Decoders) Get(ch int, ctrl Control) (int, error) {
	chip, n, err := d.locate(ch)
	if err != nil {
		return 0, err
	}

	var f Field
	switch ctrl {
	case Hue:
		f = FieldHue
	case Saturation:
		f = FieldSaturationU
	case Contrast:
		f = FieldContrast
	case Brightness:
		f = FieldBrightness
	default:
		return 0, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("unsupported control %d", int(ctrl)))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := chip.ReadField(d.bus, f, n)
	return int(v), err
}

// TW286x hue is signed around 125
func remapHue(val int) int {
	if val >= 125 {
		return val - 125
	}
	return val + 125
}

// TW286x brightness is signed around 125; 0 and the midpoint map to the
// chip's default
func remapBrightness(val int) int {
	switch {
	case val == 125 || val == 0:
		return 212
	case val > 125:
		return val - 125
	default:
		return val + 125
	}
}
