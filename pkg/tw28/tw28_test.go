//go:build unit

package tw28

import (
	"errors"
	"fmt"
	"testing"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
)

func TestDetect(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2864(0x28)
	bus.AddTW2815(0x29)

	tests := []struct {
		addr uint8
		want Kind
	}{
		{0x28, KindTW286x},
		{0x29, KindTW2815},
	}
	for _, tt := range tests {
		got, err := Detect(bus, tt.addr)
		if err != nil {
			t.Fatalf("Detect(0x%02x) = %v", tt.addr, err)
		}
		if got != tt.want {
			t.Errorf("Detect(0x%02x) = %v, expected %v", tt.addr, got, tt.want)
		}
	}

	if _, err := Detect(bus, 0x2a); !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("Detect(absent) = %v, expected ErrNotFound", err)
	}
}

func TestDetectUnknownChip(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2815(0x28)
	bus.WriteReg(0x28, 0x59, 0x00)

	if _, err := Detect(bus, 0x28); !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("Detect() = %v, expected ErrNotFound", err)
	}
}

func TestProbe(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2864(0x28)
	bus.AddTW2815(0x29)

	d, err := Probe(bus, 8)
	if err != nil {
		t.Fatal(err)
	}
	chips := d.Chips()
	if len(chips) != 2 {
		t.Fatalf("Probe() found %d chips, expected 2", len(chips))
	}
	if chips[1].Addr != 0x29 || chips[1].Kind != KindTW2815 {
		t.Errorf("chip 1 = %+v", chips[1])
	}

	if _, err := Probe(bus, 12); err == nil {
		t.Error("Probe() should fail when a chip is missing")
	}
}

func TestSetTW286xRemaps(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2864(0x28)
	bus.AddTW2864(0x29)
	d, err := Probe(bus, 8)
	if err != nil {
		t.Fatal(err)
	}

	// channel 6 is input 2 of the second chip
	tests := []struct {
		ctrl Control
		val  int
		reg  uint8
		want uint8
	}{
		{Hue, 200, 0x26, 75},
		{Hue, 10, 0x26, 135},
		{Brightness, 125, 0x21, 212},
		{Brightness, 0, 0x21, 212},
		{Brightness, 130, 0x21, 5},
		{Brightness, 100, 0x21, 225},
		{Contrast, 90, 0x22, 90},
	}
	for _, tt := range tests {
		if err := d.Set(6, tt.ctrl, tt.val); err != nil {
			t.Fatalf("Set(%v, %d) = %v", tt.ctrl, tt.val, err)
		}
		if got := bus.Peek(0x29, tt.reg); got != tt.want {
			t.Errorf("Set(%v, %d): reg 0x%02x = %d, expected %d", tt.ctrl, tt.val, tt.reg, got, tt.want)
		}
	}

	if err := d.Set(6, Saturation, 77); err != nil {
		t.Fatal(err)
	}
	if bus.Peek(0x29, 0x24) != 77 || bus.Peek(0x29, 0x25) != 77 {
		t.Error("TW286x saturation must write both U and V")
	}
	if v, _ := d.Get(6, Saturation); v != 77 {
		t.Errorf("Get(saturation) = %d, expected 77", v)
	}
}

func TestSetTW2815(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2815(0x28)
	d, err := Probe(bus, 4)
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Set(1, Hue, 200); err != nil {
		t.Fatal(err)
	}
	if got := bus.Peek(0x28, 0x17); got != 200 {
		t.Errorf("hue reg = %d, expected 200 unmapped", got)
	}
	d.Set(3, Brightness, 125)
	if got, _ := d.Get(3, Brightness); got != 125 {
		t.Errorf("Get(brightness) = %d, expected 125", got)
	}
	d.Set(0, Saturation, 50)
	if got := bus.Peek(0x28, 0x08); got != 50 {
		t.Errorf("saturation reg = %d, expected 50", got)
	}
}

func TestSetValidation(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2864(0x28)
	d, _ := Probe(bus, 4)

	for _, v := range []int{-1, 256} {
		if err := d.Set(0, Hue, v); !errors.Is(err, driver.ErrInvalidArgument) {
			t.Errorf("Set(hue, %d) = %v, expected ErrInvalidArgument", v, err)
		}
	}
	if err := d.Set(4, Hue, 1); !errors.Is(err, driver.ErrInvalidChannel) {
		t.Errorf("Set(channel 4) = %v, expected ErrInvalidChannel", err)
	}
	if _, err := ParseControl("gamma"); err == nil {
		t.Error("ParseControl(gamma) should fail")
	}
	if c, _ := ParseControl("contrast"); c != Contrast {
		t.Errorf("ParseControl(contrast) = %v", c)
	}
}

func TestTW286xChannelsUseDistinctRegisters(t *testing.T) {
	fields := []Field{FieldHue, FieldSaturationU, FieldSaturationV, FieldContrast, FieldBrightness}
	seen := make(map[uint8]string)
	for _, f := range fields {
		for n := uint8(0); n < ChannelsPerChip; n++ {
			reg := KindTW286x.addr(f, n)
			if prev, ok := seen[reg]; ok {
				t.Errorf("field %d channel %d shares reg 0x%02x with %s", f, n, reg, prev)
			}
			seen[reg] = fmt.Sprintf("field %d channel %d", f, n)
		}
	}
}

func TestSetTW286xAdjacentChannels(t *testing.T) {
	bus := sim.NewI2C()
	bus.AddTW2864(0x28)
	d, err := Probe(bus, 4)
	if err != nil {
		t.Fatal(err)
	}

	d.Set(0, Contrast, 40)
	d.Set(1, Contrast, 90)
	if got := bus.Peek(0x28, 0x02); got != 40 {
		t.Errorf("channel 0 contrast reg = %d, expected 40", got)
	}
	if got := bus.Peek(0x28, 0x12); got != 90 {
		t.Errorf("channel 1 contrast reg = %d, expected 90", got)
	}
	if v, _ := d.Get(0, Contrast); v != 40 {
		t.Errorf("Get(0, contrast) = %d, expected 40", v)
	}
	if v, _ := d.Get(1, Contrast); v != 90 {
		t.Errorf("Get(1, contrast) = %d, expected 90", v)
	}
}
