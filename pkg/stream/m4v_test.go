//go:build unit

package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

func TestParseVopHeader(t *testing.T) {
	raw := make([]byte, driver.VopHeaderSize)
	w0 := uint32(1234) | 2<<22 | 5<<24 | 1<<30
	w1 := uint32(30) | 44<<8
	binary.LittleEndian.PutUint32(raw, w0)
	binary.LittleEndian.PutUint32(raw[4:], w1)

	vh, err := ParseVopHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if vh.Size != 1234 || vh.VopType != 2 || vh.Channel != 5 {
		t.Errorf("ParseVopHeader() = %+v", vh)
	}
	if !vh.Interlace || vh.Progressive {
		t.Errorf("interlace = %v, progressive = %v", vh.Interlace, vh.Progressive)
	}
	if vh.Width() != 704 || vh.Height() != 480 {
		t.Errorf("geometry = %dx%d, expected 704x480", vh.Width(), vh.Height())
	}

	if _, err := ParseVopHeader(raw[:10]); !errors.Is(err, driver.ErrCorrupt) {
		t.Errorf("short header: %v, expected ErrCorrupt", err)
	}
}

func TestBuildVOLHeaderNTSC(t *testing.T) {
	p := make([]byte, VOLHeaderSize)
	BuildVOLHeader(p, VOLParams{
		Standard: driver.StandardNTSC,
		FPS:      30,
		Interval: 1,
		Width:    352,
		Height:   240,
	})

	if !bytes.Equal(p[:4], []byte{0, 0, 1, 0}) {
		t.Errorf("start = % x", p[:4])
	}
	// fps = 30000 = 0x7530, interval = 1000 = 0x03e8
	want := map[int]byte{
		10: 0x05 | 3<<3,
		22: 0x53,
		23: 0x0c,
		24: 0x1f,
		25: 0x44,
		26: 0x2c,
		27: 0x10,
		28: 0x78,
		29: 0x51,
	}
	for i, w := range want {
		if p[i] != w {
			t.Errorf("byte %d = 0x%02x, expected 0x%02x", i, p[i], w)
		}
	}
}

func TestBuildVOLHeaderPALInterlaced(t *testing.T) {
	p := make([]byte, VOLHeaderSize)
	BuildVOLHeader(p, VOLParams{
		Standard:  driver.StandardPAL,
		FPS:       25,
		Interval:  2,
		Width:     704,
		Height:    576,
		Interlace: true,
	})

	if p[10] != 0x05|2<<3 {
		t.Errorf("aspect byte = 0x%02x", p[10])
	}
	if p[27] != 0x11 || p[28] != 0x20 {
		t.Errorf("height bytes = 0x%02x 0x%02x, expected 0x11 0x20", p[27], p[28])
	}
	if p[29] != 0x71 {
		t.Errorf("interlace byte = 0x%02x, expected 0x71", p[29])
	}
}

func TestJPEGHeader(t *testing.T) {
	n := JPEGHeaderSize()
	if n < 100 {
		t.Fatalf("JPEGHeaderSize() = %d", n)
	}

	hdr := make([]byte, n)
	BuildJPEGHeader(hdr, 704, 480)

	if hdr[0] != 0xff || hdr[1] != 0xd8 {
		t.Errorf("header starts with % x, expected SOI", hdr[:2])
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(hdr))
	if err != nil {
		t.Fatalf("DecodeConfig() = %v", err)
	}
	if cfg.Width != 704 || cfg.Height != 480 {
		t.Errorf("SOF0 geometry = %dx%d, expected 704x480", cfg.Width, cfg.Height)
	}
}
