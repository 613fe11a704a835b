package stream

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"sync"
)

const (
	markerSOF0 = 0xc0
	markerSOS  = 0xda
)

var (
	jpegHeaderOnce sync.Once
	jpegHeader     []byte
	jpegSOF0       int // offset of the SOF0 height field
)

// buildJPEGHeader encodes a blank picture and keeps everything up to the
// end of the scan header. The encoder produces entropy coded data for the
// same baseline tables.
func buildJPEGHeader() {
	img := image.NewYCbCr(image.Rect(0, 0, 16, 16), image.YCbCrSubsampleRatio420)
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 75}); err != nil {
		panic("stream: encoding jpeg header: " + err.Error())
	}
	b := out.Bytes()

	pos := 2 // SOI
	for pos+4 <= len(b) {
		if b[pos] != 0xff {
			break
		}
		marker := b[pos+1]
		length := int(binary.BigEndian.Uint16(b[pos+2:]))
		switch marker {
		case markerSOF0:
			// length(2) precision(1) height(2) width(2)
			jpegSOF0 = pos + 5
		case markerSOS:
			end := pos + 2 + length
			jpegHeader = append([]byte(nil), b[:end]...)
			return
		}
		pos += 2 + length
	}
	panic("stream: jpeg header has no scan")
}

// JPEGHeaderSize returns the length of the header put in front of every
// JPEG frame
func JPEGHeaderSize() int {
	jpegHeaderOnce.Do(buildJPEGHeader)
	return len(jpegHeader)
}

// BuildJPEGHeader writes the JPEG header for a width x height picture into
// dst, which must hold JPEGHeaderSize bytes
func BuildJPEGHeader(dst []byte, width, height int) {
	jpegHeaderOnce.Do(buildJPEGHeader)
	copy(dst, jpegHeader)
	binary.BigEndian.PutUint16(dst[jpegSOF0:], uint16(height))
	binary.BigEndian.PutUint16(dst[jpegSOF0+2:], uint16(width))
}
