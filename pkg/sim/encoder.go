package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// Frame is one encoded picture produced by the simulated encoder
type Frame struct {
	Channel    int
	Vop        uint8
	Payload    []byte // MPEG-4 VOP, normally starting with 00 00 01 B6
	JPEG       []byte
	Width      int
	Height     int
	Interlaced bool
	// CodeSizeSkew is added to the code size reported in VE_STATE(0),
	// which desyncs the wrap check in the ring consumer
	CodeSizeSkew int
}

type encoderState struct {
	queue   int    // next hardware queue slot
	mpegOff uint32 // write offsets within each ring
	jpegOff uint32
}

// FrameLength returns the bytes a frame with the given payload occupies in
// the MPEG ring: the 64 byte header, the payload, and 1..32 bytes of pad
func FrameLength(payload int) uint32 {
	return uint32(payload+driver.VopHeaderSize+32) &^ 31
}

func jpegLength(n int) uint32 {
	return uint32(n+31) &^ 31
}

// SetWriteOffsets moves the encoder's ring write positions, which lets a
// test place the next frame across the ring boundary
func (d *Device) SetWriteOffsets(mpeg, jpeg uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enc.mpegOff = mpeg % d.opts.Layout.MPEGSize
	d.enc.jpegOff = jpeg % d.opts.Layout.JPEGSize
	d.writeQueueTailLocked()
}

// WriteOffsets returns the encoder's ring write positions
func (d *Device) WriteOffsets() (mpeg, jpeg uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enc.mpegOff, d.enc.jpegOff
}

// EmitFrame writes f into the external rings, publishes it in the
// hardware index queue and raises the encoder interrupt
func (d *Device) EmitFrame(f Frame) error {
	if f.Channel < 0 || f.Channel >= d.opts.Channels {
		return driver.NewError(driver.StatusInvalidChannel, fmt.Sprintf("sim frame channel %d", f.Channel))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.opts.Layout
	mpegLen := FrameLength(len(f.Payload))
	jpegLen := jpegLength(len(f.JPEG))
	if mpegLen >= l.MPEGSize || jpegLen >= l.JPEGSize {
		return driver.NewError(driver.StatusInvalidArgument, "sim frame larger than ring")
	}

	frame := make([]byte, mpegLen)
	copy(frame, encodeVopHeader(f))
	copy(frame[driver.VopHeaderSize:], f.Payload)
	d.ringWriteLocked(l.MPEGAddr, l.MPEGSize, d.enc.mpegOff, frame)

	jpeg := make([]byte, jpegLen)
	copy(jpeg, f.JPEG)
	d.ringWriteLocked(l.JPEGAddr, l.JPEGSize, d.enc.jpegOff, jpeg)

	slot := d.enc.queue
	d.regs[driver.RegVEMpeg4Que(slot)] = uint32(f.Vop&3)<<29 | uint32(f.Channel&0x1f)<<24 | d.enc.mpegOff
	d.regs[driver.RegVEJpegQue(slot)] = d.enc.jpegOff

	d.enc.mpegOff = (d.enc.mpegOff + mpegLen) % l.MPEGSize
	d.enc.jpegOff = (d.enc.jpegOff + jpegLen) % l.JPEGSize
	d.enc.queue = (slot + 1) % driver.EncQueueSize
	d.writeQueueTailLocked()

	d.regs[driver.RegVEState(0)] = uint32(len(f.Payload)+f.CodeSizeSkew) & driver.VEStateCodeSizeMask
	d.regs[driver.RegVEState(11)] = uint32(slot)
	d.stats.Frames++

	d.raiseLocked(driver.IrqEncoder)
	return nil
}

// writeQueueTailLocked stores the current write positions in the next
// queue slot so the consumer can size the newest frame
func (d *Device) writeQueueTailLocked() {
	d.regs[driver.RegVEMpeg4Que(d.enc.queue)] = d.enc.mpegOff
	d.regs[driver.RegVEJpegQue(d.enc.queue)] = d.enc.jpegOff
}

func (d *Device) ringWriteLocked(base, capacity, off uint32, data []byte) {
	n := copy(d.ext[base-d.extBase+off:base-d.extBase+capacity], data)
	if n < len(data) {
		copy(d.ext[base-d.extBase:], data[n:])
	}
}

// encodeVopHeader builds the 64 byte hardware header that precedes every
// frame in the MPEG ring
func encodeVopHeader(f Frame) []byte {
	h := make([]byte, driver.VopHeaderSize)

	w0 := uint32(len(f.Payload)) & 0xfffff
	w0 |= uint32(f.Vop&3) << 22
	w0 |= uint32(f.Channel&0xf) << 24
	if f.Interlaced {
		w0 |= 1 << 30
	} else {
		w0 |= 1 << 31
	}
	w1 := uint32(f.Height>>4)&0xff | (uint32(f.Width>>4)&0xff)<<8

	binary.LittleEndian.PutUint32(h[0:], w0)
	binary.LittleEndian.PutUint32(h[4:], w1)
	return h
}

// TriggerMotion latches motion on the channels in mask and raises the
// motion interrupt
func (d *Device) TriggerMotion(mask uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[driver.RegVIMotStatus] |= mask
	d.raiseLocked(driver.IrqMotion)
}
