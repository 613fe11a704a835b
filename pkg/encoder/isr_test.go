//go:build unit

package encoder

import (
	"testing"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/sim"
)

func newTestConsumer(t *testing.T) (*sim.Device, *RingConsumer) {
	t.Helper()
	dev := sim.New(sim.Options{Channels: 4})
	t.Cleanup(func() { dev.Close() })
	ctrl := NewController(dev, Options{Channels: 4}, nil)
	return dev, NewRingConsumer(dev, dev.Options().Layout, ctrl, NewDescriptorRing(), nil)
}

func vop(size int) []byte {
	p := make([]byte, size)
	p[2], p[3] = 1, 0xb6
	return p
}

func emit(t *testing.T, dev *sim.Device, f sim.Frame) {
	t.Helper()
	if err := dev.EmitFrame(f); err != nil {
		t.Fatalf("EmitFrame() = %v", err)
	}
}

func TestHandleEncoderIRQPublishes(t *testing.T) {
	dev, rc := newTestConsumer(t)
	cur := rc.Ring().NewCursor(1)

	emit(t, dev, sim.Frame{Channel: 1, Vop: 0, Payload: vop(300), JPEG: make([]byte, 100)})
	emit(t, dev, sim.Frame{Channel: 2, Vop: 1, Payload: vop(200)})

	if n := rc.HandleEncoderIRQ(); n != 2 {
		t.Fatalf("HandleEncoderIRQ() = %d, expected 2", n)
	}
	if rc.Cursor() != 2 {
		t.Errorf("Cursor() = %d, expected 2", rc.Cursor())
	}
	if dev.Read32(driver.RegIrqStat)&driver.IrqEncoder != 0 {
		t.Error("encoder interrupt not acknowledged")
	}

	d, ok := cur.Next()
	if !ok {
		t.Fatal("no descriptor for channel 1")
	}
	if d.Vop != VopI || d.MPEGOffset != 0 {
		t.Errorf("descriptor = %+v", d)
	}
	if d.MPEGSize != sim.FrameLength(300) {
		t.Errorf("MPEGSize = %d, expected %d", d.MPEGSize, sim.FrameLength(300))
	}
	if d.JPEGSize != 128 {
		t.Errorf("JPEGSize = %d, expected 128", d.JPEGSize)
	}
	if _, ok := cur.Next(); ok {
		t.Error("channel 1 cursor returned a channel 2 descriptor")
	}
}

func TestHandleEncoderIRQNothingNew(t *testing.T) {
	dev, rc := newTestConsumer(t)
	emit(t, dev, sim.Frame{Channel: 0, Payload: vop(64)})
	rc.HandleEncoderIRQ()

	if n := rc.HandleEncoderIRQ(); n != 0 {
		t.Errorf("second HandleEncoderIRQ() = %d, expected 0", n)
	}
}

func TestHandleEncoderIRQWrapWithoutDesync(t *testing.T) {
	dev, rc := newTestConsumer(t)
	l := dev.Options().Layout
	dev.SetWriteOffsets(l.MPEGSize-64, 0)

	emit(t, dev, sim.Frame{Channel: 0, Vop: 1, Payload: vop(500)})
	if n := rc.HandleEncoderIRQ(); n != 1 {
		t.Errorf("HandleEncoderIRQ() = %d, expected 1", n)
	}
	if rc.Resetting(0) {
		t.Error("matching sizes across the wrap triggered a GOP reset")
	}
}

func TestGOPResetGating(t *testing.T) {
	dev, rc := newTestConsumer(t)
	l := dev.Options().Layout
	cur := rc.Ring().NewCursor(3)

	dev.SetWriteOffsets(l.MPEGSize-64, 0)
	emit(t, dev, sim.Frame{Channel: 3, Vop: 1, Payload: vop(500), CodeSizeSkew: 64})
	if n := rc.HandleEncoderIRQ(); n != 0 {
		t.Fatalf("desynced frame published (%d)", n)
	}
	if !rc.Resetting(3) {
		t.Fatal("reset flag not set after desync")
	}
	if got := dev.Read32(driver.RegVEChGOP(3)); got != 1 {
		t.Errorf("VE_CH_GOP = %d during reset, expected 1", got)
	}

	emit(t, dev, sim.Frame{Channel: 3, Vop: 1, Payload: vop(100)})
	emit(t, dev, sim.Frame{Channel: 0, Vop: 1, Payload: vop(100)})
	emit(t, dev, sim.Frame{Channel: 3, Vop: 2, Payload: vop(100)})
	if n := rc.HandleEncoderIRQ(); n != 1 {
		t.Errorf("HandleEncoderIRQ() = %d, expected only the other channel's frame", n)
	}
	if _, ok := cur.Next(); ok {
		t.Fatal("descriptor published for a resetting channel")
	}

	emit(t, dev, sim.Frame{Channel: 3, Vop: 0, Payload: vop(100)})
	emit(t, dev, sim.Frame{Channel: 3, Vop: 1, Payload: vop(100)})
	rc.HandleEncoderIRQ()

	d, ok := cur.Next()
	if !ok || d.Vop != VopI {
		t.Fatalf("first descriptor after reset = %+v, %v; expected the I frame", d, ok)
	}
	if d2, ok := cur.Next(); !ok || d2.Vop != VopP {
		t.Errorf("frame after the I frame = %+v, %v", d2, ok)
	}
	if rc.Resetting(3) {
		t.Error("reset flag still set after I frame")
	}
	if got := dev.Read32(driver.RegVEChGOP(3)); got != 30 {
		t.Errorf("VE_CH_GOP = %d after resync, expected 30", got)
	}
}

func TestHandleEncoderIRQQueueWrap(t *testing.T) {
	dev, rc := newTestConsumer(t)
	cur := rc.Ring().NewCursor(0)

	total := 0
	for round := 0; round < 3; round++ {
		for i := 0; i < driver.EncQueueSize-1; i++ {
			emit(t, dev, sim.Frame{Channel: 0, Vop: 1, Payload: vop(32)})
		}
		total += rc.HandleEncoderIRQ()
	}
	if total != 3*(driver.EncQueueSize-1) {
		t.Errorf("published %d, expected %d", total, 3*(driver.EncQueueSize-1))
	}

	var prev uint32
	for i := 0; ; i++ {
		d, ok := cur.Next()
		if !ok {
			break
		}
		if i > 0 && d.MPEGOffset != prev+sim.FrameLength(32) {
			t.Fatalf("descriptor %d offset %d, expected %d", i, d.MPEGOffset, prev+sim.FrameLength(32))
		}
		prev = d.MPEGOffset
	}
}
