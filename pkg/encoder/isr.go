package encoder

import (
	"log/slog"
	"time"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/metrics"
)

// RingConsumer drains the hardware encoder index queue into the software
// descriptor ring. HandleEncoderIRQ is only called from the interrupt
// dispatcher, so the cursor and reset flags need no locking.
type RingConsumer struct {
	regs   driver.Registers
	layout driver.ExtLayout
	ctrl   *Controller
	ring   *DescriptorRing
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	cursor   int
	resetGOP []bool
}

// NewRingConsumer creates a consumer publishing into ring. bus may be nil.
func NewRingConsumer(regs driver.Registers, layout driver.ExtLayout, ctrl *Controller, ring *DescriptorRing, bus *events.Bus) *RingConsumer {
	return &RingConsumer{
		regs:     regs,
		layout:   layout,
		ctrl:     ctrl,
		ring:     ring,
		bus:      bus,
		logger:   logging.GetLogger("encoder"),
		now:      time.Now,
		resetGOP: make([]bool, driver.MaxChannels),
	}
}

// Ring returns the descriptor ring the consumer publishes into
func (rc *RingConsumer) Ring() *DescriptorRing {
	return rc.ring
}

// Cursor returns the next hardware queue slot to be consumed
func (rc *RingConsumer) Cursor() int {
	return rc.cursor
}

// Resetting reports whether channel ch is waiting for a key frame
func (rc *RingConsumer) Resetting(ch int) bool {
	return ch >= 0 && ch < len(rc.resetGOP) && rc.resetGOP[ch]
}

// HandleEncoderIRQ acknowledges the encoder interrupt and publishes a
// descriptor for every queue entry written since the previous call.
// It returns the number of descriptors published.
func (rc *RingConsumer) HandleEncoderIRQ() int {
	rc.regs.Write32(driver.RegIrqStat, driver.IrqEncoder)

	last := rc.regs.Read32(driver.RegVEState(11)) & driver.VEStateLastQueue
	target := int(last+1) % driver.EncQueueSize

	codeSize := rc.regs.Read32(driver.RegVEState(0)) & driver.VEStateCodeSizeMask
	expected := (codeSize + driver.VopHeaderSize + 32) &^ 31

	published := 0
	for rc.cursor != target {
		mpegCur := rc.regs.Read32(driver.RegVEMpeg4Que(rc.cursor))
		jpegCur := rc.regs.Read32(driver.RegVEJpegQue(rc.cursor))
		rc.cursor = (rc.cursor + 1) % driver.EncQueueSize
		mpegNext := rc.regs.Read32(driver.RegVEMpeg4Que(rc.cursor))
		jpegNext := rc.regs.Read32(driver.RegVEJpegQue(rc.cursor))

		ch := int(mpegCur>>24) & 0x1f
		vop := VopType((mpegCur >> 29) & 3)

		mpegCur &= driver.RingAddrMask
		mpegNext &= driver.RingAddrMask
		jpegCur &= driver.RingAddrMask
		jpegNext &= driver.RingAddrMask

		mpegSize := (rc.layout.MPEGSize + mpegNext - mpegCur) % rc.layout.MPEGSize
		jpegSize := (rc.layout.JPEGSize + jpegNext - jpegCur) % rc.layout.JPEGSize

		if ch >= rc.ctrl.Channels() {
			rc.logger.Debug("queue entry for unknown channel", "channel", ch, "slot", rc.cursor)
			continue
		}

		if mpegCur > mpegNext && mpegSize != expected {
			rc.reset(ch, mpegSize, expected)
			continue
		}

		if rc.resetGOP[ch] {
			if vop != VopI {
				continue
			}
			rc.resetGOP[ch] = false
			rc.regs.Write32(driver.RegVEChGOP(ch), rc.ctrl.GOP(ch))
			rc.bus.Publish(events.GOPResetEvent{Channel: ch, Resync: true})
			rc.logger.Debug("gop resync", "channel", ch)
		}

		rc.ring.Publish(FrameDescriptor{
			Channel:    ch,
			Vop:        vop,
			MPEGOffset: mpegCur,
			MPEGSize:   mpegSize,
			JPEGOffset: jpegCur,
			JPEGSize:   jpegSize,
			Timestamp:  rc.now(),
		})
		metrics.RecordDescriptor(ch)
		published++
	}
	return published
}

// reset forces channel ch to restart its GOP and drops its frames until
// the next key frame
func (rc *RingConsumer) reset(ch int, size, expected uint32) {
	rc.regs.Write32(driver.RegVEChGOP(ch), 1)
	rc.resetGOP[ch] = true
	metrics.RecordGOPReset(ch)
	rc.bus.Publish(events.GOPResetEvent{Channel: ch})
	rc.logger.Debug("mpeg ring overflow", "channel", ch, "size", size, "expected", expected)
}
