package device

import (
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
)

// handleMotion latches motion for every flagged channel that is not
// already latched. Latches clear when a reader dequeues a frame.
func (d *Device) handleMotion() {
	regs := d.backend.Regs
	regs.Write32(driver.RegIrqStat, driver.IrqMotion)

	sec := regs.Read32(driver.RegTimerSec)
	usec := regs.Read32(driver.RegTimerUsec)
	status := regs.Read32(driver.RegVIMotStatus)
	at := time.Unix(int64(sec), int64(usec)*1000)

	var flagged []int
	d.mu.Lock()
	for ch := range d.motion {
		if status&(1<<uint(ch)) == 0 || d.motion[ch].detected {
			continue
		}
		d.motion[ch] = motionLatch{detected: true, at: at}
		flagged = append(flagged, ch)
	}
	d.mu.Unlock()

	for _, ch := range flagged {
		d.logger.Debug("motion detected", "channel", ch)
		d.bus.Publish(events.MotionEvent{Channel: ch, At: at})
	}
}

// TakeMotion reports whether motion is latched on ch, clearing the latch
// and the hardware status bit if so
func (d *Device) TakeMotion(ch int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch < 0 || ch >= len(d.motion) || !d.motion[ch].detected {
		return false
	}
	d.motion[ch] = motionLatch{}
	d.backend.Regs.Write32(driver.RegVIMotClear, 1<<uint(ch))
	return true
}

// Motion returns when motion was latched on ch, without clearing it
func (d *Device) Motion(ch int) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch < 0 || ch >= len(d.motion) || !d.motion[ch].detected {
		return time.Time{}, false
	}
	return d.motion[ch].at, true
}
