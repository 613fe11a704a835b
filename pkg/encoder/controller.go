package encoder

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/metrics"
)

// Mode is an encoder capture resolution
type Mode uint32

const (
	ModeCIF Mode = Mode(driver.EncModeCIF)
	ModeD1  Mode = Mode(driver.EncModeD1)
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeCIF:
		return "CIF"
	case ModeD1:
		return "D1"
	default:
		return fmt.Sprintf("Mode(%d)", uint32(m))
	}
}

// Interlaced reports whether the mode captures both fields
func (m Mode) Interlaced() bool {
	return uint32(m)&driver.EncModeInterlaced != 0
}

// FrameSize is a supported capture geometry
type FrameSize struct {
	Mode   Mode
	Width  int
	Height int
}

// ChannelState is a snapshot of one channel's encoder settings
type ChannelState struct {
	Channel    int
	Mode       Mode
	Width      int
	Height     int
	Interval   uint32
	GOP        uint32
	QP         uint32
	Weight     int
	Readers    int
	Interlaced bool
}

type channel struct {
	id       int
	mode     Mode
	interval uint32
	gop      uint32
	qp       uint32
	weight   int
	readers  map[uint64]struct{}
}

// Options configures a Controller
type Options struct {
	Channels int
	Standard driver.VideoStandard
	// Budget overrides the bandwidth budget, which defaults to fps*16
	Budget int
}

// Controller owns per-channel encoder settings and the bandwidth ledger.
// One Controller exists per attached device.
type Controller struct {
	regs   driver.Registers
	std    driver.VideoStandard
	hsize  uint32
	vsize  uint32
	fps    uint32
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	channels  []*channel
	budget    int
	remaining int
}

// NewController creates a controller with every channel in CIF mode at
// full frame rate. bus may be nil.
func NewController(regs driver.Registers, opts Options, bus *events.Bus) *Controller {
	if opts.Channels <= 0 || opts.Channels > driver.MaxChannels {
		opts.Channels = driver.MaxChannels
	}
	hsize, vsize, fps := opts.Standard.Geometry()
	if opts.Budget <= 0 {
		opts.Budget = int(fps) * 4 * 4
	}

	c := &Controller{
		regs:      regs,
		std:       opts.Standard,
		hsize:     hsize,
		vsize:     vsize,
		fps:       fps,
		bus:       bus,
		logger:    logging.GetLogger("encoder"),
		channels:  make([]*channel, opts.Channels),
		budget:    opts.Budget,
		remaining: opts.Budget,
	}
	for i := range c.channels {
		ch := &channel{
			id:       i,
			mode:     ModeCIF,
			interval: 1,
			qp:       driver.DefaultQP,
			readers:  make(map[uint64]struct{}),
		}
		c.updateMode(ch)
		c.channels[i] = ch
	}
	metrics.SetBandwidthRemaining(c.remaining)
	return c
}

// Channels returns the number of encoder channels
func (c *Controller) Channels() int {
	return len(c.channels)
}

// Standard returns the video standard the controller was created for
func (c *Controller) Standard() driver.VideoStandard {
	return c.std
}

// FPS returns the nominal frame rate of the video standard
func (c *Controller) FPS() uint32 {
	return c.fps
}

// Remaining returns the unallocated bandwidth budget
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Budget returns the total bandwidth budget
func (c *Controller) Budget() int {
	return c.budget
}

func (c *Controller) channel(ch int) (*channel, error) {
	if ch < 0 || ch >= len(c.channels) {
		return nil, driver.NewError(driver.StatusInvalidChannel, fmt.Sprintf("encoder channel %d", ch))
	}
	return c.channels[ch], nil
}

// updateMode recomputes the derived settings. Caller holds c.mu.
func (c *Controller) updateMode(ch *channel) {
	ch.gop = max(c.fps/ch.interval, 1)
	ch.weight = int(ch.gop)
	if ch.mode == ModeD1 {
		ch.weight <<= 2
	}
}

func (c *Controller) geometry(m Mode) (int, int) {
	if m == ModeD1 {
		return int(c.hsize), int(c.vsize << 1)
	}
	return int(c.hsize >> 1), int(c.vsize)
}

// State returns a snapshot of channel ch
func (c *Controller) State(ch int) (ChannelState, error) {
	st, err := c.channel(ch)
	if err != nil {
		return ChannelState{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w, h := c.geometry(st.mode)
	return ChannelState{
		Channel:    ch,
		Mode:       st.mode,
		Width:      w,
		Height:     h,
		Interval:   st.interval,
		GOP:        st.gop,
		QP:         st.qp,
		Weight:     st.weight,
		Readers:    len(st.readers),
		Interlaced: st.mode.Interlaced(),
	}, nil
}

// Activate registers reader as a consumer of channel ch. The first reader
// of a channel is admitted against the bandwidth budget and starts the
// encoder; activating the same reader twice has no effect.
func (c *Controller) Activate(ch int, reader uint64) error {
	st, err := c.channel(ch)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := st.readers[reader]; ok {
		return nil
	}

	if len(st.readers) == 0 {
		if st.weight > c.remaining {
			c.logger.Debug("admission refused", "channel", ch, "weight", st.weight, "remaining", c.remaining)
			return driver.NewError(driver.StatusBusy, fmt.Sprintf("channel %d needs bandwidth %d, %d remaining", ch, st.weight, c.remaining))
		}
		c.remaining -= st.weight
		c.program(st)
		c.logger.Info("encoder started", "channel", ch, "mode", st.mode, "interval", st.interval, "weight", st.weight)
	}
	st.readers[reader] = struct{}{}

	c.admitted(st, true)
	return nil
}

// program starts the channel's encoder. Caller holds c.mu.
func (c *Controller) program(st *channel) {
	ch := st.id
	interval := st.interval
	intl := uint32(0)
	if st.mode.Interlaced() {
		intl = 1
		interval--
	}

	c.regs.Write32(driver.RegCapChScale(ch), 0)
	c.regs.Write32(driver.RegCapChCompEnaE(ch), 0)

	c.regs.Write32(driver.RegVEChIntl(ch), intl)

	c.regs.Write32(driver.RegVEChGOP(ch), st.gop)
	c.regs.Write32(driver.RegVEChQP(ch), st.qp)
	c.regs.Write32(driver.RegCapChIntv(ch), interval)

	c.regs.Write32(driver.RegVEChGOPE(ch), st.gop)
	c.regs.Write32(driver.RegVEChQPE(ch), st.qp)
	c.regs.Write32(driver.RegCapChIntvE(ch), interval)

	c.regs.Write32(driver.RegCapChScale(ch), uint32(st.mode))
}

// Deactivate removes reader from channel ch. The last reader returns the
// channel's bandwidth to the budget and stops the encoder.
func (c *Controller) Deactivate(ch int, reader uint64) error {
	st, err := c.channel(ch)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := st.readers[reader]; !ok {
		return nil
	}
	delete(st.readers, reader)

	if len(st.readers) == 0 {
		c.remaining += st.weight
		c.regs.Write32(driver.RegCapChScale(ch), 0)
		c.logger.Info("encoder stopped", "channel", ch, "remaining", c.remaining)
	}

	c.admitted(st, len(st.readers) > 0)
	return nil
}

// admitted reports the ledger after a change. Caller holds c.mu.
func (c *Controller) admitted(st *channel, active bool) {
	metrics.SetBandwidthRemaining(c.remaining)
	metrics.SetActiveReaders(st.id, len(st.readers))
	c.bus.Publish(events.AdmissionEvent{
		Channel:   st.id,
		Active:    active,
		Weight:    st.weight,
		Remaining: c.remaining,
	})
}

// Readers returns the number of active readers on channel ch
func (c *Controller) Readers(ch int) int {
	st, err := c.channel(ch)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(st.readers)
}

// modeFor maps a requested geometry to a mode. Anything that is not D1
// falls back to CIF.
func (c *Controller) modeFor(width, height int) Mode {
	if width == int(c.hsize) && height == int(c.vsize<<1) {
		return ModeD1
	}
	return ModeCIF
}

// TryFormat returns the geometry SetMode would select for width x height
func (c *Controller) TryFormat(width, height int) FrameSize {
	m := c.modeFor(width, height)
	w, h := c.geometry(m)
	return FrameSize{Mode: m, Width: w, Height: h}
}

// SetMode selects the capture geometry of channel ch. It fails with Busy
// if the channel has readers and the geometry would change.
func (c *Controller) SetMode(ch int, width, height int) (FrameSize, error) {
	st, err := c.channel(ch)
	if err != nil {
		return FrameSize{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(st.readers) > 0 {
		w, h := c.geometry(st.mode)
		if w != width || h != height {
			return FrameSize{}, driver.NewError(driver.StatusBusy, fmt.Sprintf("channel %d is streaming at %dx%d", ch, w, h))
		}
		return FrameSize{Mode: st.mode, Width: w, Height: h}, nil
	}

	st.mode = c.modeFor(width, height)
	c.updateMode(st)
	w, h := c.geometry(st.mode)
	return FrameSize{Mode: st.mode, Width: w, Height: h}, nil
}

// SetInterval sets the frame interval divisor of channel ch, clamped to
// 1..15. It fails with Busy while the channel has readers.
func (c *Controller) SetInterval(ch int, interval uint32) (uint32, error) {
	st, err := c.channel(ch)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(st.readers) > 0 {
		return st.interval, driver.NewError(driver.StatusBusy, fmt.Sprintf("channel %d is streaming", ch))
	}

	switch {
	case interval == 0:
		interval = 1
	case interval > driver.MaxInterval:
		interval = driver.MaxInterval
	}
	st.interval = interval
	c.updateMode(st)
	return interval, nil
}

// SetGOP sets the group-of-pictures size of channel ch
func (c *Controller) SetGOP(ch int, gop uint32) error {
	st, err := c.channel(ch)
	if err != nil {
		return err
	}
	if gop == 0 || gop > driver.MaxGOP {
		return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("gop %d out of range 1..%d", gop, driver.MaxGOP))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st.gop = gop
	c.regs.Write32(driver.RegVEChGOP(ch), gop)
	c.regs.Write32(driver.RegVEChGOPE(ch), gop)
	return nil
}

// GOP returns the group-of-pictures size channel ch resumes with after a
// reset
func (c *Controller) GOP(ch int) uint32 {
	st, err := c.channel(ch)
	if err != nil {
		return 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.gop
}

// FrameSizes lists the supported capture geometries
func (c *Controller) FrameSizes() []FrameSize {
	sizes := make([]FrameSize, 0, 2)
	for _, m := range []Mode{ModeCIF, ModeD1} {
		w, h := c.geometry(m)
		sizes = append(sizes, FrameSize{Mode: m, Width: w, Height: h})
	}
	return sizes
}

// IntervalRange returns the slowest and fastest selectable frame rates as
// frames per second
func (c *Controller) IntervalRange() (slowest, fastest float64) {
	return float64(c.fps) / driver.MaxInterval, float64(c.fps)
}
