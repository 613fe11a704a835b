package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
	"github.com/emergingrobotics/go-solo6010/pkg/events"
	"github.com/emergingrobotics/go-solo6010/pkg/metrics"
	"github.com/emergingrobotics/go-solo6010/pkg/p2m"
)

// Errors for reader operations
var (
	ErrStreamClosed = errors.New("stream is closed")
	ErrWouldBlock   = errors.New("no completed buffer")
	ErrNotStarted   = errors.New("stream is not started")
)

// DefaultTick is the fallback wakeup period of a reader's delivery task
const DefaultTick = time.Second

// Format selects what a reader delivers
type Format int

const (
	FormatMPEG4 Format = iota
	FormatMJPEG
)

// String returns the format name
func (f Format) String() string {
	if f == FormatMJPEG {
		return "mjpeg"
	}
	return "mpeg4"
}

// ParseFormat parses "mpeg4" or "mjpeg"
func ParseFormat(s string) (Format, error) {
	switch s {
	case "mpeg4", "mpeg", "m4v":
		return FormatMPEG4, nil
	case "mjpeg", "jpeg", "jpg":
		return FormatMJPEG, nil
	}
	return 0, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("unknown format %q", s))
}

// RingReader copies bytes out of a device ring
type RingReader interface {
	ReadRing(ctx context.Context, id int, ring p2m.Ring, buf []byte, off, length uint32) error
}

// Admission starts and stops a channel's encoder on behalf of readers
type Admission interface {
	Activate(ch int, reader uint64) error
	Deactivate(ch int, reader uint64) error
	State(ch int) (encoder.ChannelState, error)
	Standard() driver.VideoStandard
	FPS() uint32
}

// MotionSource reports and clears latched motion for a channel
type MotionSource interface {
	TakeMotion(ch int) bool
}

// Source is everything a reader pulls frames from
type Source struct {
	DMA       RingReader
	Ring      *encoder.DescriptorRing
	Admission Admission
	Layout    driver.ExtLayout
	Motion    MotionSource // optional
	Bus       *events.Bus  // optional
}

// Config configures a Reader
type Config struct {
	Channel int
	Format  Format
	Tick    time.Duration
}

var readerIDs atomic.Uint64

// Reader is one open consumer of an encoder channel. Buffers are queued
// with QueueBuffer, filled by a delivery goroutine while the reader is
// started, and collected with Dequeue.
type Reader struct {
	id     uint64
	src    Source
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	queued   []*Buffer
	done     []*Buffer
	started  bool
	closed   bool
	cancel   context.CancelFunc
	finished chan struct{}

	ready chan struct{}
	kick  chan struct{}

	// owned by the delivery goroutine
	cursor    *encoder.Cursor
	delivered uint32
}

// NewReader creates a stopped reader
func NewReader(src Source, cfg Config) (*Reader, error) {
	if src.DMA == nil || src.Ring == nil || src.Admission == nil {
		return nil, driver.NewError(driver.StatusInvalidArgument, "incomplete reader source")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if _, err := src.Admission.State(cfg.Channel); err != nil {
		return nil, err
	}
	return &Reader{
		id:     readerIDs.Add(1),
		src:    src,
		cfg:    cfg,
		logger: logging.GetLogger("stream"),
		ready:  make(chan struct{}, 1),
		kick:   make(chan struct{}, 1),
	}, nil
}

// ID returns the reader's admission identity
func (r *Reader) ID() uint64 {
	return r.id
}

// Channel returns the encoder channel the reader consumes
func (r *Reader) Channel() int {
	return r.cfg.Channel
}

// Format returns what the reader delivers
func (r *Reader) Format() Format {
	return r.cfg.Format
}

// SetFormat changes the delivered format of a stopped reader
func (r *Reader) SetFormat(f Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return driver.NewError(driver.StatusBusy, "format change while streaming")
	}
	r.cfg.Format = f
	return nil
}

// Start admits the reader on its channel and starts delivery. Only frames
// encoded after Start are delivered.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStreamClosed
	}
	if r.started {
		return nil
	}
	if err := r.src.Admission.Activate(r.cfg.Channel, r.id); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cursor = r.src.Ring.NewCursor(r.cfg.Channel)
	r.delivered = 0
	r.cancel = cancel
	r.finished = make(chan struct{})
	r.started = true

	go r.run(ctx, r.finished)

	r.logger.Debug("reader started", "reader", r.id, "channel", r.cfg.Channel, "format", r.cfg.Format)
	return nil
}

// Stop halts delivery and releases the channel. Queued buffers stay
// queued.
func (r *Reader) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel, finished := r.cancel, r.finished
	r.mu.Unlock()

	cancel()
	<-finished
	r.signal(r.ready)

	lost := r.cursor.Lost()
	if lost > 0 {
		r.logger.Warn("descriptors overwritten before delivery", "reader", r.id, "channel", r.cfg.Channel, "lost", lost)
	}
	r.logger.Debug("reader stopped", "reader", r.id, "channel", r.cfg.Channel)
	return r.src.Admission.Deactivate(r.cfg.Channel, r.id)
}

// Close stops the reader and wakes any blocked Dequeue. Buffers still
// queued are returned.
func (r *Reader) Close() ([]*Buffer, error) {
	err := r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, err
	}
	r.closed = true
	rest := append(r.queued, r.done...)
	r.queued, r.done = nil, nil
	for _, b := range rest {
		b.reset(StateIdle)
	}
	r.signal(r.ready)
	return rest, err
}

// Closed reports whether Close has been called
func (r *Reader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// QueueBuffer hands buf to the reader for filling
func (r *Reader) QueueBuffer(buf *Buffer) error {
	if buf == nil {
		return driver.NewError(driver.StatusInvalidArgument, "nil buffer")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStreamClosed
	}
	if buf.state == StateQueued || buf.state == StateActive {
		return driver.NewError(driver.StatusBusy, "buffer already queued")
	}
	buf.reset(StateQueued)
	r.queued = append(r.queued, buf)
	r.signal(r.kick)
	return nil
}

// Queued returns the number of buffers waiting to be filled
func (r *Reader) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued)
}

// Dequeue returns the next completed buffer, in Done or Error state. With
// nonBlocking set it fails with ErrWouldBlock instead of waiting.
func (r *Reader) Dequeue(ctx context.Context, nonBlocking bool) (*Buffer, error) {
	for {
		r.mu.Lock()
		if len(r.done) > 0 {
			buf := r.done[0]
			r.done = r.done[1:]
			r.mu.Unlock()
			if r.src.Motion != nil && buf.state == StateDone {
				buf.motion = r.src.Motion.TakeMotion(r.cfg.Channel)
			}
			return buf, nil
		}
		if r.closed {
			r.mu.Unlock()
			return nil, ErrStreamClosed
		}
		idle := !r.started
		r.mu.Unlock()

		if nonBlocking {
			return nil, ErrWouldBlock
		}
		if idle {
			return nil, ErrNotStarted
		}

		select {
		case <-r.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Reader) signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// run is the delivery goroutine
func (r *Reader) run(ctx context.Context, finished chan struct{}) {
	defer close(finished)

	wake, unregister := r.src.Ring.Notify(r.cfg.Channel)
	defer unregister()

	tick := time.NewTicker(r.cfg.Tick)
	defer tick.Stop()

	for {
		r.deliver(ctx)

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-r.kick:
		case <-tick.C:
		}
	}
}

// deliver fills queued buffers until it runs out of buffers or frames
func (r *Reader) deliver(ctx context.Context) {
	for ctx.Err() == nil {
		r.mu.Lock()
		if len(r.queued) == 0 {
			r.mu.Unlock()
			return
		}
		desc, ok := r.cursor.Next()
		if !ok {
			r.mu.Unlock()
			return
		}
		buf := r.queued[0]
		r.queued = r.queued[1:]
		buf.state = StateActive
		r.mu.Unlock()

		err := r.fill(ctx, buf, desc)
		if err != nil && ctx.Err() != nil {
			// canceled mid-transfer: the frame is dropped, the buffer is not
			r.mu.Lock()
			buf.reset(StateQueued)
			r.queued = append([]*Buffer{buf}, r.queued...)
			r.mu.Unlock()
			return
		}
		r.complete(buf, desc, err)
	}
}

func (r *Reader) complete(buf *Buffer, desc encoder.FrameDescriptor, err error) {
	format := r.cfg.Format.String()
	if err != nil {
		buf.fail(err)
		metrics.RecordFrame(r.cfg.Channel, format, "error")
		r.src.Bus.Publish(events.FrameErrorEvent{Channel: r.cfg.Channel, Format: format, Err: err.Error()})
		r.logger.Debug("frame failed", "reader", r.id, "channel", r.cfg.Channel, "seq", desc.Seq, "error", err)
	} else {
		buf.state = StateDone
		buf.timestamp = desc.Timestamp
		buf.sequence = r.delivered
		buf.vop = uint8(desc.Vop)
		r.delivered++
		metrics.RecordFrame(r.cfg.Channel, format, "ok")
		r.src.Bus.Publish(events.FrameDeliveredEvent{
			Channel:   r.cfg.Channel,
			Format:    format,
			Sequence:  buf.sequence,
			Size:      buf.bytesUsed,
			VopType:   buf.vop,
			Timestamp: buf.timestamp,
		})
	}

	r.mu.Lock()
	r.done = append(r.done, buf)
	r.mu.Unlock()
	r.signal(r.ready)
}

func (r *Reader) fill(ctx context.Context, buf *Buffer, desc encoder.FrameDescriptor) error {
	if r.cfg.Format == FormatMJPEG {
		return r.fillJPEG(ctx, buf, desc)
	}
	return r.fillMPEG(ctx, buf, desc)
}

func (r *Reader) mpegRing() p2m.Ring {
	return p2m.Ring{Base: r.src.Layout.MPEGAddr, Capacity: r.src.Layout.MPEGSize}
}

func (r *Reader) jpegRing() p2m.Ring {
	return p2m.Ring{Base: r.src.Layout.JPEGAddr, Capacity: r.src.Layout.JPEGSize}
}

func (r *Reader) fillMPEG(ctx context.Context, buf *Buffer, desc encoder.FrameDescriptor) error {
	if len(buf.data) < int(desc.MPEGSize) {
		return driver.NewError(driver.StatusBufferTooSmall, fmt.Sprintf("mpeg frame of %d bytes in %d byte buffer", desc.MPEGSize, len(buf.data)))
	}
	if desc.MPEGSize < driver.VopHeaderSize {
		return driver.NewError(driver.StatusCorrupt, fmt.Sprintf("mpeg frame of %d bytes", desc.MPEGSize))
	}

	var raw [driver.VopHeaderSize]byte
	if err := r.src.DMA.ReadRing(ctx, driver.P2MChanMPEG, r.mpegRing(), raw[:], desc.MPEGOffset, driver.VopHeaderSize); err != nil {
		return fmt.Errorf("reading vop header: %w", err)
	}
	vh, err := ParseVopHeader(raw[:])
	if err != nil {
		return err
	}
	if vh.Size > desc.MPEGSize {
		return driver.NewError(driver.StatusCorrupt, fmt.Sprintf("vop header size %d exceeds frame %d", vh.Size, desc.MPEGSize))
	}

	withVOL := desc.Vop.IsKey() || r.delivered == 0
	p := buf.data
	if withVOL {
		p = p[VOLHeaderSize:]
	}

	off := (desc.MPEGOffset + driver.VopHeaderSize) % r.src.Layout.MPEGSize
	size := desc.MPEGSize - driver.VopHeaderSize
	if err := r.src.DMA.ReadRing(ctx, driver.P2MChanMPEG, r.mpegRing(), p, off, size); err != nil {
		return fmt.Errorf("reading vop: %w", err)
	}
	if size < 4 || !bytes.Equal(p[:4], vopStartCode[:]) {
		return driver.NewError(driver.StatusCorrupt, "missing vop start code")
	}

	buf.bytesUsed = int(vh.Size)
	if withVOL {
		st, err := r.src.Admission.State(r.cfg.Channel)
		if err != nil {
			return err
		}
		BuildVOLHeader(buf.data, VOLParams{
			Standard:  r.src.Admission.Standard(),
			FPS:       r.src.Admission.FPS(),
			Interval:  st.Interval,
			Width:     vh.Width(),
			Height:    vh.Height(),
			Interlace: vh.Interlace,
		})
		buf.bytesUsed += VOLHeaderSize
	}
	return nil
}

func (r *Reader) fillJPEG(ctx context.Context, buf *Buffer, desc encoder.FrameDescriptor) error {
	hdr := JPEGHeaderSize()
	if len(buf.data) < int(desc.JPEGSize)+hdr {
		return driver.NewError(driver.StatusBufferTooSmall, fmt.Sprintf("jpeg frame of %d bytes in %d byte buffer", int(desc.JPEGSize)+hdr, len(buf.data)))
	}

	st, err := r.src.Admission.State(r.cfg.Channel)
	if err != nil {
		return err
	}
	BuildJPEGHeader(buf.data, st.Width, st.Height)

	if err := r.src.DMA.ReadRing(ctx, driver.P2MChanJPEG, r.jpegRing(), buf.data[hdr:], desc.JPEGOffset, desc.JPEGSize); err != nil {
		return fmt.Errorf("reading jpeg: %w", err)
	}
	buf.bytesUsed = int(desc.JPEGSize) + hdr
	return nil
}
