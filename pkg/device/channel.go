package device

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
	"github.com/emergingrobotics/go-solo6010/pkg/stream"
	"github.com/emergingrobotics/go-solo6010/pkg/tw28"
)

// Channel is a handle on one encoder channel of a device
type Channel struct {
	dev *Device
	id  int
}

// Frame is a single delivered picture copied out of a frame buffer
type Frame struct {
	Channel   int
	Format    stream.Format
	Data      []byte
	Sequence  uint32
	Timestamp time.Time
	KeyFrame  bool
	Motion    bool
}

// Channel returns a handle on encoder channel ch
func (d *Device) Channel(ch int) (*Channel, error) {
	if ch < 0 || ch >= d.cfg.Channels {
		return nil, driver.NewError(driver.StatusInvalidChannel, fmt.Sprintf("channel %d", ch))
	}
	return &Channel{dev: d, id: ch}, nil
}

// ID returns the channel number
func (c *Channel) ID() int {
	return c.id
}

// State returns the channel's encoder settings and reader count
func (c *Channel) State() (encoder.ChannelState, error) {
	return c.dev.ctrl.State(c.id)
}

// Active reports whether any reader holds the channel's encoder
func (c *Channel) Active() bool {
	return c.dev.ctrl.Readers(c.id) > 0
}

// SetMode selects the capture geometry
func (c *Channel) SetMode(width, height int) (encoder.FrameSize, error) {
	return c.dev.ctrl.SetMode(c.id, width, height)
}

// SetInterval sets the frame interval and returns the value applied
func (c *Channel) SetInterval(interval uint32) (uint32, error) {
	return c.dev.ctrl.SetInterval(c.id, interval)
}

// SetGOP sets the key frame period
func (c *Channel) SetGOP(gop uint32) error {
	return c.dev.ctrl.SetGOP(c.id, gop)
}

// SetControl writes a picture control on the channel's video decoder
func (c *Channel) SetControl(ctrl tw28.Control, val int) error {
	if c.dev.decoders == nil {
		return ErrNoDecoders
	}
	return c.dev.decoders.Set(c.id, ctrl, val)
}

// Control reads a picture control from the channel's video decoder
func (c *Channel) Control(ctrl tw28.Control) (int, error) {
	if c.dev.decoders == nil {
		return 0, ErrNoDecoders
	}
	return c.dev.decoders.Get(c.id, ctrl)
}

// OpenReader creates a stopped reader on the channel. The device closes
// it on Close if the caller has not.
func (c *Channel) OpenReader(format stream.Format) (*stream.Reader, error) {
	d := c.dev
	rd, err := stream.NewReader(stream.Source{
		DMA:       d.engine,
		Ring:      d.ring,
		Admission: d.ctrl,
		Layout:    d.cfg.Layout,
		Motion:    d,
		Bus:       d.bus,
	}, stream.Config{Channel: c.id, Format: format, Tick: d.cfg.Tick})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	for id, r := range d.readers {
		if r.Closed() {
			delete(d.readers, id)
		}
	}
	d.readers[rd.ID()] = rd
	return rd, nil
}

// RequestFrame captures the next frame encoded on the channel: it opens a
// reader, queues one buffer, waits for it and closes the reader.
func (c *Channel) RequestFrame(ctx context.Context, format stream.Format) (*Frame, error) {
	d := c.dev
	buf := d.pool.TryGet()
	pooled := buf != nil
	if !pooled {
		var err error
		if buf, err = stream.WrapBuffer(make([]byte, driver.FrameBufSize)); err != nil {
			return nil, err
		}
	}
	defer func() {
		if pooled {
			d.pool.Put(buf)
		}
	}()

	rd, err := c.OpenReader(format)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	if err := rd.QueueBuffer(buf); err != nil {
		return nil, err
	}
	if err := rd.Start(); err != nil {
		return nil, err
	}

	got, err := rd.Dequeue(ctx, false)
	if err != nil {
		return nil, err
	}
	if got.State() == stream.StateError {
		return nil, got.Err()
	}

	return &Frame{
		Channel:   c.id,
		Format:    format,
		Data:      bytes.Clone(got.Bytes()),
		Sequence:  got.Sequence(),
		Timestamp: got.Timestamp(),
		KeyFrame:  got.KeyFrame(),
		Motion:    got.Motion(),
	}, nil
}

// OpenReader creates a stopped reader on channel ch
func (d *Device) OpenReader(ch int, format stream.Format) (*stream.Reader, error) {
	c, err := d.Channel(ch)
	if err != nil {
		return nil, err
	}
	return c.OpenReader(format)
}

// RequestFrame captures the next frame encoded on channel ch
func (d *Device) RequestFrame(ctx context.Context, ch int, format stream.Format) (*Frame, error) {
	c, err := d.Channel(ch)
	if err != nil {
		return nil, err
	}
	return c.RequestFrame(ctx, format)
}

// SetMode selects the capture geometry of channel ch
func (d *Device) SetMode(ch, width, height int) (encoder.FrameSize, error) {
	return d.ctrl.SetMode(ch, width, height)
}

// SetInterval sets the frame interval of channel ch
func (d *Device) SetInterval(ch int, interval uint32) (uint32, error) {
	return d.ctrl.SetInterval(ch, interval)
}

// SetGOP sets the key frame period of channel ch
func (d *Device) SetGOP(ch int, gop uint32) error {
	return d.ctrl.SetGOP(ch, gop)
}
