package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/emergingrobotics/go-solo6010/internal/logging"
	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
)

// DefaultPoll is how often a Recorder drains the descriptor ring
const DefaultPoll = 10 * time.Millisecond

// Recorder copies descriptors published on a ring into a trace. It reads
// through one unfiltered cursor, so it only sees descriptors published
// after it starts and loses entries it falls a full ring behind on.
type Recorder struct {
	w        *Writer
	poll     time.Duration
	channels int
	cursor   *encoder.Cursor
	logger   *slog.Logger
}

// NewRecorder creates a recorder for channels 0..channels-1
func NewRecorder(ring *encoder.DescriptorRing, channels int, w *Writer, poll time.Duration) *Recorder {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Recorder{
		w:        w,
		poll:     poll,
		channels: channels,
		cursor:   ring.NewCursor(encoder.AnyChannel),
		logger:   logging.GetLogger("trace"),
	}
}

// Run records until ctx is done, then drains what is left and flushes
func (rec *Recorder) Run(ctx context.Context) error {
	tick := time.NewTicker(rec.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := rec.drain(); err != nil {
				return err
			}
			rec.logger.Debug("trace finished", "records", rec.w.Count(), "lost", rec.Lost())
			return rec.w.Flush()
		case <-tick.C:
			if err := rec.drain(); err != nil {
				return err
			}
		}
	}
}

// drain writes every pending descriptor in publication order
func (rec *Recorder) drain() error {
	for {
		d, ok := rec.cursor.Next()
		if !ok {
			return nil
		}
		if d.Channel < 0 || d.Channel >= rec.channels {
			continue
		}
		if err := rec.w.Write(d); err != nil {
			return err
		}
	}
}

// Lost returns descriptors overwritten before the recorder read them
func (rec *Recorder) Lost() uint64 {
	return rec.cursor.Lost()
}
