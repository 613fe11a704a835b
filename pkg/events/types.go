package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeFrameDelivered uint32 = iota + 1
	TypeFrameError
	TypeGOPReset
	TypeDMAError
	TypeMotion
	TypeAdmission
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FrameDeliveredEvent is published when a reader completes a buffer
type FrameDeliveredEvent struct {
	Channel   int
	Format    string
	Sequence  uint32
	Size      int
	VopType   uint8
	Timestamp time.Time
}

// Type returns the event type identifier for FrameDeliveredEvent.
func (e FrameDeliveredEvent) Type() uint32 { return TypeFrameDelivered }

// FrameErrorEvent is published when a buffer is completed in error
type FrameErrorEvent struct {
	Channel int
	Format  string
	Err     string
}

// Type returns the event type identifier for FrameErrorEvent.
func (e FrameErrorEvent) Type() uint32 { return TypeFrameError }

// GOPResetEvent is published when the ring consumer detects a desync
// (Resync false) and when the channel resumes on a key frame (Resync true)
type GOPResetEvent struct {
	Channel int
	Resync  bool
}

// Type returns the event type identifier for GOPResetEvent.
func (e GOPResetEvent) Type() uint32 { return TypeGOPReset }

// DMAErrorEvent is published for a PCI error interrupt that aborted P2M
type DMAErrorEvent struct {
	Status uint32
}

// Type returns the event type identifier for DMAErrorEvent.
func (e DMAErrorEvent) Type() uint32 { return TypeDMAError }

// MotionEvent is published for each channel flagged by the motion ISR
type MotionEvent struct {
	Channel int
	At      time.Time
}

// Type returns the event type identifier for MotionEvent.
func (e MotionEvent) Type() uint32 { return TypeMotion }

// AdmissionEvent reports encoder activation and release
type AdmissionEvent struct {
	Channel   int
	Active    bool
	Weight    int
	Remaining int
}

// Type returns the event type identifier for AdmissionEvent.
func (e AdmissionEvent) Type() uint32 { return TypeAdmission }
