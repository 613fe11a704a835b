package stream

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the system page size (typically 4096 bytes)
const PageSize = 4096

// BufferState tracks a frame buffer through a reader
type BufferState int

const (
	StateIdle BufferState = iota
	StateQueued
	StateActive
	StateDone
	StateError
)

// String returns the state name
func (s BufferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("BufferState(%d)", int(s))
	}
}

// Buffer is an output frame buffer handed to a Reader
type Buffer struct {
	data          []byte
	index         int
	mu            sync.Mutex
	pageAligned   bool
	allocatedSize uint64 // includes alignment padding

	state     BufferState
	bytesUsed int
	timestamp time.Time
	sequence  uint32
	vop       uint8
	motion    bool
	err       error
}

// AllocateBuffer allocates a page-aligned frame buffer
func AllocateBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer size must be positive")
	}

	alignedSize := ((uint64(size) + PageSize - 1) / PageSize) * PageSize

	data, err := unix.Mmap(-1, 0, int(alignedSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return &Buffer{
		data:          data[:size],
		pageAligned:   true,
		allocatedSize: alignedSize,
	}, nil
}

// WrapBuffer wraps caller-owned memory as a frame buffer
func WrapBuffer(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("buffer cannot be empty")
	}
	return &Buffer{
		data:          data,
		allocatedSize: uint64(len(data)),
	}, nil
}

// Data returns the whole buffer
func (b *Buffer) Data() []byte {
	return b.data
}

// Bytes returns the frame held by a completed buffer
func (b *Buffer) Bytes() []byte {
	return b.data[:b.bytesUsed]
}

// Size returns the usable buffer size
func (b *Buffer) Size() int {
	return len(b.data)
}

// Index returns the buffer's position in its pool
func (b *Buffer) Index() int {
	return b.index
}

// State returns where the buffer is in the reader
func (b *Buffer) State() BufferState {
	return b.state
}

// BytesUsed returns the frame size of a completed buffer
func (b *Buffer) BytesUsed() int {
	return b.bytesUsed
}

// Timestamp returns the capture time of the frame
func (b *Buffer) Timestamp() time.Time {
	return b.timestamp
}

// Sequence returns the reader's frame counter for this buffer
func (b *Buffer) Sequence() uint32 {
	return b.sequence
}

// VopType returns the picture coding type of an MPEG-4 frame
func (b *Buffer) VopType() uint8 {
	return b.vop
}

// KeyFrame reports whether the buffer holds an I frame
func (b *Buffer) KeyFrame() bool {
	return b.state == StateDone && b.vop == 0
}

// Motion reports whether motion was flagged on the channel when the
// buffer was dequeued
func (b *Buffer) Motion() bool {
	return b.motion
}

// Err returns why the buffer completed in error
func (b *Buffer) Err() error {
	return b.err
}

func (b *Buffer) reset(state BufferState) {
	b.state = state
	b.bytesUsed = 0
	b.timestamp = time.Time{}
	b.sequence = 0
	b.vop = 0
	b.motion = false
	b.err = nil
}

func (b *Buffer) fail(err error) {
	b.state = StateError
	b.bytesUsed = 0
	b.err = err
}

// Close releases the buffer memory if it was allocated by AllocateBuffer
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pageAligned && len(b.data) > 0 {
		original := unsafe.Slice(&b.data[0], int(b.allocatedSize))
		if err := unix.Munmap(original); err != nil {
			return fmt.Errorf("munmap failed: %w", err)
		}
		b.data = nil
	}
	return nil
}

// BufferPool manages a set of reusable frame buffers
type BufferPool struct {
	bufSize int
	pool    chan *Buffer
	mu      sync.Mutex
	closed  bool
}

// NewBufferPool allocates poolSize buffers of bufSize bytes
func NewBufferPool(bufSize, poolSize int) (*BufferPool, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive")
	}

	bp := &BufferPool{
		bufSize: bufSize,
		pool:    make(chan *Buffer, poolSize),
	}

	for i := 0; i < poolSize; i++ {
		buf, err := AllocateBuffer(bufSize)
		if err != nil {
			bp.Close()
			return nil, fmt.Errorf("failed to allocate buffer %d: %w", i, err)
		}
		buf.index = i
		bp.pool <- buf
	}

	return bp, nil
}

// BufferSize returns the size of every buffer in the pool
func (bp *BufferPool) BufferSize() int {
	return bp.bufSize
}

// Get gets a buffer from the pool (blocks until available)
func (bp *BufferPool) Get() (*Buffer, error) {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	bp.mu.Unlock()

	buf, ok := <-bp.pool
	if !ok {
		return nil, fmt.Errorf("pool is closed")
	}
	return buf, nil
}

// TryGet tries to get a buffer from the pool without blocking
func (bp *BufferPool) TryGet() *Buffer {
	select {
	case buf := <-bp.pool:
		return buf
	default:
		return nil
	}
}

// Put returns a buffer to the pool
func (bp *BufferPool) Put(buf *Buffer) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.closed {
		buf.Close()
		return
	}

	buf.reset(StateIdle)
	select {
	case bp.pool <- buf:
	default:
		buf.Close()
	}
}

// Close closes the buffer pool and releases all buffers
func (bp *BufferPool) Close() error {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil
	}
	bp.closed = true
	close(bp.pool)
	bp.mu.Unlock()

	var lastErr error
	for buf := range bp.pool {
		if err := buf.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Available returns the number of available buffers in the pool
func (bp *BufferPool) Available() int {
	return len(bp.pool)
}
