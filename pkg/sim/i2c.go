package sim

import (
	"fmt"
	"sync"
)

// I2C is a byte-register model of the video decoder chips behind the
// SOLO6010's I2C master
type I2C struct {
	mu      sync.Mutex
	present map[uint8]bool
	regs    map[[2]uint8]uint8
	writes  int
}

// NewI2C creates an empty bus
func NewI2C() *I2C {
	return &I2C{
		present: make(map[uint8]bool),
		regs:    make(map[[2]uint8]uint8),
	}
}

// AddTW2864 places a TW2864 at addr, identified by register 0xFF
func (b *I2C) AddTW2864(addr uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.present[addr] = true
	b.regs[[2]uint8{addr, 0xff}] = 0x0c << 3
}

// AddTW2815 places a TW2815 at addr, identified by register 0x59
func (b *I2C) AddTW2815(addr uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.present[addr] = true
	b.regs[[2]uint8{addr, 0xff}] = 0
	b.regs[[2]uint8{addr, 0x59}] = 0x04 << 3
}

// ReadReg reads register reg of the chip at addr
func (b *I2C) ReadReg(addr, reg uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.present[addr] {
		return 0, fmt.Errorf("i2c: no ack from 0x%02x", addr)
	}
	return b.regs[[2]uint8{addr, reg}], nil
}

// WriteReg writes register reg of the chip at addr
func (b *I2C) WriteReg(addr, reg, val uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.present[addr] {
		return fmt.Errorf("i2c: no ack from 0x%02x", addr)
	}
	b.regs[[2]uint8{addr, reg}] = val
	b.writes++
	return nil
}

// Peek returns a register without going through the bus protocol
func (b *I2C) Peek(addr, reg uint8) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[[2]uint8{addr, reg}]
}

// Writes returns the number of successful register writes
func (b *I2C) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}
