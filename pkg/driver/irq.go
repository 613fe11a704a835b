package driver

import "sync"

// IrqMask serializes read-modify-write updates of the interrupt enable
// register, which several subsystems share
type IrqMask struct {
	regs Registers
	mu   sync.Mutex
}

// NewIrqMask creates an enable-register accessor
func NewIrqMask(regs Registers) *IrqMask {
	return &IrqMask{regs: regs}
}

// On enables the given interrupt bits
func (m *IrqMask) On(bits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs.Write32(RegIrqEnable, m.regs.Read32(RegIrqEnable)|bits)
}

// Off disables the given interrupt bits
func (m *IrqMask) Off(bits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs.Write32(RegIrqEnable, m.regs.Read32(RegIrqEnable)&^bits)
}

// Enabled returns the current enable mask
func (m *IrqMask) Enabled() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs.Read32(RegIrqEnable)
}
