package sim

import (
	"fmt"
	"time"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

type faults struct {
	dropCompletions int
	pciErrors       int
	stuck           bool
}

// DropCompletions makes the next n transfers finish without raising their
// completion interrupt
func (d *Device) DropCompletions(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.dropCompletions = n
}

// InjectPCIErrors makes the next n transfers abort with a P2M PCI error
func (d *Device) InjectPCIErrors(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.pciErrors = n
}

// SetStuck makes every transfer abort with a PCI error until cleared
func (d *Device) SetStuck(stuck bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.stuck = stuck
}

// Map implements driver.Mapper by registering buf in the channel's host
// window
func (d *Device) Map(channel int, buf []byte, dir driver.DmaDirection) (driver.Mapping, error) {
	if channel < 0 || channel >= driver.NrP2M {
		return nil, driver.NewError(driver.StatusInvalidChannel, fmt.Sprintf("sim map channel %d", channel))
	}
	addr := hostWindowBase + uint32(channel)*hostWindowStride

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.mappings[addr]; busy {
		return nil, driver.NewError(driver.StatusBusy, fmt.Sprintf("sim host window %d already mapped", channel))
	}
	d.mappings[addr] = buf
	return &mapping{dev: d, addr: addr}, nil
}

type mapping struct {
	dev  *Device
	addr uint32
	done bool
}

func (m *mapping) Addr() uint32 { return m.addr }

func (m *mapping) Unmap() error {
	if m.done {
		return nil
	}
	m.done = true
	m.dev.mu.Lock()
	delete(m.dev.mappings, m.addr)
	m.dev.mu.Unlock()
	return nil
}

// Mapped reports how many host buffers are currently mapped
func (d *Device) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mappings)
}

// BusMemory returns the DMA-coherent region and its bus address, for use
// with driver.BounceMapper
func (d *Device) BusMemory() ([]byte, uint64) {
	return d.bus, uint64(busMemoryBase)
}

// hostSlice resolves a bus address to host memory
func (d *Device) hostSlice(addr uint32, n int) ([]byte, bool) {
	if buf, ok := d.mappings[addr]; ok {
		if n > len(buf) {
			n = len(buf)
		}
		return buf[:n], true
	}
	if d.bus != nil && addr >= busMemoryBase && int(addr-busMemoryBase)+n <= len(d.bus) {
		start := addr - busMemoryBase
		return d.bus[start : int(start)+n], true
	}
	return nil, false
}

// extSlice resolves a device external memory address
func (d *Device) extSlice(addr uint32, n int) ([]byte, bool) {
	if addr < d.extBase || int(addr-d.extBase)+n > len(d.ext) {
		return nil, false
	}
	start := addr - d.extBase
	return d.ext[start : int(start)+n], true
}

func (d *Device) startTransferLocked(id int) {
	if d.faults.stuck || d.faults.pciErrors > 0 {
		if d.faults.pciErrors > 0 {
			d.faults.pciErrors--
		}
		d.pciErrorLocked()
		return
	}

	ctrl := d.regs[driver.RegP2MControl(id)]
	size := int(d.regs[driver.RegP2MExtCfg(id)]&0xfffff) * 4
	host, okHost := d.hostSlice(d.regs[driver.RegP2MTarAdr(id)], size)
	ext, okExt := d.extSlice(d.regs[driver.RegP2MExtAdr(id)], len(host))
	if !okHost || !okExt {
		d.logger.Debug("p2m target outside mapped memory", "channel", id,
			"tar", d.regs[driver.RegP2MTarAdr(id)], "ext", d.regs[driver.RegP2MExtAdr(id)])
		d.pciErrorLocked()
		return
	}

	if ctrl&driver.P2MWrite != 0 {
		copy(ext, host)
		d.stats.BytesToDevice += len(host)
	} else {
		copy(host, ext)
		d.stats.BytesToHost += len(host)
	}
	d.stats.Transfers++

	if d.faults.dropCompletions > 0 {
		d.faults.dropCompletions--
		return
	}

	if d.opts.Latency > 0 {
		time.AfterFunc(d.opts.Latency, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.raiseLocked(driver.IrqP2M(id))
		})
		return
	}
	d.raiseLocked(driver.IrqP2M(id))
}

func (d *Device) pciErrorLocked() {
	d.regs[driver.RegPCIErr] |= driver.PCIErrP2M
	d.raiseLocked(driver.IrqPCIErr)
}

// PokeExt writes directly into external memory, bypassing the P2M engine
func (d *Device) PokeExt(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst, ok := d.extSlice(addr, len(data))
	if !ok {
		return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("ext address 0x%08x", addr))
	}
	copy(dst, data)
	return nil
}

// PeekExt reads directly from external memory
func (d *Device) PeekExt(addr uint32, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.extSlice(addr, n)
	if !ok {
		return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("ext address 0x%08x", addr))
	}
	return append([]byte(nil), src...), nil
}
