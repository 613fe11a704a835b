package driver

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultSysfsRoot is where the kernel publishes UIO device attributes
const DefaultSysfsRoot = "/sys/class/uio"

// irqPollMs bounds how long WaitIRQ sleeps before checking for Close
const irqPollMs = 250

// UIODevice is a SOLO6010 bound to the uio_pci_generic or uio_dmem_genirq
// driver. Map 0 is BAR0; map 1, when present, is a DMA-coherent bounce
// region used for P2M transfers.
type UIODevice struct {
	fd      int
	path    string
	name    string
	bar     []byte
	bounce  []byte
	busAddr uint64
	mu      sync.Mutex
	closed  atomic.Bool
}

// OpenUIO opens a UIO device node such as /dev/uio0
func OpenUIO(path string) (*UIODevice, error) {
	return openUIO(path, DefaultSysfsRoot)
}

func openUIO(path, sysfsRoot string) (*UIODevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, wrapSyscallErr(err, "opening device "+path)
	}

	name := filepath.Base(path)
	dev := &UIODevice{fd: fd, path: path, name: name}

	mapsDir := filepath.Join(sysfsRoot, name, "maps")
	barSize, err := readSysfsUint(filepath.Join(mapsDir, "map0", "size"))
	if err != nil {
		unix.Close(fd)
		return nil, NewErrorWithCause(StatusNotFound, "reading BAR0 size", err)
	}

	dev.bar, err = unix.Mmap(fd, 0, int(barSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, wrapSyscallErr(err, "mapping BAR0")
	}

	// The bounce region is optional; without it the device can only be
	// used for register access.
	if size, err := readSysfsUint(filepath.Join(mapsDir, "map1", "size")); err == nil {
		addr, err := readSysfsUint(filepath.Join(mapsDir, "map1", "addr"))
		if err != nil {
			dev.Close()
			return nil, NewErrorWithCause(StatusNotFound, "reading bounce region address", err)
		}
		dev.bounce, err = unix.Mmap(fd, int64(os.Getpagesize()), int(size),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			dev.Close()
			return nil, wrapSyscallErr(err, "mapping bounce region")
		}
		dev.busAddr = addr
	}

	return dev, nil
}

// Close unmaps all regions and closes the device
func (d *UIODevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Swap(true) {
		return nil
	}

	var firstErr error
	if d.bounce != nil {
		if err := unix.Munmap(d.bounce); err != nil && firstErr == nil {
			firstErr = wrapSyscallErr(err, "unmapping bounce region")
		}
		d.bounce = nil
	}
	if d.bar != nil {
		if err := unix.Munmap(d.bar); err != nil && firstErr == nil {
			firstErr = wrapSyscallErr(err, "unmapping BAR0")
		}
		d.bar = nil
	}
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = wrapSyscallErr(err, "closing device")
	}
	d.fd = -1
	return firstErr
}

// Path returns the device node path
func (d *UIODevice) Path() string {
	return d.path
}

func (d *UIODevice) reg(off uint32) *uint32 {
	if int(off)+4 > len(d.bar) || off&3 != 0 {
		panic(fmt.Sprintf("register offset 0x%04x outside BAR0", off))
	}
	return (*uint32)(unsafe.Pointer(&d.bar[off]))
}

// Read32 reads a device register
func (d *UIODevice) Read32(off uint32) uint32 {
	return atomic.LoadUint32(d.reg(off))
}

// Write32 writes a device register
func (d *UIODevice) Write32(off uint32, val uint32) {
	atomic.StoreUint32(d.reg(off), val)
}

// WaitIRQ blocks until the device interrupts or is closed
func (d *UIODevice) WaitIRQ() (uint32, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		if d.closed.Load() {
			return 0, ErrDeviceClosed
		}
		n, err := unix.Poll(fds, irqPollMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, wrapSyscallErr(err, "polling interrupt")
		}
		if n == 0 {
			continue
		}
		var buf [4]byte
		if _, err := unix.Read(d.fd, buf[:]); err != nil {
			return 0, wrapSyscallErr(err, "reading interrupt count")
		}
		return binary.NativeEndian.Uint32(buf[:]), nil
	}
}

// EnableIRQ re-enables interrupt delivery through the UIO control write
func (d *UIODevice) EnableIRQ() error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	if _, err := unix.Write(d.fd, buf[:]); err != nil {
		return wrapSyscallErr(err, "enabling interrupt")
	}
	return nil
}

// BounceMapper returns a Mapper backed by the device's bounce region, or
// nil if the UIO driver did not expose one
func (d *UIODevice) BounceMapper() *BounceMapper {
	if d.bounce == nil {
		return nil
	}
	return NewBounceMapper(d.bounce, d.busAddr, NrP2M)
}

// readSysfsUint reads a sysfs attribute holding a decimal or 0x-prefixed
// hexadecimal number
func readSysfsUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 0, 64)
}
