//go:build unit

package driver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeUIO lays out a sysfs tree and a regular file standing in for the
// device node, which is enough for open, mmap and register access
func fakeUIO(t *testing.T, barSize, bounceSize int) (path, sysfs string) {
	t.Helper()
	root := t.TempDir()
	sysfs = filepath.Join(root, "class")
	path = filepath.Join(root, "uio0")

	writeAttr := func(rel, val string) {
		p := filepath.Join(sysfs, "uio0", "maps", rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(val+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	writeAttr("map0/size", "0x1000")
	if bounceSize > 0 {
		writeAttr("map1/size", "4096")
		writeAttr("map1/addr", "0x3f000000")
	}

	size := barSize
	if bounceSize > 0 {
		size = os.Getpagesize() + bounceSize
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path, sysfs
}

func TestUIORegisterAccess(t *testing.T) {
	path, sysfs := fakeUIO(t, 4096, 0)
	dev, err := openUIO(path, sysfs)
	if err != nil {
		t.Fatalf("openUIO() = %v", err)
	}
	defer dev.Close()

	dev.Write32(RegIrqEnable, 0xdeadbeef)
	if got := dev.Read32(RegIrqEnable); got != 0xdeadbeef {
		t.Errorf("Read32() = 0x%x, expected 0xdeadbeef", got)
	}
	if dev.Path() != path {
		t.Errorf("Path() = %s, expected %s", dev.Path(), path)
	}
	if dev.BounceMapper() != nil {
		t.Error("BounceMapper() without map1 should be nil")
	}
}

func TestUIOBounceRegion(t *testing.T) {
	path, sysfs := fakeUIO(t, 4096, 4096)
	dev, err := openUIO(path, sysfs)
	if err != nil {
		t.Fatalf("openUIO() = %v", err)
	}
	defer dev.Close()

	m := dev.BounceMapper()
	if m == nil {
		t.Fatal("BounceMapper() = nil")
	}
	if m.SlotSize() != 1024 {
		t.Errorf("SlotSize() = %d, expected 1024", m.SlotSize())
	}
	mp, err := m.Map(1, make([]byte, 4), DmaFromDevice)
	if err != nil {
		t.Fatal(err)
	}
	if mp.Addr() != 0x3f000400 {
		t.Errorf("Addr() = 0x%x, expected 0x3f000400", mp.Addr())
	}
}

func TestUIOMissingSysfs(t *testing.T) {
	path, _ := fakeUIO(t, 4096, 0)
	_, err := openUIO(path, t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("openUIO() without sysfs = %v, expected ErrNotFound", err)
	}
}

func TestUIOOpenNonExistent(t *testing.T) {
	_, err := OpenUIO("/dev/uio_nonexistent_12345")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenUIO() = %v, expected ErrNotFound", err)
	}
}

func TestUIOCloseTwice(t *testing.T) {
	path, sysfs := fakeUIO(t, 4096, 0)
	dev, err := openUIO(path, sysfs)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := dev.WaitIRQ(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("WaitIRQ() after Close = %v, expected ErrDeviceClosed", err)
	}
}

func TestRegisterOutsideBARPanics(t *testing.T) {
	path, sysfs := fakeUIO(t, 4096, 0)
	dev, err := openUIO(path, sysfs)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	defer func() {
		if recover() == nil {
			t.Error("Read32() past BAR0 did not panic")
		}
	}()
	dev.Read32(0x1000)
}

func TestIrqMask(t *testing.T) {
	path, sysfs := fakeUIO(t, 4096, 0)
	dev, err := openUIO(path, sysfs)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	m := NewIrqMask(dev)
	m.On(IrqEncoder | IrqP2M(0))
	m.On(IrqMotion)
	m.Off(IrqP2M(0))
	if got, want := m.Enabled(), IrqEncoder|IrqMotion; got != want {
		t.Errorf("Enabled() = 0x%x, expected 0x%x", got, want)
	}
}
