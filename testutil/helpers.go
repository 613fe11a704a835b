package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/emergingrobotics/go-solo6010/pkg/device"
)

// SkipIfNoDevice skips test if no SOLO6010 with a bounce region is bound
// to a UIO driver, and returns the device node otherwise
func SkipIfNoDevice(t testing.TB) string {
	t.Helper()

	devices, err := device.Scan()
	if err == nil {
		for _, d := range devices {
			if d.HasBounceRegion() {
				return d.Path
			}
		}
	}
	t.Skip("No SOLO6010 device available")
	return ""
}

// TempFile creates a temporary file with given content
func TempFile(t testing.TB, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// VOP returns an MPEG-4 VOP payload of n bytes. The coding type sits in
// the top two bits of the byte after the start code.
func VOP(n int, vop uint8) []byte {
	p := bytes.Repeat([]byte{0x5a}, max(n, 5))
	copy(p, []byte{0x00, 0x00, 0x01, 0xb6, vop << 6})
	return p[:max(n, 5)]
}

// AssertNoError fails if error is not nil
func AssertNoError(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertBytesEqual compares byte slices
func AssertBytesEqual(t testing.TB, got, want []byte, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s: length mismatch: got %d, want %d", msg, len(got), len(want))
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("%s: mismatch at index %d: got %d, want %d", msg, i, got[i], want[i])
			return
		}
	}
}
