package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// DeviceInfo contains discovered device information
type DeviceInfo struct {
	Path       string
	DeviceID   string
	Name       string
	PCIAddress string
	Maps       int
}

// HasBounceRegion reports whether the UIO driver exposes a DMA region
func (d DeviceInfo) HasBounceRegion() bool {
	return d.Maps > 1
}

// DeviceScanner scans UIO class devices for SOLO6010 boards
type DeviceScanner struct {
	sysfsPath string
	devPath   string
}

// NewScanner creates a new device scanner
func NewScanner() *DeviceScanner {
	return &DeviceScanner{
		sysfsPath: driver.DefaultSysfsRoot,
		devPath:   "/dev",
	}
}

// Scan finds all UIO devices bound to a SOLO6010
func (s *DeviceScanner) Scan() ([]DeviceInfo, error) {
	if s.sysfsPath == "" {
		s.sysfsPath = driver.DefaultSysfsRoot
	}
	if s.devPath == "" {
		s.devPath = "/dev"
	}

	entries, err := os.ReadDir(s.sysfsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		id := entry.Name()
		if !isValidUIOName(id) {
			continue
		}

		classDir := filepath.Join(s.sysfsPath, id)
		name := readAttr(filepath.Join(classDir, "name"))
		if !isSoloDevice(classDir, name) {
			continue
		}

		devPath := filepath.Join(s.devPath, id)
		if _, err := os.Stat(devPath); err != nil {
			continue
		}

		info := DeviceInfo{
			Path:     devPath,
			DeviceID: id,
			Name:     name,
			Maps:     countMaps(filepath.Join(classDir, "maps")),
		}
		if target, err := filepath.EvalSymlinks(filepath.Join(classDir, "device")); err == nil {
			info.PCIAddress = filepath.Base(target)
		}
		devices = append(devices, info)
	}

	return devices, nil
}

// Scan uses the default scanner to find all SOLO6010 devices
func Scan() ([]DeviceInfo, error) {
	return NewScanner().Scan()
}

// isSoloDevice matches either the UIO name or the PCI ids of the parent
func isSoloDevice(classDir, name string) bool {
	if name == driver.DeviceName {
		return true
	}
	vendor := readAttr(filepath.Join(classDir, "device", "vendor"))
	device := readAttr(filepath.Join(classDir, "device", "device"))
	return parseID(vendor) == driver.VendorID && parseID(device) == driver.DeviceID6010
}

// isValidUIOName checks for a uioN class entry
func isValidUIOName(name string) bool {
	if !strings.HasPrefix(name, "uio") || len(name) == 3 {
		return false
	}
	_, err := strconv.Atoi(name[3:])
	return err == nil
}

func countMaps(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "map") {
			n++
		}
	}
	return n
}

func readAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func parseID(s string) int {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return -1
	}
	return int(v)
}
