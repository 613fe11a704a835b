package device

import (
	"errors"

	"github.com/emergingrobotics/go-solo6010/pkg/driver"
)

// Errors for device operations
var (
	ErrNoDevices      = errors.New("no SOLO6010 devices found")
	ErrNoBounceRegion = errors.New("UIO device exposes no DMA bounce region")
	ErrNoDecoders     = errors.New("no video decoder bus")
	ErrDeviceClosed   = driver.NewError(driver.StatusDeviceClosed, "device")
)
