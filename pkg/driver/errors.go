package driver

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Status represents a driver operation status code
type Status int

// Driver status codes
const (
	StatusSuccess               Status = 0
	StatusInvalidArgument       Status = 1
	StatusInvalidChannel        Status = 2
	StatusTimeout               Status = 3
	StatusHardwareError         Status = 4
	StatusExhausted             Status = 5
	StatusCorrupt               Status = 6
	StatusBufferTooSmall        Status = 7
	StatusBusy                  Status = 8
	StatusDeviceClosed          Status = 9
	StatusNotFound              Status = 10
	StatusOutOfHostMemory       Status = 11
	StatusDriverOperationFailed Status = 12
	StatusDriverInterrupted     Status = 13
	StatusCanceled              Status = 14
)

var statusMessages = map[Status]string{
	StatusSuccess:               "success",
	StatusInvalidArgument:       "invalid argument",
	StatusInvalidChannel:        "invalid channel",
	StatusTimeout:               "timeout",
	StatusHardwareError:         "hardware error",
	StatusExhausted:             "retries exhausted",
	StatusCorrupt:               "corrupt frame",
	StatusBufferTooSmall:        "buffer too small",
	StatusBusy:                  "device or resource busy",
	StatusDeviceClosed:          "device closed",
	StatusNotFound:              "not found",
	StatusOutOfHostMemory:       "out of host memory",
	StatusDriverOperationFailed: "driver operation failed",
	StatusDriverInterrupted:     "driver interrupted",
	StatusCanceled:              "canceled",
}

// String returns the human-readable status message
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// SoloError represents an error from the driver core
type SoloError struct {
	Status  Status
	Context string
	Cause   error
}

// Error implements the error interface
func (e *SoloError) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Status.String(), e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Status.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Status.String(), e.Cause)
	}
	return e.Status.String()
}

// Unwrap returns the underlying cause
func (e *SoloError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target status
func (e *SoloError) Is(target error) bool {
	var soloErr *SoloError
	if errors.As(target, &soloErr) {
		return e.Status == soloErr.Status
	}
	return false
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidArgument = &SoloError{Status: StatusInvalidArgument}
	ErrInvalidChannel  = &SoloError{Status: StatusInvalidChannel}
	ErrTimeout         = &SoloError{Status: StatusTimeout}
	ErrHardware        = &SoloError{Status: StatusHardwareError}
	ErrExhausted       = &SoloError{Status: StatusExhausted}
	ErrCorrupt         = &SoloError{Status: StatusCorrupt}
	ErrBufferTooSmall  = &SoloError{Status: StatusBufferTooSmall}
	ErrBusy            = &SoloError{Status: StatusBusy}
	ErrDeviceClosed    = &SoloError{Status: StatusDeviceClosed}
	ErrNotFound        = &SoloError{Status: StatusNotFound}
)

// NewError creates a new SoloError with the given status
func NewError(status Status, context string) *SoloError {
	return &SoloError{
		Status:  status,
		Context: context,
	}
}

// NewErrorWithCause creates a new SoloError with an underlying cause
func NewErrorWithCause(status Status, context string, cause error) *SoloError {
	return &SoloError{
		Status:  status,
		Context: context,
		Cause:   cause,
	}
}

// StatusOf extracts the status from an error chain, or
// StatusDriverOperationFailed if no SoloError is present
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var soloErr *SoloError
	if errors.As(err, &soloErr) {
		return soloErr.Status
	}
	return StatusDriverOperationFailed
}

// ErrnoToStatus converts a Linux errno to a driver status
func ErrnoToStatus(errno unix.Errno) Status {
	switch errno {
	case unix.ENOMEM:
		return StatusOutOfHostMemory
	case unix.ETIMEDOUT:
		return StatusTimeout
	case unix.EINTR:
		return StatusDriverInterrupted
	case unix.EBUSY:
		return StatusBusy
	case unix.ENOENT, unix.ENODEV:
		return StatusNotFound
	case unix.EINVAL:
		return StatusInvalidArgument
	case unix.EIO:
		return StatusHardwareError
	case unix.ECANCELED:
		return StatusCanceled
	default:
		return StatusDriverOperationFailed
	}
}

// StatusFromErrno creates a SoloError from an errno
func StatusFromErrno(errno unix.Errno, context string) *SoloError {
	return &SoloError{
		Status:  ErrnoToStatus(errno),
		Context: context,
		Cause:   errno,
	}
}

// wrapSyscallErr converts a syscall error into a SoloError
func wrapSyscallErr(err error, context string) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return StatusFromErrno(errno, context)
	}
	return NewErrorWithCause(StatusDriverOperationFailed, context, err)
}
