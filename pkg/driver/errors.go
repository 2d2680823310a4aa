package driver

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Status represents a VKIL operation status code
type Status int

// VKIL status codes
const (
	StatusSuccess               Status = 0
	StatusInvalidArgument       Status = 1
	StatusExhausted             Status = 2
	StatusDoubleRelease         Status = 3
	StatusInvalidID             Status = 4
	StatusNotFound              Status = 5
	StatusNoMessage             Status = 6
	StatusTimeout               Status = 7
	StatusMessageSize           Status = 8
	StatusOversize              Status = 9
	StatusRemoteError           Status = 10
	StatusChannelFull           Status = 11
	StatusChannelUnavailable    Status = 12
	StatusBusy                  Status = 13
	StatusUnsupported           Status = 14
	StatusNoSuchDevice          Status = 15
	StatusInvalidState          Status = 16
	StatusClosed                Status = 17
	StatusProtocolViolation     Status = 18
	StatusDriverOperationFailed Status = 19
)

var statusMessages = map[Status]string{
	StatusSuccess:               "success",
	StatusInvalidArgument:       "invalid argument",
	StatusExhausted:             "no free message id",
	StatusDoubleRelease:         "message id already released",
	StatusInvalidID:             "invalid message id",
	StatusNotFound:              "not found",
	StatusNoMessage:             "no message available, try again",
	StatusTimeout:               "timed out",
	StatusMessageSize:           "message size mismatch",
	StatusOversize:              "payload exceeds frame size field",
	StatusRemoteError:           "card reported an error",
	StatusChannelFull:           "channel full",
	StatusChannelUnavailable:    "channel unavailable",
	StatusBusy:                  "channel busy, drain pending responses",
	StatusUnsupported:           "unsupported operation",
	StatusNoSuchDevice:          "no such device",
	StatusInvalidState:          "invalid context state",
	StatusClosed:                "closed",
	StatusProtocolViolation:     "protocol violation",
	StatusDriverOperationFailed: "driver operation failed",
}

// String returns the human-readable status message
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// Fatal reports whether the status means the channel direction is lost.
// The library never acts on it; the embedding application decides.
func (s Status) Fatal() bool {
	return s == StatusChannelFull || s == StatusChannelUnavailable
}

// VkError represents an error from the card channel or the library itself
type VkError struct {
	Status  Status
	Context string
	// Code is the error code the card returned with a remote error status
	Code  int32
	Cause error
}

// Error implements the error interface
func (e *VkError) Error() string {
	msg := e.Status.String()
	if e.Status == StatusRemoteError && e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *VkError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target status
func (e *VkError) Is(target error) bool {
	var vkErr *VkError
	if errors.As(target, &vkErr) {
		return e.Status == vkErr.Status
	}
	return false
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidArgument    = &VkError{Status: StatusInvalidArgument}
	ErrExhausted          = &VkError{Status: StatusExhausted}
	ErrDoubleRelease      = &VkError{Status: StatusDoubleRelease}
	ErrInvalidID          = &VkError{Status: StatusInvalidID}
	ErrNotFound           = &VkError{Status: StatusNotFound}
	ErrNoMessage          = &VkError{Status: StatusNoMessage}
	ErrTimeout            = &VkError{Status: StatusTimeout}
	ErrMessageSize        = &VkError{Status: StatusMessageSize}
	ErrOversize           = &VkError{Status: StatusOversize}
	ErrRemote             = &VkError{Status: StatusRemoteError}
	ErrChannelFull        = &VkError{Status: StatusChannelFull}
	ErrChannelUnavailable = &VkError{Status: StatusChannelUnavailable}
	ErrBusy               = &VkError{Status: StatusBusy}
	ErrUnsupported        = &VkError{Status: StatusUnsupported}
	ErrNoSuchDevice       = &VkError{Status: StatusNoSuchDevice}
	ErrInvalidState       = &VkError{Status: StatusInvalidState}
	ErrClosed             = &VkError{Status: StatusClosed}
	ErrProtocolViolation  = &VkError{Status: StatusProtocolViolation}
)

// NewError creates a new VkError with the given status
func NewError(status Status, context string) *VkError {
	return &VkError{
		Status:  status,
		Context: context,
	}
}

// NewErrorWithCause creates a new VkError with an underlying cause
func NewErrorWithCause(status Status, context string, cause error) *VkError {
	return &VkError{
		Status:  status,
		Context: context,
		Cause:   cause,
	}
}

// NewRemoteError creates the error for a response carrying an error hw status
func NewRemoteError(context string, code int32) *VkError {
	return &VkError{
		Status:  StatusRemoteError,
		Context: context,
		Code:    code,
	}
}

// ErrnoToStatus converts a Linux errno returned by the channel to a VKIL status
func ErrnoToStatus(errno unix.Errno) Status {
	switch errno {
	case unix.EAGAIN, unix.ENOMSG:
		return StatusNoMessage
	case unix.EMSGSIZE:
		return StatusMessageSize
	case unix.ETIMEDOUT:
		return StatusTimeout
	case unix.ENOSPC:
		return StatusChannelFull
	case unix.EPERM:
		return StatusChannelUnavailable
	case unix.ENOBUFS:
		return StatusBusy
	case unix.ENODEV, unix.ENOENT, unix.ENXIO:
		return StatusNoSuchDevice
	case unix.EINVAL:
		return StatusInvalidArgument
	case unix.EBADF:
		return StatusClosed
	default:
		return StatusDriverOperationFailed
	}
}

// StatusFromErrno creates a VkError from an errno
func StatusFromErrno(errno unix.Errno, context string) *VkError {
	return &VkError{
		Status:  ErrnoToStatus(errno),
		Context: context,
		Cause:   errno,
	}
}

// StatusOf extracts the status carried by err. Bare errnos are classified
// with ErrnoToStatus; anything else is a driver operation failure.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var vkErr *VkError
	if errors.As(err, &vkErr) {
		return vkErr.Status
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return ErrnoToStatus(errno)
	}
	return StatusDriverOperationFailed
}

// IsFatal reports whether err means the channel can no longer be used
func IsFatal(err error) bool {
	return StatusOf(err).Fatal()
}
