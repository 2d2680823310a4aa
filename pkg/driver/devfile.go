package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Character device naming. The legacy name is used by older kernel drivers.
const (
	DeviceName       = "bcm_vk"
	LegacyDeviceName = "bcm-vk"
	DefaultDevRoot   = "/dev"
	MaxCards         = 16
)

// DevicePath builds the node path for card idx under root using name
func DevicePath(root, name string, idx int) string {
	return filepath.Join(root, fmt.Sprintf("%s.%d", name, idx))
}

// DeviceFile represents an open card channel. Reads and writes move whole
// frames; the fd is non-blocking so an empty queue reports no message
// instead of parking the caller.
type DeviceFile struct {
	fd   int
	path string
}

// OpenDevice opens a card channel by path
func OpenDevice(path string) (*DeviceFile, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		errno, ok := err.(unix.Errno)
		if ok {
			return nil, StatusFromErrno(errno, "opening device "+path)
		}
		return nil, NewErrorWithCause(StatusDriverOperationFailed, "opening device "+path, err)
	}
	return &DeviceFile{fd: fd, path: path}, nil
}

// Read reads one frame into p. An empty queue is reported as StatusNoMessage;
// a frame larger than p is reported as StatusMessageSize, in which case the
// driver has stored the required extension count in p[1].
func (d *DeviceFile) Read(p []byte) (int, error) {
	if d.fd < 0 {
		return 0, NewError(StatusClosed, "read")
	}
	n, err := unix.Read(d.fd, p)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return 0, StatusFromErrno(errno, "read")
		}
		return 0, NewErrorWithCause(StatusDriverOperationFailed, "read", err)
	}
	if n == 0 {
		return 0, NewError(StatusNoMessage, "read")
	}
	return n, nil
}

// Write writes one frame. A short write is an error.
func (d *DeviceFile) Write(p []byte) (int, error) {
	if d.fd < 0 {
		return 0, NewError(StatusClosed, "write")
	}
	n, err := unix.Write(d.fd, p)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			e := StatusFromErrno(errno, "write")
			// the driver refuses writes while its response queue is backed up
			if e.Status == StatusNoMessage {
				e.Status = StatusBusy
			}
			return 0, e
		}
		return 0, NewErrorWithCause(StatusDriverOperationFailed, "write", err)
	}
	if n != len(p) {
		return n, NewError(StatusMessageSize, fmt.Sprintf("short write %d of %d bytes", n, len(p)))
	}
	return n, nil
}

// Close closes the device file
func (d *DeviceFile) Close() error {
	if d.fd >= 0 {
		err := unix.Close(d.fd)
		d.fd = -1
		if err != nil {
			return NewErrorWithCause(StatusDriverOperationFailed, "closing device", err)
		}
	}
	return nil
}

// Fd returns the file descriptor
func (d *DeviceFile) Fd() int {
	return d.fd
}

// Path returns the device path
func (d *DeviceFile) Path() string {
	return d.path
}

// ScanDevices lists card nodes present under root, trying the current
// naming first and the legacy naming for indexes that have no current node
func ScanDevices(root string) []string {
	if root == "" {
		root = DefaultDevRoot
	}
	var devices []string
	for i := 0; i < MaxCards; i++ {
		for _, name := range []string{DeviceName, LegacyDeviceName} {
			path := DevicePath(root, name, i)
			if _, err := os.Stat(path); err == nil {
				devices = append(devices, path)
				break
			}
		}
	}
	return devices
}
