package backend

import (
	"fmt"
	"io"
	"sync"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// Opener opens the channel at path
type Opener func(path string) (io.ReadWriteCloser, error)

// OpenDeviceFile is the Opener for real character devices
func OpenDeviceFile(path string) (io.ReadWriteCloser, error) {
	f, err := driver.OpenDevice(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Pool shares one Device per channel path between sessions. A device is
// opened on first Acquire and closed when its last holder releases it.
type Pool struct {
	mu      sync.Mutex
	opener  Opener
	opts    Options
	devices map[string]*Device
}

// NewPool creates a pool. A nil opener opens character devices.
func NewPool(opener Opener, opts Options) *Pool {
	if opener == nil {
		opener = OpenDeviceFile
	}
	opts.applyDefaults()
	return &Pool{
		opener:  opener,
		opts:    opts,
		devices: make(map[string]*Device),
	}
}

// Acquire returns the device for path, opening it if needed, and takes a
// reference on it
func (p *Pool) Acquire(path string, cardID int) (*Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.devices[path]; ok {
		d.ref++
		d.log.Debug("device shared", "ref", d.ref)
		return d, nil
	}

	transport, err := p.opener(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := NewDevice(cardID, path, transport, p.opts)
	d.ref = 1
	p.devices[path] = d
	d.log.Debug("device opened", "path", path)
	return d, nil
}

// Release drops a reference and closes the device with the last one
func (p *Pool) Release(d *Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.devices[d.path]
	if !ok || cur != d || d.ref <= 0 {
		return driver.NewError(driver.StatusInvalidState, "release of a device not held by the pool")
	}
	d.ref--
	if d.ref > 0 {
		return nil
	}
	delete(p.devices, d.path)
	d.log.Debug("device closed")
	return d.Close()
}

// Refs returns the reference count held on path, zero when not open
func (p *Pool) Refs(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.devices[path]; ok {
		return d.ref
	}
	return 0
}

// Len returns the number of open devices
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.devices)
}
