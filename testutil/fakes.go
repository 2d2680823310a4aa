package testutil

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// FakeTransport is a scripted card channel. Reads return queued frames in
// order and report an empty queue the way a non-blocking device does.
type FakeTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	readErrs    []error
	writes      [][]byte
	closed      bool
	hideSize    bool
	failOnWrite error
	failOnRead  error
	readCalls   int
	onWrite     func(frame []byte)
}

// NewFakeTransport creates an empty fake channel
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// QueueFrame appends a raw frame to the read side
func (f *FakeTransport) QueueFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
}

// QueueResponse encodes and appends a response
func (f *FakeTransport) QueueResponse(r *message.Response) error {
	b, err := r.Marshal()
	if err != nil {
		return err
	}
	f.QueueFrame(b)
	return nil
}

// QueueReadError makes the next read fail with err before any frame
func (f *FakeTransport) QueueReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs = append(f.readErrs, err)
}

// SetHideSize stops the fake from reporting the required size when a
// read buffer is too small
func (f *FakeTransport) SetHideSize(hide bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hideSize = hide
}

// SetFailOnWrite makes every write fail with err; nil restores writes
func (f *FakeTransport) SetFailOnWrite(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOnWrite = err
}

// SetFailOnRead makes every read fail with err; nil restores reads
func (f *FakeTransport) SetFailOnRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOnRead = err
}

// OnWrite registers a hook called with every written frame. The hook runs
// without the fake's lock held so it may queue responses.
func (f *FakeTransport) OnWrite(fn func(frame []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWrite = fn
}

// Read implements io.Reader
func (f *FakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readCalls++
	if f.closed {
		return 0, driver.NewError(driver.StatusClosed, "fake read")
	}
	if f.failOnRead != nil {
		return 0, f.failOnRead
	}
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		return 0, err
	}
	if len(f.frames) == 0 {
		return 0, driver.StatusFromErrno(unix.EAGAIN, "fake read")
	}

	frame := f.frames[0]
	if len(p) < len(frame) {
		if !f.hideSize && len(p) > 1 {
			p[1] = frame[1]
		}
		return 0, driver.StatusFromErrno(unix.EMSGSIZE, "fake read")
	}
	f.frames = f.frames[1:]
	return copy(p, frame), nil
}

// Write implements io.Writer
func (f *FakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, driver.NewError(driver.StatusClosed, "fake write")
	}
	if f.failOnWrite != nil {
		err := f.failOnWrite
		f.mu.Unlock()
		return 0, err
	}
	frame := append([]byte(nil), p...)
	f.writes = append(f.writes, frame)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return len(p), nil
}

// Close implements io.Closer
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Writes returns a copy of every written frame
func (f *FakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// LastRequest decodes the most recent write
func (f *FakeTransport) LastRequest() (*message.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil, driver.NewError(driver.StatusNotFound, "no writes")
	}
	return message.DecodeRequest(f.writes[len(f.writes)-1])
}

// Queued returns the number of frames not read yet
func (f *FakeTransport) Queued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// ReadCalls returns how many reads were attempted
func (f *FakeTransport) ReadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}
