package backend

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/logging"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// Wait multipliers applied to the base response window
const (
	WaitNone   = 0
	WaitNormal = 1
)

// BigMsgSizeInc is how many units a read buffer grows by when the channel
// says it is too small without telling the required size
const BigMsgSizeInc = 2

// Linux error codes the card uses to report a lost channel direction
const (
	remoteEPERM  = 1
	remoteENOSPC = 28
)

// Options tune a device context
type Options struct {
	// Timeout is the base response window. Zero waits forever.
	Timeout       time.Duration
	ProbeInterval time.Duration
	Logger        *logging.Logger
}

func (o *Options) applyDefaults() {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Device is one open card channel shared by every software context on
// that card. Frames read off the channel that nobody has asked for yet
// are parked per queue until their reader shows up.
type Device struct {
	id        int
	path      string
	traceID   string
	transport io.ReadWriteCloser
	opts      Options
	log       *slog.Logger

	msgs MsgTable

	// mu guards the pending queues and serializes the read path so that
	// "check queue, drain channel, check queue" runs as one step
	mu      sync.Mutex
	pending [message.NumQueues]pendingQueue
	closed  bool

	// writeMu keeps frames from interleaving on the channel
	writeMu sync.Mutex

	// ref is owned by Pool
	ref int
}

// NewDevice wraps an open transport
func NewDevice(id int, path string, transport io.ReadWriteCloser, opts Options) *Device {
	opts.applyDefaults()
	traceID := uuid.New().String()
	return &Device{
		id:        id,
		path:      path,
		traceID:   traceID,
		transport: transport,
		opts:      opts,
		log:       opts.Logger.For(logging.ModuleDriver).With("card", id, "trace_id", traceID),
	}
}

// ID returns the card index
func (d *Device) ID() int {
	return d.id
}

// Path returns the channel path
func (d *Device) Path() string {
	return d.path
}

// TraceID identifies this device context in logs
func (d *Device) TraceID() string {
	return d.traceID
}

// Messages exposes the message id table
func (d *Device) Messages() *MsgTable {
	return &d.msgs
}

// AllocateMsgID reserves a message id. Frames still parked under that id
// belong to an abandoned request and are dropped so the new request
// cannot be paired with them.
func (d *Device) AllocateMsgID() (uint16, error) {
	id, err := d.msgs.Allocate()
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	dropped := 0
	for q := range d.pending {
		dropped += d.pending[q].purge(id)
	}
	d.mu.Unlock()

	if dropped > 0 {
		d.log.Warn("dropped stale responses", "msg_id", id, "count", dropped)
	}
	return id, nil
}

// ReleaseMsgID returns a message id to the table
func (d *Device) ReleaseMsgID(id uint16) error {
	return d.msgs.Release(id)
}

// Pending returns the number of parked frames on queue q
func (d *Device) Pending(q uint8) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(q) >= len(d.pending) {
		return 0
	}
	return d.pending[q].len()
}

// Write sends one request frame in a single write
func (d *Device) Write(req *message.Request) error {
	b, err := req.Marshal()
	if err != nil {
		return err
	}

	d.writeMu.Lock()
	n, err := d.transport.Write(b)
	d.writeMu.Unlock()

	if err != nil {
		status := driver.StatusOf(err)
		if status == driver.StatusNoMessage {
			status = driver.StatusBusy
		}
		if status.Fatal() {
			d.log.Error("channel lost on write", "function", req.Function.String(), "status", status.String())
		} else {
			d.log.Debug("write failed", "function", req.Function.String(), "err", err)
		}
		return driver.NewErrorWithCause(status, "write "+req.Function.String(), err)
	}
	if n != len(b) {
		return driver.NewError(driver.StatusMessageSize,
			fmt.Sprintf("write %s: %d of %d bytes", req.Function, n, len(b)))
	}

	d.log.Debug("wrote request",
		"function", req.Function.String(),
		"size", req.Size(),
		"queue", req.QueueID,
		"msg_id", req.MsgID,
		"context_id", fmt.Sprintf("0x%x", req.ContextID),
		"args", fmt.Sprintf("0x%x 0x%x", req.Args[0], req.Args[1]))
	return nil
}

// Read returns the response selected by sel, draining the channel into
// the pending queues when it is not already parked. wait multiplies the
// base response window; zero makes a single attempt.
//
// A response whose hardware status is an error is returned together with
// a remote error; it is consumed either way.
func (d *Device) Read(sel Selector, wait int) (*message.Response, error) {
	if sel.QueueID >= message.NumQueues {
		return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("queue id %d", sel.QueueID))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, driver.NewError(driver.StatusClosed, "read")
	}

	// another reader may have parked a late frame under this id
	if sel.MsgID != message.UnpairedMsgID {
		dropped := 0
		for q := range d.pending {
			dropped += d.pending[q].dropStale(sel)
		}
		if dropped > 0 {
			d.log.Warn("dropped stale responses", "msg_id", sel.MsgID, "count", dropped)
		}
	}

	if r := d.pending[sel.QueueID].retrieve(sel); r != nil {
		return d.received(r)
	}

	ferr := d.flush(sel, wait)

	if r := d.pending[sel.QueueID].retrieve(sel); r != nil {
		if ferr != nil && !expectedFlushEnd(ferr) {
			d.log.Warn("channel error after response", "err", ferr)
		}
		return d.received(r)
	}
	if ferr != nil {
		if driver.StatusOf(ferr) == driver.StatusTimeout {
			d.log.Warn("response timed out",
				"function", sel.Function.String(),
				"msg_id", sel.MsgID,
				"wait", wait)
		}
		return nil, ferr
	}
	return nil, driver.NewError(driver.StatusNoMessage, "read "+sel.Function.String())
}

func expectedFlushEnd(err error) bool {
	switch driver.StatusOf(err) {
	case driver.StatusTimeout, driver.StatusNoMessage:
		return true
	}
	return false
}

// received logs a claimed response and turns an error hw status into an
// error value
func (d *Device) received(r *message.Response) (*message.Response, error) {
	d.log.Debug("claimed response",
		"function", r.Function.String(),
		"size", r.Size(),
		"queue", r.QueueID,
		"msg_id", r.MsgID,
		"context_id", fmt.Sprintf("0x%x", r.ContextID),
		"hw_status", r.HWStatus.String(),
		"arg", fmt.Sprintf("0x%x", r.Arg))

	if !r.Failed() {
		return r, nil
	}

	code := r.ErrorCode()
	d.log.Error("card reported an error",
		"function", r.Function.String(),
		"context_id", fmt.Sprintf("0x%x", r.ContextID),
		"code", code)

	err := driver.NewRemoteError(r.Function.String(), code)
	switch code {
	case remoteENOSPC:
		err.Status = driver.StatusChannelFull
	case remoteEPERM:
		err.Status = driver.StatusChannelUnavailable
	}
	return r, err
}

// flush drains the channel into the pending queues until the channel is
// empty after the selected frame showed up, or the wait budget runs out.
// Timeout and no-message end the loop normally and are returned so the
// caller can tell them apart; any other error aborts the drain.
// Must be called with mu held.
func (d *Device) flush(sel Selector, wait int) error {
	for {
		r, err := d.readFrame(sel.QueueID, wait)
		if err != nil {
			return err
		}
		if r.QueueID >= message.NumQueues {
			return driver.NewError(driver.StatusProtocolViolation,
				fmt.Sprintf("%s frame on queue %d", r.Function, r.QueueID))
		}
		if sel.stale(r) {
			d.log.Warn("dropped stale response",
				"function", r.Function.String(),
				"msg_id", r.MsgID,
				"context_id", fmt.Sprintf("0x%x", r.ContextID),
				"expected", sel.Function.String())
			continue
		}
		d.pending[r.QueueID].append(r)

		if r.QueueID == sel.QueueID && sel.matches(r) {
			wait = WaitNone
		}
	}
}

// readFrame reads one whole frame, growing the buffer when the channel
// reports it too small
func (d *Device) readFrame(queueID uint8, wait int) (*message.Response, error) {
	size := 0
	for {
		buf := make([]byte, message.FrameBytes(uint8(size)))
		buf[1] = uint8(size)
		buf[2] = queueID

		n, err := d.probeRead(buf, wait)
		if err == nil {
			return message.DecodeResponse(buf[:n])
		}
		if driver.StatusOf(err) != driver.StatusMessageSize {
			return nil, err
		}

		// the driver stores the required extension count in the size field
		if reported := int(buf[1]); reported > size {
			size = reported
		} else {
			size += BigMsgSizeInc
		}
		if size > message.MaxExtUnits {
			return nil, driver.NewError(driver.StatusProtocolViolation,
				fmt.Sprintf("read buffer grew past %d units", message.MaxExtUnits))
		}
	}
}

// probeRead attempts a read and, when wait is non-zero, polls until a
// frame arrives or the window closes. A too-small buffer is returned to
// the caller straight away.
func (d *Device) probeRead(buf []byte, wait int) (int, error) {
	var deadline time.Time
	bounded := wait > 0 && d.opts.Timeout > 0
	if bounded {
		deadline = time.Now().Add(time.Duration(wait) * d.opts.Timeout)
	}

	for {
		n, err := d.transport.Read(buf)
		if err == nil {
			return n, nil
		}
		if driver.StatusOf(err) != driver.StatusNoMessage {
			return 0, err
		}
		if wait == WaitNone {
			return 0, driver.NewError(driver.StatusNoMessage, "probe")
		}
		if bounded && !time.Now().Before(deadline) {
			return 0, driver.NewError(driver.StatusTimeout,
				fmt.Sprintf("no response within %v", time.Duration(wait)*d.opts.Timeout))
		}
		time.Sleep(d.opts.ProbeInterval)
	}
}

// Close drops every parked frame and closes the channel
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	dropped := 0
	for q := range d.pending {
		dropped += d.pending[q].len()
		d.pending[q] = pendingQueue{}
	}
	if dropped > 0 {
		d.log.Info("closing with unclaimed responses", "count", dropped)
	}
	if inUse := d.msgs.InUse(); inUse > 0 {
		d.log.Warn("closing with messages in flight", "count", inUse)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.transport.Close()
}
