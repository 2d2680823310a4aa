package vkil

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/emergingrobotics/go-vkil/pkg/backend"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/logging"
	"github.com/emergingrobotics/go-vkil/pkg/message"
	"github.com/emergingrobotics/go-vkil/pkg/session"
)

// State is the lifecycle stage of a component context
type State int

const (
	StateUnattached State = iota
	StateLocalOnly
	StateInitializing
	StateReady
	StateDeinitializing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateLocalOnly:
		return "local_only"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDeinitializing:
		return "deinitializing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Context is one component instance on the card. Role and QueueID are
// set by the caller between the two Init calls and must not change
// afterwards.
type Context struct {
	Role    message.Role
	QueueID uint8

	mu      sync.Mutex
	state   State
	handle  uint32
	session *session.Session
	dev     *backend.Device
	log     *slog.Logger

	// requests sent without waiting, by message id
	inflight map[uint16]flight
}

// flight remembers what a non-blocking request asked for so its response
// can be applied when it is collected
type flight struct {
	fn    message.FunctionID
	cmd   message.Command
	delta int32
}

// State returns the lifecycle stage
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle returns the card assigned context id, or NewContext before the
// component exists on the card
func (c *Context) Handle() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Device returns the shared device channel, nil until attached
func (c *Context) Device() *backend.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

// Session returns the card assignment the context was created under
func (c *Context) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// InFlight returns how many non-blocking requests are not collected yet
func (c *Context) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Context) ready() (*backend.Device, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		return c.dev, c.handle, nil
	case StateClosed:
		return nil, 0, driver.NewError(driver.StatusClosed, "context")
	default:
		return nil, 0, driver.NewError(driver.StatusInvalidState, "context is "+c.state.String())
	}
}

func (c *Context) track(id uint16, f flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		c.inflight = make(map[uint16]flight)
	}
	c.inflight[id] = f
}

func (c *Context) collect(id uint16) (flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.inflight[id]
	delete(c.inflight, id)
	return f, ok
}

func roleModule(r message.Role) logging.Module {
	switch r {
	case message.RoleInfo:
		return logging.ModuleInfo
	case message.RoleDMA:
		return logging.ModuleDMA
	case message.RoleDecoder:
		return logging.ModuleDecoder
	case message.RoleEncoder:
		return logging.ModuleEncoder
	case message.RoleScaler:
		return logging.ModuleScaler
	case message.RoleMultipassEncoder:
		return logging.ModuleMultipass
	default:
		return logging.ModuleGeneric
	}
}

// Init advances a context through its two step creation.
//
// With nil, or a context that was never initialized, it returns a local
// context with no card resources. With a local context it resolves the
// process session, attaches the card channel and creates the component on
// the card. On a ready context it round-trips an init request for the
// existing component.
func (a *API) Init(c *Context) (*Context, error) {
	if c == nil {
		c = &Context{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUnattached:
		c.state = StateLocalOnly
		c.handle = message.NewContext
		c.log = a.contextLogger(c)
		c.log.Debug("local context created")
		return c, nil
	case StateLocalOnly:
		if err := a.attach(c); err != nil {
			return c, err
		}
		return c, nil
	case StateReady:
		req := &message.Request{Function: message.FuncInit, ContextID: c.handle}
		if _, err := a.roundTrip(c, c.dev, req, a.cfg.Timeouts.InitMultiplier); err != nil {
			return c, fmt.Errorf("init of context 0x%x: %w", c.handle, err)
		}
		return c, nil
	case StateClosed:
		return c, driver.NewError(driver.StatusClosed, "init")
	default:
		return c, driver.NewError(driver.StatusInvalidState, "init while "+c.state.String())
	}
}

// attach creates the component on the card. On failure every local
// resource is released and the context is closed. Must be called with
// c.mu held.
func (a *API) attach(c *Context) error {
	if c.QueueID >= message.NumQueues {
		return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("queue id %d", c.QueueID))
	}
	if c.Role > message.RoleMax {
		return driver.NewError(driver.StatusInvalidArgument, "role "+c.Role.String())
	}
	c.log = a.contextLogger(c)

	sess, err := a.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	dev, err := a.pool.Acquire(sess.DevicePath, sess.CardID)
	if err != nil {
		return fmt.Errorf("failed to attach card: %w", err)
	}
	c.session = sess
	c.dev = dev
	c.state = StateInitializing

	essential := message.ContextEssential{
		Handle:  message.NewContext,
		QueueID: c.QueueID,
		Role:    c.Role,
		PID:     uint32(sess.PID),
	}
	req := &message.Request{
		Function:  message.FuncInit,
		ContextID: message.NewContext,
		Args:      essential.Pack(),
	}
	resp, err := a.roundTrip(c, dev, req, a.cfg.Timeouts.InitMultiplier)
	if err != nil {
		a.detach(c)
		return fmt.Errorf("failed to create %s component: %w", c.Role, err)
	}

	handle := resp.ContextID
	if !message.IsRemoteHandle(handle) {
		handle = resp.Arg
	}
	if !message.IsRemoteHandle(handle) {
		a.detach(c)
		return driver.NewError(driver.StatusProtocolViolation, fmt.Sprintf("card assigned context id 0x%x", handle))
	}

	c.handle = handle
	c.state = StateReady
	c.log = c.log.With("context_id", fmt.Sprintf("0x%x", handle))
	c.log.Info("component created",
		"role", c.Role.String(),
		"card", dev.ID(),
		"session", sess.ID,
		"priority", a.ProcessingPriority())
	return nil
}

// Deinit destroys the component on the card and releases the local
// context. Local resources are released even when the card reports a
// failure; that failure is still returned. A context that never reached
// the card is closed without any request.
func (a *API) Deinit(c *Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUnattached, StateLocalOnly:
		c.state = StateClosed
		return nil
	case StateClosed:
		return driver.NewError(driver.StatusClosed, "deinit")
	case StateReady:
	default:
		return driver.NewError(driver.StatusInvalidState, "deinit while "+c.state.String())
	}

	// uncollected requests die with the component; their ids are needed
	// for the DEINIT itself when the table is full
	a.abandonInFlight(c)

	var err error
	if message.IsRemoteHandle(c.handle) {
		c.state = StateDeinitializing
		req := &message.Request{Function: message.FuncDeinit, ContextID: c.handle}
		if _, rerr := a.roundTrip(c, c.dev, req, a.cfg.Timeouts.DeinitMultiplier); rerr != nil {
			c.log.Warn("card failed to destroy component", "err", rerr)
			err = fmt.Errorf("deinit of context 0x%x: %w", c.handle, rerr)
		}
	}
	a.detach(c)
	return err
}

// detach releases messages still in flight, drops the device reference
// and closes the context. Must be called with c.mu held.
func (a *API) detach(c *Context) {
	a.abandonInFlight(c)
	if c.dev != nil {
		if err := a.pool.Release(c.dev); err != nil {
			c.log.Error("failed to release device", "err", err)
		}
	}
	c.dev = nil
	c.handle = message.NewContext
	c.state = StateClosed
	c.log.Debug("context closed")
}

// abandonInFlight releases the message ids of uncollected non-blocking
// requests. Late answers to them are dropped when the ids are reused.
// Must be called with c.mu held.
func (a *API) abandonInFlight(c *Context) {
	if c.dev != nil && len(c.inflight) > 0 {
		c.log.Debug("abandoning uncollected requests", "count", len(c.inflight))
		for id := range c.inflight {
			a.releaseMsgID(c, c.dev, id)
		}
	}
	c.inflight = nil
}

// send allocates a message id, stamps the request with the context's
// queue and writes it. userData is attached to the message id.
func (a *API) send(c *Context, dev *backend.Device, req *message.Request, userData uint64) (uint16, error) {
	id, err := dev.AllocateMsgID()
	if err != nil {
		return 0, err
	}
	if userData != 0 {
		if err := dev.Messages().SetUserData(id, userData); err != nil {
			a.releaseMsgID(c, dev, id)
			return 0, err
		}
	}
	req.MsgID = id
	req.QueueID = c.QueueID
	if err := dev.Write(req); err != nil {
		a.releaseMsgID(c, dev, id)
		return 0, err
	}
	return id, nil
}

// roundTrip sends req and waits for its response. The message id is
// released whatever the outcome.
func (a *API) roundTrip(c *Context, dev *backend.Device, req *message.Request, wait int) (*message.Response, error) {
	return a.roundTripWithData(c, dev, req, wait, 0)
}

func (a *API) roundTripWithData(c *Context, dev *backend.Device, req *message.Request, wait int, userData uint64) (*message.Response, error) {
	id, err := a.send(c, dev, req, userData)
	if err != nil {
		return nil, err
	}
	defer a.releaseMsgID(c, dev, id)
	return dev.Read(replySelector(req), wait)
}

// replySelector selects the response to a sent request. A new init has no
// context id yet, so only its reply function is checked.
func replySelector(req *message.Request) backend.Selector {
	return backend.Selector{
		QueueID:   req.QueueID,
		MsgID:     req.MsgID,
		Function:  req.Function.Done(),
		ContextID: req.ContextID,
	}
}

func (a *API) releaseMsgID(c *Context, dev *backend.Device, id uint16) {
	if err := dev.ReleaseMsgID(id); err != nil {
		c.log.Error("failed to release message id", "msg_id", id, "err", err)
	}
}
