package vkil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// ProcessCallback is called when an asynchronous process request completes
type ProcessCallback func(b Buffer, err error)

// ProcessRequest represents one asynchronous process request
type ProcessRequest struct {
	ID       uint64
	Buffer   Buffer
	Callback ProcessCallback
	Done     chan struct{}
}

// AsyncContext runs blocking process requests on a bounded set of
// workers. Each submitted buffer belongs to the request until its
// callback has run.
type AsyncContext struct {
	api        *API
	ctx        *Context
	cmd        message.Command
	pending    map[uint64]*ProcessRequest
	nextID     uint64
	mu         sync.Mutex
	workerPool chan struct{}
	closed     bool
}

// NewAsyncContext wraps a ready context. cmd is the process command; the
// blocking option is added.
func (a *API) NewAsyncContext(c *Context, cmd message.Command, numWorkers int) *AsyncContext {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &AsyncContext{
		api:        a,
		ctx:        c,
		cmd:        (cmd | message.OptBlocking) &^ message.OptCB,
		pending:    make(map[uint64]*ProcessRequest),
		workerPool: make(chan struct{}, numWorkers),
	}
}

// ProcessAsync submits b and returns the request id
func (ac *AsyncContext) ProcessAsync(b Buffer, callback ProcessCallback) uint64 {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.closed {
		callback(b, driver.NewError(driver.StatusClosed, "async context"))
		return 0
	}

	ac.nextID++
	id := ac.nextID

	req := &ProcessRequest{
		ID:       id,
		Buffer:   b,
		Callback: callback,
		Done:     make(chan struct{}),
	}
	ac.pending[id] = req

	go ac.processRequest(req)

	return id
}

func (ac *AsyncContext) processRequest(req *ProcessRequest) {
	// Acquire worker slot
	ac.workerPool <- struct{}{}
	defer func() { <-ac.workerPool }()

	err := ac.api.ProcessBuffer(ac.ctx, req.Buffer, ac.cmd)
	req.Callback(req.Buffer, err)

	close(req.Done)

	ac.mu.Lock()
	delete(ac.pending, req.ID)
	ac.mu.Unlock()
}

// Wait waits for a specific request to complete
func (ac *AsyncContext) Wait(id uint64) {
	ac.mu.Lock()
	req, ok := ac.pending[id]
	ac.mu.Unlock()

	if !ok {
		return
	}
	<-req.Done
}

// WaitAll waits for all pending requests to complete
func (ac *AsyncContext) WaitAll() {
	ac.mu.Lock()
	pending := make([]*ProcessRequest, 0, len(ac.pending))
	for _, req := range ac.pending {
		pending = append(pending, req)
	}
	ac.mu.Unlock()

	for _, req := range pending {
		<-req.Done
	}
}

// Close waits for every pending request and deinitializes the context
func (ac *AsyncContext) Close() error {
	ac.mu.Lock()
	ac.closed = true
	ac.mu.Unlock()

	ac.WaitAll()
	return ac.api.Deinit(ac.ctx)
}

// PendingCount returns the number of pending requests
func (ac *AsyncContext) PendingCount() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return len(ac.pending)
}

// ProcessWithContext submits b without blocking and then collects the
// response, polling until it arrives or ctx is done. On cancellation the
// request stays in flight; a later OptCB call or Deinit disposes of it.
func (a *API) ProcessWithContext(ctx context.Context, c *Context, b Buffer, cmd message.Command) error {
	cmd &^= message.OptBlocking | message.OptCB
	if err := a.ProcessBuffer(c, b, cmd); err != nil {
		return err
	}

	interval := a.cfg.ProbeInterval()
	for {
		err := a.ProcessBuffer(c, b, cmd|message.OptCB)
		if !errors.Is(err, driver.ErrNoMessage) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
