package vksim

import (
	"sync"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// Channel is one open handle on the card. Closing it leaves the card and
// its contexts in place.
type Channel struct {
	card   *Card
	mu     sync.Mutex
	closed bool
}

func (ch *Channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Read returns the oldest completed response
func (ch *Channel) Read(p []byte) (int, error) {
	if ch.isClosed() {
		return 0, driver.NewError(driver.StatusClosed, "read")
	}
	return ch.card.read(p)
}

// Write submits one request frame
func (ch *Channel) Write(p []byte) (int, error) {
	if ch.isClosed() {
		return 0, driver.NewError(driver.StatusClosed, "write")
	}
	return ch.card.write(p)
}

// Close implements io.Closer
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

// Hold parks responses instead of completing them until Release
func (c *Card) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = true
}

// Release completes every held response, newest first when reverse is
// set, and stops holding
func (c *Card) Release(reverse bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reverse {
		for i := len(c.held) - 1; i >= 0; i-- {
			c.out = append(c.out, c.held[i])
		}
	} else {
		c.out = append(c.out, c.held...)
	}
	c.held = nil
	c.hold = false
}

// Silence makes the card accept requests without ever answering
func (c *Card) Silence(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.silent = on
}

// Unplug makes every channel operation fail as if the card was removed
func (c *Card) Unplug() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unplug = true
}

// Fail answers every request of fn with an error status carrying code
func (c *Card) Fail(fn message.FunctionID, code int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[fn] = code
}

// ClearFailures removes every injected failure
func (c *Card) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = make(map[message.FunctionID]int32)
}

// Inject completes a response the card never received a request for
func (c *Card) Inject(r *message.Response) error {
	frame, err := r.Marshal()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, frame)
	return nil
}

// BufferRef returns the card's reference count on handle h
func (c *Card) BufferRef(h uint32) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[h]
	if !ok {
		return 0, false
	}
	return b.ref, true
}

// Buffers returns how many buffers live on the card
func (c *Card) Buffers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}

// Contexts returns how many component contexts exist
func (c *Card) Contexts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts)
}

// ContextRole returns the role a context was created with
func (c *Card) ContextRole(h uint32) (message.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.contexts[h]
	if !ok {
		return 0, false
	}
	return comp.role, true
}

// Requests returns how many request frames were accepted
func (c *Card) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// Completed returns how many responses wait to be read
func (c *Card) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.out)
}
