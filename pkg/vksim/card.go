// Package vksim is an in-process card that speaks the frame protocol. It
// stands in for the character device in tests and in the CLI's --sim mode.
package vksim

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/logging"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// Output sizes reported for buffers the card produces
const (
	ProducedPacketSize   = 1024
	ProducedMetadataSize = 64
	firstBufferHandle    = 0x10000
	defaultTemperature   = 45
	defaultPowerState    = 1
)

type component struct {
	role   message.Role
	queue  uint8
	pid    uint32
	params map[message.Parameter][]byte
}

type buffer struct {
	typ      message.WireBufferType
	ref      int32
	size     uint32
	usedSize uint32
}

// Card is the simulated device. Responses are queued in completion order
// and read back by any open channel.
type Card struct {
	mu  sync.Mutex
	log *slog.Logger

	out      [][]byte
	held     [][]byte
	hold     bool
	silent   bool
	unplug   bool
	failures map[message.FunctionID]int32

	nextContext uint32
	nextBuffer  uint32
	contexts    map[uint32]*component
	buffers     map[uint32]*buffer
	requests    int
}

// Option configures a Card
type Option func(*Card)

// WithLogger logs every handled request
func WithLogger(l *logging.Logger) Option {
	return func(c *Card) {
		c.log = l.For(logging.ModuleFirmware)
	}
}

// New creates an idle card with no contexts
func New(opts ...Option) *Card {
	c := &Card{
		log:         logging.Discard().For(logging.ModuleFirmware),
		failures:    make(map[message.FunctionID]int32),
		nextContext: message.StartValidHandle,
		nextBuffer:  firstBufferHandle,
		contexts:    make(map[uint32]*component),
		buffers:     make(map[uint32]*buffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open returns a new channel to the card
func (c *Card) Open() *Channel {
	return &Channel{card: c}
}

// Opener adapts Open to the opener signature device pools use
func (c *Card) Opener() func(path string) (io.ReadWriteCloser, error) {
	return func(string) (io.ReadWriteCloser, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.unplug {
			return nil, driver.StatusFromErrno(unix.ENODEV, "open simulated card")
		}
		return c.Open(), nil
	}
}

func (c *Card) read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unplug {
		return 0, driver.StatusFromErrno(unix.ENODEV, "read")
	}
	if len(c.out) == 0 {
		return 0, driver.StatusFromErrno(unix.EAGAIN, "read")
	}
	frame := c.out[0]
	if len(p) < len(frame) {
		if len(p) > 1 {
			p[1] = frame[1]
		}
		return 0, driver.StatusFromErrno(unix.EMSGSIZE, "read")
	}
	c.out = c.out[1:]
	return copy(p, frame), nil
}

func (c *Card) write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unplug {
		return 0, driver.StatusFromErrno(unix.ENODEV, "write")
	}
	req, err := message.DecodeRequest(p)
	if err != nil {
		return 0, err
	}
	if req.QueueID >= message.NumQueues {
		return 0, driver.StatusFromErrno(unix.EINVAL, "write")
	}
	c.requests++
	if c.silent {
		c.log.Debug("request dropped", "function", req.Function.String(), "msg_id", req.MsgID)
		return len(p), nil
	}

	resp := c.handle(req)
	if resp == nil {
		return len(p), nil
	}
	frame, err := resp.Marshal()
	if err != nil {
		return 0, err
	}
	if c.hold {
		c.held = append(c.held, frame)
	} else {
		c.out = append(c.out, frame)
	}
	return len(p), nil
}

func (c *Card) handle(req *message.Request) *message.Response {
	c.log.Debug("request",
		"function", req.Function.String(),
		"queue", req.QueueID,
		"msg_id", req.MsgID,
		"context_id", req.ContextID)

	if req.Function == message.FuncShutdown {
		c.shutdown(message.ShutdownType(req.Args[0]), req.Args[1])
		return nil
	}

	resp := &message.Response{
		Function:  req.Function.Done(),
		QueueID:   req.QueueID,
		MsgID:     req.MsgID,
		ContextID: req.ContextID,
	}
	if code, ok := c.failures[req.Function]; ok {
		fail(resp, code)
		return resp
	}

	switch req.Function {
	case message.FuncInit:
		c.init(req, resp)
	case message.FuncDeinit:
		c.deinit(req, resp)
	case message.FuncSetParam:
		c.setParameter(req, resp)
	case message.FuncGetParam:
		c.getParameter(req, resp)
	case message.FuncTransBuf:
		c.transfer(req, resp)
	case message.FuncProcBuf:
		c.process(req, resp)
	case message.FuncXrefBuf:
		c.xref(req, resp)
	case message.FuncPrivate:
		resp.Arg = req.Args[1]
	default:
		resp.Function = message.FuncUndef
		fail(resp, int32(unix.EINVAL))
	}
	return resp
}

func fail(resp *message.Response, code int32) {
	resp.HWStatus = message.HWStatusError
	resp.Arg = uint32(code)
	resp.Ext = nil
}

func (c *Card) lookup(resp *message.Response, handle uint32) *component {
	comp, ok := c.contexts[handle]
	if !ok {
		fail(resp, int32(unix.ENOENT))
		return nil
	}
	return comp
}

func (c *Card) init(req *message.Request, resp *message.Response) {
	if req.ContextID != message.NewContext {
		if c.lookup(resp, req.ContextID) != nil {
			resp.Arg = req.ContextID
		}
		return
	}

	e := message.UnpackEssential(req.Args)
	if e.QueueID >= message.NumQueues {
		fail(resp, int32(unix.EINVAL))
		return
	}
	h := c.nextContext
	c.nextContext++
	c.contexts[h] = &component{
		role:   e.Role,
		queue:  e.QueueID,
		pid:    e.PID,
		params: make(map[message.Parameter][]byte),
	}
	resp.ContextID = h
	resp.Arg = h
	c.log.Debug("context created", "handle", h, "role", e.Role.String(), "pid", e.PID)
}

func (c *Card) deinit(req *message.Request, resp *message.Response) {
	if c.lookup(resp, req.ContextID) == nil {
		return
	}
	delete(c.contexts, req.ContextID)
}

func (c *Card) setParameter(req *message.Request, resp *message.Response) {
	comp := c.lookup(resp, req.ContextID)
	if comp == nil {
		return
	}
	p, _ := req.Field()
	if !p.Valid() {
		fail(resp, int32(unix.EINVAL))
		return
	}
	comp.params[p] = req.Value(p.Size())
}

func (c *Card) getParameter(req *message.Request, resp *message.Response) {
	comp := c.lookup(resp, req.ContextID)
	if comp == nil {
		return
	}
	p, _ := req.Field()
	if !p.Valid() {
		fail(resp, int32(unix.EINVAL))
		return
	}
	value, ok := comp.params[p]
	if !ok {
		value = make([]byte, p.Size())
		switch p {
		case message.ParamTemperature:
			binary.LittleEndian.PutUint32(value, defaultTemperature)
		case message.ParamPowerState:
			binary.LittleEndian.PutUint32(value, defaultPowerState)
		case message.ParamAvailableLoad:
			binary.LittleEndian.PutUint32(value, uint32(len(c.contexts)))
		}
	}
	if err := resp.SetValue(value); err != nil {
		fail(resp, int32(unix.EMSGSIZE))
	}
}

func (c *Card) transfer(req *message.Request, resp *message.Response) {
	if c.lookup(resp, req.ContextID) == nil {
		return
	}
	cmd, arg := req.Cmd()

	switch cmd.Base() {
	case message.CmdUpload:
		prefix, err := message.DecodeWirePrefix(req.Ext)
		if err != nil {
			fail(resp, int32(unix.EINVAL))
			return
		}
		buf := &buffer{typ: prefix.Type, ref: 1}
		switch prefix.Type {
		case message.WireBufPacket, message.WireBufMetadata:
			pkt, err := message.DecodeWirePacket(req.Ext)
			if err != nil {
				fail(resp, int32(unix.EINVAL))
				return
			}
			buf.size = pkt.Size
			buf.usedSize = pkt.UsedSize
		case message.WireBufSurface:
			s, err := message.DecodeWireSurface(req.Ext)
			if err != nil {
				fail(resp, int32(unix.EINVAL))
				return
			}
			for _, plane := range s.Planes {
				buf.size += plane.Size
			}
			buf.usedSize = buf.size
		default:
			fail(resp, int32(unix.EINVAL))
			return
		}
		h := c.newBuffer(buf)
		resp.Arg = h
		c.log.Debug("buffer uploaded", "handle", h, "type", prefix.Type.String(), "size", buf.size)

	case message.CmdDownload:
		prefix, err := message.DecodeWirePrefix(req.Ext)
		if err != nil {
			fail(resp, int32(unix.EINVAL))
			return
		}
		buf, ok := c.buffers[prefix.Handle]
		if !ok {
			fail(resp, int32(unix.ENOENT))
			return
		}
		resp.Arg = buf.usedSize
		c.addRef(prefix.Handle, -1)

	default:
		// tunnelled commands act on a buffer already on the card
		resp.Arg = arg
	}
}

func (c *Card) process(req *message.Request, resp *message.Response) {
	comp := c.lookup(resp, req.ContextID)
	if comp == nil {
		return
	}
	_, first := req.Cmd()
	inputs := []uint32{first}
	for i := 0; i+4 <= len(req.Ext); i += 4 {
		if h := binary.LittleEndian.Uint32(req.Ext[i:]); h != message.BufferEOS {
			inputs = append(inputs, h)
		}
	}

	var produced []uint32
	for _, h := range inputs {
		if h == message.BufferEOS || h == message.BufferRepeat {
			continue
		}
		if _, ok := c.buffers[h]; !ok {
			fail(resp, int32(unix.ENOENT))
			return
		}
		c.addRef(h, -1)
		produced = append(produced, c.newBuffer(c.output(comp.role)))
	}

	if len(produced) == 0 {
		resp.Arg = message.BufferEOS
		return
	}
	resp.Arg = produced[0]
	if len(produced) > 1 {
		if err := resp.SetExtension(message.HandleWords(produced[1:])); err != nil {
			fail(resp, int32(unix.EMSGSIZE))
		}
	}
}

// output describes the buffer a component of role produces
func (c *Card) output(role message.Role) *buffer {
	switch role {
	case message.RoleEncoder, message.RoleMultipassEncoder:
		return &buffer{typ: message.WireBufPacket, ref: 1, size: ProducedPacketSize, usedSize: ProducedPacketSize}
	case message.RoleDecoder, message.RoleScaler:
		return &buffer{typ: message.WireBufSurface, ref: 1}
	default:
		return &buffer{typ: message.WireBufMetadata, ref: 1, size: ProducedMetadataSize, usedSize: ProducedMetadataSize}
	}
}

func (c *Card) xref(req *message.Request, resp *message.Response) {
	if c.lookup(resp, req.ContextID) == nil {
		return
	}
	delta, h := req.Ref()
	if _, ok := c.buffers[h]; !ok {
		fail(resp, int32(unix.ENOENT))
		return
	}
	ref := c.addRef(h, delta)
	if ref < 0 {
		ref = 0
	}
	resp.Arg = uint32(ref)
}

func (c *Card) shutdown(typ message.ShutdownType, pid uint32) {
	for h, comp := range c.contexts {
		if typ == message.ShutdownGraceful || (typ == message.ShutdownPID && comp.pid == pid) {
			delete(c.contexts, h)
		}
	}
	c.log.Debug("shutdown", "type", typ.String(), "pid", pid)
}

func (c *Card) newBuffer(b *buffer) uint32 {
	h := c.nextBuffer
	c.nextBuffer++
	if c.nextBuffer == message.DummyReplyHandle {
		c.nextBuffer++
	}
	c.buffers[h] = b
	return h
}

func (c *Card) addRef(h uint32, delta int32) int32 {
	b := c.buffers[h]
	b.ref += delta
	if b.ref <= 0 {
		delete(c.buffers, h)
	}
	return b.ref
}
