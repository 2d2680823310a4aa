package vkil

import (
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/backend"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

func notAggregate(b Buffer, verb string) error {
	if b == nil {
		return driver.NewError(driver.StatusInvalidArgument, verb+" of a nil buffer")
	}
	if _, ok := b.(*Aggregate); ok {
		return driver.NewError(driver.StatusInvalidArgument, verb+" of an aggregate, use its members")
	}
	return nil
}

// TransferBuffer moves a buffer between host and card.
//
// Upload and download carry the full descriptor. An upload counts the
// buffer as held on the card once the card confirms it; a download drops
// that claim as soon as the request is written. Any other command is
// tunnelled with the buffer handle only.
//
// Without OptBlocking the request is left in flight. A later call with
// OptCB collects the oldest transfer response of the context into b;
// it waits only when OptBlocking is also set and reports no message when
// nothing has completed.
func (a *API) TransferBuffer(c *Context, b Buffer, cmd message.Command) error {
	if err := notAggregate(b, "transfer"); err != nil {
		return err
	}
	dev, handle, err := c.ready()
	if err != nil {
		return err
	}
	if cmd.Callback() {
		return a.collectResponse(c, dev, handle, message.FuncTransBufDone, b, cmd)
	}

	p := b.prefix()
	base := cmd.Base()
	req := &message.Request{Function: message.FuncTransBuf, ContextID: handle}
	switch base {
	case message.CmdUpload, message.CmdDownload:
		if base == message.CmdDownload && !isRealBuffer(p.Handle) {
			return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("download of buffer 0x%x", p.Handle))
		}
		desc, err := descriptor(b)
		if err != nil {
			return err
		}
		req.SetCmd(cmd&message.CmdLoadMask, 0)
		if err := req.SetExtension(desc); err != nil {
			return err
		}
	default:
		req.SetCmd(base, p.Handle)
	}

	id, err := a.send(c, dev, req, p.UserData)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", base, err)
	}
	if base == message.CmdDownload {
		p.ref--
	}

	if !cmd.Blocking() {
		c.track(id, flight{fn: message.FuncTransBuf, cmd: cmd})
		return nil
	}

	defer a.releaseMsgID(c, dev, id)
	resp, err := dev.Read(replySelector(req), backend.WaitNormal)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", base, err)
	}
	a.completeTransfer(c, b, cmd, resp)
	return nil
}

func (a *API) completeTransfer(c *Context, b Buffer, cmd message.Command, resp *message.Response) {
	p := b.prefix()
	switch cmd.Base() {
	case message.CmdUpload:
		p.Handle = resp.Arg
		if isRealBuffer(p.Handle) {
			p.ref++
		}
	case message.CmdDownload:
		switch v := b.(type) {
		case *Packet:
			v.UsedSize = resp.Arg
		case *Metadata:
			v.UsedSize = resp.Arg
		}
	default:
		p.Handle = resp.Arg
	}
	c.log.Debug("buffer transferred",
		"command", cmd.Base().String(),
		"type", b.Type().String(),
		"handle", fmt.Sprintf("0x%x", p.Handle),
		"ref", p.ref)
}

// ProcessBuffer submits a buffer, or every member of an aggregate, to the
// component. The inputs are consumed when the request is written; the
// handles the card produces are written back into the same descriptor,
// each counted once, together with the user data the input carried.
// OptCB and OptBlocking behave as for TransferBuffer.
func (a *API) ProcessBuffer(c *Context, b Buffer, cmd message.Command) error {
	if b == nil {
		return driver.NewError(driver.StatusInvalidArgument, "process of a nil buffer")
	}
	dev, handle, err := c.ready()
	if err != nil {
		return err
	}
	if cmd.Callback() {
		return a.collectResponse(c, dev, handle, message.FuncProcBufDone, b, cmd)
	}

	ms, err := members(b)
	if err != nil {
		return err
	}
	handles := make([]uint32, len(ms))
	for i, m := range ms {
		handles[i] = m.prefix().Handle
	}

	req := &message.Request{Function: message.FuncProcBuf, ContextID: handle}
	req.SetCmd(cmd, handles[0])
	if len(handles) > 1 {
		if err := req.SetExtension(message.HandleWords(handles[1:])); err != nil {
			return err
		}
	}

	consume(ms, -1)
	syncAggregate(b)
	userData := b.prefix().UserData
	id, err := a.send(c, dev, req, userData)
	if err != nil {
		// the card never saw the inputs
		consume(ms, 1)
		syncAggregate(b)
		return fmt.Errorf("process: %w", err)
	}

	if !cmd.Blocking() {
		c.track(id, flight{fn: message.FuncProcBuf, cmd: cmd})
		return nil
	}

	defer a.releaseMsgID(c, dev, id)
	resp, err := dev.Read(replySelector(req), backend.WaitNormal)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	return a.completeProcess(c, b, resp, userData)
}

func consume(ms []Buffer, delta int32) {
	for _, m := range ms {
		if p := m.prefix(); isRealBuffer(p.Handle) {
			p.ref += delta
		}
	}
}

func (a *API) completeProcess(c *Context, b Buffer, resp *message.Response, userData uint64) error {
	ms, err := members(b)
	if err != nil {
		return err
	}
	words := resp.Words()
	for i, m := range ms {
		h := message.BufferEOS
		if i < len(words) {
			h = words[i]
		}
		p := m.prefix()
		p.Handle = h
		p.UserData = userData
		if isRealBuffer(h) {
			p.ref++
		}
	}
	b.prefix().UserData = userData
	syncAggregate(b)

	c.log.Debug("buffer processed",
		"type", b.Type().String(),
		"handle", fmt.Sprintf("0x%x", b.prefix().Handle),
		"outputs", len(ms))
	return nil
}

// XrefBuffer changes the card's reference count on a buffer by delta. A
// release is applied to the local count before the request is written, an
// acquisition only once the card confirms it. OptCB and OptBlocking behave
// as for TransferBuffer.
func (a *API) XrefBuffer(c *Context, b Buffer, delta int32, cmd message.Command) error {
	if err := notAggregate(b, "xref"); err != nil {
		return err
	}
	dev, handle, err := c.ready()
	if err != nil {
		return err
	}
	if cmd.Callback() {
		return a.collectResponse(c, dev, handle, message.FuncXrefBufDone, b, cmd)
	}

	p := b.prefix()
	if !isRealBuffer(p.Handle) {
		return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("xref of buffer 0x%x", p.Handle))
	}

	req := &message.Request{Function: message.FuncXrefBuf, ContextID: handle}
	req.SetRef(delta, p.Handle)
	if delta < 0 {
		p.ref += delta
	}
	id, err := a.send(c, dev, req, p.UserData)
	if err != nil {
		if delta < 0 {
			p.ref -= delta
		}
		return fmt.Errorf("xref %+d: %w", delta, err)
	}

	if !cmd.Blocking() {
		c.track(id, flight{fn: message.FuncXrefBuf, cmd: cmd, delta: delta})
		return nil
	}

	defer a.releaseMsgID(c, dev, id)
	if _, err := dev.Read(replySelector(req), backend.WaitNormal); err != nil {
		return fmt.Errorf("xref %+d: %w", delta, err)
	}
	if delta > 0 {
		p.ref += delta
	}
	return nil
}

// collectResponse claims the oldest response of kind fn for the context
// and applies it to b. The request it answers was left in flight by a
// non-blocking call.
func (a *API) collectResponse(c *Context, dev *backend.Device, handle uint32, fn message.FunctionID, b Buffer, cmd message.Command) error {
	wait := backend.WaitNone
	if cmd.Blocking() {
		wait = backend.WaitNormal
	}
	resp, err := dev.Read(backend.Selector{QueueID: c.QueueID, Function: fn, ContextID: handle}, wait)
	if resp == nil {
		return err
	}

	f, tracked := c.collect(resp.MsgID)
	userData, _ := dev.Messages().UserData(resp.MsgID)
	if tracked {
		a.releaseMsgID(c, dev, resp.MsgID)
	} else {
		// the id belongs to a caller waiting on it, who releases it
		c.log.Warn("collected a response with no request in flight", "function", fn.String(), "msg_id", resp.MsgID)
		f = flight{cmd: cmd}
	}
	if err != nil {
		return fmt.Errorf("collect %s: %w", fn, err)
	}

	switch fn {
	case message.FuncTransBufDone:
		a.completeTransfer(c, b, f.cmd, resp)
	case message.FuncProcBufDone:
		return a.completeProcess(c, b, resp, userData)
	case message.FuncXrefBufDone:
		if f.delta > 0 {
			b.prefix().ref += f.delta
		}
	}
	return nil
}
