package backend

import (
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// Selector names the response a reader waits for. A non-zero MsgID is an
// exact match, narrowed by Function and ContextID when they are set;
// otherwise the first frame with Function and ContextID wins.
type Selector struct {
	QueueID   uint8
	MsgID     uint16
	Function  message.FunctionID
	ContextID uint32
}

func (s Selector) matches(r *message.Response) bool {
	return r.Matches(s.MsgID, s.Function, s.ContextID)
}

// stale reports whether r carries the selected message id but answers a
// different request, one abandoned before the id was handed out again
func (s Selector) stale(r *message.Response) bool {
	return s.MsgID != message.UnpairedMsgID && r.MsgID == s.MsgID && !s.matches(r)
}

// pendingQueue holds responses read off the channel that no reader has
// claimed yet, in arrival order. Guarded by Device.mu.
type pendingQueue struct {
	frames []*message.Response
}

func (q *pendingQueue) append(r *message.Response) {
	q.frames = append(q.frames, r)
}

func (q *pendingQueue) remove(i int) *message.Response {
	r := q.frames[i]
	copy(q.frames[i:], q.frames[i+1:])
	q.frames[len(q.frames)-1] = nil
	q.frames = q.frames[:len(q.frames)-1]
	return r
}

func (q *pendingQueue) retrieveExact(sel Selector) *message.Response {
	for i, r := range q.frames {
		if sel.matches(r) {
			return q.remove(i)
		}
	}
	return nil
}

func (q *pendingQueue) retrieveByFunction(fn message.FunctionID, contextID uint32) *message.Response {
	for i, r := range q.frames {
		if r.Function == fn && r.ContextID == contextID {
			return q.remove(i)
		}
	}
	return nil
}

func (q *pendingQueue) retrieve(sel Selector) *message.Response {
	if sel.MsgID != message.UnpairedMsgID {
		return q.retrieveExact(sel)
	}
	return q.retrieveByFunction(sel.Function, sel.ContextID)
}

// purge drops every frame carrying msgID and returns how many were dropped
func (q *pendingQueue) purge(msgID uint16) int {
	return q.dropIf(func(r *message.Response) bool { return r.MsgID == msgID })
}

// dropStale drops the frames sel considers stale
func (q *pendingQueue) dropStale(sel Selector) int {
	return q.dropIf(sel.stale)
}

func (q *pendingQueue) dropIf(drop func(*message.Response) bool) int {
	n := 0
	kept := q.frames[:0]
	for _, r := range q.frames {
		if drop(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(q.frames); i++ {
		q.frames[i] = nil
	}
	q.frames = kept
	return n
}

func (q *pendingQueue) len() int {
	return len(q.frames)
}
