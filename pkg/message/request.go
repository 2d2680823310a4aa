package message

import (
	"encoding/binary"
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// Request is a host to card frame. Args is the two word argument area;
// the typed setters below are views over it. Ext holds the extension
// units and is always a whole number of units long.
type Request struct {
	Function  FunctionID
	QueueID   uint8
	MsgID     uint16
	ContextID uint32
	Args      [2]uint32
	Ext       []byte
}

// SetCmd fills the command view
func (r *Request) SetCmd(cmd Command, arg uint32) {
	r.Args = [2]uint32{uint32(cmd), arg}
}

// Cmd returns the command view
func (r *Request) Cmd() (Command, uint32) {
	return Command(r.Args[0]), r.Args[1]
}

// SetField fills the field view used by parameter requests
func (r *Request) SetField(idx Parameter, val uint32) {
	r.Args = [2]uint32{uint32(idx), val}
}

// Field returns the field view
func (r *Request) Field() (Parameter, uint32) {
	return Parameter(r.Args[0]), r.Args[1]
}

// SetRef fills the reference view used by xref requests
func (r *Request) SetRef(delta int32, handle uint32) {
	r.Args = [2]uint32{uint32(delta), handle}
}

// Ref returns the reference view
func (r *Request) Ref() (int32, uint32) {
	return int32(r.Args[0]), r.Args[1]
}

// SetErr fills the error view
func (r *Request) SetErr(state uint32, ret int32) {
	r.Args = [2]uint32{state, uint32(ret)}
}

// Err returns the error view
func (r *Request) Err() (uint32, int32) {
	return r.Args[0], int32(r.Args[1])
}

// SetExtension stores payload in whole extension units
func (r *Request) SetExtension(payload []byte) error {
	ext, err := padExtension(payload)
	if err != nil {
		return err
	}
	r.Ext = ext
	return nil
}

// SetValue stores a parameter value starting at args[1] and spilling into
// the extension when it does not fit in one word
func (r *Request) SetValue(value []byte) error {
	var word [4]byte
	copy(word[:], value)
	r.Args[1] = binary.LittleEndian.Uint32(word[:])
	r.Ext = nil
	if len(value) > 4 {
		return r.SetExtension(value[4:])
	}
	return nil
}

// Size is the number of extension units
func (r *Request) Size() uint8 {
	return uint8(len(r.Ext) / FrameUnit)
}

// UserDataTag returns the tag stored in the last unit of the frame
func (r *Request) UserDataTag() uint64 {
	return userDataTag(r.Ext)
}

// SetUserDataTag stores tag in the last unit of the frame. The frame needs
// at least one extension unit.
func (r *Request) SetUserDataTag(tag uint64) error {
	return setUserDataTag(r.Ext, tag)
}

// Marshal encodes the request in wire order. Unused argument words are
// zero because Args is always written in full.
func (r *Request) Marshal() ([]byte, error) {
	size, err := extSize(r.Ext)
	if err != nil {
		return nil, err
	}
	if r.QueueID >= NumQueues {
		return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("queue id %d", r.QueueID))
	}
	if r.MsgID > msgIDMask {
		return nil, driver.NewError(driver.StatusInvalidID, fmt.Sprintf("message id %d", r.MsgID))
	}
	b := make([]byte, FrameBytes(size))
	Header{
		Function:  r.Function,
		Size:      size,
		QueueID:   r.QueueID,
		MsgID:     r.MsgID,
		ContextID: r.ContextID,
	}.put(b)
	binary.LittleEndian.PutUint32(b[8:12], r.Args[0])
	binary.LittleEndian.PutUint32(b[12:16], r.Args[1])
	copy(b[FrameUnit:], r.Ext)
	return b, nil
}

// DecodeRequest parses a raw request frame
func DecodeRequest(b []byte) (*Request, error) {
	h, err := checkFrame(b)
	if err != nil {
		return nil, err
	}
	r := &Request{
		Function:  h.Function,
		QueueID:   h.QueueID,
		MsgID:     h.MsgID,
		ContextID: h.ContextID,
		Args: [2]uint32{
			binary.LittleEndian.Uint32(b[8:12]),
			binary.LittleEndian.Uint32(b[12:16]),
		},
	}
	if h.Size > 0 {
		r.Ext = append([]byte(nil), b[FrameUnit:]...)
	}
	return r, nil
}

// Value returns n bytes of parameter value starting at args[1]
func (r *Request) Value(n int) []byte {
	return spilledValue(r.Args[1], r.Ext, n)
}

func spilledValue(word uint32, ext []byte, n int) []byte {
	out := make([]byte, 4, 4+len(ext))
	binary.LittleEndian.PutUint32(out, word)
	out = append(out, ext...)
	if n < len(out) {
		out = out[:n]
	}
	return out
}
