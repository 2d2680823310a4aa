package message

import (
	"encoding/binary"
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// Response is a card to host frame
type Response struct {
	Function  FunctionID
	QueueID   uint8
	MsgID     uint16
	ContextID uint32
	HWStatus  HWStatus
	Arg       uint32
	Ext       []byte
}

// DecodeResponse parses a raw response frame. The frame length must match
// the size field exactly.
func DecodeResponse(b []byte) (*Response, error) {
	h, err := checkFrame(b)
	if err != nil {
		return nil, err
	}
	r := &Response{
		Function:  h.Function,
		QueueID:   h.QueueID,
		MsgID:     h.MsgID,
		ContextID: h.ContextID,
		HWStatus:  HWStatus(binary.LittleEndian.Uint32(b[8:12])),
		Arg:       binary.LittleEndian.Uint32(b[responseArgOff:16]),
	}
	if h.Size > 0 {
		r.Ext = append([]byte(nil), b[FrameUnit:]...)
	}
	return r, nil
}

// Marshal encodes the response in wire order
func (r *Response) Marshal() ([]byte, error) {
	size, err := extSize(r.Ext)
	if err != nil {
		return nil, err
	}
	if r.QueueID > queueIDMask {
		return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("queue id %d", r.QueueID))
	}
	b := make([]byte, FrameBytes(size))
	Header{
		Function:  r.Function,
		Size:      size,
		QueueID:   r.QueueID,
		MsgID:     r.MsgID,
		ContextID: r.ContextID,
	}.put(b)
	binary.LittleEndian.PutUint32(b[8:12], uint32(r.HWStatus))
	binary.LittleEndian.PutUint32(b[responseArgOff:16], r.Arg)
	copy(b[FrameUnit:], r.Ext)
	return b, nil
}

// Size is the number of extension units
func (r *Response) Size() uint8 {
	return uint8(len(r.Ext) / FrameUnit)
}

// SetExtension stores payload in whole extension units
func (r *Response) SetExtension(payload []byte) error {
	ext, err := padExtension(payload)
	if err != nil {
		return err
	}
	r.Ext = ext
	return nil
}

// SetValue stores a parameter value starting at the arg word
func (r *Response) SetValue(value []byte) error {
	var word [4]byte
	copy(word[:], value)
	r.Arg = binary.LittleEndian.Uint32(word[:])
	r.Ext = nil
	if len(value) > 4 {
		return r.SetExtension(value[4:])
	}
	return nil
}

// Value returns n bytes of parameter value starting at the arg word
func (r *Response) Value(n int) []byte {
	return spilledValue(r.Arg, r.Ext, n)
}

// Words returns the arg word followed by every extension word. Process
// responses carry their produced handles this way.
func (r *Response) Words() []uint32 {
	words := []uint32{r.Arg}
	for i := 0; i+4 <= len(r.Ext); i += 4 {
		words = append(words, binary.LittleEndian.Uint32(r.Ext[i:i+4]))
	}
	return words
}

// UserDataTag returns the tag stored in the last unit of the frame
func (r *Response) UserDataTag() uint64 {
	return userDataTag(r.Ext)
}

// SetUserDataTag stores tag in the last unit of the frame
func (r *Response) SetUserDataTag(tag uint64) error {
	return setUserDataTag(r.Ext, tag)
}

// Failed reports whether the card flagged the operation as failed
func (r *Response) Failed() bool {
	return r.HWStatus == HWStatusError
}

// ErrorCode returns the code carried with an error status. The card
// reports EADV when it gives no specific code.
func (r *Response) ErrorCode() int32 {
	if r.Arg == 0 {
		return ErrCodeAdvertise
	}
	return int32(r.Arg)
}

// Matches reports whether r answers the request correlation key. With a
// message id, fn and contextID narrow the match when set, so a late frame
// left over from an earlier holder of the id is not taken for the reply.
func (r *Response) Matches(msgID uint16, fn FunctionID, contextID uint32) bool {
	if msgID != UnpairedMsgID {
		return r.MsgID == msgID &&
			(fn == FuncUndef || r.Function == fn) &&
			(contextID == NewContext || r.ContextID == contextID)
	}
	return r.Function == fn && r.ContextID == contextID
}

// Header returns the shared frame header
func (r *Response) Header() Header {
	return Header{
		Function:  r.Function,
		Size:      r.Size(),
		QueueID:   r.QueueID,
		MsgID:     r.MsgID,
		ContextID: r.ContextID,
	}
}
