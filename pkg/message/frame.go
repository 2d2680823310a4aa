package message

import (
	"encoding/binary"
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// Frame geometry. Every frame is one base unit followed by Size extension
// units; the base unit of a request and of a response share their first
// eight bytes.
const (
	FrameUnit      = 16
	MaxExtUnits    = 255
	MaxFrameBytes  = FrameUnit * (MaxExtUnits + 1)
	NumQueues      = 3
	MsgIDSlots     = 256
	UnpairedMsgID  = 0
	queueIDMask    = 0x000F
	msgIDShift     = 4
	msgIDMask      = 0x0FFF
	headerBytes    = 8
	argsOffset     = 8
	responseArgOff = 12
)

// FrameUnits returns the number of whole frame units needed to carry
// payloadBytes. More than MaxExtUnits+1 units cannot be described by the
// size field and is reported as oversize.
func FrameUnits(payloadBytes int) (int, error) {
	if payloadBytes < 0 {
		return 0, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("negative payload size %d", payloadBytes))
	}
	units := (payloadBytes + FrameUnit - 1) / FrameUnit
	if units > MaxExtUnits+1 {
		return 0, driver.NewError(driver.StatusOversize, fmt.Sprintf("%d bytes need %d units", payloadBytes, units))
	}
	return units, nil
}

// FrameBytes returns the wire length of a frame with size extension units
func FrameBytes(size uint8) int {
	return FrameUnit * (int(size) + 1)
}

// Header is the part shared by requests and responses
type Header struct {
	Function  FunctionID
	Size      uint8
	QueueID   uint8
	MsgID     uint16
	ContextID uint32
}

func (h Header) put(b []byte) {
	b[0] = byte(h.Function)
	b[1] = h.Size
	binary.LittleEndian.PutUint16(b[2:4], uint16(h.QueueID)&queueIDMask|(h.MsgID&msgIDMask)<<msgIDShift)
	binary.LittleEndian.PutUint32(b[4:8], h.ContextID)
}

// PeekHeader decodes the header of a raw frame without validating its length
func PeekHeader(b []byte) (Header, error) {
	if len(b) < headerBytes {
		return Header{}, driver.NewError(driver.StatusMessageSize, fmt.Sprintf("frame of %d bytes has no header", len(b)))
	}
	q := binary.LittleEndian.Uint16(b[2:4])
	return Header{
		Function:  FunctionID(b[0]),
		Size:      b[1],
		QueueID:   uint8(q & queueIDMask),
		MsgID:     (q >> msgIDShift) & msgIDMask,
		ContextID: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

func checkFrame(b []byte) (Header, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return h, err
	}
	if len(b) != FrameBytes(h.Size) {
		return h, driver.NewError(driver.StatusMessageSize,
			fmt.Sprintf("%s frame is %d bytes, header says %d", h.Function, len(b), FrameBytes(h.Size)))
	}
	return h, nil
}

// padExtension copies payload into whole frame units
func padExtension(payload []byte) ([]byte, error) {
	units, err := FrameUnits(len(payload))
	if err != nil {
		return nil, err
	}
	if units > MaxExtUnits {
		return nil, driver.NewError(driver.StatusOversize, fmt.Sprintf("extension of %d units", units))
	}
	ext := make([]byte, units*FrameUnit)
	copy(ext, payload)
	return ext, nil
}

func extSize(ext []byte) (uint8, error) {
	if len(ext)%FrameUnit != 0 {
		return 0, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("extension of %d bytes is not unit aligned", len(ext)))
	}
	units := len(ext) / FrameUnit
	if units > MaxExtUnits {
		return 0, driver.NewError(driver.StatusOversize, fmt.Sprintf("extension of %d units", units))
	}
	return uint8(units), nil
}

// user data tags live at the start of the last unit of a frame
func userDataTag(ext []byte) uint64 {
	if len(ext) < FrameUnit {
		return 0
	}
	return binary.LittleEndian.Uint64(ext[len(ext)-FrameUnit:])
}

func setUserDataTag(ext []byte, tag uint64) error {
	if len(ext) < FrameUnit {
		return driver.NewError(driver.StatusInvalidArgument, "user data tag needs an extension unit")
	}
	binary.LittleEndian.PutUint64(ext[len(ext)-FrameUnit:], tag)
	return nil
}
