package message

import (
	"encoding/binary"
	"fmt"
)

// Handle values with a protocol meaning
const (
	NewContext         uint32 = 0
	InfoContext        uint32 = 0
	StartValidHandle   uint32 = 0x400
	BufferEOS          uint32 = 0
	BufferRepeat       uint32 = 1
	DummyReplyHandle   uint32 = 0xDEADBEEF
	ContextEssentialSz        = 8
	maxPID                    = 1<<24 - 1
)

// Role is the kind of remote component a context drives
type Role uint8

const (
	RoleInfo             Role = 0
	RoleDMA              Role = 1
	RoleDecoder          Role = 2
	RoleEncoder          Role = 3
	RoleScaler           Role = 4
	RoleMultipassEncoder Role = 5
	RoleMax              Role = 0xF
)

func (r Role) String() string {
	switch r {
	case RoleInfo:
		return "info"
	case RoleDMA:
		return "dma"
	case RoleDecoder:
		return "decoder"
	case RoleEncoder:
		return "encoder"
	case RoleScaler:
		return "scaler"
	case RoleMultipassEncoder:
		return "multipass_encoder"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ContextEssential is the descriptor the card needs to create a context.
// It is packed into the two argument words of an init request.
type ContextEssential struct {
	Handle  uint32
	QueueID uint8
	Role    Role
	PID     uint32
}

// Pack encodes the descriptor into argument words
func (e ContextEssential) Pack() [2]uint32 {
	word := uint32(e.QueueID)&0xF | (uint32(e.Role)&0xF)<<4 | (e.PID&maxPID)<<8
	return [2]uint32{e.Handle, word}
}

// Bytes returns the 8 byte wire form
func (e ContextEssential) Bytes() []byte {
	words := e.Pack()
	b := make([]byte, ContextEssentialSz)
	binary.LittleEndian.PutUint32(b[0:4], words[0])
	binary.LittleEndian.PutUint32(b[4:8], words[1])
	return b
}

// UnpackEssential decodes argument words into a descriptor
func UnpackEssential(args [2]uint32) ContextEssential {
	return ContextEssential{
		Handle:  args[0],
		QueueID: uint8(args[1] & 0xF),
		Role:    Role((args[1] >> 4) & 0xF),
		PID:     args[1] >> 8,
	}
}

// IsRemoteHandle reports whether h names a context created on the card
func IsRemoteHandle(h uint32) bool {
	return h >= StartValidHandle
}
