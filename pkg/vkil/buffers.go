package vkil

import (
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// MaxAggregatedBuffers is the most buffers one Aggregate can group
const MaxAggregatedBuffers = 17

// Buffer flags
const (
	FlagInterlace uint16 = 0x0001
)

// Prefix is the part every buffer descriptor shares. The reference count
// tracks the host's claims on the card side buffer and only changes
// through the buffer verbs.
type Prefix struct {
	Handle   uint32
	Flags    uint16
	PortID   uint8
	UserData uint64
	ref      int32
}

// Ref returns the reference count
func (p *Prefix) Ref() int32 {
	return p.ref
}

func (p *Prefix) prefix() *Prefix {
	return p
}

func (p *Prefix) wire(t message.WireBufferType) message.WirePrefix {
	return message.WirePrefix{
		Handle:      p.Handle,
		Flags:       p.Flags,
		PortID:      p.PortID,
		Type:        t,
		UserDataTag: p.UserData,
	}
}

// Buffer is a descriptor the buffer verbs accept: *Metadata, *Packet,
// *Surface or *Aggregate
type Buffer interface {
	Type() message.WireBufferType
	prefix() *Prefix
}

// Metadata is an opaque side data buffer such as a qp map or statistics
type Metadata struct {
	Prefix
	UsedSize uint32
	Size     uint32
	Data     uint64
}

// Type implements Buffer
func (m *Metadata) Type() message.WireBufferType { return message.WireBufMetadata }

// Packet is a linear buffer of coded data
type Packet struct {
	Prefix
	UsedSize uint32
	Size     uint32
	Data     uint64
}

// Type implements Buffer
func (p *Packet) Type() message.WireBufferType { return message.WireBufPacket }

// Plane is one surface plane in host memory
type Plane struct {
	Size    uint32
	Address uint64
}

// Surface is a picture of up to four planes
type Surface struct {
	Prefix
	MaxWidth      uint16
	MaxHeight     uint16
	VisibleWidth  uint16
	VisibleHeight uint16
	XOffset       uint16
	YOffset       uint16
	Format        uint16
	Quality       uint16
	Stride        [2]uint16
	Planes        [message.SurfacePlanes]Plane
}

// Type implements Buffer
func (s *Surface) Type() message.WireBufferType { return message.WireBufSurface }

// Aggregate groups buffers handled by one process request. Its own prefix
// mirrors the first member.
type Aggregate struct {
	Prefix
	Buffers []Buffer
}

// Type implements Buffer
func (a *Aggregate) Type() message.WireBufferType { return message.WireBufAggregated }

// isRealBuffer reports whether h names a buffer on the card rather than a
// sentinel
func isRealBuffer(h uint32) bool {
	return h != message.BufferEOS && h != message.BufferRepeat && h != message.DummyReplyHandle
}

// descriptor encodes b in the wire layout carried by transfer requests
func descriptor(b Buffer) ([]byte, error) {
	switch v := b.(type) {
	case *Metadata:
		w := &message.WirePacket{
			WirePrefix: v.wire(message.WireBufMetadata),
			UsedSize:   v.UsedSize,
			Size:       v.Size,
			Data:       v.Data,
		}
		return w.Marshal(), nil
	case *Packet:
		w := &message.WirePacket{
			WirePrefix: v.wire(message.WireBufPacket),
			UsedSize:   v.UsedSize,
			Size:       v.Size,
			Data:       v.Data,
		}
		return w.Marshal(), nil
	case *Surface:
		w := &message.WireSurface{
			WirePrefix:  v.wire(message.WireBufSurface),
			MaxSize:     message.PackSize(v.MaxWidth, v.MaxHeight),
			VisibleSize: message.PackSize(v.VisibleWidth, v.VisibleHeight),
			XOffset:     v.XOffset,
			YOffset:     v.YOffset,
			Format:      v.Format,
			Quality:     v.Quality,
			Stride:      v.Stride,
		}
		for i, p := range v.Planes {
			w.Planes[i] = message.WirePlane{Size: p.Size, Address: p.Address}
		}
		return w.Marshal(), nil
	default:
		return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("%s buffers cannot be transferred", b.Type()))
	}
}

// members returns the buffers a process request names, in order
func members(b Buffer) ([]Buffer, error) {
	agg, ok := b.(*Aggregate)
	if !ok {
		return []Buffer{b}, nil
	}
	if len(agg.Buffers) == 0 || len(agg.Buffers) > MaxAggregatedBuffers {
		return nil, driver.NewError(driver.StatusInvalidArgument,
			fmt.Sprintf("aggregate of %d buffers, expected 1 to %d", len(agg.Buffers), MaxAggregatedBuffers))
	}
	for i, m := range agg.Buffers {
		if _, nested := m.(*Aggregate); nested || m == nil {
			return nil, driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("aggregate member %d", i))
		}
	}
	return agg.Buffers, nil
}

// syncAggregate copies the first member's handle and reference count
// into the aggregate's own prefix
func syncAggregate(b Buffer) {
	agg, ok := b.(*Aggregate)
	if !ok || len(agg.Buffers) == 0 {
		return
	}
	first := agg.Buffers[0].prefix()
	agg.Handle = first.Handle
	agg.ref = first.ref
}
