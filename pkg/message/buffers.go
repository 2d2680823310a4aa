package message

import (
	"encoding/binary"
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// WireBufferType tags a buffer descriptor on the wire
type WireBufferType uint8

const (
	WireBufUndef      WireBufferType = 0
	WireBufMetadata   WireBufferType = 0x4
	WireBufPacket     WireBufferType = 0x8
	WireBufSurface    WireBufferType = 0x10
	WireBufAggregated WireBufferType = 0x20
)

func (t WireBufferType) String() string {
	switch t {
	case WireBufUndef:
		return "undefined"
	case WireBufMetadata:
		return "metadata"
	case WireBufPacket:
		return "packet"
	case WireBufSurface:
		return "surface"
	case WireBufAggregated:
		return "aggregated"
	default:
		return fmt.Sprintf("buffer_type(0x%x)", uint8(t))
	}
}

// Wire descriptor sizes
const (
	SizeOfWirePrefix  = 16
	SizeOfWirePacket  = 32
	SizeOfWireSurface = 96
	SurfacePlanes     = 4
	sizeOfWirePlane   = 12
)

// WirePrefix is the common head of every wire buffer descriptor
// struct vk_buffer {
//     uint32_t handle;               // offset 0
//     uint32_t flags:16;             // offset 4
//     uint32_t port_id:8;
//     uint32_t type:8;
//     uint64_t user_data_tag;        // offset 8
// };
type WirePrefix struct {
	Handle      uint32
	Flags       uint16
	PortID      uint8
	Type        WireBufferType
	UserDataTag uint64
}

func (p WirePrefix) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.Handle)
	binary.LittleEndian.PutUint32(b[4:8], uint32(p.Flags)|uint32(p.PortID)<<16|uint32(p.Type)<<24)
	binary.LittleEndian.PutUint64(b[8:16], p.UserDataTag)
}

// DecodeWirePrefix reads the prefix at the start of b
func DecodeWirePrefix(b []byte) (WirePrefix, error) {
	if len(b) < SizeOfWirePrefix {
		return WirePrefix{}, driver.NewError(driver.StatusMessageSize, fmt.Sprintf("buffer prefix needs %d bytes, have %d", SizeOfWirePrefix, len(b)))
	}
	word := binary.LittleEndian.Uint32(b[4:8])
	return WirePrefix{
		Handle:      binary.LittleEndian.Uint32(b[0:4]),
		Flags:       uint16(word),
		PortID:      uint8(word >> 16),
		Type:        WireBufferType(word >> 24),
		UserDataTag: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// WirePacket describes a linear buffer; metadata buffers share its layout
// struct vk_buffer_packet {
//     struct vk_buffer prefix;       // offset 0
//     uint32_t used_size;            // offset 16
//     uint32_t size;                 // offset 20
//     uint64_t data;                 // offset 24
// };
type WirePacket struct {
	WirePrefix
	UsedSize uint32
	Size     uint32
	Data     uint64
}

// Marshal encodes the descriptor
func (p *WirePacket) Marshal() []byte {
	b := make([]byte, SizeOfWirePacket)
	p.WirePrefix.put(b)
	binary.LittleEndian.PutUint32(b[16:20], p.UsedSize)
	binary.LittleEndian.PutUint32(b[20:24], p.Size)
	binary.LittleEndian.PutUint64(b[24:32], p.Data)
	return b
}

// DecodeWirePacket parses a packet or metadata descriptor
func DecodeWirePacket(b []byte) (*WirePacket, error) {
	prefix, err := DecodeWirePrefix(b)
	if err != nil {
		return nil, err
	}
	if len(b) < SizeOfWirePacket {
		return nil, driver.NewError(driver.StatusMessageSize, fmt.Sprintf("packet descriptor needs %d bytes, have %d", SizeOfWirePacket, len(b)))
	}
	return &WirePacket{
		WirePrefix: prefix,
		UsedSize:   binary.LittleEndian.Uint32(b[16:20]),
		Size:       binary.LittleEndian.Uint32(b[20:24]),
		Data:       binary.LittleEndian.Uint64(b[24:32]),
	}, nil
}

// WirePlane is one packed surface plane
type WirePlane struct {
	Size    uint32
	Address uint64
}

// WireSurface describes a multi plane picture
// struct vk_buffer_surface {
//     struct vk_buffer prefix;       // offset 0
//     uint32_t max_size;             // offset 16, width lsb16, height msb16
//     uint32_t visible_size;         // offset 20
//     uint16_t xoffset, yoffset;     // offset 24
//     uint16_t format, quality;      // offset 28
//     uint16_t stride[2];            // offset 32
//     uint32_t reserved1;            // offset 36
//     uint64_t reserved2;            // offset 40
//     struct { uint32_t size; uint64_t address; } __packed planes[4]; // offset 48
// };
type WireSurface struct {
	WirePrefix
	MaxSize     uint32
	VisibleSize uint32
	XOffset     uint16
	YOffset     uint16
	Format      uint16
	Quality     uint16
	Stride      [2]uint16
	Planes      [SurfacePlanes]WirePlane
}

// Marshal encodes the descriptor
func (s *WireSurface) Marshal() []byte {
	b := make([]byte, SizeOfWireSurface)
	s.WirePrefix.put(b)
	binary.LittleEndian.PutUint32(b[16:20], s.MaxSize)
	binary.LittleEndian.PutUint32(b[20:24], s.VisibleSize)
	binary.LittleEndian.PutUint16(b[24:26], s.XOffset)
	binary.LittleEndian.PutUint16(b[26:28], s.YOffset)
	binary.LittleEndian.PutUint16(b[28:30], s.Format)
	binary.LittleEndian.PutUint16(b[30:32], s.Quality)
	binary.LittleEndian.PutUint16(b[32:34], s.Stride[0])
	binary.LittleEndian.PutUint16(b[34:36], s.Stride[1])
	for i, plane := range s.Planes {
		off := 48 + i*sizeOfWirePlane
		binary.LittleEndian.PutUint32(b[off:off+4], plane.Size)
		binary.LittleEndian.PutUint64(b[off+4:off+12], plane.Address)
	}
	return b
}

// DecodeWireSurface parses a surface descriptor
func DecodeWireSurface(b []byte) (*WireSurface, error) {
	prefix, err := DecodeWirePrefix(b)
	if err != nil {
		return nil, err
	}
	if len(b) < SizeOfWireSurface {
		return nil, driver.NewError(driver.StatusMessageSize, fmt.Sprintf("surface descriptor needs %d bytes, have %d", SizeOfWireSurface, len(b)))
	}
	s := &WireSurface{
		WirePrefix:  prefix,
		MaxSize:     binary.LittleEndian.Uint32(b[16:20]),
		VisibleSize: binary.LittleEndian.Uint32(b[20:24]),
		XOffset:     binary.LittleEndian.Uint16(b[24:26]),
		YOffset:     binary.LittleEndian.Uint16(b[26:28]),
		Format:      binary.LittleEndian.Uint16(b[28:30]),
		Quality:     binary.LittleEndian.Uint16(b[30:32]),
		Stride:      [2]uint16{binary.LittleEndian.Uint16(b[32:34]), binary.LittleEndian.Uint16(b[34:36])},
	}
	for i := range s.Planes {
		off := 48 + i*sizeOfWirePlane
		s.Planes[i] = WirePlane{
			Size:    binary.LittleEndian.Uint32(b[off : off+4]),
			Address: binary.LittleEndian.Uint64(b[off+4 : off+12]),
		}
	}
	return s, nil
}

// PackSize packs a width and height the way max_size and visible_size
// carry them
func PackSize(width, height uint16) uint32 {
	return uint32(width) | uint32(height)<<16
}

// UnpackSize splits a packed size into width and height
func UnpackSize(size uint32) (uint16, uint16) {
	return uint16(size), uint16(size >> 16)
}

// HandleWords encodes handles as consecutive little endian words
func HandleWords(handles []uint32) []byte {
	b := make([]byte, 4*len(handles))
	for i, h := range handles {
		binary.LittleEndian.PutUint32(b[4*i:], h)
	}
	return b
}
