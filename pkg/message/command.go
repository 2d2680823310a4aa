package message

import (
	"strings"
)

// Command is the command word sent in args[0]: a base command in bits 8-11,
// option flags from bit 14 and a plane count in the low nibble
type Command uint32

const cmdBaseShift = 8

// Base commands
const (
	CmdNone     Command = 0 << cmdBaseShift
	CmdIdle     Command = 1 << cmdBaseShift
	CmdRun      Command = 2 << cmdBaseShift
	CmdFlush    Command = 3 << cmdBaseShift
	CmdUpload   Command = 4 << cmdBaseShift
	CmdDownload Command = 5 << cmdBaseShift
	CmdVerifyLB Command = 6 << cmdBaseShift
)

const cmdOptShift = 14

// Command options
const (
	OptCB       Command = 0x1 << cmdOptShift
	OptBlocking Command = 0x2 << cmdOptShift
	OptGetTime  Command = 0x4 << cmdOptShift
	OptDMALB    Command = 0x8 << cmdOptShift
)

// Masks
const (
	CmdMask       Command = 0xF << cmdBaseShift
	CmdOptsMask   Command = 0xF << cmdOptShift
	CmdPlanesMask Command = 0x000F
	CmdLoadMask           = CmdMask | OptDMALB
)

// Base returns the base command without options
func (c Command) Base() Command {
	return c & CmdMask
}

// Has reports whether every bit of opt is set
func (c Command) Has(opt Command) bool {
	return c&opt == opt
}

// Blocking reports whether the caller waits for the card
func (c Command) Blocking() bool {
	return c.Has(OptBlocking)
}

// Callback reports whether the caller collects a previously sent request
func (c Command) Callback() bool {
	return c.Has(OptCB)
}

// Planes returns the plane count carried in the low nibble
func (c Command) Planes() int {
	return int(c & CmdPlanesMask)
}

func (c Command) String() string {
	var name string
	switch c.Base() {
	case CmdNone:
		name = "none"
	case CmdIdle:
		name = "idle"
	case CmdRun:
		name = "run"
	case CmdFlush:
		name = "flush"
	case CmdUpload:
		name = "upload"
	case CmdDownload:
		name = "download"
	case CmdVerifyLB:
		name = "verify_lb"
	default:
		name = "unknown"
	}
	opts := []string{name}
	if c.Has(OptCB) {
		opts = append(opts, "cb")
	}
	if c.Has(OptBlocking) {
		opts = append(opts, "blocking")
	}
	if c.Has(OptGetTime) {
		opts = append(opts, "get_time")
	}
	if c.Has(OptDMALB) {
		opts = append(opts, "dma_lb")
	}
	return strings.Join(opts, "|")
}
