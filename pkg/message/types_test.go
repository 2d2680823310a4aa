//go:build unit

package message

import (
	"testing"
)

func TestFunctionNames(t *testing.T) {
	tests := []struct {
		fn       FunctionID
		expected string
	}{
		{FuncUndef, "undefined"},
		{FuncInit, "init"},
		{FuncXrefBuf, "reference/dereference_buffer"},
		{FuncShutdown, "shutdown"},
		{FuncGetParamDone, "parameter_got"},
		{FuncProcBufDone, "buffer_processed"},
		{FunctionID(200), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.fn.String(); got != tt.expected {
			t.Errorf("FunctionID(%d).String() = %q, expected %q", tt.fn, got, tt.expected)
		}
	}
}

func TestEveryRequestHasADoneFunction(t *testing.T) {
	requests := []FunctionID{
		FuncInit, FuncDeinit, FuncSetParam, FuncGetParam,
		FuncTransBuf, FuncProcBuf, FuncXrefBuf, FuncPrivate,
	}
	seen := map[FunctionID]bool{}
	for _, fn := range requests {
		done := fn.Done()
		if !done.IsResponse() {
			t.Errorf("%s.Done() = %d is not a response", fn, done)
		}
		if seen[done] {
			t.Errorf("%s.Done() = %s is shared", fn, done)
		}
		seen[done] = true
	}
	if FuncShutdown.Done() != FuncUndef {
		t.Error("shutdown has no response")
	}
}

func TestCommandBits(t *testing.T) {
	cmd := CmdUpload | OptBlocking | 2

	if cmd.Base() != CmdUpload {
		t.Errorf("Base() = 0x%x", uint32(cmd.Base()))
	}
	if !cmd.Blocking() || cmd.Callback() {
		t.Error("expected blocking without callback")
	}
	if cmd.Planes() != 2 {
		t.Errorf("Planes() = %d", cmd.Planes())
	}
	if uint32(CmdDownload) != 0x500 {
		t.Errorf("CmdDownload = 0x%x", uint32(CmdDownload))
	}
	if uint32(OptBlocking) != 0x8000 {
		t.Errorf("OptBlocking = 0x%x", uint32(OptBlocking))
	}
	if uint32((CmdDownload|OptDMALB|OptBlocking)&CmdLoadMask) != 0x20500 {
		t.Errorf("load mask dropped the wrong bits")
	}
	if cmd.String() != "upload|blocking" {
		t.Errorf("String() = %q", cmd.String())
	}
}

func TestContextEssentialPacking(t *testing.T) {
	e := ContextEssential{Handle: 0x400, QueueID: 1, Role: RoleEncoder, PID: 0x123456}

	words := e.Pack()
	if words[0] != 0x400 {
		t.Errorf("handle word = 0x%x", words[0])
	}
	if words[1] != 0x12345631 {
		t.Errorf("packed word = 0x%x, expected 0x12345631", words[1])
	}
	if got := UnpackEssential(words); got != e {
		t.Errorf("UnpackEssential = %+v", got)
	}
	if len(e.Bytes()) != ContextEssentialSz {
		t.Errorf("Bytes() length = %d", len(e.Bytes()))
	}
}

func TestContextEssentialTruncatesPID(t *testing.T) {
	e := ContextEssential{PID: 0x7FFFFFFF}
	if got := UnpackEssential(e.Pack()).PID; got != 0xFFFFFF {
		t.Errorf("pid = 0x%x, expected 24 bits", got)
	}
}

func TestRemoteHandleThreshold(t *testing.T) {
	if IsRemoteHandle(0x3FF) {
		t.Error("0x3ff is below the valid handle range")
	}
	if !IsRemoteHandle(StartValidHandle) {
		t.Error("0x400 is the first valid handle")
	}
}

func TestParameterSizes(t *testing.T) {
	tests := []struct {
		param    Parameter
		size     int
		extUnits uint8
	}{
		{ParamTemperature, 4, 0},
		{ParamPort, 8, 1},
		{ParamFlashImageConfig, 16, 1},
		{ParamBufferHeader, 196, 12},
		{ParamError, 80, 5},
	}

	for _, tt := range tests {
		if got := tt.param.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, expected %d", tt.param, got, tt.size)
		}
		units, err := tt.param.ValueUnits()
		if err != nil {
			t.Fatal(err)
		}
		if units != tt.extUnits {
			t.Errorf("%s.ValueUnits() = %d, expected %d", tt.param, units, tt.extUnits)
		}
	}
}

func TestWirePrefixBitfield(t *testing.T) {
	pkt := &WirePacket{
		WirePrefix: WirePrefix{
			Handle:      0x401,
			Flags:       0x0003,
			PortID:      1,
			Type:        WireBufPacket,
			UserDataTag: 42,
		},
		UsedSize: 100,
		Size:     4096,
		Data:     0xFFFF000011112222,
	}

	b := pkt.Marshal()
	if len(b) != SizeOfWirePacket {
		t.Fatalf("len = %d", len(b))
	}
	if b[4] != 0x03 || b[5] != 0 || b[6] != 1 || b[7] != 0x08 {
		t.Errorf("flags/port/type word = % x", b[4:8])
	}

	got, err := DecodeWirePacket(b)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *pkt {
		t.Errorf("decoded = %+v", got)
	}
}

func TestWireSurfacePlaneOffsets(t *testing.T) {
	s := &WireSurface{
		WirePrefix: WirePrefix{Handle: 0x402, Type: WireBufSurface},
		MaxSize:    PackSize(1920, 1080),
	}
	s.Planes[3] = WirePlane{Size: 0xAABBCCDD, Address: 0x1122334455667788}

	b := s.Marshal()
	if len(b) != SizeOfWireSurface {
		t.Fatalf("len = %d", len(b))
	}
	if b[84] != 0xDD || b[88] != 0x88 || b[95] != 0x11 {
		t.Errorf("last plane bytes = % x", b[84:96])
	}
	w, h := UnpackSize(s.MaxSize)
	if w != 1920 || h != 1080 {
		t.Errorf("UnpackSize = %d x %d", w, h)
	}
}
