//go:build unit

package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

func TestFrameUnits(t *testing.T) {
	tests := []struct {
		bytes    int
		expected int
	}{
		{0, 0},
		{1, 1},
		{16, 1},
		{17, 2},
		{32, 2},
		{96, 6},
		{4096, 256},
	}

	for _, tt := range tests {
		got, err := FrameUnits(tt.bytes)
		if err != nil {
			t.Errorf("FrameUnits(%d) error: %v", tt.bytes, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("FrameUnits(%d) = %d, expected %d", tt.bytes, got, tt.expected)
		}
	}
}

func TestFrameUnitsOversize(t *testing.T) {
	_, err := FrameUnits(4097)
	if !errors.Is(err, driver.ErrOversize) {
		t.Errorf("expected oversize error, got %v", err)
	}
}

func TestRequestHeaderLayout(t *testing.T) {
	req := &Request{
		Function:  FuncSetParam,
		QueueID:   2,
		MsgID:     0xABC,
		ContextID: 0x12345678,
	}
	req.SetField(ParamTemperature, 0xCAFE)

	b, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(b) != FrameUnit {
		t.Fatalf("len = %d, expected %d", len(b), FrameUnit)
	}

	expected := []byte{
		11, 0, // function, size
		0xC2, 0xAB, // queue id 2 in the low nibble, msg id 0xabc above it
		0x78, 0x56, 0x34, 0x12,
		2, 0, 0, 0,
		0xFE, 0xCA, 0, 0,
	}
	if !bytes.Equal(b, expected) {
		t.Errorf("frame = % x\nexpected % x", b, expected)
	}
}

func TestRequestMarshalZeroesUnusedArgs(t *testing.T) {
	req := &Request{Function: FuncTransBuf}
	req.Args = [2]uint32{0xFFFFFFFF, 0xFFFFFFFF}
	req.SetCmd(CmdRun, 0)

	b, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(b[12:16]); got != 0 {
		t.Errorf("args[1] = 0x%x, expected 0", got)
	}
}

func TestRequestExtensionSize(t *testing.T) {
	req := &Request{Function: FuncTransBuf}
	if err := req.SetExtension(make([]byte, SizeOfWireSurface)); err != nil {
		t.Fatal(err)
	}
	if req.Size() != 6 {
		t.Errorf("Size() = %d, expected 6", req.Size())
	}

	b, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != FrameUnit*7 {
		t.Errorf("len = %d, expected %d", len(b), FrameUnit*7)
	}
	if b[1] != 6 {
		t.Errorf("size byte = %d, expected 6", b[1])
	}
}

func TestRequestRejectsBadQueue(t *testing.T) {
	req := &Request{Function: FuncInit, QueueID: NumQueues}
	if _, err := req.Marshal(); !errors.Is(err, driver.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestRequestExtensionOversize(t *testing.T) {
	req := &Request{Function: FuncPrivate}
	err := req.SetExtension(make([]byte, FrameUnit*(MaxExtUnits+1)))
	if !errors.Is(err, driver.ErrOversize) {
		t.Errorf("expected oversize error, got %v", err)
	}
}

func TestDecodeResponseLengthMismatch(t *testing.T) {
	b := make([]byte, FrameUnit)
	b[0] = byte(FuncInitDone)
	b[1] = 1

	if _, err := DecodeResponse(b); !errors.Is(err, driver.ErrMessageSize) {
		t.Errorf("expected message size error, got %v", err)
	}
}

func TestDecodeResponseFields(t *testing.T) {
	resp := &Response{
		Function:  FuncTransBufDone,
		QueueID:   1,
		MsgID:     77,
		ContextID: 0x400,
		HWStatus:  HWStatusOK,
		Arg:       0x1234,
	}
	b, err := resp.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Function != FuncTransBufDone || got.QueueID != 1 || got.MsgID != 77 {
		t.Errorf("header = %+v", got)
	}
	if got.ContextID != 0x400 || got.Arg != 0x1234 || got.HWStatus != HWStatusOK {
		t.Errorf("body = %+v", got)
	}
	if got.Ext != nil {
		t.Errorf("expected no extension, got %d bytes", len(got.Ext))
	}
}

func TestUserDataTagLivesInLastUnit(t *testing.T) {
	req := &Request{Function: FuncTransBuf}
	if err := req.SetExtension(make([]byte, SizeOfWirePacket)); err != nil {
		t.Fatal(err)
	}
	if err := req.SetUserDataTag(0x0102030405060708); err != nil {
		t.Fatal(err)
	}

	b, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	last := b[len(b)-FrameUnit:]
	if got := binary.LittleEndian.Uint64(last); got != 0x0102030405060708 {
		t.Errorf("tag = 0x%x", got)
	}
	if req.UserDataTag() != 0x0102030405060708 {
		t.Errorf("UserDataTag() = 0x%x", req.UserDataTag())
	}
}

func TestUserDataTagNeedsExtension(t *testing.T) {
	req := &Request{Function: FuncInit}
	if err := req.SetUserDataTag(1); err == nil {
		t.Error("expected error setting a tag on a single unit frame")
	}
}

func TestParameterValueSpillsIntoExtension(t *testing.T) {
	value := make([]byte, ParamFlashImageConfig.Size())
	for i := range value {
		value[i] = byte(i + 1)
	}

	req := &Request{Function: FuncSetParam}
	req.SetField(ParamFlashImageConfig, 0)
	if err := req.SetValue(value); err != nil {
		t.Fatal(err)
	}

	units, err := ParamFlashImageConfig.ValueUnits()
	if err != nil {
		t.Fatal(err)
	}
	if req.Size() != units {
		t.Errorf("Size() = %d, expected %d", req.Size(), units)
	}

	b, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b[12:12+len(value)], value) {
		t.Errorf("value bytes = % x", b[12:12+len(value)])
	}
	if !bytes.Equal(req.Value(len(value)), value) {
		t.Errorf("Value() = % x", req.Value(len(value)))
	}
}

func TestResponseWords(t *testing.T) {
	resp := &Response{Function: FuncProcBufDone, Arg: 0x500}
	if err := resp.SetExtension(HandleWords([]uint32{0x501, 0x502})); err != nil {
		t.Fatal(err)
	}

	words := resp.Words()
	if len(words) != 5 {
		t.Fatalf("len(words) = %d, expected 5", len(words))
	}
	if words[0] != 0x500 || words[1] != 0x501 || words[2] != 0x502 || words[3] != 0 {
		t.Errorf("words = %x", words)
	}
}

func TestResponseErrorCode(t *testing.T) {
	resp := &Response{HWStatus: HWStatusError}
	if !resp.Failed() {
		t.Error("expected Failed() for error status")
	}
	if resp.ErrorCode() != ErrCodeAdvertise {
		t.Errorf("ErrorCode() = %d, expected %d", resp.ErrorCode(), ErrCodeAdvertise)
	}
	resp.Arg = 5
	if resp.ErrorCode() != 5 {
		t.Errorf("ErrorCode() = %d, expected 5", resp.ErrorCode())
	}
}

func TestResponseMatches(t *testing.T) {
	resp := &Response{Function: FuncInitDone, MsgID: 9, ContextID: 0x400}

	if !resp.Matches(9, FuncUndef, 0) {
		t.Error("exact id should match")
	}
	if resp.Matches(8, FuncInitDone, 0x400) {
		t.Error("different id should not match even when function agrees")
	}
	if !resp.Matches(UnpairedMsgID, FuncInitDone, 0x400) {
		t.Error("function and context should match an unpaired lookup")
	}
	if resp.Matches(UnpairedMsgID, FuncInitDone, 0x401) {
		t.Error("different context should not match")
	}
}

func TestResponseMatchesNarrowsExactID(t *testing.T) {
	resp := &Response{Function: FuncGetParamDone, MsgID: 3, ContextID: 0x400, Arg: 45}

	tests := []struct {
		name      string
		fn        FunctionID
		contextID uint32
		want      bool
	}{
		{"id only", FuncUndef, NewContext, true},
		{"reply function", FuncGetParamDone, NewContext, true},
		{"reply function and context", FuncGetParamDone, 0x400, true},
		{"other function", FuncTransBufDone, 0x400, false},
		{"other context", FuncGetParamDone, 0x401, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resp.Matches(3, tt.fn, tt.contextID); got != tt.want {
				t.Errorf("Matches(3, %s, 0x%x) = %v, expected %v", tt.fn, tt.contextID, got, tt.want)
			}
		})
	}
}
