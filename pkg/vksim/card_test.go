//go:build unit

package vksim

import (
	"errors"
	"testing"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

func roundTrip(t *testing.T, ch *Channel, req *message.Request) *message.Response {
	t.Helper()
	b, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := ch.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, message.MaxFrameBytes)
	n, err := ch.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	r, err := message.DecodeResponse(buf[:n])
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	return r
}

func createContext(t *testing.T, ch *Channel, role message.Role) uint32 {
	t.Helper()
	req := &message.Request{Function: message.FuncInit, MsgID: 1}
	req.Args = message.ContextEssential{Role: role, PID: 42}.Pack()
	r := roundTrip(t, ch, req)
	if r.Failed() {
		t.Fatalf("init failed with code %d", r.ErrorCode())
	}
	return r.ContextID
}

func upload(t *testing.T, ch *Channel, ctx uint32, desc []byte) uint32 {
	t.Helper()
	req := &message.Request{Function: message.FuncTransBuf, MsgID: 2, ContextID: ctx}
	req.SetCmd(message.CmdUpload|message.OptBlocking, 0)
	if err := req.SetExtension(desc); err != nil {
		t.Fatal(err)
	}
	r := roundTrip(t, ch, req)
	if r.Failed() {
		t.Fatalf("upload failed with code %d", r.ErrorCode())
	}
	return r.Arg
}

func TestInitCreatesContext(t *testing.T) {
	card := New()
	ch := card.Open()

	h := createContext(t, ch, message.RoleEncoder)
	if !message.IsRemoteHandle(h) {
		t.Errorf("handle 0x%x is not a remote handle", h)
	}
	if role, ok := card.ContextRole(h); !ok || role != message.RoleEncoder {
		t.Errorf("ContextRole = %v, %v", role, ok)
	}

	r := roundTrip(t, ch, &message.Request{Function: message.FuncInit, MsgID: 3, ContextID: h})
	if r.Failed() || r.Arg != h {
		t.Errorf("second init = %+v", r)
	}

	r = roundTrip(t, ch, &message.Request{Function: message.FuncDeinit, MsgID: 4, ContextID: h})
	if r.Function != message.FuncDeinitDone || r.Failed() {
		t.Errorf("deinit = %+v", r)
	}
	if card.Contexts() != 0 {
		t.Errorf("Contexts = %d after deinit", card.Contexts())
	}
}

func TestParameters(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleInfo)

	get := &message.Request{Function: message.FuncGetParam, MsgID: 5, ContextID: h}
	get.SetField(message.ParamTemperature, 0)
	if r := roundTrip(t, ch, get); r.Arg != defaultTemperature {
		t.Errorf("temperature = %d, expected %d", r.Arg, defaultTemperature)
	}

	value := make([]byte, message.ParamWarning.Size())
	copy(value, "fan speed low")
	set := &message.Request{Function: message.FuncSetParam, MsgID: 6, ContextID: h}
	set.SetField(message.ParamWarning, 0)
	if err := set.SetValue(value); err != nil {
		t.Fatal(err)
	}
	if r := roundTrip(t, ch, set); r.Failed() {
		t.Fatalf("set failed with code %d", r.ErrorCode())
	}

	get.SetField(message.ParamWarning, 0)
	r := roundTrip(t, ch, get)
	if got := string(r.Value(len("fan speed low"))); got != "fan speed low" {
		t.Errorf("warning = %q", got)
	}
}

func TestUploadDownload(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleEncoder)

	pkt := &message.WirePacket{WirePrefix: message.WirePrefix{Type: message.WireBufMetadata}, UsedSize: 100, Size: 256}
	buf := upload(t, ch, h, pkt.Marshal())
	if ref, ok := card.BufferRef(buf); !ok || ref != 1 {
		t.Fatalf("BufferRef = %d, %v", ref, ok)
	}

	pkt.Handle = buf
	req := &message.Request{Function: message.FuncTransBuf, MsgID: 7, ContextID: h}
	req.SetCmd(message.CmdDownload|message.OptBlocking, 0)
	if err := req.SetExtension(pkt.Marshal()); err != nil {
		t.Fatal(err)
	}
	r := roundTrip(t, ch, req)
	if r.Arg != 100 {
		t.Errorf("download arg = %d, expected the used size 100", r.Arg)
	}
	if card.Buffers() != 0 {
		t.Errorf("Buffers = %d after download", card.Buffers())
	}
}

func TestProcessConsumesAndProduces(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleEncoder)

	surface := &message.WireSurface{WirePrefix: message.WirePrefix{Type: message.WireBufSurface}}
	surface.Planes[0].Size = 4096
	in := upload(t, ch, h, surface.Marshal())

	req := &message.Request{Function: message.FuncProcBuf, MsgID: 8, ContextID: h}
	req.SetCmd(message.CmdRun|message.OptBlocking, in)
	r := roundTrip(t, ch, req)
	if r.Failed() {
		t.Fatalf("process failed with code %d", r.ErrorCode())
	}
	if r.Arg == in || r.Arg == message.BufferEOS {
		t.Errorf("produced handle 0x%x", r.Arg)
	}
	if _, ok := card.BufferRef(in); ok {
		t.Error("input buffer still on card")
	}
	if ref, ok := card.BufferRef(r.Arg); !ok || ref != 1 {
		t.Errorf("output BufferRef = %d, %v", ref, ok)
	}

	req.SetCmd(message.CmdRun|message.OptBlocking, message.BufferEOS)
	if r := roundTrip(t, ch, req); r.Arg != message.BufferEOS {
		t.Errorf("end of stream produced 0x%x", r.Arg)
	}
}

func TestXref(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleDecoder)
	pkt := &message.WirePacket{WirePrefix: message.WirePrefix{Type: message.WireBufPacket}, Size: 64}
	buf := upload(t, ch, h, pkt.Marshal())

	req := &message.Request{Function: message.FuncXrefBuf, MsgID: 9, ContextID: h}
	req.SetRef(2, buf)
	if r := roundTrip(t, ch, req); r.Arg != 3 {
		t.Errorf("ref after +2 = %d, expected 3", r.Arg)
	}
	req.SetRef(-3, buf)
	if r := roundTrip(t, ch, req); r.Arg != 0 {
		t.Errorf("ref after -3 = %d, expected 0", r.Arg)
	}
	if card.Buffers() != 0 {
		t.Error("buffer not freed")
	}
	if r := roundTrip(t, ch, req); !r.Failed() {
		t.Error("xref of a freed buffer should fail")
	}
}

func TestInjectedFailure(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleScaler)

	card.Fail(message.FuncDeinit, 5)
	r := roundTrip(t, ch, &message.Request{Function: message.FuncDeinit, MsgID: 3, ContextID: h})
	if !r.Failed() || r.ErrorCode() != 5 {
		t.Errorf("deinit = %+v", r)
	}
	card.ClearFailures()
	r = roundTrip(t, ch, &message.Request{Function: message.FuncDeinit, MsgID: 3, ContextID: h})
	if r.Failed() {
		t.Error("failure not cleared")
	}
}

func TestHoldAndRelease(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleInfo)

	card.Hold()
	for id := uint16(10); id < 13; id++ {
		b, _ := (&message.Request{Function: message.FuncInit, MsgID: id, ContextID: h}).Marshal()
		if _, err := ch.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	if card.Completed() != 0 {
		t.Fatal("held responses are readable")
	}
	card.Release(true)

	buf := make([]byte, message.FrameUnit)
	for _, want := range []uint16{12, 11, 10} {
		n, err := ch.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		r, _ := message.DecodeResponse(buf[:n])
		if r.MsgID != want {
			t.Errorf("MsgID = %d, expected %d", r.MsgID, want)
		}
	}
}

func TestSmallReadReportsSize(t *testing.T) {
	card := New()
	ch := card.Open()
	h := createContext(t, ch, message.RoleInfo)

	get := &message.Request{Function: message.FuncGetParam, MsgID: 5, ContextID: h}
	get.SetField(message.ParamError, 0)
	b, _ := get.Marshal()
	if _, err := ch.Write(b); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, message.FrameUnit)
	_, err := ch.Read(buf)
	if !errors.Is(err, driver.ErrMessageSize) {
		t.Fatalf("expected message size, got %v", err)
	}
	units, _ := message.ParamError.ValueUnits()
	if buf[1] != units {
		t.Errorf("reported size %d, expected %d", buf[1], units)
	}
}

func TestEmptyAndUnplugged(t *testing.T) {
	card := New()
	ch := card.Open()

	_, err := ch.Read(make([]byte, message.FrameUnit))
	if !errors.Is(err, driver.ErrNoMessage) {
		t.Errorf("empty card: expected no message, got %v", err)
	}

	card.Unplug()
	_, err = ch.Read(make([]byte, message.FrameUnit))
	if !errors.Is(err, driver.ErrNoSuchDevice) {
		t.Errorf("unplugged: expected no such device, got %v", err)
	}
	if _, err := card.Opener()("sim"); !errors.Is(err, driver.ErrNoSuchDevice) {
		t.Errorf("open unplugged: expected no such device, got %v", err)
	}
}

func TestClosedChannel(t *testing.T) {
	card := New()
	ch := card.Open()
	createContext(t, ch, message.RoleInfo)
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Write(make([]byte, message.FrameUnit)); !errors.Is(err, driver.ErrClosed) {
		t.Errorf("expected closed, got %v", err)
	}
	if card.Contexts() != 1 {
		t.Error("closing a channel must not drop card state")
	}
}
