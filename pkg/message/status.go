package message

import "fmt"

// HWStatus is the state word the card returns in every response
type HWStatus uint32

const (
	HWStatusOK       HWStatus = 0
	HWStatusUnloaded HWStatus = 1
	HWStatusReady    HWStatus = 2
	HWStatusIdle     HWStatus = 3
	HWStatusRun      HWStatus = 4
	HWStatusFlush    HWStatus = 5
	HWStatusWarn     HWStatus = 0xfe
	HWStatusError    HWStatus = 0xff
)

// ErrCodeAdvertise is the Linux EADV value the card uses as a generic
// error code
const ErrCodeAdvertise int32 = 68

func (s HWStatus) String() string {
	switch s {
	case HWStatusOK:
		return "ok"
	case HWStatusUnloaded:
		return "unloaded"
	case HWStatusReady:
		return "ready"
	case HWStatusIdle:
		return "idle"
	case HWStatusRun:
		return "run"
	case HWStatusFlush:
		return "flush"
	case HWStatusWarn:
		return "warn"
	case HWStatusError:
		return "error"
	default:
		return fmt.Sprintf("hw_status(0x%x)", uint32(s))
	}
}
