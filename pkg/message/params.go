package message

import "fmt"

// Parameter selects the value a get/set parameter request addresses
type Parameter uint32

const (
	ParamNone                   Parameter = 0
	ParamPowerState             Parameter = 1
	ParamTemperature            Parameter = 2
	ParamAvailableLoad          Parameter = 3
	ParamAvailableLoadHi        Parameter = 4
	ParamFlashImageConfig       Parameter = 5
	ParamPCIeEyeDiagram         Parameter = 6
	ParamPCIeEyeSize            Parameter = 7
	ParamPCIeBER                Parameter = 8
	ParamPCIeBERSize            Parameter = 9
	ParamVideoCodec             Parameter = 16
	ParamVideoProfileAndLevel   Parameter = 17
	ParamCodecConfig            Parameter = 18
	ParamColorConfig            Parameter = 19
	ParamVideoSize              Parameter = 32
	ParamVideoFormat            Parameter = 33
	ParamVideoEncConfig         Parameter = 48
	ParamVideoEncGOPType        Parameter = 49
	ParamVideoDecFPS            Parameter = 50
	ParamVideoEncHyperpyramid   Parameter = 51
	ParamPort                   Parameter = 64
	ParamPoolSize               Parameter = 65
	ParamMaxLag                 Parameter = 66
	ParamMinLag                 Parameter = 67
	ParamPoolSizeConfig         Parameter = 68
	ParamPoolAllocBuffer        Parameter = 69
	ParamPoolStats              Parameter = 70
	ParamScalerFilter           Parameter = 80
	ParamScalerFormat           Parameter = 81
	ParamScalerCustFilterHandle Parameter = 82
	ParamVideoSclConfig         Parameter = 83
	ParamPacketSize             Parameter = 96
	ParamSurfaceFlags           Parameter = 97
	ParamBufferHeader           Parameter = 98
	ParamVarmapSize             Parameter = 120
	ParamQPmapSize              Parameter = 121
	ParamSSIMmapSize            Parameter = 122
	ParamNeedMoreInput          Parameter = 160
	ParamIsStreamInterlace      Parameter = 161
	ParamWarning                Parameter = 254
	ParamError                  Parameter = 255
	ParamMax                    Parameter = 0x0fff
)

// DefaultParamSize is the size of every scalar parameter
const DefaultParamSize = 4

// BufferHeaderSize is a buffer handle followed by a 192 byte header
const BufferHeaderSize = 4 + 192

// paramSizes lists the parameters whose value is a structure
var paramSizes = map[Parameter]int{
	ParamFlashImageConfig: 16,
	ParamPort:             8,
	ParamPoolSizeConfig:   8,
	ParamPoolAllocBuffer:  8,
	ParamBufferHeader:     BufferHeaderSize,
	ParamWarning:          80,
	ParamError:            80,
}

// Size returns the value size in bytes
func (p Parameter) Size() int {
	if size, ok := paramSizes[p]; ok {
		return size
	}
	return DefaultParamSize
}

// ValueUnits returns the extension units a request or response needs to
// carry the value starting at the second argument word
func (p Parameter) ValueUnits() (uint8, error) {
	units, err := FrameUnits(responseArgOff + p.Size())
	if err != nil {
		return 0, err
	}
	return uint8(units - 1), nil
}

// Valid reports whether p fits the wire field
func (p Parameter) Valid() bool {
	return p > ParamNone && p < ParamMax
}

func (p Parameter) String() string {
	switch p {
	case ParamPowerState:
		return "power_state"
	case ParamTemperature:
		return "temperature"
	case ParamAvailableLoad:
		return "available_load"
	case ParamAvailableLoadHi:
		return "available_load_hi"
	case ParamFlashImageConfig:
		return "flash_image_config"
	case ParamVideoSize:
		return "video_size"
	case ParamPort:
		return "port"
	case ParamPoolSize:
		return "pool_size"
	case ParamBufferHeader:
		return "buffer_header"
	case ParamWarning:
		return "warning"
	case ParamError:
		return "error"
	default:
		return fmt.Sprintf("param(%d)", uint32(p))
	}
}
