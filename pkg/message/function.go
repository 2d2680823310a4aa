package message

// FunctionID identifies the operation a frame carries
type FunctionID uint8

// Request functions
const (
	FuncUndef    FunctionID = 0
	FuncTransBuf FunctionID = 5
	FuncShutdown FunctionID = 8
	FuncInit     FunctionID = 9
	FuncDeinit   FunctionID = 10
	FuncSetParam FunctionID = 11
	FuncGetParam FunctionID = 12
	FuncProcBuf  FunctionID = 13
	FuncXrefBuf  FunctionID = 14
	FuncPrivate  FunctionID = 15
)

// Response functions
const (
	FuncInitDone     FunctionID = 16
	FuncDeinitDone   FunctionID = 17
	FuncSetParamDone FunctionID = 18
	FuncGetParamDone FunctionID = 19
	FuncTransBufDone FunctionID = 20
	FuncProcBufDone  FunctionID = 21
	FuncXrefBufDone  FunctionID = 22
	FuncPrivateDone  FunctionID = 23
)

// String returns the name used in logs
func (f FunctionID) String() string {
	switch f {
	case FuncUndef:
		return "undefined"
	case FuncInit:
		return "init"
	case FuncDeinit:
		return "deinit"
	case FuncSetParam:
		return "set_parameter"
	case FuncGetParam:
		return "get_parameter"
	case FuncTransBuf:
		return "transfer_buffer"
	case FuncProcBuf:
		return "process_buffer"
	case FuncXrefBuf:
		return "reference/dereference_buffer"
	case FuncPrivate:
		return "private"
	case FuncShutdown:
		return "shutdown"
	case FuncInitDone:
		return "init_done"
	case FuncDeinitDone:
		return "deinit_done"
	case FuncSetParamDone:
		return "parameter_set"
	case FuncGetParamDone:
		return "parameter_got"
	case FuncTransBufDone:
		return "buffer_transferred"
	case FuncProcBufDone:
		return "buffer_processed"
	case FuncXrefBufDone:
		return "buffer_referenced/dereferenced"
	case FuncPrivateDone:
		return "private_done"
	default:
		return "unknown"
	}
}

// Done returns the response function paired with a request function, or
// FuncUndef when f has no response
func (f FunctionID) Done() FunctionID {
	switch f {
	case FuncInit:
		return FuncInitDone
	case FuncDeinit:
		return FuncDeinitDone
	case FuncSetParam:
		return FuncSetParamDone
	case FuncGetParam:
		return FuncGetParamDone
	case FuncTransBuf:
		return FuncTransBufDone
	case FuncProcBuf:
		return FuncProcBufDone
	case FuncXrefBuf:
		return FuncXrefBufDone
	case FuncPrivate:
		return FuncPrivateDone
	default:
		return FuncUndef
	}
}

// IsResponse reports whether f is a card to host function
func (f FunctionID) IsResponse() bool {
	return f >= FuncInitDone && f <= FuncPrivateDone
}

// ShutdownType selects how the card tears down a process's contexts
type ShutdownType uint32

const (
	ShutdownUndef    ShutdownType = 0
	ShutdownPID      ShutdownType = 1
	ShutdownGraceful ShutdownType = 2
)

func (s ShutdownType) String() string {
	switch s {
	case ShutdownUndef:
		return "undefined"
	case ShutdownPID:
		return "pid"
	case ShutdownGraceful:
		return "graceful"
	default:
		return "unknown"
	}
}
