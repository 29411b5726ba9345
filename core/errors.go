package core

// Error is the error taxonomy shared by the transport and the card driver.
// Values are stable so they can travel over the bridge link as a status byte.
type Error uint8

const (
	ErrIO                Error = iota + 1 // transfer byte-count mismatch or bad card answer
	ErrTimeout                            // bounded wait exceeded
	ErrCRC                                // data block CRC16 mismatch
	ErrDeviceNotReady                     // operation before bring-up or after teardown
	ErrInvalidArgument                    // out-of-range block address or bad buffer
	ErrUnsupported                        // write/erase stubs
	ErrResourceExhausted                  // no free slot, channel or memory
	ErrBusNotLocked                       // transfer attempted outside a transaction
)

func (e Error) Error() string {
	switch e {
	case ErrIO:
		return "i/o error"
	case ErrTimeout:
		return "timeout"
	case ErrCRC:
		return "crc mismatch"
	case ErrDeviceNotReady:
		return "device not ready"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrUnsupported:
		return "operation not supported"
	case ErrResourceExhausted:
		return "resource exhausted"
	case ErrBusNotLocked:
		return "bus transfer without transaction lock"
	default:
		return "unknown error " + utoa(uint32(e))
	}
}

// ErrorCode maps an error to its status byte. Zero means success; errors
// outside the taxonomy report as ErrIO.
func ErrorCode(err error) uint8 {
	if err == nil {
		return 0
	}
	if e, ok := err.(Error); ok {
		return uint8(e)
	}
	return uint8(ErrIO)
}

// ErrorFromCode is the inverse of ErrorCode.
func ErrorFromCode(code uint8) error {
	if code == 0 {
		return nil
	}
	if code > uint8(ErrBusNotLocked) {
		return ErrIO
	}
	return Error(code)
}
