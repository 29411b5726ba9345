package protocol

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 255
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

// FrameStatus is the result of inspecting buffered link data.
type FrameStatus uint8

const (
	FrameOK       FrameStatus = iota // a complete, valid frame starts the data
	FrameNeedMore                    // keep the data and wait for more bytes
	FrameBad                         // header, trailer or CRC check failed
)

// ParseFrame checks the frame at the start of data and returns its length.
// Sequence policy is left to the caller.
func ParseFrame(data []byte) (int, FrameStatus) {
	if len(data) < MessageLengthMin {
		return 0, FrameNeedMore
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, FrameBad
	}
	if len(data) < msgLen {
		return 0, FrameNeedMore
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, FrameBad
	}
	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
		uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, FrameBad
	}
	return msgLen, FrameOK
}

// FramePayload returns the bytes between header and trailer of a frame
// already accepted by ParseFrame.
func FramePayload(frame []byte) []byte {
	return frame[MessageHeaderSize : len(frame)-MessageTrailerSize]
}

// Resync drops bytes up to and including the next sync byte. The second
// result is false when no sync byte was found and everything was dropped.
func Resync(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// NextSequence advances a sequence byte within the 0x10-0x1F window.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// WriteFrame frames whatever body writes into output, patching the length
// byte and appending the CRC and sync trailer.
func WriteFrame(output OutputBuffer, seq uint8, body func(output OutputBuffer)) {
	cursor := output.CurPosition()
	output.Output([]byte{0, seq})
	if body != nil {
		body(output)
	}
	changed := len(output.DataSince(cursor))
	output.Update(cursor, uint8(changed+MessageTrailerSize))

	crc := CRC16(output.DataSince(cursor))
	output.Output([]byte{
		uint8((crc & 0xFF00) >> 8),
		uint8(crc & 0xFF),
		MessageValueSync,
	})
}
