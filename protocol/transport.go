package protocol

import "sync/atomic"

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the device end of the bridge link. Every accepted frame is
// answered with an ACK carrying the next expected sequence; a frame with
// the wrong sequence gets the same ACK, which the host treats as a NAK.
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // atomic, 0x10-0x1F

	output        OutputBuffer
	handler       CommandHandler
	errorHandler  func(cmdID uint16, err error)
	resetCallback func()
	flushCallback func()
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive consumes as many complete frames as the input holds
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			var found bool
			data, found = Resync(data)
			if found {
				t.setSynchronized(true)
				t.encodeAckNak()
			}
			continue
		}

		// Skip leading sync bytes
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, status := ParseFrame(data)
		if status == FrameNeedMore {
			break
		}
		if status == FrameBad {
			t.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		if seq&^MessageSeqMask != MessageDest {
			t.setSynchronized(false)
			continue
		}

		frame := FramePayload(data[:msgLen])
		data = data[msgLen:]

		// A host restarting its sequence resets ours
		expectedSeq := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expectedSeq != MessageDest {
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expectedSeq = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expectedSeq {
			atomic.StoreUint32(&t.nextSequence, uint32(NextSequence(seq)))
			_ = t.parseFrame(frame)
		}
		t.encodeAckNak()
	}

	consumed := input.Available() - len(data)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command packed into a frame
func (t *Transport) parseFrame(frame []byte) (err error) {
	// A panicking handler must not take the link down with it
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Handler errors do not desync; the rest of the frame is
			// undecodable so it is dropped.
			if t.errorHandler != nil {
				t.errorHandler(uint16(cmdID), err)
			}
			return err
		}
	}
	return nil
}

// encodeAckNak sends an empty frame with the next expected sequence
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	WriteFrame(t.output, ns, nil)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame encodes and sends a frame with the given data. Responses
// carry the current sequence, the same value as the ACK that follows.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	WriteFrame(t.output, seq, frameData)
}

// SendCommand sends a message with arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset resets the transport state (useful after USB disconnect/reconnect)
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback run after every ACK is queued
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorHandler sets a callback for command handler failures
func (t *Transport) SetErrorHandler(callback func(cmdID uint16, err error)) {
	t.errorHandler = callback
}

func (t *Transport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
