package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTransportClosed is returned by calls made after Close.
var ErrTransportClosed = errors.New("transport stopped")

// ResponseHandler is called for every response frame received
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the bridge link: it sends commands,
// waits for the ACK and collects the responses.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq     uint32 // atomic, 0x10-0x1F
	isSynchronized uint32 // atomic bool

	inputBuffer *FifoBuffer

	ackChan      chan *Message
	responseChan chan *Message

	responseHandler ResponseHandler

	// reqMutex serializes request/response exchanges
	reqMutex   sync.Mutex
	writeMutex sync.Mutex
	readMutex  sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// Message is one received frame
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
}

// NewHostTransport creates a host transport and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		inputBuffer:  NewFifoBuffer(1024),
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	atomic.StoreUint32(&t.isSynchronized, 1)
	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	msg, err := BuildCommandMessage(uint8(atomic.LoadUint32(&t.currentSeq)), cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}
	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := t.waitForAck(timeout); err != nil {
		return fmt.Errorf("ACK for command %d: %w", cmdID, err)
	}
	return nil
}

// Request sends a command and returns the ID and arguments of the first
// response whose ID is one of respIDs. Responses with other IDs are stale
// and dropped.
func (t *HostTransport) Request(cmdID uint16, args func(output OutputBuffer), timeout time.Duration, respIDs ...uint16) (uint16, []byte, error) {
	t.reqMutex.Lock()
	defer t.reqMutex.Unlock()

	t.drainResponses()
	if err := t.SendCommand(cmdID, args, timeout); err != nil {
		return 0, nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		resp, err := t.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return 0, nil, fmt.Errorf("response to command %d: %w", cmdID, err)
		}
		payload := resp.Payload
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		for _, want := range respIDs {
			if uint16(id) == want {
				return want, payload, nil
			}
		}
	}
}

// BuildCommandMessage frames one command
func BuildCommandMessage(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	WriteFrame(scratch, seq, func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
	msg := scratch.Result()
	if len(msg) > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", len(msg), MessageLengthMax)
	}
	out := make([]byte, len(msg))
	copy(out, msg)
	return out, nil
}

func (t *HostTransport) writeMessage(msg []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

func (t *HostTransport) waitForAck(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.ackChan:
		expected := NextSequence(uint8(atomic.LoadUint32(&t.currentSeq)))
		if ack.Sequence != expected {
			// NAK: the device reports the sequence it still expects
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", expected, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(expected))
		return nil

	case <-timer.C:
		return fmt.Errorf("ACK timeout after %v", timeout)

	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse receives a response message with timeout
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

func (t *HostTransport) drainResponses() {
	for {
		select {
		case <-t.responseChan:
		default:
			return
		}
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.inputBuffer.Write(buffer[:n])
			t.processMessages()
		}
		if err != nil {
			if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
				t.stop()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) processMessages() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	data := t.inputBuffer.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			var found bool
			data, found = Resync(data)
			t.setSynchronized(found)
			continue
		}

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

		src := FramePayload(data[:msgLen])
		payload := make([]byte, len(src))
		copy(payload, src)
		msg := &Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  payload,
		}
		data = data[msgLen:]
		t.dispatchMessage(msg)
	}

	consumed := t.inputBuffer.Available() - len(data)
	if consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	if t.responseHandler != nil {
		payloadCopy := make([]byte, len(msg.Payload))
		copy(payloadCopy, msg.Payload)
		cmdID, err := DecodeVLQUint(&payloadCopy)
		if err == nil {
			_ = t.responseHandler(uint16(cmdID), &payloadCopy)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Full, drop the oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

func (t *HostTransport) stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	t.stop()
	var err error
	if t.port != nil {
		// Closing the port unblocks a pending Read
		err = t.port.Close()
	}
	<-t.doneChan
	return err
}

// Reset restarts the sequence and drops buffered input
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.currentSeq, MessageDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	t.drainResponses()

	t.readMutex.Lock()
	if t.inputBuffer.Available() > 0 {
		t.inputBuffer.Pop(t.inputBuffer.Available())
	}
	t.readMutex.Unlock()
}

func (t *HostTransport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *HostTransport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}

// GetCurrentSequence returns the current sequence number (for debugging)
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
