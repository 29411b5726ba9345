package protocol

import (
	"bytes"
	"testing"
)

func buildFrame(t *testing.T, seq uint8, cmdID uint16, args func(output OutputBuffer)) []byte {
	t.Helper()
	msg, err := BuildCommandMessage(seq, cmdID, args)
	if err != nil {
		t.Fatalf("BuildCommandMessage failed: %v", err)
	}
	return msg
}

func TestParseFrame(t *testing.T) {
	msg := buildFrame(t, MessageDest, 3, func(output OutputBuffer) {
		EncodeVLQUint(output, 42)
	})

	n, status := ParseFrame(msg)
	if status != FrameOK || n != len(msg) {
		t.Fatalf("Expected valid frame of %d bytes, got %d status %d", len(msg), n, status)
	}
	if int(msg[MessagePositionLen]) != len(msg) {
		t.Errorf("Length byte %d, frame is %d bytes", msg[MessagePositionLen], len(msg))
	}

	payload := FramePayload(msg)
	id, _ := DecodeVLQUint(&payload)
	val, _ := DecodeVLQUint(&payload)
	if id != 3 || val != 42 {
		t.Errorf("Decoded id=%d val=%d", id, val)
	}

	if _, status := ParseFrame(msg[:len(msg)-1]); status != FrameNeedMore {
		t.Errorf("Truncated frame should need more data, got %d", status)
	}

	bad := append([]byte(nil), msg...)
	bad[MessageHeaderSize] ^= 0x01
	if _, status := ParseFrame(bad); status != FrameBad {
		t.Errorf("Corrupted frame should fail CRC, got %d", status)
	}

	bad = append([]byte(nil), msg...)
	bad[len(bad)-1] = 0
	if _, status := ParseFrame(bad); status != FrameBad {
		t.Errorf("Missing sync should be rejected, got %d", status)
	}
}

func TestBuildCommandMessageTooLong(t *testing.T) {
	_, err := BuildCommandMessage(MessageDest, 1, func(output OutputBuffer) {
		EncodeVLQBytes(output, make([]byte, MessageLengthMax))
	})
	if err == nil {
		t.Error("Expected error for oversize message")
	}
}

func TestResync(t *testing.T) {
	rest, ok := Resync([]byte{1, 2, MessageValueSync, 9})
	if !ok || !bytes.Equal(rest, []byte{9}) {
		t.Errorf("Resync returned %v %v", rest, ok)
	}
	if rest, ok := Resync([]byte{1, 2}); ok || rest != nil {
		t.Errorf("Resync without sync byte returned %v %v", rest, ok)
	}
	if NextSequence(0x1F) != MessageDest || NextSequence(0x10) != 0x11 {
		t.Error("Sequence window wrap incorrect")
	}
}

func TestTransportDispatchAndAck(t *testing.T) {
	output := NewScratchOutput()
	var got []uint32
	tr := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		got = append(got, uint32(cmdID), v)
		return nil
	})

	in := buildFrame(t, MessageDest, 7, func(output OutputBuffer) {
		EncodeVLQUint(output, 300)
	})
	in = append(in, buildFrame(t, 0x11, 8, func(output OutputBuffer) {
		EncodeVLQUint(output, 5)
	})...)

	input := NewSliceInputBuffer(in)
	tr.Receive(input)

	if len(got) != 4 || got[0] != 7 || got[1] != 300 || got[2] != 8 || got[3] != 5 {
		t.Errorf("Unexpected dispatch %v", got)
	}
	if input.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", input.Available())
	}

	// Two ACKs: 0x11 then 0x12
	out := output.Result()
	if len(out) != 2*MessageLengthMin {
		t.Fatalf("Expected two ACK frames, got %x", out)
	}
	if out[MessagePositionSeq] != 0x11 || out[MessageLengthMin+MessagePositionSeq] != 0x12 {
		t.Errorf("ACK sequences %02x %02x", out[MessagePositionSeq], out[MessageLengthMin+MessagePositionSeq])
	}
}

func TestTransportWrongSequenceNaks(t *testing.T) {
	output := NewScratchOutput()
	calls := 0
	tr := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		calls++
		return nil
	})

	tr.Receive(NewSliceInputBuffer(buildFrame(t, 0x15, 1, nil)))
	if calls != 0 {
		t.Error("Out of sequence frame was dispatched")
	}
	out := output.Result()
	if len(out) != MessageLengthMin || out[MessagePositionSeq] != MessageDest {
		t.Errorf("Expected NAK with 0x10, got %x", out)
	}
}

func TestTransportResyncAfterGarbage(t *testing.T) {
	output := NewScratchOutput()
	calls := 0
	tr := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		calls++
		return nil
	})

	data := []byte{0x03, 0x99, MessageValueSync}
	data = append(data, buildFrame(t, MessageDest, 2, nil)...)
	tr.Receive(NewSliceInputBuffer(data))

	if calls != 1 {
		t.Errorf("Expected one dispatch after resync, got %d", calls)
	}
}

func TestTransportPartialFrameWaits(t *testing.T) {
	output := NewScratchOutput()
	calls := 0
	var got []byte
	tr := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		calls++
		b, err := DecodeVLQBytes(data)
		got = b
		return err
	})

	msg := buildFrame(t, MessageDest, 2, func(output OutputBuffer) {
		EncodeVLQBytes(output, []byte{1, 2, 3, 4})
	})
	fifo := NewFifoBuffer(64)
	fifo.Write(msg[:4])
	tr.Receive(fifo)
	if calls != 0 || fifo.Available() != 4 {
		t.Fatalf("Partial frame consumed: calls=%d avail=%d", calls, fifo.Available())
	}
	fifo.Write(msg[4:])
	tr.Receive(fifo)
	if calls != 1 || fifo.Available() != 0 {
		t.Errorf("Completed frame not handled: calls=%d avail=%d", calls, fifo.Available())
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Argument decoded as % x", got)
	}
}
