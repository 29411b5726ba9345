package protocol

// InputBuffer is the receive side the transport parses frames from.
type InputBuffer interface {
	// Data returns the unread bytes as one contiguous slice.
	Data() []byte
	Available() int
	// Pop discards n bytes from the front.
	Pop(n int)
}

// OutputBuffer is the transmit side frames are encoded into. Framing
// writes a placeholder length, encodes the payload and then patches the
// header through Update.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a fixed slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte { return s.data }

func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput collects outgoing frames in a fixed buffer. Bytes that do
// not fit are dropped and the loss is reported by Truncated.
type ScratchOutput struct {
	buf       [MessageMax]byte
	pos       int
	truncated bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.truncated = true
	}
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Truncated reports whether a write overflowed since the last Reset.
func (s *ScratchOutput) Truncated() bool { return s.truncated }

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.truncated = false
}

// FifoBuffer is the ring the serial reader fills and the transport drains.
// Every slot is usable.
type FifoBuffer struct {
	buf   []byte
	head  int // index of the oldest byte
	count int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the number stored.
func (f *FifoBuffer) Write(data []byte) int {
	n := len(data)
	if free := len(f.buf) - f.count; n > free {
		n = free
	}
	tail := (f.head + f.count) % len(f.buf)
	first := copy(f.buf[tail:], data[:n])
	copy(f.buf, data[first:n])
	f.count += n
	return n
}

// Read moves up to len(data) bytes out of the ring.
func (f *FifoBuffer) Read(data []byte) int {
	n := copy(data, f.Data())
	f.Pop(n)
	return n
}

func (f *FifoBuffer) Available() int { return f.count }

func (f *FifoBuffer) Free() int { return len(f.buf) - f.count }

func (f *FifoBuffer) IsEmpty() bool { return f.count == 0 }

// Data returns the unread bytes. A wrapped ring is rotated in place first,
// so the result aliases the ring and is valid until the next Write.
func (f *FifoBuffer) Data() []byte {
	if f.head+f.count > len(f.buf) {
		rotate(f.buf, f.head)
		f.head = 0
	}
	return f.buf[f.head : f.head+f.count]
}

func (f *FifoBuffer) Pop(n int) {
	if n > f.count {
		n = f.count
	}
	f.count -= n
	if f.count == 0 {
		f.head = 0
		return
	}
	f.head = (f.head + n) % len(f.buf)
}

func (f *FifoBuffer) Reset() {
	f.head = 0
	f.count = 0
}

// rotate moves b[k:] to the front of b without allocating.
func rotate(b []byte, k int) {
	reverse(b[:k])
	reverse(b[k:])
	reverse(b)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
