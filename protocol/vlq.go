package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// maxVLQLen is the longest encoding of a 32-bit value.
const maxVLQLen = 5

// EncodeVLQInt writes v as 7-bit groups, most significant first, with the
// high bit marking continuation. Values in [-32, 96) take one byte; the
// first group carries the sign in bit 6.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [maxVLQLen]byte
	n := 0
	for shift := uint(28); shift >= 7; shift -= 7 {
		lo := -(int32(1) << (shift - 2))
		hi := int32(3) << (shift - 2)
		if n > 0 || v < lo || v >= hi {
			buf[n] = byte(v>>shift)&0x7F | 0x80
			n++
		}
	}
	buf[n] = byte(v) & 0x7F
	output.Output(buf[:n+1])
}

// EncodeVLQUint writes v with the signed encoding; values above 2^31 wrap.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt reads one value and advances data past it.
func DecodeVLQInt(data *[]byte) (int32, error) {
	d := *data
	if len(d) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := uint32(d[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		// Negative lead group
		v |= ^uint32(0x1F)
	}
	i := 1
	for c&0x80 != 0 {
		if i >= maxVLQLen {
			return 0, ErrInvalidVLQ
		}
		if i >= len(d) {
			return 0, ErrBufferTooSmall
		}
		c = uint32(d[i])
		v = v<<7 | c&0x7F
		i++
	}

	*data = d[i:]
	return int32(v), nil
}

func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length prefix followed by data.
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes reads a length-prefixed block. The result aliases data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	rest := *data
	n, err := DecodeVLQUint(&rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < n {
		return nil, ErrBufferTooSmall
	}
	*data = rest[n:]
	return rest[:n:n], nil
}

func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
