package core

// Number formatting for log lines on targets where fmt is too heavy.

func itoa(n int) string {
	if n < 0 {
		return "-" + formatUint(uint64(-int64(n)))
	}
	return formatUint(uint64(n))
}

func utoa(n uint32) string {
	return formatUint(uint64(n))
}

func formatUint(n uint64) string {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return string(buf[i:])
}

const hexDigits = "0123456789abcdef"

// hex8 formats a byte as 0xNN
func hex8(v uint8) string {
	return string([]byte{'0', 'x', hexDigits[v>>4], hexDigits[v&0xF]})
}

// hex32 formats a word as 0xNNNNNNNN
func hex32(v uint32) string {
	buf := []byte("0x00000000")
	for i := 9; i >= 2; i-- {
		buf[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(buf)
}

// Itoa is itoa for callers outside the package that avoid fmt.
func Itoa(n int) string { return itoa(n) }

// Hex8 is hex8 for callers outside the package.
func Hex8(v uint8) string { return hex8(v) }

// Hex32 is hex32 for callers outside the package.
func Hex32(v uint32) string { return hex32(v) }
