package protocol

// CRC7 computes the 7-bit CRC (polynomial x^7+x^3+1) that closes every SD
// command frame. The result is in the low seven bits; the frame byte is
// CRC7<<1 | 1.
func CRC7(data []byte) uint8 {
	crc := uint8(0)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			crc <<= 1
			if (b^crc)&0x80 != 0 {
				crc ^= 0x09
			}
			b <<= 1
		}
	}
	return crc & 0x7F
}
