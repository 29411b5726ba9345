package protocol

// CRC16 calculates the checksum used by bridge link frames
// (CCITT reflected form, init 0xFFFF)
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// CRC16XModem calculates the CRC that trails every SD data block
// (polynomial 0x1021, init 0, MSB first)
func CRC16XModem(data []byte) uint16 {
	crc := uint16(0)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
