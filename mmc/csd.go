package mmc

import (
	"time"

	"sdspi/core"
	"sdspi/protocol"
)

// CSD is the 128-bit card-specific data register, most significant byte
// first as it comes off the wire.
type CSD [16]byte

// Bits extracts the field [msb:lsb]. Bit 0 is the least significant bit of
// the last byte, so fields may straddle byte boundaries.
func (c *CSD) Bits(msb, lsb uint) uint32 {
	var v uint32
	for i := int(msb); i >= int(lsb); i-- {
		b := c[15-i/8] >> (uint(i) % 8) & 1
		v = v<<1 | uint32(b)
	}
	return v
}

// Structure returns CSD_STRUCTURE: 0 for v1.0, 1 for v2.0 (high capacity).
func (c *CSD) Structure() uint32 {
	return c.Bits(127, 126)
}

// BlockCount decodes the capacity in 512-byte blocks.
func (c *CSD) BlockCount() (uint64, error) {
	switch c.Structure() {
	case 0:
		cSize := uint64(c.Bits(73, 62))
		mult := c.Bits(49, 47)
		readBlLen := c.Bits(83, 80)
		bytes := (cSize + 1) << (mult + 2) << readBlLen
		return bytes / BlockSize, nil
	case 1:
		return (uint64(c.Bits(69, 48)) + 1) << 10, nil
	}
	return 0, core.ErrIO
}

var (
	tranSpeedBase = [8]uint32{10000, 100000, 1000000, 10000000}
	tranSpeedMult = [16]uint32{0, 10, 12, 13, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 70, 80}
)

// TranSpeed decodes TRAN_SPEED into Hz.
func (c *CSD) TranSpeed() uint32 {
	ts := c.Bits(103, 96)
	return tranSpeedBase[ts&7] * tranSpeedMult[(ts>>3)&0xF]
}

// readRegister reads the 16-byte follow-on of CMD9/CMD10. SD2 and SDHC
// cards send it as a data block behind a start token. Older cards may skip
// the token, in which case the first non-idle byte is already register
// data. A leading 0xFE from such a card is a token only if the CRC16 that
// follows checks out. A register starting with 0xFF cannot be told apart
// from idle and is not supported.
func (c *SPICard) readRegister(dst []byte) error {
	deadline := time.Now().Add(c.opts.TokenTimeout)
	var first byte
	for {
		b, err := c.readByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			first = b
			break
		}
		if time.Now().After(deadline) {
			return core.ErrTimeout
		}
	}

	if first != TokenStartBlock {
		dst[0] = first
		return c.xfer(nil, dst[1:], len(dst)-1)
	}

	var blk [16 + 2]byte
	n := len(dst)
	if err := c.xfer(nil, blk[:], n+2); err != nil {
		return err
	}
	crcOK := protocol.CRC16XModem(blk[:n]) == uint16(blk[n])<<8|uint16(blk[n+1])
	if crcOK || c.state.Type == CardSD2 || c.state.Type == CardSDHC {
		copy(dst, blk[:n])
		if !crcOK && c.opts.CRC {
			return core.ErrCRC
		}
		return nil
	}

	// Tokenless register whose first byte happens to be 0xFE
	dst[0] = first
	copy(dst[1:], blk[:n-1])
	return nil
}

// readRegisterCommand selects the card and runs CMD9 or CMD10.
func (c *SPICard) readRegisterCommand(cmd uint8, dst []byte) error {
	if err := c.selectCard(); err != nil {
		return err
	}
	defer c.deselectCard()

	r1, _, err := c.sendCommand(cmd, 0)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return core.ErrIO
	}
	return c.readRegister(dst)
}

// readGeometry reads and caches the CSD. The bus must be locked.
func (c *SPICard) readGeometry() error {
	var csd CSD
	if err := c.readRegisterCommand(CmdSendCSD, csd[:]); err != nil {
		return err
	}
	blocks, err := csd.BlockCount()
	if err != nil {
		core.LogWarning("mmc: unsupported CSD structure " + core.Itoa(int(csd.Structure())))
		return err
	}
	c.csd = csd
	c.state.BlockCount = blocks
	c.state.TranSpeed = csd.TranSpeed()
	if c.state.Initialized && c.bus.Rate() > c.dataRate() {
		c.restoreRate()
	}
	return nil
}

// SectorCount returns the card capacity in blocks, reading the CSD on the
// first call.
func (c *SPICard) SectorCount() (uint64, error) {
	c.bus.Lock()
	defer c.bus.Unlock()

	if !c.state.Initialized {
		return 0, core.ErrDeviceNotReady
	}
	if c.state.BlockCount == 0 {
		if err := c.readGeometry(); err != nil {
			return 0, err
		}
	}
	return c.state.BlockCount, nil
}

// ReadCSD reads the CSD register and refreshes the cached geometry.
func (c *SPICard) ReadCSD() (CSD, error) {
	c.bus.Lock()
	defer c.bus.Unlock()

	if !c.state.Initialized {
		return CSD{}, core.ErrDeviceNotReady
	}
	if err := c.readGeometry(); err != nil {
		return CSD{}, err
	}
	return c.csd, nil
}
