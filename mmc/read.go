package mmc

import (
	"time"

	"sdspi/core"
	"sdspi/protocol"
)

// ReadBlocks reads count blocks starting at block start into buf. The bus
// stays locked from the read command through the stop command, so no other
// user can slip a transfer into a multi-block read.
func (c *SPICard) ReadBlocks(start uint32, buf []byte, count uint32) error {
	c.bus.Lock()
	defer c.bus.Unlock()

	if !c.state.Initialized {
		return core.ErrDeviceNotReady
	}
	if count == 0 || uint64(len(buf)) < uint64(count)*BlockSize {
		return core.ErrInvalidArgument
	}
	if c.state.BlockCount == 0 {
		if err := c.readGeometry(); err != nil {
			return err
		}
	}
	if uint64(start)+uint64(count) > c.state.BlockCount {
		return core.ErrInvalidArgument
	}

	addr := start
	if c.state.Type != CardSDHC {
		if (uint64(start)+uint64(count)-1)*BlockSize > 0xFFFFFFFF {
			return core.ErrInvalidArgument
		}
		addr = start * BlockSize
	}

	cmd := uint8(CmdReadSingleBlock)
	if count > 1 {
		cmd = CmdReadMultipleBlock
	}

	if err := c.selectCard(); err != nil {
		return err
	}
	defer c.deselectCard()

	r1, _, err := c.sendCommand(cmd, addr)
	if err != nil {
		return err
	}
	if r1 != 0 {
		core.LogDebug("mmc: CMD" + core.Itoa(int(cmd)) + " r1=" + core.Hex8(r1))
		return core.ErrIO
	}

	var dataErr error
	for i := uint32(0); i < count; i++ {
		block := buf[i*BlockSize : (i+1)*BlockSize]
		if dataErr = c.readDataBlock(block, start+i); dataErr != nil {
			break
		}
	}

	if count > 1 {
		r1, _, err := c.sendCommand(CmdStopTransmission, 0)
		if dataErr == nil && (err != nil || r1 != 0) {
			msg := "mmc: stop after good read failed, r1=" + core.Hex8(r1)
			if err != nil {
				msg += ": " + err.Error()
			}
			core.LogWarning(msg)
		}
	}
	return dataErr
}

// readDataBlock waits for the start token, then reads the block and its CRC.
func (c *SPICard) readDataBlock(dst []byte, block uint32) error {
	if err := c.waitToken(block); err != nil {
		return err
	}
	if err := c.xfer(nil, dst, len(dst)); err != nil {
		return err
	}
	if err := c.xfer(nil, c.crc[:], 2); err != nil {
		return err
	}
	if c.opts.CRC {
		want := uint16(c.crc[0])<<8 | uint16(c.crc[1])
		if got := protocol.CRC16XModem(dst); got != want {
			core.LogWarning("mmc: data CRC mismatch in block " + core.Itoa(int(block)))
			return core.ErrCRC
		}
	}
	return nil
}

// waitToken returns once the start-block token arrives. Any other non-idle
// byte is a data error token.
func (c *SPICard) waitToken(block uint32) error {
	deadline := time.Now().Add(c.opts.TokenTimeout)
	for {
		b, err := c.readByte()
		if err != nil {
			return err
		}
		switch {
		case b == TokenStartBlock:
			return nil
		case b != 0xFF:
			core.LogWarning("mmc: data error token " + core.Hex8(b) + " for block " + core.Itoa(int(block)))
			return core.ErrIO
		}
		if time.Now().After(deadline) {
			c.event(core.EvtTokenTimeout, block, 0)
			return core.ErrTimeout
		}
	}
}
