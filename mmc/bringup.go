package mmc

import (
	"time"

	"sdspi/core"
)

// bringUpState is one step of card initialization.
type bringUpState uint8

const (
	statePowerSettle bringUpState = iota
	stateReset
	stateVoltageCheck
	stateCRCOn
	stateOpCond
	stateOCRRead
	stateBlockLen
	stateReady
)

func (s bringUpState) String() string {
	switch s {
	case statePowerSettle:
		return "power-settle"
	case stateReset:
		return "reset"
	case stateVoltageCheck:
		return "voltage-check"
	case stateCRCOn:
		return "crc-on"
	case stateOpCond:
		return "op-cond"
	case stateOCRRead:
		return "ocr-read"
	case stateBlockLen:
		return "block-len"
	case stateReady:
		return "ready"
	}
	return "?"
}

// powerSettleBytes covers the 74 clocks a card needs after power-up.
const powerSettleBytes = 10

// Probe brings the card into SPI data-transfer mode. It runs at the
// bring-up rate and restores the bus default on exit. Once it has
// succeeded, later calls return nil without touching the bus.
func (c *SPICard) Probe() error {
	c.bus.Lock()
	defer c.bus.Unlock()

	if c.closed {
		return core.ErrDeviceNotReady
	}
	if c.state.Initialized {
		return nil
	}

	if err := c.bus.SetRate(c.opts.BringUpRate); err != nil && err != core.ErrUnsupported {
		return err
	}
	defer c.restoreRate()

	if err := c.bringUp(); err != nil {
		c.state = CardState{BlockSize: BlockSize}
		return err
	}
	c.state.Initialized = true
	core.LogInfo("mmc: card ready, type " + c.state.Type.String())
	return nil
}

// dataRate is the bus default, capped by the card's TRAN_SPEED once the
// CSD has been read.
func (c *SPICard) dataRate() uint32 {
	rate := c.bus.DefaultRate()
	if ts := c.state.TranSpeed; ts != 0 && ts < rate {
		rate = ts
	}
	return rate
}

func (c *SPICard) restoreRate() {
	if err := c.bus.SetRate(c.dataRate()); err != nil && err != core.ErrUnsupported {
		core.LogError("mmc: restoring bus rate failed: " + err.Error())
	}
}

func (c *SPICard) bringUp() error {
	c.state = CardState{BlockSize: BlockSize}

	state := statePowerSettle
	for state != stateReady {
		var next bringUpState
		var err error

		switch state {
		case statePowerSettle:
			err = c.powerSettle()
			next = stateReset
		case stateReset:
			err = c.reset()
			next = stateVoltageCheck
		case stateVoltageCheck:
			err = c.voltageCheck()
			next = stateOpCond
			if c.opts.CRC {
				next = stateCRCOn
			}
		case stateCRCOn:
			err = c.crcOn()
			next = stateOpCond
		case stateOpCond:
			err = c.opCond()
			next = stateBlockLen
			if c.state.Type == CardSD2 {
				next = stateOCRRead
			}
		case stateOCRRead:
			err = c.readOCR()
			next = stateBlockLen
		case stateBlockLen:
			if c.state.Type != CardSDHC {
				err = c.setBlockLen()
			}
			next = stateReady
		}

		if err != nil {
			core.LogWarning("mmc: bring-up failed in " + state.String() + ": " + err.Error())
			return err
		}
		core.LogTrace("mmc: " + state.String() + " done")
		state = next
	}
	return nil
}

// powerSettle clocks idle bytes with the card selected.
func (c *SPICard) powerSettle() error {
	if err := c.selectCard(); err != nil {
		return err
	}
	var sink [powerSettleBytes]byte
	err := c.xfer(nil, sink[:], powerSettleBytes)
	c.deselectCard()
	return err
}

// reset sends CMD0 until the card reports idle.
func (c *SPICard) reset() error {
	for i := 0; i < c.opts.ResetRetries; i++ {
		r1, _, err := c.exchange(CmdGoIdleState, 0)
		if err == nil && r1 == R1Idle {
			return nil
		}
		if i+1 < c.opts.ResetRetries {
			time.Sleep(c.opts.ResetDelay)
		}
	}
	return core.ErrTimeout
}

// voltageCheck tells SD1 cards (CMD8 illegal) from SD2 (pattern echoed).
func (c *SPICard) voltageCheck() error {
	r1, resp, err := c.exchange(CmdSendIfCond, voltageCheckArg)
	if err != nil {
		return err
	}
	switch {
	case r1&R1IllegalCommand != 0:
		c.state.Type = CardSD1
	case r1&^R1Idle == 0 && resp[3] == voltageCheckPattern:
		c.state.Type = CardSD2
	default:
		core.LogDebug("mmc: CMD8 r1=" + core.Hex8(r1) + " echo=" + core.Hex8(resp[3]))
		return core.ErrIO
	}
	return nil
}

func (c *SPICard) crcOn() error {
	r1, _, err := c.exchange(CmdCRCOnOff, 1)
	if err != nil || r1&^R1Idle != 0 {
		return core.ErrIO
	}
	return nil
}

// opCond polls ACMD41 until the card leaves the idle state.
func (c *SPICard) opCond() error {
	var arg uint32
	if c.state.Type == CardSD2 {
		arg = hostCapacitySupportArg
	}
	for i := 0; i < c.opts.OpCondRetries; i++ {
		r1, _, err := c.appExchange(AppCmdSDSendOpCond, arg)
		if err != nil {
			return err
		}
		if r1 == 0 {
			return nil
		}
		if r1&^R1Idle != 0 {
			return core.ErrIO
		}
		if i+1 < c.opts.OpCondRetries {
			time.Sleep(c.opts.OpCondDelay)
		}
	}
	return core.ErrTimeout
}

// readOCR upgrades SD2 to SDHC when both power-up-complete and CCS are set.
func (c *SPICard) readOCR() error {
	r1, resp, err := c.exchange(CmdReadOCR, 0)
	if err != nil {
		return err
	}
	if r1&^R1Idle != 0 {
		return core.ErrIO
	}
	c.state.OCR = uint32(resp[0])<<24 | uint32(resp[1])<<16 | uint32(resp[2])<<8 | uint32(resp[3])
	if resp[0]&0xC0 == 0xC0 {
		c.state.Type = CardSDHC
	}
	return nil
}

func (c *SPICard) setBlockLen() error {
	r1, _, err := c.exchange(CmdSetBlockLen, BlockSize)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return core.ErrIO
	}
	return nil
}
