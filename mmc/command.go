package mmc

import (
	"time"

	"sdspi/core"
	"sdspi/protocol"
)

// SPI-mode command indices
const (
	CmdGoIdleState         = 0
	CmdSendRelativeAddr    = 3
	CmdSendIfCond          = 8
	CmdSendCSD             = 9
	CmdSendCID             = 10
	CmdStopTransmission    = 12
	CmdSendStatus          = 13
	CmdSetBlockLen         = 16
	CmdReadSingleBlock     = 17
	CmdReadMultipleBlock   = 18
	CmdWriteBlock          = 24
	CmdWriteMultipleBlock  = 25
	CmdEraseWrBlkStart     = 32
	CmdEraseWrBlkEnd       = 33
	CmdErase               = 38
	CmdAppCmd              = 55
	CmdReadOCR             = 58
	CmdCRCOnOff            = 59
	AppCmdSDSendOpCond     = 41
	commandStartBit        = 0x40
	commandStopBit         = 0x01
	crcPlaceholder         = 0x01
	voltageCheckArg        = 0x1AA
	voltageCheckPattern    = 0xAA
	hostCapacitySupportArg = 0x40000000
)

// R1 response flags
const (
	R1Idle           = 0x01
	R1EraseReset     = 0x02
	R1IllegalCommand = 0x04
	R1CRCError       = 0x08
	R1EraseSeqError  = 0x10
	R1AddressError   = 0x20
	R1ParameterError = 0x40
	R1Error          = 0x80 // never sent by a card, marks a missing response
)

// Data tokens
const (
	TokenStartBlock      = 0xFE // single/multi read, single write
	TokenStartMultiWrite = 0xFC
	TokenStopTran        = 0xFD
)

// BlockSize is the only block length the driver uses.
const BlockSize = 512

// ResponseShape is the response format a command produces in SPI mode.
type ResponseShape uint8

const (
	RespNone ResponseShape = iota
	RespR1
	RespR1b
	RespR2
	RespR3
	RespR6
	RespR7
)

// Len is the response length in bytes, counting R1.
func (r ResponseShape) Len() int {
	switch r {
	case RespR1, RespR1b:
		return 1
	case RespR2:
		return 2
	case RespR3, RespR6, RespR7:
		return 5
	}
	return 0
}

func (r ResponseShape) String() string {
	switch r {
	case RespR1:
		return "R1"
	case RespR1b:
		return "R1b"
	case RespR2:
		return "R2"
	case RespR3:
		return "R3"
	case RespR6:
		return "R6"
	case RespR7:
		return "R7"
	}
	return "none"
}

// ResponseFor returns the response shape of cmd. app selects the
// application command table (the command follows CMD55).
func ResponseFor(cmd uint8, app bool) ResponseShape {
	if app {
		if cmd == AppCmdSDSendOpCond {
			return RespR1
		}
		return RespNone
	}
	switch cmd {
	case CmdGoIdleState, CmdSetBlockLen, CmdReadSingleBlock, CmdReadMultipleBlock,
		CmdWriteBlock, CmdWriteMultipleBlock, CmdEraseWrBlkStart, CmdEraseWrBlkEnd,
		CmdAppCmd, CmdCRCOnOff:
		return RespR1
	case CmdStopTransmission, CmdErase:
		return RespR1b
	case CmdSendCSD, CmdSendCID, CmdSendStatus:
		return RespR2
	case CmdReadOCR:
		return RespR3
	case CmdSendIfCond:
		return RespR7
	case CmdSendRelativeAddr:
		return RespR6
	}
	return RespNone
}

// EncodeCommand builds the 6-byte command frame. With crc false only CMD0
// and CMD8 carry a real CRC7, since the card checks those regardless.
func EncodeCommand(cmd uint8, arg uint32, crc bool) [6]byte {
	var f [6]byte
	f[0] = commandStartBit | cmd&0x3F
	f[1] = byte(arg >> 24)
	f[2] = byte(arg >> 16)
	f[3] = byte(arg >> 8)
	f[4] = byte(arg)
	if crc || cmd == CmdGoIdleState || cmd == CmdSendIfCond {
		f[5] = protocol.CRC7(f[:5])<<1 | commandStopBit
	} else {
		f[5] = crcPlaceholder
	}
	return f
}

// DecodeCommand parses a command frame. With checkCRC the CRC7 must match.
func DecodeCommand(f [6]byte, checkCRC bool) (cmd uint8, arg uint32, err error) {
	if f[0]&0xC0 != commandStartBit || f[5]&commandStopBit == 0 {
		return 0, 0, core.ErrInvalidArgument
	}
	if checkCRC && protocol.CRC7(f[:5]) != f[5]>>1 {
		return 0, 0, core.ErrCRC
	}
	cmd = f[0] & 0x3F
	arg = uint32(f[1])<<24 | uint32(f[2])<<16 | uint32(f[3])<<8 | uint32(f[4])
	return cmd, arg, nil
}

// The helpers below run inside a bus transaction with the card selected.

func (c *SPICard) xfer(tx, rx []byte, n int) error {
	return c.bus.Transfer(core.NoPin, tx, rx, n)
}

func (c *SPICard) readByte() (byte, error) {
	if err := c.xfer(nil, c.one[:], 1); err != nil {
		return 0xFF, err
	}
	return c.one[0], nil
}

func (c *SPICard) selectCard() error {
	return c.bus.Select(c.cs, true)
}

// deselectCard releases CS and clocks one more byte so the card lets go
// of MISO.
func (c *SPICard) deselectCard() {
	if err := c.bus.Select(c.cs, false); err != nil {
		core.LogWarning("mmc: deselect failed: " + err.Error())
	}
	c.xfer(nil, c.one[:], 1)
}

// waitReady clocks until the card releases MISO high or the deadline passes.
func (c *SPICard) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		b, err := c.readByte()
		if err != nil {
			return err
		}
		if b == 0xFF {
			return nil
		}
		if time.Now().After(deadline) {
			return core.ErrTimeout
		}
	}
}

// waitNotBusy waits out R1b busy signalling (MISO held low).
func (c *SPICard) waitNotBusy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		b, err := c.readByte()
		if err != nil {
			return err
		}
		if b != 0x00 {
			return nil
		}
		if time.Now().After(deadline) {
			return core.ErrTimeout
		}
	}
}

// sendCommand transmits one command and collects its response. resp holds
// the bytes after R1: four for R3/R6/R7, one for CMD13. The register
// follow-on of CMD9/CMD10 is left for readRegister.
func (c *SPICard) sendCommand(cmd uint8, arg uint32) (r1 byte, resp [4]byte, err error) {
	return c.command(cmd, arg, false)
}

// sendAppCommand sends CMD55 and then cmd from the application table.
func (c *SPICard) sendAppCommand(cmd uint8, arg uint32) (r1 byte, resp [4]byte, err error) {
	if err := c.waitReady(c.opts.BusyTimeout); err != nil {
		return R1Error, resp, err
	}
	r1, _, err = c.command(CmdAppCmd, 0, false)
	if err != nil {
		return r1, resp, err
	}
	if r1&^R1Idle != 0 {
		return r1, resp, core.ErrIO
	}
	return c.command(cmd, arg, true)
}

// event records a bus event tagged with the slot of the card's bus.
func (c *SPICard) event(typ uint8, v1, v2 uint32) {
	core.RecordBusEvent(typ, uint8(c.bus.Slot()), v1, v2)
}

func (c *SPICard) command(cmd uint8, arg uint32, app bool) (r1 byte, resp [4]byte, err error) {
	frame := EncodeCommand(cmd, arg, c.opts.CRC)
	c.event(core.EvtCommand, uint32(cmd), arg)
	if err := c.xfer(frame[:], nil, len(frame)); err != nil {
		return R1Error, resp, err
	}

	// CMD12 answers one byte late
	if cmd == CmdStopTransmission {
		if _, err := c.readByte(); err != nil {
			return R1Error, resp, err
		}
	}

	r1 = R1Error
	for i := 0; i < c.opts.ResponseRetries; i++ {
		b, err := c.readByte()
		if err != nil {
			return R1Error, resp, err
		}
		if b&R1Error == 0 {
			r1 = b
			break
		}
	}
	c.event(core.EvtResponse, uint32(cmd), uint32(r1))
	if r1 == R1Error {
		core.LogDebug("mmc: no response to CMD" + core.Itoa(int(cmd)))
		return r1, resp, core.ErrTimeout
	}

	shape := ResponseFor(cmd, app)
	switch {
	case shape == RespR3 || shape == RespR6 || shape == RespR7:
		err = c.xfer(nil, resp[:], 4)
	case cmd == CmdSendStatus:
		err = c.xfer(nil, resp[:1], 1)
	case shape == RespR1b:
		err = c.waitNotBusy(c.opts.BusyTimeout)
	}
	return r1, resp, err
}

// exchange runs one command with the card selected for just that command.
func (c *SPICard) exchange(cmd uint8, arg uint32) (byte, [4]byte, error) {
	if err := c.selectCard(); err != nil {
		return R1Error, [4]byte{}, err
	}
	defer c.deselectCard()
	return c.sendCommand(cmd, arg)
}

func (c *SPICard) appExchange(cmd uint8, arg uint32) (byte, [4]byte, error) {
	if err := c.selectCard(); err != nil {
		return R1Error, [4]byte{}, err
	}
	defer c.deselectCard()
	return c.sendAppCommand(cmd, arg)
}
