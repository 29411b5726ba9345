package mmc

import "sdspi/core"

// CID is the 128-bit card identification register.
type CID [16]byte

// MID is the manufacturer ID.
func (c *CID) MID() uint8 { return c[0] }

// OID is the two-character OEM/application ID.
func (c *CID) OID() string { return string(c[1:3]) }

// PNM is the five-character product name.
func (c *CID) PNM() string { return string(c[3:8]) }

// PRV returns the product revision as major, minor.
func (c *CID) PRV() (uint8, uint8) { return c[8] >> 4, c[8] & 0x0F }

// PSN is the product serial number.
func (c *CID) PSN() uint32 {
	return uint32(c[9])<<24 | uint32(c[10])<<16 | uint32(c[11])<<8 | uint32(c[12])
}

// MDT returns the manufacturing year and month.
func (c *CID) MDT() (year int, month int) {
	y := int(c[13]&0x0F)<<4 | int(c[14]>>4)
	return 2000 + y, int(c[14] & 0x0F)
}

// ReadCID reads the CID register.
func (c *SPICard) ReadCID() (CID, error) {
	c.bus.Lock()
	defer c.bus.Unlock()

	var cid CID
	if !c.state.Initialized {
		return cid, core.ErrDeviceNotReady
	}
	err := c.readRegisterCommand(CmdSendCID, cid[:])
	return cid, err
}

// Status runs CMD13 and returns the R2 status, R1 in the high byte.
func (c *SPICard) Status() (uint16, error) {
	c.bus.Lock()
	defer c.bus.Unlock()

	if !c.state.Initialized {
		return 0, core.ErrDeviceNotReady
	}
	r1, resp, err := c.exchange(CmdSendStatus, 0)
	if err != nil {
		return 0, err
	}
	return uint16(r1)<<8 | uint16(resp[0]), nil
}
