//go:build rp2040 || rp2350

package pio

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"sdspi/core"
)

var (
	// PIO allocation tracking
	// RP2040/RP2350 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)
)

// AddBus claims a state machine, runs an SPI program on it and registers
// the result with d under id. rate is the initial clock.
func AddBus(d *core.DriversSPI, id core.SPIBusID, sck, sdo, sdi core.GPIOPin, rate uint32) error {
	if sck == core.NoPin || sdo == core.NoPin || sdi == core.NoPin {
		return core.ErrInvalidArgument
	}
	pioNum, smNum, ok := allocatePIO()
	if !ok {
		return core.ErrResourceExhausted
	}

	pioHW := rp2pio.PIO0
	if pioNum == 1 {
		pioHW = rp2pio.PIO1
	}
	spi, err := NewSPI(pioHW.StateMachine(smNum), machine.Pin(sck), machine.Pin(sdo), machine.Pin(sdi), rate)
	if err != nil {
		pioAllocations[pioNum][smNum] = false
		return err
	}
	d.AddBus(id, "pio"+core.Itoa(int(pioNum))+".sm"+core.Itoa(int(smNum)), spi)
	return nil
}

// allocatePIO allocates a PIO state machine
// Returns (pioNum, smNum, ok)
func allocatePIO() (uint8, uint8, bool) {
	// Round-robin allocation across PIO blocks and state machines
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}

	// All PIO resources exhausted
	return 0, 0, false
}
