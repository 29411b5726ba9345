//go:build rp2350

package main

import (
	"errors"
	"machine"
	"sync"
	"time"

	"sdspi/core"
)

// softBusPins is the default mux per bus ID when the config names no pins.
var softBusPins = map[core.SPIBusID][3]machine.Pin{
	0: {machine.GPIO2, machine.GPIO3, machine.GPIO4},
	1: {machine.GPIO10, machine.GPIO11, machine.GPIO12},
}

// SoftwareSPIDriver implements core.SPIDriver using GPIO bit-banging
type SoftwareSPIDriver struct {
	mu sync.Mutex

	// Track configured software SPI instances
	instances map[core.SPIBusID]*softwareSPIInstance
}

// softwareSPIInstance holds configuration for a software SPI bus
type softwareSPIInstance struct {
	id   core.SPIBusID
	sclk machine.Pin
	mosi machine.Pin
	miso machine.Pin
	mode core.SPIMode
	rate uint32

	// Delay between clock transitions
	halfPeriod time.Duration

	// CPOL and CPHA derived from mode
	cpol bool // Clock polarity: false = idle low, true = idle high
	cpha bool // Clock phase: false = sample on first edge, true = sample on second edge
}

// NewSoftwareSPIDriver creates a new software SPI driver
func NewSoftwareSPIDriver() *SoftwareSPIDriver {
	return &SoftwareSPIDriver{
		instances: make(map[core.SPIBusID]*softwareSPIInstance),
	}
}

func pinOr(p core.GPIOPin, def machine.Pin) machine.Pin {
	if p == core.NoPin {
		return def
	}
	return machine.Pin(p)
}

// ConfigureBus sets up GPIO pins for software SPI
func (d *SoftwareSPIDriver) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inst, ok := d.instances[config.BusID]; ok && inst.mode == config.Mode {
		inst.setRate(config.Rate)
		return inst, nil
	}

	def, ok := softBusPins[config.BusID]
	if !ok && (config.SCK == core.NoPin || config.MOSI == core.NoPin || config.MISO == core.NoPin) {
		return nil, errors.New("invalid SPI bus ID")
	}

	inst := &softwareSPIInstance{
		id:   config.BusID,
		sclk: pinOr(config.SCK, def[0]),
		mosi: pinOr(config.MOSI, def[1]),
		miso: pinOr(config.MISO, def[2]),
		mode: config.Mode,
	}
	inst.setRate(config.Rate)

	// Decode SPI mode into CPOL and CPHA
	switch config.Mode {
	case 0:
		inst.cpol, inst.cpha = false, false
	case 1:
		inst.cpol, inst.cpha = false, true
	case 2:
		inst.cpol, inst.cpha = true, false
	case 3:
		inst.cpol, inst.cpha = true, true
	default:
		return nil, errors.New("invalid SPI mode")
	}

	inst.sclk.Configure(machine.PinConfig{Mode: machine.PinOutput})
	inst.mosi.Configure(machine.PinConfig{Mode: machine.PinOutput})
	inst.miso.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	// Set initial clock state based on CPOL
	inst.sclk.Set(inst.cpol)
	inst.mosi.High()

	d.instances[config.BusID] = inst
	return inst, nil
}

func (inst *softwareSPIInstance) setRate(rate uint32) {
	if rate == 0 {
		rate = 100000
	}
	inst.rate = rate
	// Two clock edges per bit
	inst.halfPeriod = time.Duration(500000000/rate) * time.Nanosecond
}

// Transfer performs a software SPI transfer
func (d *SoftwareSPIDriver) Transfer(busHandle interface{}, txData []byte, rxData []byte) (int, error) {
	inst, ok := busHandle.(*softwareSPIInstance)
	if !ok {
		return 0, errors.New("invalid software SPI handle")
	}
	if len(txData) != len(rxData) {
		return 0, errors.New("tx and rx buffer lengths must match")
	}

	for i := 0; i < len(txData); i++ {
		rxData[i] = inst.transferByte(txData[i])
	}
	return len(txData), nil
}

// SetRate changes the bit period. Rates above what the GPIO loop can
// toggle are accepted but not reached.
func (d *SoftwareSPIDriver) SetRate(busHandle interface{}, rate uint32) (uint32, error) {
	inst, ok := busHandle.(*softwareSPIInstance)
	if !ok {
		return 0, errors.New("invalid software SPI handle")
	}
	inst.setRate(rate)
	return inst.rate, nil
}

// GetBusInfo returns the configured buses.
func (d *SoftwareSPIDriver) GetBusInfo() map[core.SPIBusID]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := make(map[core.SPIBusID]string)
	for id := range softBusPins {
		info[id] = "soft" + core.Itoa(int(id))
	}
	for id := range d.instances {
		info[id] = "soft" + core.Itoa(int(id))
	}
	return info
}

// transferByte transfers a single byte, MSB first
func (inst *softwareSPIInstance) transferByte(txByte byte) byte {
	var rxByte byte

	for bit := 7; bit >= 0; bit-- {
		inst.mosi.Set(txByte&(1<<bit) != 0)

		// CPHA=0: data is valid before the first edge
		if !inst.cpha {
			delayNs(50)
			if inst.miso.Get() {
				rxByte |= 1 << bit
			}
		}

		inst.sclk.Set(!inst.cpol)
		inst.wait()

		// CPHA=1: sample after the first edge
		if inst.cpha {
			if inst.miso.Get() {
				rxByte |= 1 << bit
			}
		}

		// Back to idle
		inst.sclk.Set(inst.cpol)
		inst.wait()
	}

	return rxByte
}

func (inst *softwareSPIInstance) wait() {
	if inst.halfPeriod < time.Microsecond {
		delayNs(int(inst.halfPeriod))
		return
	}
	time.Sleep(inst.halfPeriod)
}

// delayNs provides a short delay in nanoseconds
// This is a busy-wait and should only be used for very short delays
func delayNs(ns int) {
	// At 150MHz a loop iteration is a few nanoseconds; rough is fine here
	loops := ns / 8
	for i := 0; i < loops; i++ {
		_ = i
	}
}
