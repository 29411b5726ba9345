//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync"

	"sdspi/core"
)

// RP2040 SPI bus configurations.
// Each bus specifies which SPI controller and default GPIO mux to use.

type spiBusConfig struct {
	spi  *machine.SPI // SPI controller (SPI0 or SPI1)
	sck  machine.Pin  // Clock pin
	mosi machine.Pin  // Master Out Slave In
	miso machine.Pin  // Master In Slave Out
	name string       // Human-readable name
}

var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	// SPI0 configurations
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0, name: "spi0a"},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4, name: "spi0b"},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16, name: "spi0c"},
	3: {spi: machine.SPI0, sck: machine.GPIO22, mosi: machine.GPIO23, miso: machine.GPIO20, name: "spi0d"},
	4: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO4, name: "spi0e"},

	// SPI1 configurations
	5: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8, name: "spi1a"},
	6: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12, name: "spi1b"},
	7: {spi: machine.SPI1, sck: machine.GPIO26, mosi: machine.GPIO27, miso: machine.GPIO24, name: "spi1c"},
	8: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO12, name: "spi1d"},
}

// RP2040SPIDriver implements core.SPIDriver using TinyGo's machine.SPI.
// Bus IDs at or above core.SPIBusPIO are handed to the PIO driver.
type RP2040SPIDriver struct {
	mu sync.Mutex

	// Track configured buses to avoid reconfiguration
	configuredBuses map[core.SPIBusID]*spiInstance

	pio core.SPIDriver
}

// spiInstance holds configuration for a specific SPI bus. The DMA driver
// reads the controller from it to find the data register and DREQs.
type spiInstance struct {
	spi   *machine.SPI
	busID core.SPIBusID
	mode  core.SPIMode
	rate  uint32
	name  string
}

var errInvalidHandle = errors.New("invalid SPI bus handle")

// NewRP2040SPIDriver creates a new RP2040 SPI driver. pio may be nil.
func NewRP2040SPIDriver(pio core.SPIDriver) *RP2040SPIDriver {
	return &RP2040SPIDriver{
		configuredBuses: make(map[core.SPIBusID]*spiInstance),
		pio:             pio,
	}
}

func pinOr(p core.GPIOPin, def machine.Pin) machine.Pin {
	if p == core.NoPin {
		return def
	}
	return machine.Pin(p)
}

// ConfigureBus sets up a hardware SPI bus with specified parameters
func (d *RP2040SPIDriver) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	if config.BusID >= core.SPIBusPIO {
		if d.pio == nil {
			return nil, core.ErrUnsupported
		}
		return d.pio.ConfigureBus(config)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if inst, exists := d.configuredBuses[config.BusID]; exists {
		if inst.mode == config.Mode && inst.rate == config.Rate {
			return inst, nil
		}
	}

	busConfig, exists := rp2040SPIBuses[config.BusID]
	if !exists {
		return nil, errors.New("invalid SPI bus ID")
	}
	if config.Mode > 3 {
		return nil, errors.New("invalid SPI mode")
	}

	spi := busConfig.spi
	err := spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       pinOr(config.SCK, busConfig.sck),
		SDO:       pinOr(config.MOSI, busConfig.mosi),
		SDI:       pinOr(config.MISO, busConfig.miso),
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}

	// Let the controller raise DREQs for both FIFOs
	spi.Bus.SSPDMACR.SetBits(0x3)

	inst := &spiInstance{
		spi:   spi,
		busID: config.BusID,
		mode:  config.Mode,
		rate:  spi.GetBaudRate(),
		name:  busConfig.name,
	}
	d.configuredBuses[config.BusID] = inst

	return inst, nil
}

// Transfer performs a bidirectional SPI transfer
func (d *RP2040SPIDriver) Transfer(busHandle interface{}, txData []byte, rxData []byte) (int, error) {
	inst, ok := busHandle.(*spiInstance)
	if !ok {
		if d.pio != nil {
			return d.pio.Transfer(busHandle, txData, rxData)
		}
		return 0, errInvalidHandle
	}
	if len(txData) != len(rxData) {
		return 0, errors.New("tx and rx buffer lengths must match")
	}

	// machine.SPI.Tx is full duplex
	if err := inst.spi.Tx(txData, rxData); err != nil {
		return 0, err
	}
	return len(txData), nil
}

// SetRate reprograms the controller prescaler and returns the rate achieved.
func (d *RP2040SPIDriver) SetRate(busHandle interface{}, rate uint32) (uint32, error) {
	inst, ok := busHandle.(*spiInstance)
	if !ok {
		if d.pio != nil {
			return d.pio.SetRate(busHandle, rate)
		}
		return 0, errInvalidHandle
	}
	if err := inst.spi.SetBaudRate(rate); err != nil {
		return inst.rate, err
	}
	inst.rate = inst.spi.GetBaudRate()
	return inst.rate, nil
}

// GetBusInfo returns information about available SPI buses
func (d *RP2040SPIDriver) GetBusInfo() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for id, config := range rp2040SPIBuses {
		info[id] = config.name
	}
	if d.pio != nil {
		for id, name := range d.pio.GetBusInfo() {
			info[id] = name
		}
	}
	return info
}
