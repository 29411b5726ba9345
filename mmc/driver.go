package mmc

import "sdspi/core"

// Driver is the block device capability a card exposes to storage code.
type Driver interface {
	Probe() error
	ReadBlocks(start uint32, buf []byte, count uint32) error
	WriteBlocks(start uint32, buf []byte, count uint32) error
	EraseBlocks(start uint32, count uint32) error
	SectorCount() (uint64, error)
	BlockSize() int
	Deinit() error
	Close() error
}

var _ Driver = (*SPICard)(nil)
var _ Bus = (*core.SPIBus)(nil)

// OpenSPI acquires the bus described by busCfg from the process-wide
// registry, prepares the chip-select and MISO pins and returns an
// unprobed card. Close releases the bus.
func OpenSPI(busCfg core.BusConfig, cs core.GPIOPin, opts Options) (*SPICard, error) {
	gpio := core.MustGPIO()

	if miso := busCfg.SPI.MISO; miso != core.NoPin {
		if err := gpio.ConfigureInputPullUp(miso); err != nil {
			return nil, err
		}
	}

	bus, err := core.AcquireBus(busCfg)
	if err != nil {
		return nil, err
	}

	if cs != core.NoPin {
		if err := gpio.ConfigureOutput(cs); err != nil {
			core.ReleaseBus(bus)
			return nil, err
		}
		if err := gpio.SetPin(cs, true); err != nil {
			core.ReleaseBus(bus)
			return nil, err
		}
	}

	card := NewSPICard(bus, cs, opts)
	card.release = func() error {
		return core.ReleaseBus(bus)
	}
	return card, nil
}
