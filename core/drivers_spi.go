package core

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

// baudRateSetter is implemented by buses whose clock can be changed after
// configuration (machine.SPI on most ports, PIO SPI).
type baudRateSetter interface {
	SetBaudRate(br uint32) error
}

// DriversSPI adapts buses implementing tinygo.org/x/drivers.SPI to the
// SPIDriver interface. Targets add their buses before calling SetSPIDriver.
type DriversSPI struct {
	mu    sync.Mutex
	buses map[SPIBusID]*driversBus
}

type driversBus struct {
	id   SPIBusID
	name string
	spi  drivers.SPI
	rate uint32
}

// NewDriversSPI creates an empty adapter.
func NewDriversSPI() *DriversSPI {
	return &DriversSPI{buses: make(map[SPIBusID]*driversBus)}
}

// AddBus makes a bus available under id.
func (d *DriversSPI) AddBus(id SPIBusID, name string, spi drivers.SPI) {
	d.mu.Lock()
	d.buses[id] = &driversBus{id: id, name: name, spi: spi}
	d.mu.Unlock()
}

func (d *DriversSPI) ConfigureBus(config SPIConfig) (interface{}, error) {
	d.mu.Lock()
	b, ok := d.buses[config.BusID]
	d.mu.Unlock()
	if !ok {
		return nil, errors.New("invalid SPI bus ID")
	}
	b.rate = config.Rate
	if s, ok := b.spi.(baudRateSetter); ok && config.Rate != 0 {
		if err := s.SetBaudRate(config.Rate); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (d *DriversSPI) Transfer(busHandle interface{}, txData []byte, rxData []byte) (int, error) {
	b, ok := busHandle.(*driversBus)
	if !ok {
		return 0, errors.New("invalid bus handle")
	}
	if err := b.spi.Tx(txData, rxData); err != nil {
		return 0, err
	}
	return len(txData), nil
}

func (d *DriversSPI) SetRate(busHandle interface{}, rate uint32) (uint32, error) {
	b, ok := busHandle.(*driversBus)
	if !ok {
		return 0, errors.New("invalid bus handle")
	}
	s, ok := b.spi.(baudRateSetter)
	if !ok {
		return b.rate, ErrUnsupported
	}
	if err := s.SetBaudRate(rate); err != nil {
		return b.rate, err
	}
	b.rate = rate
	return rate, nil
}

func (d *DriversSPI) GetBusInfo() map[SPIBusID]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := make(map[SPIBusID]string, len(d.buses))
	for id, b := range d.buses {
		info[id] = b.name
	}
	return info
}
