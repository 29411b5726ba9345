// Package periph drives a card wired straight to a Linux host, through
// spidev or an FTDI adapter registered by periph.io.
package periph

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"sdspi/core"
)

// Driver implements core.SPIDriver and core.GPIODriver with periph.io.
type Driver struct {
	// Ports maps bus IDs to spireg port names. Missing IDs use "SPI<id>.0".
	Ports map[core.SPIBusID]string
	// ManualCS stops the port from driving its own chip select, for cards
	// selected through a GPIO.
	ManualCS bool

	mu    sync.Mutex
	buses map[core.SPIBusID]*port
	pins  map[core.GPIOPin]gpio.PinIO
}

type port struct {
	name   string
	mode   spi.Mode
	rate   uint32
	closer spi.PortCloser
	conn   spi.Conn
	maxTx  int
}

var _ core.SPIDriver = (*Driver)(nil)
var _ core.GPIODriver = (*Driver)(nil)

// Init loads the periph.io host drivers and returns a Driver.
func Init() (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: %w", err)
	}
	return &Driver{
		Ports: make(map[core.SPIBusID]string),
		buses: make(map[core.SPIBusID]*port),
		pins:  make(map[core.GPIOPin]gpio.PinIO),
	}, nil
}

func (d *Driver) portName(id core.SPIBusID) string {
	if name, ok := d.Ports[id]; ok {
		return name
	}
	return fmt.Sprintf("SPI%d.0", id)
}

// ConfigureBus opens and connects a port. Pin overrides are fixed by the
// kernel device tree and ignored here.
func (d *Driver) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.buses[config.BusID]; ok {
		return p, nil
	}
	mode := spi.Mode(config.Mode)
	if d.ManualCS {
		mode |= spi.NoCS
	}
	p := &port{name: d.portName(config.BusID), mode: mode}
	if err := p.connect(config.Rate); err != nil {
		return nil, err
	}
	d.buses[config.BusID] = p
	return p, nil
}

// connect (re)opens the port at rate. A periph port connects once, so a
// rate change reopens it.
func (p *port) connect(rate uint32) error {
	if p.closer != nil {
		p.closer.Close()
		p.closer, p.conn = nil, nil
	}
	closer, err := spireg.Open(p.name)
	if err != nil {
		return fmt.Errorf("periph: open %s: %w", p.name, err)
	}
	c, err := closer.Connect(physic.Frequency(rate)*physic.Hertz, p.mode, 8)
	if err != nil {
		closer.Close()
		return fmt.Errorf("periph: connect %s: %w", p.name, err)
	}
	p.closer = closer
	p.conn = c
	p.rate = rate
	p.maxTx = 4096
	if lim, ok := c.(conn.Limits); ok && lim.MaxTxSize() > 0 {
		p.maxTx = lim.MaxTxSize()
	}
	return nil
}

// Transfer shifts tx out and rx in, split at the port's size limit.
func (d *Driver) Transfer(handle interface{}, txData []byte, rxData []byte) (int, error) {
	p, ok := handle.(*port)
	if !ok || p.conn == nil {
		return 0, core.ErrDeviceNotReady
	}
	done := 0
	for done < len(txData) {
		n := len(txData) - done
		if n > p.maxTx {
			n = p.maxTx
		}
		if err := p.conn.Tx(txData[done:done+n], rxData[done:done+n]); err != nil {
			return done, fmt.Errorf("periph: %s: %w", p.name, err)
		}
		done += n
	}
	return done, nil
}

// SetRate reconnects the port at a new clock.
func (d *Driver) SetRate(handle interface{}, rate uint32) (uint32, error) {
	p, ok := handle.(*port)
	if !ok {
		return 0, core.ErrDeviceNotReady
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.rate == rate && p.conn != nil {
		return rate, nil
	}
	if err := p.connect(rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// GetBusInfo lists the SPI ports periph.io found.
func (d *Driver) GetBusInfo() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for i, ref := range spireg.All() {
		info[core.SPIBusID(i)] = ref.Name
	}
	return info
}

// Close releases every open port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for id, p := range d.buses {
		if p.closer != nil {
			if err := p.closer.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(d.buses, id)
	}
	return first
}

func (d *Driver) pin(n core.GPIOPin) (gpio.PinIO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pins[n]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, core.ErrInvalidArgument
	}
	d.pins[n] = p
	return p, nil
}

// ConfigureOutput drives pin high as an output.
func (d *Driver) ConfigureOutput(pin core.GPIOPin) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.High)
}

// ConfigureInputPullUp makes pin an input with pull-up.
func (d *Driver) ConfigureInputPullUp(pin core.GPIOPin) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	return p.In(gpio.PullUp, gpio.NoEdge)
}

// SetPin drives an output pin.
func (d *Driver) SetPin(pin core.GPIOPin, value bool) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(value))
}

// GetPin reads a pin.
func (d *Driver) GetPin(pin core.GPIOPin) (bool, error) {
	p, err := d.pin(pin)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}
