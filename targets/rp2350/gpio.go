//go:build rp2350

package main

import (
	"machine"

	"sdspi/core"
)

// rp2350B exposes GPIO0-GPIO47
const maxPin = 47

// RPGPIODriver implements the GPIODriver interface for RP2350
type RPGPIODriver struct {
	// Track configured pins to prevent conflicts
	configuredPins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a new RP2350 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.GPIOPin]machine.Pin),
	}
}

// ConfigureOutput configures a pin as a digital output
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin > maxPin {
		return core.ErrInvalidArgument
	}
	machinePin := machine.Pin(pin)
	machinePin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configuredPins[pin] = machinePin
	return nil
}

// ConfigureInputPullUp configures a pin as an input with the pull-up on.
// Card setup does this to MISO before the SPI mux takes the pad, which
// keeps the pull.
func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	if pin > maxPin {
		return core.ErrInvalidArgument
	}
	machinePin := machine.Pin(pin)
	machinePin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	d.configuredPins[pin] = machinePin
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return core.ErrDeviceNotReady
	}
	machinePin.Set(value)
	return nil
}

// GetPin reads the current pin state
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	if pin > maxPin {
		return false, core.ErrInvalidArgument
	}
	return machine.Pin(pin).Get(), nil
}
