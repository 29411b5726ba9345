//go:build rp2040

package main

import "machine"

// modeStrapPin selects the run mode at boot. It is not used by any SPI mux
// in the bus table.
const modeStrapPin = machine.GPIO28

// ModeConfig determines which mode to run
type ModeConfig struct {
	// Bridge serves raw SPI/GPIO to a host over USB instead of
	// bringing the card up locally.
	Bridge bool
}

// GetMode reads the strap: left floating (pulled up) runs the storage
// routine, tied to ground runs the bridge.
func GetMode() ModeConfig {
	modeStrapPin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return ModeConfig{
		Bridge: !modeStrapPin.Get(),
	}
}
