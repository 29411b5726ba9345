package core

// SPIBusID identifies a hardware SPI bus configuration.
// IDs at or above SPIBusPIO select a PIO-backed bus on targets that have one.
type SPIBusID uint8

const SPIBusPIO SPIBusID = 0x80

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig holds the configuration for an SPI bus
type SPIConfig struct {
	BusID SPIBusID // Hardware bus identifier
	Mode  SPIMode  // SPI mode (0-3)
	Rate  uint32   // Default clock rate in Hz

	// Pin overrides. NoPin keeps the target's default mux for BusID.
	SCK  GPIOPin
	MOSI GPIOPin
	MISO GPIOPin
}

// SPIDriver is the abstract SPI interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type SPIDriver interface {
	// ConfigureBus sets up a hardware SPI bus with specified parameters
	// Returns an opaque bus handle and any error
	ConfigureBus(config SPIConfig) (interface{}, error)

	// Transfer shifts len(txData) bytes out while receiving into rxData.
	// Both slices have the same length. Returns the number of bytes shifted.
	Transfer(busHandle interface{}, txData []byte, rxData []byte) (int, error)

	// SetRate changes the clock of a configured bus and returns the rate
	// actually achieved. Drivers with a fixed clock return ErrUnsupported.
	SetRate(busHandle interface{}, rate uint32) (uint32, error)

	// GetBusInfo returns information about available SPI buses
	GetBusInfo() map[SPIBusID]string
}

// Global singleton used by core code
var spiDriver SPIDriver

// SetSPIDriver is called by target-specific code to register its SPI driver
func SetSPIDriver(d SPIDriver) {
	spiDriver = d
}

// MustSPI returns the configured SPI driver or panics if missing
func MustSPI() SPIDriver {
	if spiDriver == nil {
		panic("SPI driver not configured")
	}
	return spiDriver
}
