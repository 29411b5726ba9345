package core

// DMAChannel identifies a hardware DMA channel.
type DMAChannel uint8

// MaxDMAIRQ is the number of shared DMA interrupt lines the registry can fan out.
const MaxDMAIRQ = 4

// DMADirection selects which side of a transfer is memory.
type DMADirection uint8

const (
	DMAMemToPeripheral DMADirection = iota // feeds the SPI TX FIFO
	DMAPeripheralToMem                     // drains the SPI RX FIFO
)

// DMATransfer describes one channel of a bus transfer.
type DMATransfer struct {
	Channel   DMAChannel
	Direction DMADirection

	// Buffer is the memory side. With Increment false only Buffer[0] is
	// used, which is how idle bytes are fed and discarded bytes are sunk.
	Buffer    []byte
	Increment bool
	Count     int
}

// DMADriver is the abstract DMA controller used by DMA-mode SPI buses.
type DMADriver interface {
	// ClaimChannel reserves a free channel.
	ClaimChannel() (DMAChannel, error)

	// ReleaseChannel returns a channel to the pool.
	ReleaseChannel(ch DMAChannel)

	// Configure programs a channel against the bus FIFO without starting it.
	Configure(busHandle interface{}, xfer DMATransfer) error

	// Start triggers every channel in mask at once.
	Start(mask uint32)

	// Abort stops every channel in mask and waits for the abort to settle.
	Abort(mask uint32)

	// Busy reports whether a channel is still transferring.
	Busy(ch DMAChannel) bool

	// SetIRQHandler installs the handler for a shared interrupt line.
	SetIRQHandler(irq uint8, handler func(irq uint8)) error

	// EnableIRQ routes completion of ch to the interrupt line.
	EnableIRQ(irq uint8, ch DMAChannel) error

	// DisableIRQ removes ch from the interrupt line.
	DisableIRQ(irq uint8, ch DMAChannel)

	// Pending returns the channel bitmask raised on the line.
	Pending(irq uint8) uint32

	// Acknowledge clears the interrupt flag of ch on the line.
	Acknowledge(irq uint8, ch DMAChannel)
}

var dmaDriver DMADriver

// SetDMADriver is called by target-specific code to register its DMA driver.
func SetDMADriver(d DMADriver) {
	dmaDriver = d
}

// GetDMA returns the DMA driver or nil if the target has none.
func GetDMA() DMADriver {
	return dmaDriver
}
