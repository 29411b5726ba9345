// SPI bus transport
// Owns one SPI peripheral configuration, its DMA channel pair and the
// transaction lock that serializes every user of the bus.
package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	IdleTxByte        = 0xFF // MOSI idle level when no tx buffer is given
	DiscardRxByte     = 0xA5 // pattern for the rx sink when no rx buffer is given
	DefaultDMATimeout = time.Second

	csSettleCycles = 3
)

// BusConfig describes how a bus is opened.
type BusConfig struct {
	SPI        SPIConfig
	UseDMA     bool          // DMA transfers instead of polled shifting
	DMAIRQ     uint8         // shared DMA interrupt line
	DMATimeout time.Duration // completion wait bound, DefaultDMATimeout when zero
}

// SPIBus is one physical SPI peripheral configuration.
type SPIBus struct {
	config   BusConfig
	spi      SPIDriver
	gpio     GPIODriver
	dma      DMADriver
	handle   interface{}
	registry *BusRegistry

	// mu is held for a whole transaction, not a single transfer.
	mu     sync.Mutex
	locked uint32

	rate   uint32
	closed bool
	slot   int
	refs   int // guarded by the registry lock

	txChan DMAChannel
	rxChan DMAChannel
	done   Semaphore

	txIdle    [1]byte
	rxSink    [1]byte
	scratchTx []byte
	scratchRx []byte
}

// OpenSPIBus opens a bus in the process-wide registry using the
// target-registered drivers.
func OpenSPIBus(cfg BusConfig) (*SPIBus, error) {
	return Buses().Open(cfg, MustSPI(), MustGPIO(), GetDMA())
}

// AcquireBus returns the registered bus with the same ID or opens a new one.
// Each successful call must be paired with ReleaseBus.
func AcquireBus(cfg BusConfig) (*SPIBus, error) {
	return Buses().Acquire(cfg, MustSPI(), MustGPIO(), GetDMA())
}

// ReleaseBus drops a reference taken by AcquireBus.
func ReleaseBus(b *SPIBus) error {
	return Buses().Release(b)
}

func (b *SPIBus) claimDMA() error {
	tx, err := b.dma.ClaimChannel()
	if err != nil {
		return ErrResourceExhausted
	}
	rx, err := b.dma.ClaimChannel()
	if err != nil {
		b.dma.ReleaseChannel(tx)
		return ErrResourceExhausted
	}
	b.txChan = tx
	b.rxChan = rx
	return nil
}

func (b *SPIBus) releaseDMA() {
	if !b.config.UseDMA || b.dma == nil {
		return
	}
	b.dma.DisableIRQ(b.config.DMAIRQ, b.rxChan)
	b.dma.Abort(b.dmaMask())
	b.dma.ReleaseChannel(b.txChan)
	b.dma.ReleaseChannel(b.rxChan)
}

func (b *SPIBus) dmaMask() uint32 {
	return 1<<b.txChan | 1<<b.rxChan
}

// Config returns the configuration the bus was opened with.
func (b *SPIBus) Config() BusConfig {
	return b.config
}

// Slot returns the registry slot, or -1 once the bus is closed.
func (b *SPIBus) Slot() int {
	return b.slot
}

// Lock starts a transaction.
func (b *SPIBus) Lock() {
	b.mu.Lock()
	atomic.StoreUint32(&b.locked, 1)
}

// Unlock ends a transaction.
func (b *SPIBus) Unlock() {
	atomic.StoreUint32(&b.locked, 0)
	b.mu.Unlock()
}

// Locked reports whether a transaction is in progress.
func (b *SPIBus) Locked() bool {
	return atomic.LoadUint32(&b.locked) != 0
}

// Rate returns the current clock rate.
func (b *SPIBus) Rate() uint32 {
	return b.rate
}

// DefaultRate returns the configured clock rate.
func (b *SPIBus) DefaultRate() uint32 {
	return b.config.SPI.Rate
}

// SetRate changes the bus clock. The transaction lock must be held.
func (b *SPIBus) SetRate(rate uint32) error {
	if !b.Locked() {
		return ErrBusNotLocked
	}
	if b.closed {
		return ErrDeviceNotReady
	}
	if rate == b.rate {
		return nil
	}
	actual, err := b.spi.SetRate(b.handle, rate)
	if err != nil {
		return err
	}
	RecordBusEvent(EvtRateChange, uint8(b.slot), rate, actual)
	b.rate = actual
	return nil
}

// Transfer shifts n bytes with cs asserted around the transfer. tx or rx may
// be nil, but not both. The transaction lock must be held.
func (b *SPIBus) Transfer(cs GPIOPin, tx, rx []byte, n int) error {
	if !b.Locked() {
		return ErrBusNotLocked
	}
	if b.closed {
		return ErrDeviceNotReady
	}
	if n <= 0 || (tx == nil && rx == nil) || (tx != nil && len(tx) < n) || (rx != nil && len(rx) < n) {
		return ErrInvalidArgument
	}

	if err := b.setChipSelect(cs, false); err != nil {
		return err
	}

	var err error
	if b.config.UseDMA {
		err = b.transferDMA(tx, rx, n)
	} else {
		err = b.transferPolled(tx, rx, n)
	}

	if csErr := b.setChipSelect(cs, true); err == nil {
		err = csErr
	}
	return err
}

// Select holds cs across several transfers made with NoPin, for exchanges
// where the device must stay selected between them. The transaction lock
// must be held.
func (b *SPIBus) Select(cs GPIOPin, asserted bool) error {
	if !b.Locked() {
		return ErrBusNotLocked
	}
	if b.closed {
		return ErrDeviceNotReady
	}
	return b.setChipSelect(cs, !asserted)
}

// setChipSelect drives CS (active low) with a settle delay on both sides
// of the edge.
func (b *SPIBus) setChipSelect(cs GPIOPin, high bool) error {
	if cs == NoPin || b.gpio == nil {
		return nil
	}
	settle()
	if err := b.gpio.SetPin(cs, high); err != nil {
		return ErrIO
	}
	settle()
	return nil
}

func settle() {
	for i := 0; i < csSettleCycles; i++ {
		nop()
	}
}

func (b *SPIBus) transferPolled(tx, rx []byte, n int) error {
	if tx == nil {
		tx = b.idleTx(n)
	}
	if rx == nil {
		rx = b.sinkRx(n)
	}
	got, err := b.spi.Transfer(b.handle, tx[:n], rx[:n])
	if err != nil {
		LogError("spi: transfer failed: " + err.Error())
		return ErrIO
	}
	if got != n {
		LogError("spi: short transfer " + itoa(got) + "/" + itoa(n))
		return ErrIO
	}
	return nil
}

func (b *SPIBus) idleTx(n int) []byte {
	if cap(b.scratchTx) < n {
		b.scratchTx = make([]byte, n)
		for i := range b.scratchTx {
			b.scratchTx[i] = IdleTxByte
		}
	}
	return b.scratchTx[:n]
}

func (b *SPIBus) sinkRx(n int) []byte {
	if cap(b.scratchRx) < n {
		b.scratchRx = make([]byte, n)
		for i := range b.scratchRx {
			b.scratchRx[i] = DiscardRxByte
		}
	}
	return b.scratchRx[:n]
}

func (b *SPIBus) transferDMA(tx, rx []byte, n int) error {
	txXfer := DMATransfer{Channel: b.txChan, Direction: DMAMemToPeripheral, Count: n, Buffer: b.txIdle[:]}
	if tx != nil {
		txXfer.Buffer = tx[:n]
		txXfer.Increment = true
	}
	rxXfer := DMATransfer{Channel: b.rxChan, Direction: DMAPeripheralToMem, Count: n, Buffer: b.rxSink[:]}
	if rx != nil {
		rxXfer.Buffer = rx[:n]
		rxXfer.Increment = true
	}
	if err := b.dma.Configure(b.handle, txXfer); err != nil {
		return ErrIO
	}
	if err := b.dma.Configure(b.handle, rxXfer); err != nil {
		return ErrIO
	}

	guard := b.startDMA(n)
	defer guard.release()

	if !b.done.Acquire(b.config.DMATimeout) {
		RecordBusEvent(EvtDMATimeout, uint8(b.slot), uint32(n), 0)
		LogError("spi: DMA completion timed out on slot " + itoa(b.slot))
		return ErrTimeout
	}
	guard.complete()
	RecordBusEvent(EvtDMADone, uint8(b.slot), uint32(n), 0)
	return nil
}

// dmaGuard stops both channels on every exit path that did not see a
// completion, so a timed-out transfer never keeps writing into a buffer
// the caller has been handed back.
type dmaGuard struct {
	bus  *SPIBus
	mask uint32
	done bool
}

func (b *SPIBus) startDMA(n int) dmaGuard {
	b.done.Drain()
	mask := b.dmaMask()
	RecordBusEvent(EvtDMAStart, uint8(b.slot), uint32(n), mask)
	// Both channels start together so the RX FIFO never overflows.
	b.dma.Start(mask)
	return dmaGuard{bus: b, mask: mask}
}

func (g *dmaGuard) complete() {
	g.done = true
}

func (g *dmaGuard) release() {
	if g.done {
		return
	}
	g.bus.dma.Abort(g.mask)
	g.bus.done.Drain()
}

// Close unregisters the bus and then releases its DMA resources. Closing
// twice is a no-op; every later operation reports ErrDeviceNotReady.
func (b *SPIBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if b.registry != nil && b.slot >= 0 {
		b.registry.Unregister(b.slot)
	}
	b.releaseDMA()
	b.closed = true
	b.slot = -1
	return nil
}

var errNoSPIDriver = errors.New("SPI driver not configured")
var errNoDMADriver = errors.New("DMA driver not configured")
