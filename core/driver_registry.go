package core

import (
	"errors"
	"sync"
)

// MaxSPIBuses is the number of buses that can be open at once.
const MaxSPIBuses = 4

// BusRegistry tracks open SPI buses and fans DMA interrupts out to them.
// Task-side access disables interrupts and takes the mutex. The interrupt
// handler only takes the mutex, so it never sees a half-updated slot table.
type BusRegistry struct {
	mu    sync.Mutex
	slots [MaxSPIBuses]*SPIBus

	// refMu serializes Acquire and Release so a lookup and its reference
	// increment cannot straddle a close. Task context only.
	refMu sync.Mutex

	irqOnce [MaxDMAIRQ]sync.Once
	irqErr  [MaxDMAIRQ]error
}

var buses BusRegistry

// Buses returns the process-wide bus registry.
func Buses() *BusRegistry {
	return &buses
}

func (r *BusRegistry) lock() State {
	s := disableInterrupts()
	r.mu.Lock()
	return s
}

func (r *BusRegistry) unlock(s State) {
	r.mu.Unlock()
	restoreInterrupts(s)
}

// Register places a bus in the first free slot.
func (r *BusRegistry) Register(b *SPIBus) (int, error) {
	s := r.lock()
	defer r.unlock(s)

	free := -1
	for i, slot := range r.slots {
		if slot == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if slot == b || slot.config.SPI.BusID == b.config.SPI.BusID {
			return -1, errors.New("SPI bus already registered")
		}
	}
	if free < 0 {
		return -1, ErrResourceExhausted
	}
	r.slots[free] = b
	b.slot = free
	b.registry = r
	return free, nil
}

// Unregister clears a slot. After it returns the interrupt handler no longer
// dispatches to the bus that held it.
func (r *BusRegistry) Unregister(slot int) {
	if slot < 0 || slot >= MaxSPIBuses {
		return
	}
	s := r.lock()
	r.slots[slot] = nil
	r.unlock(s)
}

// Lookup finds an open bus by ID.
func (r *BusRegistry) Lookup(id SPIBusID) (*SPIBus, bool) {
	s := r.lock()
	defer r.unlock(s)
	for _, b := range r.slots {
		if b != nil && b.config.SPI.BusID == id {
			return b, true
		}
	}
	return nil, false
}

// Count returns the number of open buses.
func (r *BusRegistry) Count() int {
	s := r.lock()
	defer r.unlock(s)
	n := 0
	for _, b := range r.slots {
		if b != nil {
			n++
		}
	}
	return n
}

// Open configures the SPI peripheral, claims DMA channels when requested and
// registers the bus.
func (r *BusRegistry) Open(cfg BusConfig, spi SPIDriver, gpio GPIODriver, dma DMADriver) (*SPIBus, error) {
	if spi == nil {
		return nil, errNoSPIDriver
	}
	if cfg.UseDMA {
		if dma == nil {
			return nil, errNoDMADriver
		}
		if cfg.DMAIRQ >= MaxDMAIRQ {
			return nil, ErrInvalidArgument
		}
	}
	if cfg.DMATimeout == 0 {
		cfg.DMATimeout = DefaultDMATimeout
	}

	handle, err := spi.ConfigureBus(cfg.SPI)
	if err != nil {
		LogError("spi: configure bus " + utoa(uint32(cfg.SPI.BusID)) + " failed: " + err.Error())
		return nil, err
	}

	b := &SPIBus{
		config: cfg,
		spi:    spi,
		gpio:   gpio,
		dma:    dma,
		handle: handle,
		rate:   cfg.SPI.Rate,
		slot:   -1,
	}
	b.txIdle[0] = IdleTxByte
	b.rxSink[0] = DiscardRxByte

	if cfg.UseDMA {
		if err := b.claimDMA(); err != nil {
			return nil, err
		}
	} else {
		b.dma = nil
	}

	if _, err := r.Register(b); err != nil {
		if cfg.UseDMA {
			b.releaseDMA()
		}
		return nil, err
	}

	if cfg.UseDMA {
		if err := r.installIRQ(dma, cfg.DMAIRQ); err != nil {
			b.Close()
			return nil, err
		}
		if err := dma.EnableIRQ(cfg.DMAIRQ, b.rxChan); err != nil {
			b.Close()
			return nil, err
		}
	}

	LogDebug("spi: bus " + utoa(uint32(cfg.SPI.BusID)) + " open in slot " + itoa(b.slot))
	return b, nil
}

// Acquire returns the open bus with the same ID, or opens one. References
// are counted and dropped with Release.
func (r *BusRegistry) Acquire(cfg BusConfig, spi SPIDriver, gpio GPIODriver, dma DMADriver) (*SPIBus, error) {
	r.refMu.Lock()
	defer r.refMu.Unlock()

	if b, ok := r.Lookup(cfg.SPI.BusID); ok {
		s := r.lock()
		b.refs++
		r.unlock(s)
		return b, nil
	}
	b, err := r.Open(cfg, spi, gpio, dma)
	if err != nil {
		return nil, err
	}
	s := r.lock()
	b.refs = 1
	r.unlock(s)
	return b, nil
}

// Release drops one reference and closes the bus at zero.
func (r *BusRegistry) Release(b *SPIBus) error {
	r.refMu.Lock()
	defer r.refMu.Unlock()

	s := r.lock()
	if b.refs > 0 {
		b.refs--
	}
	last := b.refs == 0
	r.unlock(s)
	if !last {
		return nil
	}
	return b.Close()
}

// installIRQ installs the shared handler for a line exactly once.
func (r *BusRegistry) installIRQ(dma DMADriver, irq uint8) error {
	r.irqOnce[irq].Do(func() {
		r.irqErr[irq] = dma.SetIRQHandler(irq, func(line uint8) {
			r.DispatchDMAIRQ(line)
		})
	})
	return r.irqErr[irq]
}

// DispatchDMAIRQ is the shared DMA interrupt handler body. Each bus whose RX
// channel is pending gets its flag acknowledged and its completion semaphore
// posted. Returns the number of buses signalled.
func (r *BusRegistry) DispatchDMAIRQ(irq uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	signalled := 0
	for _, b := range r.slots {
		if b == nil || b.dma == nil || b.config.DMAIRQ != irq {
			continue
		}
		if b.dma.Pending(irq)&(1<<b.rxChan) == 0 {
			continue
		}
		b.dma.Acknowledge(irq, b.rxChan)
		b.done.Release()
		signalled++
	}
	return signalled
}
