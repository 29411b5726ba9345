//go:build rp2040

package main

import (
	"device/rp"
	"math/bits"
	"runtime/interrupt"
	"runtime/volatile"
	"sync"
	"unsafe"

	"sdspi/core"
)

// dmaChannel is the register block of one DMA channel.
type dmaChannel struct {
	READ_ADDR            volatile.Register32
	WRITE_ADDR           volatile.Register32
	TRANS_COUNT          volatile.Register32
	CTRL_TRIG            volatile.Register32
	AL1_CTRL             volatile.Register32
	AL1_READ_ADDR        volatile.Register32
	AL1_WRITE_ADDR       volatile.Register32
	AL1_TRANS_COUNT_TRIG volatile.Register32
	AL2_CTRL             volatile.Register32
	AL2_TRANS_COUNT      volatile.Register32
	AL2_READ_ADDR        volatile.Register32
	AL2_WRITE_ADDR_TRIG  volatile.Register32
	AL3_CTRL             volatile.Register32
	AL3_WRITE_ADDR       volatile.Register32
	AL3_TRANS_COUNT      volatile.Register32
	AL3_READ_ADDR_TRIG   volatile.Register32
}

// dmaIRQ is one interrupt line's enable/force/status triple. The lines
// are 16 bytes apart.
type dmaIRQ struct {
	INTE volatile.Register32
	INTF volatile.Register32
	INTS volatile.Register32
	_    volatile.Register32
}

const (
	dmaChannels = 12 // rp2040
	dmaLines    = 2

	ctrlEN           = 1 << 0
	ctrlHighPriority = 1 << 1
	ctrlIncrRead     = 1 << 4
	ctrlIncrWrite    = 1 << 5
	ctrlChainToPos   = 11
	ctrlTreqSelPos   = 15
	ctrlBusy         = 1 << 24

	dreqSPI0TX = 16
	dreqSPI0RX = 17
	dreqSPI1TX = 18
	dreqSPI1RX = 19
)

var (
	dmaChans = unsafe.Slice((*dmaChannel)(unsafe.Pointer(&rp.DMA.CH0_READ_ADDR)), dmaChannels)
	dmaIRQs  = unsafe.Slice((*dmaIRQ)(unsafe.Pointer(&rp.DMA.INTE0)), dmaLines)
)

// RP2040DMADriver implements core.DMADriver on the RP2040 DMA block.
type RP2040DMADriver struct {
	mu       sync.Mutex
	reserved uint16

	handlers [dmaLines]func(irq uint8)
	intr     [dmaLines]interrupt.Interrupt
}

var dmaDriver *RP2040DMADriver

// NewRP2040DMADriver returns the DMA driver. There is one DMA block, so
// every call returns the same instance.
func NewRP2040DMADriver() *RP2040DMADriver {
	if dmaDriver != nil {
		return dmaDriver
	}
	dmaDriver = &RP2040DMADriver{}
	dmaDriver.intr[0] = interrupt.New(rp.IRQ_DMA_IRQ_0, func(interrupt.Interrupt) {
		dmaDriver.handleInterrupt(0)
	})
	dmaDriver.intr[1] = interrupt.New(rp.IRQ_DMA_IRQ_1, func(interrupt.Interrupt) {
		dmaDriver.handleInterrupt(1)
	})
	return dmaDriver
}

func (d *RP2040DMADriver) handleInterrupt(line uint8) {
	if h := d.handlers[line]; h != nil {
		h(line)
		return
	}
	// Nobody is listening, clear the line so it does not refire
	irq := &dmaIRQs[line]
	irq.INTS.Set(irq.INTS.Get())
}

func (d *RP2040DMADriver) ClaimChannel() (core.DMAChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := bits.TrailingZeros16(^d.reserved)
	if ch >= dmaChannels {
		return 0, core.ErrResourceExhausted
	}
	d.reserved |= 1 << ch
	return core.DMAChannel(ch), nil
}

func (d *RP2040DMADriver) ReleaseChannel(ch core.DMAChannel) {
	d.mu.Lock()
	d.reserved &^= 1 << ch
	d.mu.Unlock()
}

// Configure programs ch through the non-triggering alias so that Start can
// launch the TX and RX channels in the same cycle.
func (d *RP2040DMADriver) Configure(busHandle interface{}, xfer core.DMATransfer) error {
	inst, ok := busHandle.(*spiInstance)
	if !ok {
		return core.ErrUnsupported
	}
	if int(xfer.Channel) >= dmaChannels || len(xfer.Buffer) == 0 || xfer.Count <= 0 {
		return core.ErrInvalidArgument
	}

	dr := uint32(uintptr(unsafe.Pointer(&inst.spi.Bus.SSPDR)))
	mem := uint32(uintptr(unsafe.Pointer(&xfer.Buffer[0])))
	txDreq, rxDreq := uint32(dreqSPI0TX), uint32(dreqSPI0RX)
	if inst.spi.Bus != rp.SPI0 {
		txDreq, rxDreq = dreqSPI1TX, dreqSPI1RX
	}

	// Chaining to itself disables chaining
	ctrl := uint32(ctrlEN) | uint32(xfer.Channel)<<ctrlChainToPos
	c := &dmaChans[xfer.Channel]
	switch xfer.Direction {
	case core.DMAMemToPeripheral:
		ctrl |= txDreq << ctrlTreqSelPos
		if xfer.Increment {
			ctrl |= ctrlIncrRead
		}
		c.READ_ADDR.Set(mem)
		c.WRITE_ADDR.Set(dr)
	case core.DMAPeripheralToMem:
		// The RX side must keep up with the FIFO
		ctrl |= rxDreq<<ctrlTreqSelPos | ctrlHighPriority
		if xfer.Increment {
			ctrl |= ctrlIncrWrite
		}
		c.READ_ADDR.Set(dr)
		c.WRITE_ADDR.Set(mem)
	default:
		return core.ErrInvalidArgument
	}
	c.TRANS_COUNT.Set(uint32(xfer.Count))
	c.AL1_CTRL.Set(ctrl)
	return nil
}

func (d *RP2040DMADriver) Start(mask uint32) {
	rp.DMA.MULTI_CHAN_TRIGGER.Set(mask)
}

// Abort stops the channels and spins until the hardware reports the
// abort has finished.
func (d *RP2040DMADriver) Abort(mask uint32) {
	rp.DMA.CHAN_ABORT.Set(mask)
	for rp.DMA.CHAN_ABORT.Get()&mask != 0 {
	}
}

func (d *RP2040DMADriver) Busy(ch core.DMAChannel) bool {
	return dmaChans[ch].CTRL_TRIG.Get()&ctrlBusy != 0
}

func (d *RP2040DMADriver) SetIRQHandler(irq uint8, handler func(irq uint8)) error {
	if irq >= dmaLines {
		return core.ErrInvalidArgument
	}
	d.handlers[irq] = handler
	// DMA completion is less time critical than the transport interrupts
	d.intr[irq].SetPriority(0xff)
	d.intr[irq].Enable()
	return nil
}

func (d *RP2040DMADriver) EnableIRQ(irq uint8, ch core.DMAChannel) error {
	if irq >= dmaLines || int(ch) >= dmaChannels {
		return core.ErrInvalidArgument
	}
	dmaIRQs[irq].INTE.SetBits(1 << ch)
	return nil
}

func (d *RP2040DMADriver) DisableIRQ(irq uint8, ch core.DMAChannel) {
	if irq >= dmaLines {
		return
	}
	dmaIRQs[irq].INTE.ClearBits(1 << ch)
}

func (d *RP2040DMADriver) Pending(irq uint8) uint32 {
	if irq >= dmaLines {
		return 0
	}
	return dmaIRQs[irq].INTS.Get()
}

// Acknowledge clears the flag. INTS is write-one-to-clear.
func (d *RP2040DMADriver) Acknowledge(irq uint8, ch core.DMAChannel) {
	if irq >= dmaLines {
		return
	}
	dmaIRQs[irq].INTS.Set(1 << ch)
}
