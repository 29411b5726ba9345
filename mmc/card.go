// Package mmc drives SD and MMC cards in SPI mode: bring-up, geometry and
// block reads, on top of a locked core SPI bus.
package mmc

import (
	"sync"
	"time"

	"sdspi/core"
)

// CardType is the card generation found during bring-up.
type CardType uint8

const (
	CardUnknown CardType = iota
	CardSD1              // v1.x, byte addressed
	CardSD2              // v2.0+ standard capacity, byte addressed
	CardSDHC             // high/extended capacity, block addressed
)

func (t CardType) String() string {
	switch t {
	case CardSD1:
		return "SD1"
	case CardSD2:
		return "SD2"
	case CardSDHC:
		return "SDHC"
	}
	return "unknown"
}

// CardState is what the driver knows about the card.
type CardState struct {
	Type        CardType
	BlockSize   int
	BlockCount  uint64 // 0 until the CSD has been read
	Initialized bool
	OCR         uint32
	TranSpeed   uint32 // max transfer rate from the CSD, Hz
}

// Options tunes bring-up and I/O. Zero fields take their defaults.
type Options struct {
	CRC             bool // CMD59 on, CRC7 on every command, data CRC16 checked
	ResetRetries    int
	ResetDelay      time.Duration
	OpCondRetries   int
	OpCondDelay     time.Duration
	ResponseRetries int
	TokenTimeout    time.Duration
	BusyTimeout     time.Duration
	BringUpRate     uint32
}

const (
	DefaultResetRetries    = 10
	DefaultResetDelay      = time.Millisecond
	DefaultOpCondRetries   = 10
	DefaultOpCondDelay     = time.Millisecond
	DefaultResponseRetries = 16
	DefaultTokenTimeout    = 250 * time.Millisecond
	DefaultBusyTimeout     = 500 * time.Millisecond
	DefaultBringUpRate     = 400000
)

// DefaultOptions returns the defaults with CRC checking enabled.
func DefaultOptions() Options {
	o := Options{CRC: true}
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.ResetRetries <= 0 {
		o.ResetRetries = DefaultResetRetries
	}
	if o.ResetDelay <= 0 {
		o.ResetDelay = DefaultResetDelay
	}
	if o.OpCondRetries <= 0 {
		o.OpCondRetries = DefaultOpCondRetries
	}
	if o.OpCondDelay <= 0 {
		o.OpCondDelay = DefaultOpCondDelay
	}
	if o.ResponseRetries <= 0 {
		o.ResponseRetries = DefaultResponseRetries
	}
	if o.TokenTimeout <= 0 {
		o.TokenTimeout = DefaultTokenTimeout
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.BringUpRate == 0 {
		o.BringUpRate = DefaultBringUpRate
	}
}

// Bus is the transport the card needs. *core.SPIBus implements it.
type Bus interface {
	Lock()
	Unlock()
	Transfer(cs core.GPIOPin, tx, rx []byte, n int) error
	Select(cs core.GPIOPin, asserted bool) error
	SetRate(hz uint32) error
	Rate() uint32
	DefaultRate() uint32
	// Slot is the registry slot events are tagged with, -1 if none.
	Slot() int
}

// SPICard is an SD card on an SPI bus.
type SPICard struct {
	bus  Bus
	cs   core.GPIOPin
	opts Options

	// state and closed are guarded by the bus transaction lock
	state  CardState
	csd    CSD
	closed bool

	one [1]byte
	crc [2]byte

	release     func() error
	releaseOnce sync.Once
}

// NewSPICard creates a card on an already opened bus. The card is not
// touched until Probe.
func NewSPICard(bus Bus, cs core.GPIOPin, opts Options) *SPICard {
	opts.applyDefaults()
	return &SPICard{
		bus:   bus,
		cs:    cs,
		opts:  opts,
		state: CardState{BlockSize: BlockSize},
	}
}

// State returns a snapshot of the card state.
func (c *SPICard) State() CardState {
	c.bus.Lock()
	defer c.bus.Unlock()
	return c.state
}

// BlockSize is always 512.
func (c *SPICard) BlockSize() int {
	return BlockSize
}

// WriteBlocks is not supported.
func (c *SPICard) WriteBlocks(start uint32, buf []byte, count uint32) error {
	return core.ErrUnsupported
}

// EraseBlocks is not supported.
func (c *SPICard) EraseBlocks(start uint32, count uint32) error {
	return core.ErrUnsupported
}

// Deinit marks the card uninitialized. The bus stays held, so Probe can
// run the whole bring-up again.
func (c *SPICard) Deinit() error {
	c.bus.Lock()
	c.state = CardState{BlockSize: BlockSize}
	c.bus.Unlock()
	return nil
}

// Close deinitializes the card and releases the bus reference taken by
// OpenSPI. Every later call reports ErrDeviceNotReady. Safe to call more
// than once.
func (c *SPICard) Close() error {
	c.bus.Lock()
	c.state = CardState{BlockSize: BlockSize}
	c.closed = true
	c.bus.Unlock()

	var err error
	c.releaseOnce.Do(func() {
		if c.release != nil {
			err = c.release()
		}
	})
	return err
}

// Info is a card report suitable for serialization.
type Info struct {
	Type       string `cbor:"type" json:"type"`
	BlockSize  int    `cbor:"block_size" json:"block_size"`
	BlockCount uint64 `cbor:"block_count" json:"block_count"`
	CapacityMB uint64 `cbor:"capacity_mb" json:"capacity_mb"`
	OCR        uint32 `cbor:"ocr" json:"ocr"`
	TranSpeed  uint32 `cbor:"tran_speed" json:"tran_speed"`
	CSD        []byte `cbor:"csd,omitempty" json:"csd,omitempty"`
}

// Info reports the cached card state.
func (c *SPICard) Info() Info {
	c.bus.Lock()
	defer c.bus.Unlock()
	info := Info{
		Type:       c.state.Type.String(),
		BlockSize:  c.state.BlockSize,
		BlockCount: c.state.BlockCount,
		CapacityMB: c.state.BlockCount * BlockSize >> 20,
		OCR:        c.state.OCR,
		TranSpeed:  c.state.TranSpeed,
	}
	if c.state.BlockCount != 0 {
		info.CSD = append([]byte(nil), c.csd[:]...)
	}
	return info
}
