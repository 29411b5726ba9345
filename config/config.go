package config

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"sdspi/core"
	"sdspi/mmc"
)

// BusSettings describes the SPI bus the card sits on.
type BusSettings struct {
	ID           uint8  `json:"id"`
	Mode         uint8  `json:"mode"`
	Rate         uint32 `json:"rate"`      // data-transfer clock (Hz)
	InitRate     uint32 `json:"init_rate"` // bring-up clock (Hz)
	SCK          string `json:"sck"`       // pin overrides, empty keeps the default mux
	MOSI         string `json:"mosi"`
	MISO         string `json:"miso"`
	DMA          bool   `json:"dma"`
	DMAIRQ       uint8  `json:"dma_irq"`
	DMATimeoutMS uint32 `json:"dma_timeout_ms"`
}

// Config is the storage configuration
type Config struct {
	Bus             BusSettings `json:"bus"`
	CSPin           string      `json:"cs_pin"`
	CSRequired      bool        `json:"cs_required"`
	CRC             *bool       `json:"crc"` // nil means enabled
	ResetRetries    int         `json:"reset_retries"`
	OpCondRetries   int         `json:"op_cond_retries"`
	ResponseRetries int         `json:"response_retries"`
	TokenTimeoutMS  uint32      `json:"token_timeout_ms"`
	DiskName        string      `json:"disk_name"`
}

// LoadConfig parses a JSON configuration and fills in defaults
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *Config) {
	if config.Bus.Rate == 0 {
		config.Bus.Rate = 8000000
	}
	if config.Bus.InitRate == 0 {
		config.Bus.InitRate = mmc.DefaultBringUpRate
	}
	if config.Bus.DMATimeoutMS == 0 {
		config.Bus.DMATimeoutMS = uint32(core.DefaultDMATimeout / time.Millisecond)
	}
	if config.CRC == nil {
		on := true
		config.CRC = &on
	}
	if config.ResetRetries == 0 {
		config.ResetRetries = mmc.DefaultResetRetries
	}
	if config.OpCondRetries == 0 {
		config.OpCondRetries = mmc.DefaultOpCondRetries
	}
	if config.ResponseRetries == 0 {
		config.ResponseRetries = mmc.DefaultResponseRetries
	}
	if config.TokenTimeoutMS == 0 {
		config.TokenTimeoutMS = uint32(mmc.DefaultTokenTimeout / time.Millisecond)
	}
	if config.DiskName == "" {
		config.DiskName = mmc.DefaultDiskName
	}
}

// DefaultConfig returns the flight computer's storage wiring: SPI0 on
// gpio18/19/16 with the card selected by gpio17.
func DefaultConfig() *Config {
	config := &Config{
		Bus: BusSettings{
			ID:     0,
			Mode:   0,
			SCK:    "gpio18",
			MOSI:   "gpio19",
			MISO:   "gpio16",
			DMA:    true,
			DMAIRQ: 0,
		},
		CSPin:      "gpio17",
		CSRequired: true,
	}
	applyDefaults(config)
	return config
}

var (
	errBadMode  = errors.New("config: spi mode must be 0-3")
	errNoCS     = errors.New("config: cs_pin is required")
	errBadIRQ   = errors.New("config: dma_irq out of range")
	errBadRates = errors.New("config: init_rate above rate")
)

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Bus.Mode > 3 {
		return errBadMode
	}
	if c.Bus.DMA && int(c.Bus.DMAIRQ) >= core.MaxDMAIRQ {
		return errBadIRQ
	}
	if c.Bus.InitRate > c.Bus.Rate {
		return errBadRates
	}
	for _, name := range []string{c.Bus.SCK, c.Bus.MOSI, c.Bus.MISO, c.CSPin} {
		if _, err := ParsePin(name); err != nil {
			return err
		}
	}
	if c.CSRequired {
		cs, _ := ParsePin(c.CSPin)
		if cs == core.NoPin {
			return errNoCS
		}
	}
	return nil
}

// ParsePin converts "gpio17" or "17" to a pin number. Empty, "none" and
// "-1" map to core.NoPin.
func ParsePin(name string) (core.GPIOPin, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "none", "-1":
		return core.NoPin, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "gpio"), 10, 8)
	if err != nil {
		return core.NoPin, errors.New("config: bad pin name " + strconv.Quote(name))
	}
	return core.GPIOPin(n), nil
}

// BusConfig returns the transport configuration. Pins must have passed
// Validate.
func (c *Config) BusConfig() core.BusConfig {
	sck, _ := ParsePin(c.Bus.SCK)
	mosi, _ := ParsePin(c.Bus.MOSI)
	miso, _ := ParsePin(c.Bus.MISO)
	return core.BusConfig{
		SPI: core.SPIConfig{
			BusID: core.SPIBusID(c.Bus.ID),
			Mode:  core.SPIMode(c.Bus.Mode),
			Rate:  c.Bus.Rate,
			SCK:   sck,
			MOSI:  mosi,
			MISO:  miso,
		},
		UseDMA:     c.Bus.DMA,
		DMAIRQ:     c.Bus.DMAIRQ,
		DMATimeout: time.Duration(c.Bus.DMATimeoutMS) * time.Millisecond,
	}
}

// ChipSelect returns the card's chip-select pin.
func (c *Config) ChipSelect() core.GPIOPin {
	cs, _ := ParsePin(c.CSPin)
	return cs
}

// CardOptions returns the card bring-up and I/O options.
func (c *Config) CardOptions() mmc.Options {
	opts := mmc.DefaultOptions()
	opts.CRC = c.CRC == nil || *c.CRC
	opts.ResetRetries = c.ResetRetries
	opts.OpCondRetries = c.OpCondRetries
	opts.ResponseRetries = c.ResponseRetries
	opts.TokenTimeout = time.Duration(c.TokenTimeoutMS) * time.Millisecond
	opts.BringUpRate = c.Bus.InitRate
	return opts
}
