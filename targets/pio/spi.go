//go:build rp2040 || rp2350

// Package pio runs SPI buses on PIO state machines. The buses implement
// tinygo.org/x/drivers.SPI and are registered through core.DriversSPI.
package pio

import (
	"errors"
	"machine"
	"runtime"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// spi_cpha0 from the pico-examples, one side-set bit driving SCK:
//
//	out pins, 1 side 0 [1]
//	in  pins, 1 side 1 [1]
var spiCPHA0Instructions = []uint16{
	0x6101,
	0x5101,
}

const (
	spiCPHA0Origin = -1

	// Two instructions with one delay cycle each
	cyclesPerBit = 4

	txTimeout = 100 * time.Millisecond
)

var errTimeout = errors.New("pio spi: timeout")

// SPI is a mode 0 SPI master on one state machine.
type SPI struct {
	sm     rp2pio.StateMachine
	cfg    rp2pio.StateMachineConfig
	offset uint8
	rate   uint32
}

// NewSPI loads the SPI program and starts sm at rate.
func NewSPI(sm rp2pio.StateMachine, sck, sdo, sdi machine.Pin, rate uint32) (*SPI, error) {
	sm.TryClaim()
	if !sm.IsValid() {
		return nil, errors.New("pio spi: invalid state machine")
	}

	whole, frac, err := rp2pio.ClkDivFromFrequency(rate*cyclesPerBit, machine.CPUFrequency())
	if err != nil {
		return nil, err
	}

	Pio := sm.PIO()
	offset, err := Pio.AddProgram(spiCPHA0Instructions, spiCPHA0Origin)
	if err != nil {
		return nil, err
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetWrap(offset+uint8(len(spiCPHA0Instructions))-1, offset)
	cfg.SetSidesetParams(1, false, false)
	cfg.SetOutPins(sdo, 1)
	cfg.SetInPins(sdi)
	cfg.SetSidesetPins(sck)

	// MSB first, autopull and autopush every byte
	cfg.SetOutShift(false, true, 8)
	cfg.SetInShift(false, true, 8)
	cfg.SetClkDivIntFrac(whole, frac)

	// SCK and SDO drive low, SDI is an input
	outMask := uint32(1)<<sck | uint32(1)<<sdo
	sm.SetPinsMasked(0, outMask)
	sm.SetPindirsMasked(outMask, outMask|uint32(1)<<sdi)

	pincfg := machine.PinConfig{Mode: Pio.PinMode()}
	sck.Configure(pincfg)
	sdo.Configure(pincfg)
	sdi.Configure(pincfg)
	// Synchronous input, skip the two-cycle synchroniser
	Pio.HW().INPUT_SYNC_BYPASS.SetBits(1 << sdi)

	sm.Init(offset, cfg)
	sm.SetEnabled(true)

	return &SPI{sm: sm, cfg: cfg, offset: offset, rate: rate}, nil
}

// Tx shifts w out while reading into r. A nil w sends 0xFF, a nil r
// drops what was read.
func (s *SPI) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	} else if r != nil && len(r) != n {
		return errors.New("pio spi: buffer lengths differ")
	}

	deadline := time.Now().Add(txTimeout)
	txRemain, rxRemain := n, n
	for rxRemain != 0 {
		stall := true
		if txRemain != 0 && !s.sm.IsTxFIFOFull() {
			b := byte(0xFF)
			if w != nil {
				b = w[n-txRemain]
			}
			// Left-justified for the MSB-first out shift
			s.sm.TxPut(uint32(b) << 24)
			txRemain--
			stall = false
		}
		if rxRemain != 0 && !s.sm.IsRxFIFOEmpty() {
			b := byte(s.sm.RxGet())
			if r != nil {
				r[n-rxRemain] = b
			}
			rxRemain--
			stall = false
		}
		if stall {
			if time.Now().After(deadline) {
				return errTimeout
			}
			runtime.Gosched()
		}
	}
	return nil
}

// Transfer shifts a single byte.
func (s *SPI) Transfer(b byte) (byte, error) {
	var rx [1]byte
	err := s.Tx([]byte{b}, rx[:])
	return rx[0], err
}

// SetBaudRate restarts the state machine with a new clock divider.
func (s *SPI) SetBaudRate(rate uint32) error {
	whole, frac, err := rp2pio.ClkDivFromFrequency(rate*cyclesPerBit, machine.CPUFrequency())
	if err != nil {
		return err
	}
	s.sm.SetEnabled(false)
	s.cfg.SetClkDivIntFrac(whole, frac)
	s.sm.Init(s.offset, s.cfg)
	s.sm.SetEnabled(true)
	s.rate = rate
	return nil
}
