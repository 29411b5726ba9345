package mmc

import (
	"sync"

	"sdspi/core"
	"sdspi/protocol"
)

// mockCard emulates an SD card behind a locked SPI bus, byte by byte: the
// byte clocked in is parsed as command stream while the next queued
// response byte is clocked out.
type mockCard struct {
	mu sync.Mutex

	kind     CardType
	slot     int
	locked   bool
	selected bool

	rate        uint32
	defaultRate uint32
	rates       []uint32
	fixedRate   bool

	out       []byte
	cmdBuf    []byte
	app       bool
	idle      bool
	crcOn     bool
	streaming bool
	nextBlock uint32

	csd      CSD
	cid      CID
	csdToken bool

	// behaviour knobs
	resetFailures int
	acmd41Busy    int
	neverReady    bool
	cmd8Echo      int // -1 echoes the real pattern
	cmd8R1        int // -1 for the normal answer
	badCRC        map[uint32]bool
	errorToken    map[uint32]bool
	noToken       map[uint32]bool
	stopR1        byte

	// observations
	events      []string
	commands    []uint8
	args        []uint32
	acmd41Args  []uint32
	cmdRates    []uint32
	unlockedXfr int
}

func newMockCard(kind CardType) *mockCard {
	m := &mockCard{
		kind:        kind,
		rate:        8000000,
		defaultRate: 8000000,
		cmd8Echo:    -1,
		cmd8R1:      -1,
		badCRC:      make(map[uint32]bool),
		errorToken:  make(map[uint32]bool),
		noToken:     make(map[uint32]bool),
	}
	if kind == CardSDHC {
		setBits(&m.csd, 127, 126, 1)
		setBits(&m.csd, 69, 48, 0x1000)
	} else {
		setBits(&m.csd, 73, 62, 0x3AB)
		setBits(&m.csd, 49, 47, 2)
		setBits(&m.csd, 83, 80, 9)
	}
	setBits(&m.csd, 103, 96, 0x32)

	copy(m.cid[:], []byte{0x03, 'S', 'D', 'S', 'U', '0', '8', 'G', 0x80, 0x12, 0x34, 0x56, 0x78, 0x01, 0x6A, 0x01})
	return m
}

func setBits(r *CSD, msb, lsb uint, v uint32) {
	for i := lsb; i <= msb; i++ {
		mask := byte(1) << (i % 8)
		idx := 15 - i/8
		if (v>>(i-lsb))&1 == 1 {
			r[idx] |= mask
		} else {
			r[idx] &^= mask
		}
	}
}

func blockData(block uint32) []byte {
	data := make([]byte, BlockSize)
	for i := range data {
		data[i] = byte(block*7 + uint32(i))
	}
	return data
}

func (m *mockCard) Lock() {
	m.mu.Lock()
	m.locked = true
	m.events = append(m.events, "lock")
}

func (m *mockCard) Unlock() {
	m.events = append(m.events, "unlock")
	m.locked = false
	m.mu.Unlock()
}

func (m *mockCard) Select(cs core.GPIOPin, asserted bool) error {
	if !m.locked {
		m.unlockedXfr++
		return core.ErrBusNotLocked
	}
	m.setSelected(asserted)
	return nil
}

func (m *mockCard) setSelected(asserted bool) {
	m.selected = asserted
	if !asserted {
		m.out = nil
		m.cmdBuf = nil
		m.streaming = false
	}
}

func (m *mockCard) SetRate(hz uint32) error {
	if m.fixedRate {
		return core.ErrUnsupported
	}
	m.rate = hz
	m.rates = append(m.rates, hz)
	return nil
}

func (m *mockCard) Rate() uint32        { return m.rate }
func (m *mockCard) DefaultRate() uint32 { return m.defaultRate }
func (m *mockCard) Slot() int           { return m.slot }

func (m *mockCard) Transfer(cs core.GPIOPin, tx, rx []byte, n int) error {
	if !m.locked {
		m.unlockedXfr++
		return core.ErrBusNotLocked
	}
	for i := 0; i < n; i++ {
		in := byte(0xFF)
		if tx != nil {
			in = tx[i]
		}
		o := m.shift(in)
		if rx != nil {
			rx[i] = o
		}
	}
	return nil
}

func (m *mockCard) shift(in byte) byte {
	if !m.selected {
		return 0xFF
	}
	if len(m.out) == 0 && m.streaming {
		m.queueBlock(m.nextBlock)
		m.nextBlock++
	}
	o := byte(0xFF)
	if len(m.out) > 0 {
		o = m.out[0]
		m.out = m.out[1:]
	}

	if len(m.cmdBuf) > 0 || in&0xC0 == 0x40 {
		m.cmdBuf = append(m.cmdBuf, in)
		if len(m.cmdBuf) == 6 {
			var f [6]byte
			copy(f[:], m.cmdBuf)
			m.cmdBuf = nil
			m.handle(f)
		}
	}
	return o
}

func (m *mockCard) r1() byte {
	if m.idle {
		return R1Idle
	}
	return 0
}

func (m *mockCard) respond(b ...byte) {
	m.out = append([]byte{0xFF}, b...)
}

func (m *mockCard) packet(block uint32, data []byte, corrupt bool) []byte {
	crc := protocol.CRC16XModem(data)
	if corrupt {
		crc ^= 0xFFFF
	}
	p := []byte{0xFF, TokenStartBlock}
	p = append(p, data...)
	return append(p, byte(crc>>8), byte(crc))
}

func (m *mockCard) queueBlock(block uint32) {
	switch {
	case m.noToken[block]:
		m.streaming = false
	case m.errorToken[block]:
		m.out = append(m.out, 0xFF, 0x08)
		m.streaming = false
	default:
		m.out = append(m.out, m.packet(block, blockData(block), m.badCRC[block])...)
	}
}

func (m *mockCard) blockFor(arg uint32) uint32 {
	if m.kind == CardSDHC {
		return arg
	}
	return arg / BlockSize
}

func (m *mockCard) handle(f [6]byte) {
	cmd := f[0] & 0x3F
	check := m.crcOn || cmd == CmdGoIdleState || cmd == CmdSendIfCond
	_, arg, err := DecodeCommand(f, check)
	app := m.app
	m.app = false

	m.events = append(m.events, "cmd"+core.Itoa(int(cmd)))
	m.commands = append(m.commands, cmd)
	m.args = append(m.args, arg)
	m.cmdRates = append(m.cmdRates, m.rate)

	if err != nil {
		m.respond(m.r1() | R1CRCError)
		return
	}

	if app && cmd == AppCmdSDSendOpCond {
		m.acmd41Args = append(m.acmd41Args, arg)
		switch {
		case m.neverReady:
			m.respond(R1Idle)
		case m.acmd41Busy > 0:
			m.acmd41Busy--
			m.respond(R1Idle)
		default:
			m.idle = false
			m.respond(0)
		}
		return
	}

	switch cmd {
	case CmdGoIdleState:
		if m.resetFailures > 0 {
			m.resetFailures--
			return
		}
		m.idle = true
		m.crcOn = false
		m.respond(R1Idle)
	case CmdSendIfCond:
		r1 := m.r1()
		if m.cmd8R1 >= 0 {
			r1 = byte(m.cmd8R1)
		}
		if m.kind == CardSD1 {
			m.respond(r1 | R1IllegalCommand)
			return
		}
		echo := byte(arg)
		if m.cmd8Echo >= 0 {
			echo = byte(m.cmd8Echo)
		}
		m.respond(r1, 0x00, 0x00, byte(arg>>8), echo)
	case CmdCRCOnOff:
		m.crcOn = arg&1 == 1
		m.respond(m.r1())
	case CmdAppCmd:
		m.app = true
		m.respond(m.r1())
	case CmdReadOCR:
		ocr := []byte{0x80, 0xFF, 0x80, 0x00}
		if m.kind == CardSDHC {
			ocr[0] = 0xC0
		}
		m.respond(append([]byte{m.r1()}, ocr...)...)
	case CmdSetBlockLen:
		m.respond(0)
	case CmdSendCSD, CmdSendCID:
		reg := m.csd[:]
		if cmd == CmdSendCID {
			reg = m.cid[:]
		}
		if m.csdToken {
			m.respond(0)
			m.out = append(m.out, m.packet(0, reg, false)...)
		} else {
			m.respond(append([]byte{0, 0xFF}, reg...)...)
		}
	case CmdSendStatus:
		m.respond(0, 0)
	case CmdReadSingleBlock:
		m.respond(0)
		m.queueBlock(m.blockFor(arg))
	case CmdReadMultipleBlock:
		m.respond(0)
		m.streaming = true
		m.nextBlock = m.blockFor(arg)
	case CmdStopTransmission:
		m.streaming = false
		// stuff byte, R1, then busy
		m.out = []byte{0xFF, m.stopR1, 0x00, 0x00}
	default:
		m.respond(m.r1() | R1IllegalCommand)
	}
}

func (m *mockCard) count(cmd uint8) int {
	n := 0
	for _, c := range m.commands {
		if c == cmd {
			n++
		}
	}
	return n
}
