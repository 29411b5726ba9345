package core

import (
	"errors"
	"sync"
)

// MockGPIODriver is a test implementation of GPIODriver
type MockGPIODriver struct {
	mu      sync.Mutex
	pins    map[GPIOPin]bool
	history []bool // every SetPin value, in order
}

func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{
		pins: make(map[GPIOPin]bool),
	}
}

func (m *MockGPIODriver) ConfigureOutput(pin GPIOPin) error {
	m.mu.Lock()
	m.pins[pin] = true
	m.mu.Unlock()
	return nil
}

func (m *MockGPIODriver) ConfigureInputPullUp(pin GPIOPin) error {
	m.mu.Lock()
	m.pins[pin] = true
	m.mu.Unlock()
	return nil
}

func (m *MockGPIODriver) SetPin(pin GPIOPin, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[pin] = value
	m.history = append(m.history, value)
	return nil
}

func (m *MockGPIODriver) GetPin(pin GPIOPin) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[pin], nil
}

// MockSPIDriver loops tx back to rx, or answers from a script when set.
type MockSPIDriver struct {
	mu       sync.Mutex
	rate     uint32
	short    bool
	fail     error
	noRate   bool
	respond  func(tx []byte, rx []byte)
	received []byte
}

func (m *MockSPIDriver) ConfigureBus(config SPIConfig) (interface{}, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.rate = config.Rate
	return config.BusID, nil
}

func (m *MockSPIDriver) Transfer(busHandle interface{}, txData []byte, rxData []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, txData...)
	if m.respond != nil {
		m.respond(txData, rxData)
	} else {
		copy(rxData, txData)
	}
	if m.short {
		return len(txData) - 1, nil
	}
	return len(txData), nil
}

func (m *MockSPIDriver) SetRate(busHandle interface{}, rate uint32) (uint32, error) {
	if m.noRate {
		return m.rate, ErrUnsupported
	}
	m.rate = rate
	return rate, nil
}

func (m *MockSPIDriver) GetBusInfo() map[SPIBusID]string {
	return map[SPIBusID]string{0: "mock0", 1: "mock1"}
}

// MockDMADriver moves data synchronously in Start and raises the RX
// channel's interrupt unless stalled.
type MockDMADriver struct {
	mu        sync.Mutex
	free      []DMAChannel
	claimed   map[DMAChannel]bool
	xfers     map[DMAChannel]DMATransfer
	handlers  map[uint8]func(uint8)
	installs  int
	enabled   map[DMAChannel]uint8
	pending   map[uint8]uint32
	aborted   uint32
	stall     bool
	lastTx    []byte
	released  []DMAChannel
	disableAt int // len(released) when DisableIRQ ran, -1 before
}

func NewMockDMADriver(channels int) *MockDMADriver {
	m := &MockDMADriver{
		claimed:   make(map[DMAChannel]bool),
		xfers:     make(map[DMAChannel]DMATransfer),
		handlers:  make(map[uint8]func(uint8)),
		enabled:   make(map[DMAChannel]uint8),
		pending:   make(map[uint8]uint32),
		disableAt: -1,
	}
	for i := 0; i < channels; i++ {
		m.free = append(m.free, DMAChannel(i))
	}
	return m
}

func (m *MockDMADriver) ClaimChannel() (DMAChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.free) == 0 {
		return 0, errors.New("no free DMA channel")
	}
	ch := m.free[0]
	m.free = m.free[1:]
	m.claimed[ch] = true
	return ch, nil
}

func (m *MockDMADriver) ReleaseChannel(ch DMAChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, ch)
	m.free = append(m.free, ch)
	m.released = append(m.released, ch)
}

func (m *MockDMADriver) Configure(busHandle interface{}, xfer DMATransfer) error {
	m.mu.Lock()
	m.xfers[xfer.Channel] = xfer
	m.mu.Unlock()
	return nil
}

func (m *MockDMADriver) Start(mask uint32) {
	m.mu.Lock()
	var tx, rx DMATransfer
	for ch, x := range m.xfers {
		if mask&(1<<ch) == 0 {
			continue
		}
		if x.Direction == DMAMemToPeripheral {
			tx = x
		} else {
			rx = x
		}
	}
	m.lastTx = m.lastTx[:0]
	for i := 0; i < tx.Count; i++ {
		b := tx.Buffer[0]
		if tx.Increment {
			b = tx.Buffer[i]
		}
		m.lastTx = append(m.lastTx, b)
		if m.stall {
			continue
		}
		if rx.Increment {
			rx.Buffer[i] = b
		} else {
			rx.Buffer[0] = b
		}
	}
	irq, enabled := m.enabled[rx.Channel]
	stall := m.stall
	var h func(uint8)
	if enabled && !stall {
		m.pending[irq] |= 1 << rx.Channel
		h = m.handlers[irq]
	}
	m.mu.Unlock()
	if h != nil {
		h(irq)
	}
}

func (m *MockDMADriver) Abort(mask uint32) {
	m.mu.Lock()
	m.aborted |= mask
	m.mu.Unlock()
}

func (m *MockDMADriver) Busy(ch DMAChannel) bool { return false }

func (m *MockDMADriver) SetIRQHandler(irq uint8, handler func(irq uint8)) error {
	m.mu.Lock()
	m.handlers[irq] = handler
	m.installs++
	m.mu.Unlock()
	return nil
}

func (m *MockDMADriver) EnableIRQ(irq uint8, ch DMAChannel) error {
	m.mu.Lock()
	m.enabled[ch] = irq
	m.mu.Unlock()
	return nil
}

func (m *MockDMADriver) DisableIRQ(irq uint8, ch DMAChannel) {
	m.mu.Lock()
	delete(m.enabled, ch)
	m.disableAt = len(m.released)
	m.mu.Unlock()
}

func (m *MockDMADriver) Pending(irq uint8) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[irq]
}

func (m *MockDMADriver) Acknowledge(irq uint8, ch DMAChannel) {
	m.mu.Lock()
	m.pending[irq] &^= 1 << ch
	m.mu.Unlock()
}
