package mcu

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"sdspi/bridge"
	"sdspi/core"
	"sdspi/host/serial"
	"sdspi/protocol"
)

// DefaultTimeout bounds one request/response exchange.
const DefaultTimeout = time.Second

// MCU is a connection to firmware running in bridge mode. It implements
// core.SPIDriver and core.GPIODriver, so the card driver can run on the
// host against a card wired to the microcontroller.
type MCU struct {
	transport *protocol.HostTransport
	msgs      *core.CommandRegistry
	timeout   time.Duration
	version   string

	mu      sync.Mutex
	buses   map[core.SPIBusID]string
	handles map[core.SPIBusID]*busHandle
}

// busHandle is the opaque handle ConfigureBus returns.
type busHandle struct {
	id   uint8
	bus  core.SPIBusID
	rate uint32
}

var _ core.SPIDriver = (*MCU)(nil)
var _ core.GPIODriver = (*MCU)(nil)

// Connect opens a serial device and identifies the firmware.
func Connect(device string) (*MCU, error) {
	return ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects with a custom serial config.
func ConnectWithConfig(cfg *serial.Config) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	// Give the MCU time to initialize if it just enumerated
	time.Sleep(100 * time.Millisecond)

	m, err := New(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}

// New runs the bridge protocol over an already open link.
func New(port io.ReadWriteCloser) (*MCU, error) {
	m := &MCU{
		transport: protocol.NewHostTransport(port),
		msgs:      bridge.NewMessageTable(),
		timeout:   DefaultTimeout,
		buses:     make(map[core.SPIBusID]string),
		handles:   make(map[core.SPIBusID]*busHandle),
	}
	if err := m.identify(); err != nil {
		m.transport.Close()
		return nil, err
	}
	return m, nil
}

// SetTimeout changes the per-request timeout.
func (m *MCU) SetTimeout(d time.Duration) {
	m.timeout = d
}

// Version returns the firmware's protocol version.
func (m *MCU) Version() string {
	return m.version
}

// Close closes the connection.
func (m *MCU) Close() error {
	return m.transport.Close()
}

func (m *MCU) id(name string) uint16 {
	return bridge.MessageID(m.msgs, name)
}

// request sends cmd and waits for reply or a status message. A non-zero
// status becomes the matching core.Error.
func (m *MCU) request(cmd string, args func(output protocol.OutputBuffer), reply string) ([]byte, error) {
	replyID := m.id(reply)
	statusID := m.id(bridge.MsgStatus)
	id, payload, err := m.transport.Request(m.id(cmd), args, m.timeout, replyID, statusID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	if id == statusID && replyID != statusID {
		code, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("%s: bad status: %w", cmd, err)
		}
		if err := core.ErrorFromCode(uint8(code)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: unexpected success status", cmd)
	}
	return payload, nil
}

// status runs a command that only answers with a status message.
func (m *MCU) status(cmd string, args func(output protocol.OutputBuffer)) error {
	payload, err := m.request(cmd, args, bridge.MsgStatus)
	if err != nil {
		return err
	}
	code, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return fmt.Errorf("%s: bad status: %w", cmd, err)
	}
	return core.ErrorFromCode(uint8(code))
}

func (m *MCU) identify() error {
	payload, err := m.request(bridge.MsgIdentify, nil, bridge.MsgInfo)
	if err != nil {
		return err
	}
	version, err := protocol.DecodeVLQString(&payload)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	if version != protocol.Version {
		return fmt.Errorf("bridge version %q, host speaks %q", version, protocol.Version)
	}
	m.version = version
	return nil
}

// ConfigureBus configures a bus on the MCU. Pin overrides are not carried
// over the link; the firmware uses its default mux.
func (m *MCU) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[config.BusID]; ok {
		return h, nil
	}
	payload, err := m.request(bridge.MsgSPIConfigure, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(config.BusID))
		protocol.EncodeVLQUint(output, uint32(config.Mode))
		protocol.EncodeVLQUint(output, config.Rate)
	}, bridge.MsgSPIHandle)
	if err != nil {
		return nil, err
	}
	id, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("spi_handle: %w", err)
	}
	rate, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("spi_handle: %w", err)
	}

	h := &busHandle{id: uint8(id), bus: config.BusID, rate: rate}
	m.handles[config.BusID] = h
	m.buses[config.BusID] = fmt.Sprintf("bridge SPI%d", config.BusID)
	return h, nil
}

var errBadHandle = errors.New("mcu: not a bridge bus handle")

// Transfer shifts tx out and rx in, split into bridge-sized chunks.
func (m *MCU) Transfer(handle interface{}, txData []byte, rxData []byte) (int, error) {
	h, ok := handle.(*busHandle)
	if !ok {
		return 0, errBadHandle
	}
	if len(txData) != len(rxData) {
		return 0, core.ErrInvalidArgument
	}

	done := 0
	for done < len(txData) {
		n := len(txData) - done
		if n > bridge.MaxTransfer {
			n = bridge.MaxTransfer
		}
		chunk := txData[done : done+n]
		payload, err := m.request(bridge.MsgSPITransfer, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(h.id))
			protocol.EncodeVLQBytes(output, chunk)
		}, bridge.MsgSPITransferResp)
		if err != nil {
			return done, err
		}
		data, err := protocol.DecodeVLQBytes(&payload)
		if err != nil {
			return done, fmt.Errorf("spi_transfer_response: %w", err)
		}
		done += copy(rxData[done:done+n], data)
		if len(data) != n {
			return done, core.ErrIO
		}
	}
	return done, nil
}

// SetRate changes the bus clock on the MCU.
func (m *MCU) SetRate(handle interface{}, rate uint32) (uint32, error) {
	h, ok := handle.(*busHandle)
	if !ok {
		return 0, errBadHandle
	}
	payload, err := m.request(bridge.MsgSPISetRate, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(h.id))
		protocol.EncodeVLQUint(output, rate)
	}, bridge.MsgSPIRate)
	if err != nil {
		return 0, err
	}
	got, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return 0, fmt.Errorf("spi_rate: %w", err)
	}
	h.rate = got
	return got, nil
}

// GetBusInfo lists the buses configured through this connection.
func (m *MCU) GetBusInfo() map[core.SPIBusID]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := make(map[core.SPIBusID]string, len(m.buses))
	for k, v := range m.buses {
		info[k] = v
	}
	return info
}

// ConfigureOutput configures a pin as a digital output.
func (m *MCU) ConfigureOutput(pin core.GPIOPin) error {
	return m.status(bridge.MsgGPIOOutput, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
	})
}

// ConfigureInputPullUp configures a pin as an input with pull-up.
func (m *MCU) ConfigureInputPullUp(pin core.GPIOPin) error {
	return m.status(bridge.MsgGPIOInputPullUp, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
	})
}

// SetPin drives an output pin.
func (m *MCU) SetPin(pin core.GPIOPin, value bool) error {
	var v uint32
	if value {
		v = 1
	}
	return m.status(bridge.MsgGPIOSet, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
		protocol.EncodeVLQUint(output, v)
	})
}

// GetPin reads a pin.
func (m *MCU) GetPin(pin core.GPIOPin) (bool, error) {
	payload, err := m.request(bridge.MsgGPIOGet, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
	}, bridge.MsgGPIOState)
	if err != nil {
		return false, err
	}
	v, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return false, fmt.Errorf("gpio_state: %w", err)
	}
	return v != 0, nil
}
