package bridge

import (
	"sdspi/core"
	"sdspi/protocol"
)

// Server answers bridge commands with the target's SPI and GPIO drivers.
type Server struct {
	transport *protocol.Transport
	msgs      *core.CommandRegistry
	spi       core.SPIDriver
	gpio      core.GPIODriver

	handles []interface{}

	idInfo, idHandle, idRate, idTransferResp, idState, idStatus uint16

	tx [MaxTransfer]byte
	rx [MaxTransfer]byte
}

// NewServer creates a bridge answering on output. Feed received bytes
// to Receive.
func NewServer(output protocol.OutputBuffer, spi core.SPIDriver, gpio core.GPIODriver) *Server {
	s := &Server{
		msgs: NewMessageTable(),
		spi:  spi,
		gpio: gpio,
	}
	s.idInfo = MessageID(s.msgs, MsgInfo)
	s.idHandle = MessageID(s.msgs, MsgSPIHandle)
	s.idRate = MessageID(s.msgs, MsgSPIRate)
	s.idTransferResp = MessageID(s.msgs, MsgSPITransferResp)
	s.idState = MessageID(s.msgs, MsgGPIOState)
	s.idStatus = MessageID(s.msgs, MsgStatus)

	s.msgs.SetHandler(MsgIdentify, s.handleIdentify)
	s.msgs.SetHandler(MsgSPIConfigure, s.handleSPIConfigure)
	s.msgs.SetHandler(MsgSPISetRate, s.handleSPISetRate)
	s.msgs.SetHandler(MsgSPITransfer, s.handleSPITransfer)
	s.msgs.SetHandler(MsgGPIOOutput, s.handleGPIOOutput)
	s.msgs.SetHandler(MsgGPIOInputPullUp, s.handleGPIOInputPullUp)
	s.msgs.SetHandler(MsgGPIOSet, s.handleGPIOSet)
	s.msgs.SetHandler(MsgGPIOGet, s.handleGPIOGet)

	s.transport = protocol.NewTransport(output, s.msgs.Dispatch)
	s.transport.SetErrorHandler(func(cmdID uint16, err error) {
		core.LogWarning("bridge: command " + core.Itoa(int(cmdID)) + ": " + err.Error())
	})
	s.transport.SetResetCallback(s.reset)
	return s
}

// Transport returns the link transport, for installing flush callbacks.
func (s *Server) Transport() *protocol.Transport { return s.transport }

// Receive processes every complete frame in input.
func (s *Server) Receive(input protocol.InputBuffer) {
	s.transport.Receive(input)
}

// reset forgets configured buses when the host restarts its sequence.
func (s *Server) reset() {
	s.handles = s.handles[:0]
}

func (s *Server) status(err error) {
	code := uint32(core.ErrorCode(err))
	s.transport.SendCommand(s.idStatus, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, code)
	})
}

func (s *Server) handle(data *[]byte) (interface{}, error) {
	h, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if int(h) >= len(s.handles) {
		return nil, core.ErrInvalidArgument
	}
	return s.handles[h], nil
}

func (s *Server) handleIdentify(data *[]byte) error {
	s.transport.SendCommand(s.idInfo, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, protocol.Version)
	})
	return nil
}

func (s *Server) handleSPIConfigure(data *[]byte) error {
	bus, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if len(s.handles) >= MaxHandles {
		s.status(core.ErrResourceExhausted)
		return nil
	}

	h, err := s.spi.ConfigureBus(core.SPIConfig{
		BusID: core.SPIBusID(bus),
		Mode:  core.SPIMode(mode),
		Rate:  rate,
		SCK:   core.NoPin,
		MOSI:  core.NoPin,
		MISO:  core.NoPin,
	})
	if err != nil {
		s.status(err)
		return nil
	}
	idx := uint32(len(s.handles))
	s.handles = append(s.handles, h)
	core.LogDebug("bridge: bus " + core.Itoa(int(bus)) + " is handle " + core.Itoa(int(idx)))

	s.transport.SendCommand(s.idHandle, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, idx)
		protocol.EncodeVLQUint(output, rate)
	})
	return nil
}

func (s *Server) handleSPISetRate(data *[]byte) error {
	h, err := s.handle(data)
	if err != nil && err != core.ErrInvalidArgument {
		return err
	}
	rate, derr := protocol.DecodeVLQUint(data)
	if derr != nil {
		return derr
	}
	if err != nil {
		s.status(err)
		return nil
	}
	got, err := s.spi.SetRate(h, rate)
	if err != nil {
		s.status(err)
		return nil
	}
	s.transport.SendCommand(s.idRate, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, got)
	})
	return nil
}

func (s *Server) handleSPITransfer(data *[]byte) error {
	h, err := s.handle(data)
	if err != nil && err != core.ErrInvalidArgument {
		return err
	}
	payload, derr := protocol.DecodeVLQBytes(data)
	if derr != nil {
		return derr
	}
	if err != nil {
		s.status(err)
		return nil
	}
	n := len(payload)
	if n == 0 || n > MaxTransfer {
		s.status(core.ErrInvalidArgument)
		return nil
	}

	// payload aliases the receive buffer, copy before shifting
	copy(s.tx[:n], payload)
	got, err := s.spi.Transfer(h, s.tx[:n], s.rx[:n])
	if err == nil && got != n {
		err = core.ErrIO
	}
	if err != nil {
		s.status(err)
		return nil
	}
	s.transport.SendCommand(s.idTransferResp, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(output, s.rx[:n])
	})
	return nil
}

func (s *Server) handleGPIOOutput(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s.status(s.gpio.ConfigureOutput(core.GPIOPin(pin)))
	return nil
}

func (s *Server) handleGPIOInputPullUp(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s.status(s.gpio.ConfigureInputPullUp(core.GPIOPin(pin)))
	return nil
}

func (s *Server) handleGPIOSet(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	s.status(s.gpio.SetPin(core.GPIOPin(pin), value != 0))
	return nil
}

func (s *Server) handleGPIOGet(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	v, err := s.gpio.GetPin(core.GPIOPin(pin))
	if err != nil {
		s.status(err)
		return nil
	}
	var value uint32
	if v {
		value = 1
	}
	s.transport.SendCommand(s.idState, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, value)
	})
	return nil
}
