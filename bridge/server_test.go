package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sdspi/core"
	"sdspi/protocol"
)

type fakeSPI struct {
	configured []core.SPIConfig
	rate       uint32
	fail       error
}

func (f *fakeSPI) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.configured = append(f.configured, config)
	return len(f.configured), nil
}

func (f *fakeSPI) Transfer(h interface{}, tx, rx []byte) (int, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	for i := range tx {
		rx[i] = ^tx[i]
	}
	return len(tx), nil
}

func (f *fakeSPI) SetRate(h interface{}, rate uint32) (uint32, error) {
	f.rate = rate - rate%1000
	return f.rate, nil
}

func (f *fakeSPI) GetBusInfo() map[core.SPIBusID]string { return nil }

type fakeGPIO struct {
	outputs map[core.GPIOPin]bool
	levels  map[core.GPIOPin]bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{outputs: map[core.GPIOPin]bool{}, levels: map[core.GPIOPin]bool{}}
}

func (g *fakeGPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.outputs[pin] = true
	return nil
}

func (g *fakeGPIO) ConfigureInputPullUp(pin core.GPIOPin) error {
	if pin > 29 {
		return core.ErrInvalidArgument
	}
	g.levels[pin] = true
	return nil
}

func (g *fakeGPIO) SetPin(pin core.GPIOPin, value bool) error {
	if !g.outputs[pin] {
		return core.ErrDeviceNotReady
	}
	g.levels[pin] = value
	return nil
}

func (g *fakeGPIO) GetPin(pin core.GPIOPin) (bool, error) {
	return g.levels[pin], nil
}

type harness struct {
	t      *testing.T
	out    *protocol.ScratchOutput
	server *Server
	msgs   *core.CommandRegistry
	seq    uint8
}

func newHarness(t *testing.T, spi core.SPIDriver, gpio core.GPIODriver) *harness {
	out := protocol.NewScratchOutput()
	return &harness{
		t:      t,
		out:    out,
		server: NewServer(out, spi, gpio),
		msgs:   NewMessageTable(),
		seq:    protocol.MessageDest,
	}
}

// send delivers one command and returns the payloads of the frames sent
// back, the trailing ACK excluded.
func (h *harness) send(name string, args func(output protocol.OutputBuffer)) [][]byte {
	h.t.Helper()
	msg, err := protocol.BuildCommandMessage(h.seq, MessageID(h.msgs, name), args)
	require.NoError(h.t, err)
	h.seq = protocol.NextSequence(h.seq)

	h.out.Reset()
	h.server.Receive(protocol.NewSliceInputBuffer(msg))

	var frames [][]byte
	data := h.out.Result()
	for len(data) > 0 {
		n, status := protocol.ParseFrame(data)
		require.Equal(h.t, protocol.FrameOK, status)
		frames = append(frames, append([]byte(nil), protocol.FramePayload(data[:n])...))
		data = data[n:]
	}
	require.NotEmpty(h.t, frames)
	require.Empty(h.t, frames[len(frames)-1], "last frame must be the ACK")
	return frames[:len(frames)-1]
}

// reply expects exactly one response and returns its name and arguments.
func (h *harness) reply(frames [][]byte) (string, []byte) {
	h.t.Helper()
	require.Len(h.t, frames, 1)
	payload := frames[0]
	id, err := protocol.DecodeVLQUint(&payload)
	require.NoError(h.t, err)
	cmd, ok := h.msgs.GetCommand(uint16(id))
	require.True(h.t, ok)
	return cmd.Name, payload
}

func uintArg(t *testing.T, payload *[]byte) uint32 {
	v, err := protocol.DecodeVLQUint(payload)
	require.NoError(t, err)
	return v
}

func TestMessageTableOrder(t *testing.T) {
	r := NewMessageTable()
	require.Equal(t, len(messages), r.Count())
	require.Equal(t, uint16(0), MessageID(r, MsgIdentify))
	require.Equal(t, uint16(6), MessageID(r, MsgSPITransfer))
	require.Equal(t, uint16(13), MessageID(r, MsgStatus))
	require.Panics(t, func() { MessageID(r, "nope") })
}

func TestServerIdentify(t *testing.T) {
	h := newHarness(t, &fakeSPI{}, newFakeGPIO())
	name, payload := h.reply(h.send(MsgIdentify, nil))
	require.Equal(t, MsgInfo, name)
	v, err := protocol.DecodeVLQString(&payload)
	require.NoError(t, err)
	require.Equal(t, protocol.Version, v)
}

func TestServerSPI(t *testing.T) {
	spi := &fakeSPI{}
	h := newHarness(t, spi, newFakeGPIO())

	name, payload := h.reply(h.send(MsgSPIConfigure, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 1)
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 4000000)
	}))
	require.Equal(t, MsgSPIHandle, name)
	require.Equal(t, uint32(0), uintArg(t, &payload))
	require.Equal(t, uint32(4000000), uintArg(t, &payload))
	require.Len(t, spi.configured, 1)
	require.Equal(t, core.SPIBusID(1), spi.configured[0].BusID)
	require.Equal(t, core.NoPin, spi.configured[0].MISO)

	name, payload = h.reply(h.send(MsgSPISetRate, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 400123)
	}))
	require.Equal(t, MsgSPIRate, name)
	require.Equal(t, uint32(400000), uintArg(t, &payload))

	tx := make([]byte, MaxTransfer)
	for i := range tx {
		tx[i] = byte(i)
	}
	name, payload = h.reply(h.send(MsgSPITransfer, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQBytes(output, tx)
	}))
	require.Equal(t, MsgSPITransferResp, name)
	rx, err := protocol.DecodeVLQBytes(&payload)
	require.NoError(t, err)
	require.Len(t, rx, MaxTransfer)
	for i := range rx {
		require.Equal(t, ^tx[i], rx[i])
	}
}

func TestServerSPIErrors(t *testing.T) {
	spi := &fakeSPI{}
	h := newHarness(t, spi, newFakeGPIO())

	status := func(frames [][]byte) core.Error {
		name, payload := h.reply(frames)
		require.Equal(t, MsgStatus, name)
		return core.Error(uintArg(t, &payload))
	}

	// No bus configured yet
	code := status(h.send(MsgSPITransfer, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 3)
		protocol.EncodeVLQBytes(output, []byte{1})
	}))
	require.Equal(t, core.ErrInvalidArgument, code)

	spi.fail = core.ErrIO
	code = status(h.send(MsgSPIConfigure, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 1000000)
	}))
	require.Equal(t, core.ErrIO, code)

	spi.fail = nil
	for i := 0; i < MaxHandles; i++ {
		h.send(MsgSPIConfigure, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, 0)
			protocol.EncodeVLQUint(output, 0)
			protocol.EncodeVLQUint(output, 1000000)
		})
	}
	code = status(h.send(MsgSPIConfigure, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 1000000)
	}))
	require.Equal(t, core.ErrResourceExhausted, code)

	code = status(h.send(MsgSPITransfer, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQBytes(output, nil)
	}))
	require.Equal(t, core.ErrInvalidArgument, code)
}

func TestServerGPIO(t *testing.T) {
	gpio := newFakeGPIO()
	h := newHarness(t, &fakeSPI{}, gpio)
	pinArgs := func(pin uint32, extra ...uint32) func(output protocol.OutputBuffer) {
		return func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, pin)
			for _, v := range extra {
				protocol.EncodeVLQUint(output, v)
			}
		}
	}
	status := func(frames [][]byte) uint32 {
		name, payload := h.reply(frames)
		require.Equal(t, MsgStatus, name)
		return uintArg(t, &payload)
	}

	require.Equal(t, uint32(core.ErrDeviceNotReady), status(h.send(MsgGPIOSet, pinArgs(17, 1))))
	require.Equal(t, uint32(0), status(h.send(MsgGPIOOutput, pinArgs(17))))
	require.Equal(t, uint32(0), status(h.send(MsgGPIOSet, pinArgs(17, 1))))
	require.True(t, gpio.levels[17])

	name, payload := h.reply(h.send(MsgGPIOGet, pinArgs(17)))
	require.Equal(t, MsgGPIOState, name)
	require.Equal(t, uint32(1), uintArg(t, &payload))

	require.Equal(t, uint32(0), status(h.send(MsgGPIOInputPullUp, pinArgs(16))))
	require.Equal(t, uint32(core.ErrInvalidArgument), status(h.send(MsgGPIOInputPullUp, pinArgs(40))))
}

func TestServerResetForgetsHandles(t *testing.T) {
	spi := &fakeSPI{}
	h := newHarness(t, spi, newFakeGPIO())
	h.send(MsgSPIConfigure, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 1000000)
	})
	h.send(MsgIdentify, nil)

	// A host restarting at the first sequence number resets the bridge
	h.seq = protocol.MessageDest
	name, payload := h.reply(h.send(MsgSPITransfer, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQBytes(output, []byte{0xFF})
	}))
	require.Equal(t, MsgStatus, name)
	require.Equal(t, uint32(core.ErrInvalidArgument), uintArg(t, &payload))
}
