// Package bridge exposes a target's SPI and GPIO drivers over the framed
// serial link, so host tools can drive a card through the firmware.
package bridge

import "sdspi/core"

// Message names. Both ends register them in this order, so IDs agree
// without a dictionary exchange.
const (
	MsgIdentify        = "bridge_identify"
	MsgInfo            = "bridge_info"
	MsgSPIConfigure    = "spi_configure"
	MsgSPIHandle       = "spi_handle"
	MsgSPISetRate      = "spi_set_rate"
	MsgSPIRate         = "spi_rate"
	MsgSPITransfer     = "spi_transfer"
	MsgSPITransferResp = "spi_transfer_response"
	MsgGPIOOutput      = "gpio_output"
	MsgGPIOInputPullUp = "gpio_input_pullup"
	MsgGPIOSet         = "gpio_set"
	MsgGPIOGet         = "gpio_get"
	MsgGPIOState       = "gpio_state"
	MsgStatus          = "status"
)

// MaxTransfer is the largest spi_transfer payload; it keeps both the
// command and its response inside one frame.
const MaxTransfer = 192

// MaxHandles bounds the buses a bridge keeps configured.
const MaxHandles = 8

var messages = []struct {
	name   string
	format string
}{
	{MsgIdentify, ""},
	{MsgInfo, "version=%*s"},
	{MsgSPIConfigure, "bus=%u mode=%u rate=%u"},
	{MsgSPIHandle, "handle=%c rate=%u"},
	{MsgSPISetRate, "handle=%c rate=%u"},
	{MsgSPIRate, "rate=%u"},
	{MsgSPITransfer, "handle=%c data=%*s"},
	{MsgSPITransferResp, "data=%*s"},
	{MsgGPIOOutput, "pin=%u"},
	{MsgGPIOInputPullUp, "pin=%u"},
	{MsgGPIOSet, "pin=%u value=%c"},
	{MsgGPIOGet, "pin=%u"},
	{MsgGPIOState, "value=%c"},
	{MsgStatus, "code=%c"},
}

// NewMessageTable returns the shared message table with no handlers set.
func NewMessageTable() *core.CommandRegistry {
	r := core.NewCommandRegistry()
	for _, m := range messages {
		r.Register(m.name, m.format, nil)
	}
	return r
}

// MessageID looks up a message of the shared table.
func MessageID(r *core.CommandRegistry, name string) uint16 {
	cmd, ok := r.GetCommandByName(name)
	if !ok {
		panic("bridge: unknown message " + name)
	}
	return cmd.ID
}
