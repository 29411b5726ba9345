//go:build rp2350

package main

import (
	"machine"
)

var debugUART *machine.UART

// InitDebugUART initializes UART1 on GPIO36 (TX) and GPIO37 (RX) for debugging
// Baud rate: 115200
func InitDebugUART() bool {
	uart := machine.UART1
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO36, // UART1 TX
		RX:       machine.GPIO37, // UART1 RX
	})
	if err != nil {
		return false
	}
	debugUART = uart

	uartLogWriter("=== RP2350 storage debug UART ===")
	return true
}

// uartLogWriter writes one log line to the debug UART.
func uartLogWriter(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
