//go:build tinygo

package core

import "device"

func nop() {
	device.Asm("nop")
}
