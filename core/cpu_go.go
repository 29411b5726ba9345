//go:build !tinygo

package core

// nop burns one cycle-ish of settle time. On the host it only has to exist.
func nop() {}
