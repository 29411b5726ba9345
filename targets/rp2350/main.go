//go:build rp2350

package main

import (
	_ "embed"
	"machine"
	"time"

	"sdspi/config"
	"sdspi/core"
	"sdspi/storage"
)

//go:embed storage.json
var storageJSON []byte

const (
	storagePoll  = 5 * time.Second
	storageRetry = 2 * time.Second
)

// ledBlink blinks the LED a specific number of times for diagnostics
func ledBlink(count int) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for i := 0; i < count; i++ {
		led.High()
		time.Sleep(150 * time.Millisecond)
		led.Low()
		time.Sleep(150 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond) // Pause after blink sequence
}

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	if InitDebugUART() {
		core.SetDebugWriter(uartLogWriter)
		core.SetLogLevel(core.LevelDebug)
	}

	cfg, err := config.LoadConfig(storageJSON)
	if err != nil {
		core.LogWarning("config: " + err.Error() + ", using defaults")
		cfg = config.DefaultConfig()
	}
	// No DMA driver on this target, every transfer is polled
	cfg.Bus.DMA = false
	if err := cfg.Validate(); err != nil {
		core.LogError("config: " + err.Error())
		for {
			ledBlink(2)
			time.Sleep(storageRetry)
		}
	}

	core.SetGPIODriver(NewRPGPIODriver())
	core.SetSPIDriver(NewSoftwareSPIDriver())

	mon := storage.NewMonitor(func() (*storage.Storage, error) {
		return storage.Open(cfg)
	})
	for {
		switch mon.Step() {
		case storage.EventOpenFailed:
			ledBlink(3)
			time.Sleep(storageRetry)
		case storage.EventOpened:
			ledBlink(1)
			time.Sleep(storagePoll)
		case storage.EventHealthy:
			time.Sleep(storagePoll)
		}
	}
}
