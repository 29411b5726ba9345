//go:build rp2040

package main

import (
	_ "embed"
	"machine"
	"time"

	"sdspi/bridge"
	"sdspi/config"
	"sdspi/core"
	"sdspi/protocol"
	"sdspi/storage"
	piospi "sdspi/targets/pio"
)

//go:embed storage.json
var storageJSON []byte

const (
	storagePoll  = 5 * time.Second
	storageRetry = 2 * time.Second
)

var (
	// Buffers for the bridge link
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	server       *bridge.Server

	// Debug counters
	messagesReceived         uint32
	messagesSent             uint32
	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
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
	time.Sleep(500 * time.Millisecond)
}

func main() {
	InitUSB()

	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	mode := GetMode()
	if !mode.Bridge {
		// The USB port only carries frames in bridge mode
		core.SetDebugWriter(usbLogWriter)
		core.InitAsyncDebug()
	}

	cfg, err := config.LoadConfig(storageJSON)
	if err != nil {
		core.LogWarning("config: " + err.Error() + ", using defaults")
		cfg = config.DefaultConfig()
	}

	var pioBuses core.SPIDriver
	if cfg.Bus.ID >= uint8(core.SPIBusPIO) {
		pioBuses, err = newPIOBuses(cfg)
		if err != nil {
			core.LogError("pio: " + err.Error())
		}
		// PIO FIFOs are not wired to the SPI DREQs
		cfg.Bus.DMA = false
	}

	core.SetGPIODriver(NewRPGPIODriver())
	core.SetSPIDriver(NewRP2040SPIDriver(pioBuses))
	core.SetDMADriver(NewRP2040DMADriver())

	if mode.Bridge {
		runBridge()
		return
	}
	runStorage(cfg)
}

// newPIOBuses builds the PIO state-machine bus named by the config.
func newPIOBuses(cfg *config.Config) (core.SPIDriver, error) {
	bc := cfg.BusConfig()
	d := core.NewDriversSPI()
	err := piospi.AddBus(d, bc.SPI.BusID, bc.SPI.SCK, bc.SPI.MOSI, bc.SPI.MISO, bc.SPI.Rate)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// runStorage brings the card up, then keeps polling it. A lost card is
// closed and brought up again.
func runStorage(cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		core.LogError("config: " + err.Error())
		for {
			ledBlink(2)
			time.Sleep(storageRetry)
		}
	}

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
			core.DebugAsync("storage: " + mon.Storage().Disk().Name() + " ok")
			time.Sleep(storagePoll)
		}
	}
}

// runBridge serves the bridge protocol over USB forever.
func runBridge() {
	inputBuffer = protocol.NewFifoBuffer(512)
	outputBuffer = protocol.NewScratchOutput()

	server = bridge.NewServer(outputBuffer, core.MustSPI(), core.MustGPIO())
	// ACKs go out as soon as they are encoded
	server.Transport().SetFlushCallback(func() {
		writeUSB()
	})

	go usbReaderLoop()

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)

				server.Receive(inputBuf)
				messagesReceived++

				// Remove consumed bytes from FIFO
				consumed := originalLen - inputBuf.Available()
				if consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
				messagesSent++
			}
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	// Recover from panics to prevent a firmware crash
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// A host reconnecting starts from a clean link
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				server.Transport().Reset()
				messagesReceived = 0
				messagesSent = 0
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				// Buffer full
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		// Yield to avoid a busy loop
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB writes available data from output buffer to USB
func writeUSB() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Likely a disconnect. After several failures drop the stale data.
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
