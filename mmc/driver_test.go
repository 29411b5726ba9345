package mmc

import (
	"sync"
	"testing"

	"sdspi/core"
)

// cardWiring connects the card emulator to real core buses: the SPI side
// shifts bytes through it and the chip-select pin selects it.
type cardWiring struct {
	m *mockCard
}

func (w cardWiring) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	w.m.rate = config.Rate
	w.m.defaultRate = config.Rate
	return config.BusID, nil
}

func (w cardWiring) Transfer(busHandle interface{}, txData []byte, rxData []byte) (int, error) {
	for i := range txData {
		rxData[i] = w.m.shift(txData[i])
	}
	return len(txData), nil
}

func (w cardWiring) SetRate(busHandle interface{}, rate uint32) (uint32, error) {
	w.m.rate = rate
	w.m.rates = append(w.m.rates, rate)
	return rate, nil
}

func (w cardWiring) GetBusInfo() map[core.SPIBusID]string { return nil }

func (w cardWiring) ConfigureOutput(pin core.GPIOPin) error      { return nil }
func (w cardWiring) ConfigureInputPullUp(pin core.GPIOPin) error { return nil }
func (w cardWiring) GetPin(pin core.GPIOPin) (bool, error)       { return true, nil }

func (w cardWiring) SetPin(pin core.GPIOPin, value bool) error {
	if pin == testCS {
		w.m.setSelected(!value)
	}
	return nil
}

func openWiredCard(t *testing.T, kind CardType) (*SPICard, *mockCard) {
	t.Helper()
	m := newMockCard(kind)
	w := cardWiring{m: m}
	core.SetSPIDriver(w)
	core.SetGPIODriver(w)
	core.SetDMADriver(nil)

	cfg := core.BusConfig{SPI: core.SPIConfig{BusID: 7, Rate: 8000000, SCK: core.NoPin, MOSI: core.NoPin, MISO: core.NoPin}}
	c, err := OpenSPI(cfg, testCS, testOptions())
	if err != nil {
		t.Fatalf("OpenSPI failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, m
}

func TestOpenSPIDeinitThenProbe(t *testing.T) {
	c, m := openWiredCard(t, CardSDHC)
	bus := c.bus.(*core.SPIBus)

	if err := c.Probe(); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if err := c.Deinit(); err != nil {
		t.Fatalf("Deinit failed: %v", err)
	}
	if bus.Slot() < 0 {
		t.Fatal("Deinit closed the bus")
	}

	n := m.count(CmdGoIdleState)
	if err := c.Probe(); err != nil {
		t.Fatalf("Probe after Deinit: %v", err)
	}
	if m.count(CmdGoIdleState) == n {
		t.Error("Probe after Deinit skipped the reset")
	}
	buf := make([]byte, 2*BlockSize)
	if err := c.ReadBlocks(5, buf, 2); err != nil {
		t.Fatalf("Read after re-probe: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := core.Buses().Lookup(7); ok {
		t.Error("Bus still registered after Close")
	}
	if err := c.Probe(); err != core.ErrDeviceNotReady {
		t.Errorf("Probe after Close: %v", err)
	}
	if err := c.ReadBlocks(0, buf, 1); err != core.ErrDeviceNotReady {
		t.Errorf("Read after Close: %v", err)
	}
}

func TestOpenSPIEventsUseRegistrySlot(t *testing.T) {
	c, _ := openWiredCard(t, CardSD2)
	slot := c.bus.(*core.SPIBus).Slot()

	core.ClearBusEvents()
	if err := c.Probe(); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	for _, e := range core.BusEvents() {
		if int(e.Slot) != slot {
			t.Errorf("%s event tagged with slot %d, bus is in %d", core.EventName(e.EventType), e.Slot, slot)
		}
	}
}

func TestOpenSPIReadsAreAtomic(t *testing.T) {
	c, m := openWiredCard(t, CardSDHC)
	if err := c.Probe(); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 3*BlockSize)
		for i := 0; i < 20; i++ {
			if err := c.ReadBlocks(uint32(i), buf, 3); err != nil {
				t.Errorf("ReadBlocks: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := c.Status(); err != nil {
				t.Errorf("Status: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	// Nothing may come between a multi-block read and its stop command
	for i, cmd := range m.commands {
		if cmd != CmdReadMultipleBlock {
			continue
		}
		if i+1 >= len(m.commands) || m.commands[i+1] != CmdStopTransmission {
			t.Fatalf("CMD18 at %d followed by %v", i, m.commands[i+1:])
		}
	}
}
