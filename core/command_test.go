package core

import (
	"testing"

	"sdspi/protocol"
)

func TestCommandRegistryIDsAreStable(t *testing.T) {
	registry := NewCommandRegistry()
	names := []string{"bridge_identify", "bridge_info", "spi_configure"}
	for i, name := range names {
		if id := registry.Register(name, "", nil); id != uint16(i) {
			t.Errorf("Register(%s) = %d, want %d", name, id, i)
		}
	}
	// Registering a name again keeps its first ID
	if id := registry.Register("bridge_info", "version=%*s", nil); id != 1 {
		t.Errorf("re-register = %d", id)
	}
	if registry.Count() != len(names) {
		t.Errorf("Count = %d", registry.Count())
	}
	if _, ok := registry.GetCommand(7); ok {
		t.Error("GetCommand found an unregistered ID")
	}
	if _, ok := registry.GetCommandByName("gpio_set"); ok {
		t.Error("GetCommandByName found an unregistered name")
	}
}

func TestCommandDispatchDecodesArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var pin, value uint32
	id := registry.Register("gpio_set", "pin=%u value=%c", func(data *[]byte) error {
		var err error
		if pin, err = protocol.DecodeVLQUint(data); err != nil {
			return err
		}
		value, err = protocol.DecodeVLQUint(data)
		return err
	})

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 17)
	protocol.EncodeVLQUint(output, 1)
	data := output.Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if pin != 17 || value != 1 {
		t.Errorf("decoded pin=%d value=%d", pin, value)
	}

	short := []byte{}
	if err := registry.Dispatch(id, &short); err == nil {
		t.Error("Expected the handler's decode error")
	}
	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryByNameAndHandler(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register("spi_transfer", "handle=%c data=%*s", nil)
	registry.Register("spi_transfer_response", "data=%*s", nil)

	cmd, ok := registry.GetCommandByName("spi_transfer_response")
	if !ok || cmd.ID != 1 {
		t.Fatalf("lookup by name failed: %v %v", cmd, ok)
	}

	var data []byte
	if err := registry.Dispatch(0, &data); err == nil {
		t.Error("Expected error dispatching a message without handler")
	}

	called := false
	if !registry.SetHandler("spi_transfer", func(data *[]byte) error {
		called = true
		return nil
	}) {
		t.Fatal("SetHandler on registered name failed")
	}
	if registry.SetHandler("missing", nil) {
		t.Error("SetHandler on unknown name should fail")
	}
	if err := registry.Dispatch(0, &data); err != nil || !called {
		t.Errorf("Dispatch after SetHandler: err=%v called=%v", err, called)
	}

	want := "spi_transfer handle=%c data=%*s\nspi_transfer_response data=%*s\n"
	if got := registry.GetDictionary(); got != want {
		t.Errorf("Dictionary mismatch:\n%s", got)
	}
}
