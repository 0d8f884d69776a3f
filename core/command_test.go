package core

import (
	"testing"

	"gopwm/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var got uint32
	id := registry.Register("test_command", "arg=%u", func(data *[]byte) error {
		v, err := protocol.DecodeVLQUint(data)
		got = v
		return err
	})
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" || cmd.Signature() != "test_command arg=%u" {
		t.Errorf("Unexpected command %q / %q", cmd.Name, cmd.Signature())
	}

	data := protocol.AppendVLQUint(nil, 1234)
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if got != 1234 {
		t.Errorf("Expected handler to decode 1234, got %d", got)
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryResponses(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("ping", "", func(*[]byte) error { return nil })
	rsp := registry.Register("pong", "value=%u", nil)

	cmd, ok := registry.GetCommandByName("pong")
	if !ok || !cmd.IsResponse() || cmd.ID != rsp {
		t.Errorf("Expected pong registered as response %d, got %+v", rsp, cmd)
	}

	var data []byte
	if err := registry.Dispatch(rsp, &data); err == nil {
		t.Error("Dispatching a response should fail")
	}
}

func TestCommandRegistryDuplicate(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", nil)
	id2 := registry.Register("command2", "arg2=%u", nil)
	again := registry.Register("command1", "other=%c", nil)

	if id1 != 0 || id2 != 1 {
		t.Errorf("Command IDs not sequential: %d, %d", id1, id2)
	}
	if again != id1 {
		t.Errorf("Re-registering should return ID %d, got %d", id1, again)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 commands, got %d", registry.Count())
	}

	entries := registry.Entries()
	if len(entries) != 2 || entries[0].Name != "command1" || entries[1].Name != "command2" {
		t.Errorf("Entries not in ID order: %v", entries)
	}
}

func TestBootstrapIDs(t *testing.T) {
	rsp, _ := globalRegistry.GetCommandByName("identify_response")
	cmd, _ := globalRegistry.GetCommandByName("identify")
	if rsp.ID != 0 || cmd.ID != 1 {
		t.Errorf("Expected identify_response=0 identify=1, got %d and %d", rsp.ID, cmd.ID)
	}
}
