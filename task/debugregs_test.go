package task

import (
	"testing"

	"github.com/andreasgal/rr/addrspace"
)

func TestDr7ControlEncodesSlots(t *testing.T) {
	slots := []addrspace.DebugSlot{
		{Start: 0x1000, Length: 4, Access: addrspace.SlotExec},
		{},
		{},
		{},
	}
	dr7 := dr7Control(slots)

	if dr7&0x1 == 0 {
		t.Fatalf("L0 local-enable bit should be set, got 0x%x", dr7)
	}
	if dr7&0x4 != 0 {
		t.Fatalf("L1 local-enable bit should be clear for an empty slot, got 0x%x", dr7)
	}
}

func TestSetDebugRegsRejectsWrongSlotCount(t *testing.T) {
	m := New(0)
	tooMany := make([]addrspace.DebugSlot, addrspace.HardwareSlotCount+1)
	if err := m.SetDebugRegs(tooMany); err == nil {
		t.Fatalf("expected an error for a slot list of the wrong length")
	}
}
