package addrspace

import (
	"fmt"
	"testing"
)

// fakeMemory is a minimal TaskMemory backed by an in-process byte slice,
// standing in for a real ptraced tracee in these tests.
type fakeMemory struct {
	base  uintptr
	bytes []byte
	debug []DebugSlot
}

func newFakeMemory(base uintptr, size int) *fakeMemory {
	return &fakeMemory{base: base, bytes: make([]byte, size)}
}

func (f *fakeMemory) ReadBytes(addr uintptr, buf []byte) (int, error) {
	off := int(addr - f.base)
	if off < 0 || off+len(buf) > len(f.bytes) {
		return 0, fmt.Errorf("fakeMemory: out of range read at 0x%x", addr)
	}
	n := copy(buf, f.bytes[off:off+len(buf)])
	return n, nil
}

func (f *fakeMemory) WriteBytes(addr uintptr, buf []byte) error {
	off := int(addr - f.base)
	if off < 0 || off+len(buf) > len(f.bytes) {
		return fmt.Errorf("fakeMemory: out of range write at 0x%x", addr)
	}
	copy(f.bytes[off:off+len(buf)], buf)
	return nil
}

func (f *fakeMemory) SetDebugRegs(slots []DebugSlot) error {
	f.debug = append([]DebugSlot{}, slots...)
	return nil
}

// S4 — Breakpoint refcount.
func TestBreakpointRefcount(t *testing.T) {
	const addr = 0x1000
	mem := newFakeMemory(addr, 16)
	mem.bytes[0] = 0x5A

	r := NewBreakpointRegistry()

	if !r.Set(mem, addr, BreakpointInternal) {
		t.Fatalf("Set(internal) failed")
	}
	if mem.bytes[0] != TrapOpcode {
		t.Fatalf("trap byte not installed: got 0x%02x", mem.bytes[0])
	}
	saved, ok := r.SavedByte(addr)
	if !ok || saved != 0x5A {
		t.Fatalf("saved byte: got %v, %v", saved, ok)
	}

	if !r.Set(mem, addr, BreakpointUser) {
		t.Fatalf("Set(user) #1 failed")
	}
	if !r.Set(mem, addr, BreakpointUser) {
		t.Fatalf("Set(user) #2 failed")
	}

	if err := r.Remove(mem, addr, BreakpointUser); err != nil {
		t.Fatalf("Remove(user) #1: %v", err)
	}
	if got := r.TypeAt(addr); got != BreakpointUser {
		t.Fatalf("after one user remove: type_at = %v, want user", got)
	}
	if mem.bytes[0] != TrapOpcode {
		t.Fatalf("trap byte removed too early")
	}

	if err := r.Remove(mem, addr, BreakpointUser); err != nil {
		t.Fatalf("Remove(user) #2: %v", err)
	}
	if got := r.TypeAt(addr); got != BreakpointInternal {
		t.Fatalf("after both user removes: type_at = %v, want internal", got)
	}
	if mem.bytes[0] != TrapOpcode {
		t.Fatalf("trap byte removed while internal refcount still positive")
	}

	if err := r.Remove(mem, addr, BreakpointInternal); err != nil {
		t.Fatalf("Remove(internal): %v", err)
	}
	if mem.bytes[0] != 0x5A {
		t.Fatalf("saved byte not restored: got 0x%02x", mem.bytes[0])
	}
	if got := r.TypeAt(addr); got != BreakpointNone {
		t.Fatalf("after all removes: type_at = %v, want none", got)
	}
	if r.Len() != 0 {
		t.Fatalf("registry should be empty, has %d records", r.Len())
	}
}

func TestBreakpointTypeForRetiredInsn(t *testing.T) {
	const addr = 0x2000
	mem := newFakeMemory(addr, 16)
	r := NewBreakpointRegistry()
	r.Set(mem, addr, BreakpointUser)

	if got := r.TypeForRetiredInsn(addr + TrapInsnSize); got != BreakpointUser {
		t.Fatalf("TypeForRetiredInsn: got %v, want user", got)
	}
}

func TestBreakpointRemoveWithoutRecordPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic removing a nonexistent breakpoint")
		}
	}()
	mem := newFakeMemory(0x3000, 16)
	r := NewBreakpointRegistry()
	r.Remove(mem, 0x3000, BreakpointUser)
}
