package addrspace

import "testing"

func TestAfterExecDetectsWellKnownRegions(t *testing.T) {
	a := NewAddressSpace(OriginExeced)
	kernel := stringSource{
		"00400000-00401000 r-xp 00000000 08:01 131073  /bin/cat",
		"00601000-00602000 rw-p 00001000 08:01 131073  /bin/cat",
		"00700000-00710000 rw-p 00000000 00:00 0       [heap]",
		"7f0000100000-7f0000120000 r-xp 00000000 08:01 555  /lib/x86_64-linux-gnu/libc-2.31.so",
		"7ffd00000000-7ffd00021000 rw-p 00000000 00:00 0    [stack]",
		"7ffd00021000-7ffd00023000 r-xp 00000000 00:00 0    [vdso]",
	}

	if err := a.AfterExec(kernel, "/bin/cat"); err != nil {
		t.Fatalf("AfterExec: %v", err)
	}

	heap, ok := a.Heap()
	if !ok || heap.Start != 0x700000 {
		t.Fatalf("heap not detected: %v, %v", heap, ok)
	}
	if a.vdsoStart == nil {
		t.Fatalf("vdso not detected")
	}
	if a.libcStart == nil {
		t.Fatalf("libc not detected")
	}

	if vdso, ok := a.Vdso(); !ok || vdso.Start != 0x7ffd00021000 {
		t.Fatalf("Vdso accessor disagrees with detection: %v, %v", vdso, ok)
	}
	if !a.HasLibc() || a.Libc().Start != 0x7f0000100000 {
		t.Fatalf("Libc accessor disagrees with detection: %v", a.Libc())
	}
	if a.HasLibpthread() {
		t.Fatalf("no libpthread mapping was present")
	}
}

func TestHasBreakpointsAndWatchpoints(t *testing.T) {
	a := NewAddressSpace(OriginExeced)
	mem := newFakeMemory(0x1000, 16)
	a.AddParticipant(TaskId(1), mem)

	if a.HasBreakpoints() || a.HasWatchpoints() {
		t.Fatalf("new address space should have neither")
	}

	a.Breakpoints.Set(mem, 0x1000, BreakpointUser)
	if !a.HasBreakpoints() {
		t.Fatalf("HasBreakpoints should be true after Set")
	}

	a.Watchpoints.Set(0x1000, 4, AccessExec)
	if !a.HasWatchpoints() {
		t.Fatalf("HasWatchpoints should be true after Set")
	}
}

func TestBrkGrowsAndShrinksHeap(t *testing.T) {
	a := NewAddressSpace(OriginExeced)
	kernel := stringSource{
		"00700000-00701000 rw-p 00000000 00:00 0  [heap]",
	}
	if err := a.AfterExec(kernel, ""); err != nil {
		t.Fatalf("AfterExec: %v", err)
	}

	a.Brk(0x703000)
	heap, _ := a.Heap()
	if heap.End != 0x703000 {
		t.Fatalf("brk did not grow heap: %v", heap)
	}

	a.Brk(0x701000)
	heap, _ = a.Heap()
	if heap.End != 0x701000 {
		t.Fatalf("brk did not shrink heap: %v", heap)
	}
}

func TestBrkNoopWhenUnchanged(t *testing.T) {
	a := NewAddressSpace(OriginExeced)
	kernel := stringSource{
		"00700000-00701000 rw-p 00000000 00:00 0  [heap]",
	}
	if err := a.AfterExec(kernel, ""); err != nil {
		t.Fatalf("AfterExec: %v", err)
	}
	before := a.Table.Entries()
	a.Brk(0x701000)
	after := a.Table.Entries()
	if len(before) != len(after) {
		t.Fatalf("no-op brk changed the table: before=%v after=%v", before, after)
	}
}

func TestParticipantsAndWatchpointReprogramming(t *testing.T) {
	a := NewAddressSpace(OriginExeced)
	mem := newFakeMemory(0x1000, 16)

	a.AddParticipant(TaskId(1), mem)
	a.Watchpoints.Set(0x1000, 4, AccessExec)

	if len(mem.debug) != 1 {
		t.Fatalf("participant should have been programmed on AddParticipant+Set, got %v", mem.debug)
	}

	a.RemoveParticipant(TaskId(1))
	if got := a.Participants(); len(got) != 0 {
		t.Fatalf("expected no participants after remove, got %v", got)
	}
}
