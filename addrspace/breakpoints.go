package addrspace

import (
	"fmt"

	"github.com/andreasgal/rr/internal/insn"
	"github.com/andreasgal/rr/internal/logx"
)

var breakpointLog = logx.NewChannel("breakpoints")

// TrapOpcode is the x86 single-byte software breakpoint instruction
// ("int3"). Writing it over the first byte of an instruction causes the
// tracee to be notified via SIGTRAP the next time it is executed.
const TrapOpcode = 0xCC

// TrapInsnSize is the length, in bytes, of the trap instruction itself.
// After a tracee traps, its instruction pointer sits one byte past the
// breakpoint address; TypeForRetiredInsn undoes that offset.
const TrapInsnSize = 1

// BreakpointKind distinguishes the two independent subscribers a software
// breakpoint can have: the debugger (User) and the replay machinery
// (Internal). User takes precedence when both are present, so the debugger
// gets to dispatch before internal replay logic (spec.md §4.2).
type BreakpointKind int

const (
	BreakpointNone BreakpointKind = iota
	BreakpointInternal
	BreakpointUser
)

func (k BreakpointKind) String() string {
	switch k {
	case BreakpointInternal:
		return "internal"
	case BreakpointUser:
		return "user"
	default:
		return "none"
	}
}

// TaskMemory is the external collaborator the core uses to touch a
// participant task's memory and hardware debug state. Implementations live
// outside this package (see the task package) and talk to the real kernel
// via ptrace; the core only ever calls through this narrow interface.
type TaskMemory interface {
	// ReadBytes reads len(buf) bytes from addr into buf, returning the
	// number of bytes actually read.
	ReadBytes(addr uintptr, buf []byte) (int, error)
	// WriteBytes writes buf to addr.
	WriteBytes(addr uintptr, buf []byte) error
	// SetDebugRegs programs the task's hardware debug registers with the
	// given slot list, or fails if the hardware pool is exhausted.
	SetDebugRegs(slots []DebugSlot) error
}

type breakpointRecord struct {
	savedByte byte
	internal  int
	user      int
}

// BreakpointRegistry maps instruction addresses to refcounted
// software-breakpoint records, saving and restoring the overwritten
// instruction byte across the 0<->positive refcount transition.
type BreakpointRegistry struct {
	records map[uintptr]*breakpointRecord
}

// NewBreakpointRegistry returns an empty registry.
func NewBreakpointRegistry() *BreakpointRegistry {
	return &BreakpointRegistry{records: make(map[uintptr]*breakpointRecord)}
}

// Set installs (or bumps the refcount of) a breakpoint of the given kind at
// address, using mem to read/write the tracee's memory. Returns false (with
// no record created) if the initial byte-save read fails -- e.g. the page
// isn't mapped.
func (r *BreakpointRegistry) Set(mem TaskMemory, address uintptr, kind BreakpointKind) bool {
	if kind != BreakpointInternal && kind != BreakpointUser {
		invariant("BreakpointRegistry.Set", "kind must be internal or user")
	}
	rec, ok := r.records[address]
	if !ok {
		var buf [1]byte
		n, err := mem.ReadBytes(address, buf[:])
		if err != nil || n != 1 {
			return false
		}
		rec = &breakpointRecord{savedByte: buf[0]}
		if err := mem.WriteBytes(address, []byte{TrapOpcode}); err != nil {
			return false
		}
		r.records[address] = rec
	}
	bumpKind(rec, kind, 1)
	return true
}

// Remove decrements kind's refcount at address (which must have been
// positive); once both refcounts reach zero the saved byte is restored and
// the record destroyed.
func (r *BreakpointRegistry) Remove(mem TaskMemory, address uintptr, kind BreakpointKind) error {
	rec, ok := r.records[address]
	if !ok {
		invariantf("BreakpointRegistry.Remove", "no breakpoint at 0x%x", address)
	}
	bumpKind(rec, kind, -1)
	if rec.internal == 0 && rec.user == 0 {
		delete(r.records, address)
		r.warnIfClobbered(mem, address, rec.savedByte)
		if err := mem.WriteBytes(address, []byte{rec.savedByte}); err != nil {
			return fmt.Errorf("addrspace: restoring instruction byte at 0x%x: %w", address, err)
		}
	}
	return nil
}

// warnIfClobbered is a diagnostic-only check: if the byte currently sitting
// at address is no longer TrapOpcode, the tracee has overwritten its own
// breakpointed instruction underneath us (self-modifying code). This never
// blocks the restore -- it only helps whoever reads the log understand why
// the restored byte might not reflect what the tracee now expects.
func (r *BreakpointRegistry) warnIfClobbered(mem TaskMemory, address uintptr, savedByte byte) {
	var cur [16]byte
	n, err := mem.ReadBytes(address, cur[:])
	if err != nil || n < 1 || cur[0] == TrapOpcode {
		return
	}
	mode := 64
	if Supervisor32Bit {
		mode = 32
	}
	length, text, derr := insn.DescribeAt(cur[:n], mode)
	if derr != nil {
		breakpointLog.Warning("breakpoint at 0x%x clobbered (byte 0x%02x, saved 0x%02x): %v", address, cur[0], savedByte, derr)
		return
	}
	breakpointLog.Warning("breakpoint at 0x%x clobbered (saved 0x%02x): now %q (%d bytes)", address, savedByte, text, length)
}

func bumpKind(rec *breakpointRecord, kind BreakpointKind, delta int) {
	switch kind {
	case BreakpointInternal:
		rec.internal += delta
		if rec.internal < 0 {
			invariant("BreakpointRegistry", "internal refcount went negative")
		}
	case BreakpointUser:
		rec.user += delta
		if rec.user < 0 {
			invariant("BreakpointRegistry", "user refcount went negative")
		}
	default:
		invariant("BreakpointRegistry", "kind must be internal or user")
	}
}

// TypeAt reports the effective breakpoint kind at address: none if no
// record exists, user if the user refcount is positive (user always takes
// precedence), else internal.
func (r *BreakpointRegistry) TypeAt(address uintptr) BreakpointKind {
	rec, ok := r.records[address]
	if !ok {
		return BreakpointNone
	}
	if rec.user > 0 {
		return BreakpointUser
	}
	if rec.internal > 0 {
		return BreakpointInternal
	}
	return BreakpointNone
}

// TypeForRetiredInsn is TypeAt(ip - TrapInsnSize): once a trap retires, the
// tracee's instruction pointer has already advanced past it.
func (r *BreakpointRegistry) TypeForRetiredInsn(ip uintptr) BreakpointKind {
	return r.TypeAt(ip - TrapInsnSize)
}

// SavedByte returns the instruction byte that was overwritten at address,
// and whether a record exists there at all.
func (r *BreakpointRegistry) SavedByte(address uintptr) (byte, bool) {
	rec, ok := r.records[address]
	if !ok {
		return 0, false
	}
	return rec.savedByte, true
}

// ClearAll restores every saved byte unconditionally, regardless of
// refcounts -- used at exec, when the tracee's text is being replaced
// anyway and the addresses are about to become meaningless.
func (r *BreakpointRegistry) ClearAll(mem TaskMemory) error {
	for addr, rec := range r.records {
		if err := mem.WriteBytes(addr, []byte{rec.savedByte}); err != nil {
			return fmt.Errorf("addrspace: clearing breakpoint at 0x%x: %w", addr, err)
		}
	}
	r.records = make(map[uintptr]*breakpointRecord)
	return nil
}

// Len returns the number of distinct breakpoint addresses currently tracked.
func (r *BreakpointRegistry) Len() int { return len(r.records) }
