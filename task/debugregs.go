package task

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/andreasgal/rr/addrspace"
)

// debugRegOffset is offsetof(struct user, u_debugreg) on x86_64 Linux: the
// 216-byte user_regs_struct, the u_fpvalid int padded to 8 bytes, the
// 512-byte user_fpregs_struct, 80 bytes of size/address/signal fields and
// pointers, and the 32-byte u_comm bring it to 848. PTRACE_PEEKUSER/
// PTRACE_POKEUSER address the debug registers at this offset plus 8*slot
// (spec.md Non-goals restrict this model to 32/64-bit x86, so one fixed
// offset is sufficient -- no ARM/other-arch variant is needed).
const debugRegOffset = 848

// dr7Control builds the DR7 control register value selecting which of the
// four debug address registers are locally enabled, their access type
// (00=exec, 01=write, 11=read-write) and length (00=1 byte, 01=2 bytes,
// 11=4 bytes, 10=8 bytes), matching the x86 debug-register ABI rr itself
// programs.
func dr7Control(slots []addrspace.DebugSlot) uint64 {
	var dr7 uint64
	for i, s := range slots {
		if s.Length == 0 && s.Access == 0 {
			continue
		}
		dr7 |= 1 << uint(2*i) // local-enable bit Lx

		var rw uint64
		switch s.Access {
		case addrspace.SlotExec:
			rw = 0b00
		case addrspace.SlotWrite:
			rw = 0b01
		case addrspace.SlotReadWrite:
			rw = 0b11
		}

		var ln uint64
		switch s.Length {
		case 1:
			ln = 0b00
		case 2:
			ln = 0b01
		case 8:
			ln = 0b10
		default:
			ln = 0b11 // 4 bytes
		}

		shift := uint(16 + 4*i)
		dr7 |= rw << shift
		dr7 |= ln << (shift + 2)
	}
	return dr7
}

// SetDebugRegs programs pid's DR0-DR3 address registers and DR7 control
// register via PTRACE_POKEUSER, implementing addrspace.TaskMemory's
// hardware-watchpoint side. slots is the derived list from watchpoints.go and
// may hold anywhere from zero to addrspace.HardwareSlotCount entries; unused
// registers are cleared. A longer list is rejected.
func (m *Memory) SetDebugRegs(slots []addrspace.DebugSlot) error {
	if len(slots) > addrspace.HardwareSlotCount {
		return fmt.Errorf("task: SetDebugRegs: at most %d slots, got %d", addrspace.HardwareSlotCount, len(slots))
	}
	padded := make([]addrspace.DebugSlot, addrspace.HardwareSlotCount)
	copy(padded, slots)
	slots = padded
	for i, s := range slots {
		if err := m.pokeUser(debugRegOffset+8*uintptr(i), uint64(s.Start)); err != nil {
			return fmt.Errorf("task: programming dr%d: %w", i, err)
		}
	}
	if err := m.pokeUser(debugRegOffset+8*7, dr7Control(slots)); err != nil {
		return fmt.Errorf("task: programming dr7: %w", err)
	}
	return nil
}

func (m *Memory) pokeUser(offset uintptr, value uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(unix.PTRACE_POKEUSR), uintptr(m.Pid), offset, uintptr(value), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
