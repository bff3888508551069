// Command shadowspace forks and traces a target program, replicating its
// address-space changes into an addrspace.AddressSpace as the teacher's
// main.go replicates a traced program's symbol table and control-flow
// graph, and optionally verifies the shadow against the kernel's own
// /proc/<pid>/maps report on request.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/andreasgal/rr/addrspace"
	"github.com/andreasgal/rr/internal/logx"
	"github.com/andreasgal/rr/task"
)

var (
	program     string
	verifyEvery bool
	dumpOnExit  bool
)

func init() {
	flag.StringVar(&program, "exec", "", "program to run and shadow")
	flag.StringVar(&program, "e", "", "program to run and shadow")
	flag.BoolVar(&verifyEvery, "verify", false, "verify the shadow against /proc/<pid>/maps after every syscall")
	flag.BoolVar(&dumpOnExit, "dump", true, "dump the final shadow table on exit")
}

var log = logx.NewChannel("shadowspace")

func main() {
	flag.Parse()
	if program == "" && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no program given")
		os.Exit(1)
	}
	if program == "" {
		program = flag.Arg(0)
	}
	argv := append([]string{program}, flag.Args()...)

	if err := run(argv); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

// run forks+execs argv[0] under ptrace and drives an AddressSpace from its
// mmap/mprotect/munmap/brk syscall activity until it exits.
func run(argv []string) error {
	runtime.LockOSThread()

	pid, err := forkExecTraced(argv)
	if err != nil {
		return fmt.Errorf("shadowspace: starting %s: %w", argv[0], err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("shadowspace: initial wait: %w", err)
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD); err != nil {
		return fmt.Errorf("shadowspace: PTRACE_SETOPTIONS: %w", err)
	}

	space := addrspace.NewAddressSpace(addrspace.OriginExeced)
	if err := space.AfterExec(task.NewProcMapsSource(pid), program); err != nil {
		return fmt.Errorf("shadowspace: seeding shadow from initial image: %w", err)
	}

	mem := task.New(pid)
	if err := mem.OpenMemFile(); err != nil {
		log.Warning("falling back to PTRACE_PEEKTEXT/POKETEXT: %v", err)
	}
	tid := addrspace.TaskId(pid)
	space.AddParticipant(tid, mem)

	// The tracee sits at its post-exec SIGTRAP stop; advance it to the first
	// syscall-entry stop, where syscallStep expects to start.
	if err := unix.PtraceSyscall(pid, 0); err != nil {
		return fmt.Errorf("shadowspace: PTRACE_SYSCALL (to first enter): %w", err)
	}
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("shadowspace: wait for first syscall-enter: %w", err)
	}

	for {
		exited, err := syscallStep(pid, space, tid)
		if err != nil {
			return err
		}
		if exited {
			break
		}
		if verifyEvery {
			if err := space.Verify(task.NewProcMapsSource(pid)); err != nil {
				log.Warning("verification failed: %v", err)
			}
		}
	}

	if dumpOnExit {
		fmt.Printf("# shadow for %s (%s)\n", basename(program), space.ID())
		fmt.Print(space.Dump())
	}
	return nil
}

// forkExecTraced forks and, in the child, requests PTRACE_TRACEME before
// exec'ing argv[0] -- the same fork-then-PTRACE_TRACEME-then-exec sequence
// the teacher's debug package wraps in its own Fork/Exec helpers, expressed
// directly over syscall.ForkExec here since no teacher-owned ptrace library
// survives the transformation (see DESIGN.md's dropped-dependencies list).
func forkExecTraced(argv []string) (int, error) {
	attr := &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd()},
		Sys:   &syscall.SysProcAttr{Ptrace: true},
	}
	pid, err := syscall.ForkExec(argv[0], argv, attr)
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// syscallStep runs the tracee to its next syscall-stop (via
// PTRACE_O_TRACESYSGOOD's distinguishable SIGTRAP|0x80), decodes
// mmap/mprotect/munmap/brk entry and exit pairs, and applies their effect
// to space. Returns exited=true once the tracee has terminated.
func syscallStep(pid int, space *addrspace.AddressSpace, tid addrspace.TaskId) (exited bool, err error) {
	var enter unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &enter); err != nil {
		return false, fmt.Errorf("shadowspace: PTRACE_GETREGS (enter): %w", err)
	}
	nr := enter.Orig_rax

	if err := unix.PtraceSyscall(pid, 0); err != nil {
		return false, fmt.Errorf("shadowspace: PTRACE_SYSCALL (enter->exit): %w", err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return false, fmt.Errorf("shadowspace: wait after syscall-enter: %w", err)
	}
	if ws.Exited() {
		return true, nil
	}

	var exit unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &exit); err != nil {
		return false, fmt.Errorf("shadowspace: PTRACE_GETREGS (exit): %w", err)
	}
	applySyscallEffect(space, tid, nr, enter, exit)

	if err := unix.PtraceSyscall(pid, 0); err != nil {
		return false, fmt.Errorf("shadowspace: PTRACE_SYSCALL (exit->next enter): %w", err)
	}
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return false, fmt.Errorf("shadowspace: wait after syscall-exit: %w", err)
	}
	return ws.Exited(), nil
}

// applySyscallEffect updates space per the observed effect of one retired
// mmap/mprotect/munmap/brk syscall, reading arguments from the x86-64
// syscall ABI registers (rdi, rsi, rdx, r10) and the return value from rax.
func applySyscallEffect(space *addrspace.AddressSpace, tid addrspace.TaskId, nr uint64, enter, exit unix.PtraceRegs) {
	switch nr {
	case unix.SYS_MMAP:
		addr := exit.Rax
		if int64(addr) < 0 {
			return
		}
		length := enter.Rsi
		prot := addrspace.Prot(enter.Rdx)
		flags := mmapFlags(enter.R10)
		resource := addrspace.MappedResource{Id: addrspace.NewAnonymousResourceId()}
		space.Table.Map(uintptr(addr), uintptr(length), prot, flags, enter.R9, resource)
	case unix.SYS_MUNMAP:
		if int64(exit.Rax) != 0 {
			return
		}
		space.Table.Unmap(uintptr(enter.Rdi), uintptr(enter.Rsi))
	case unix.SYS_MPROTECT:
		if int64(exit.Rax) != 0 {
			return
		}
		space.Table.Protect(uintptr(enter.Rdi), uintptr(enter.Rsi), addrspace.Prot(enter.Rdx))
	case unix.SYS_BRK:
		if exit.Rax != 0 {
			space.Brk(uintptr(exit.Rax))
		}
	}
}

// mmapFlags maps the raw mmap(2) flags word down to the documented subset
// addrspace.Mapping stores (spec.md §3 invariant -- undocumented bits are
// masked off at construction, so this only needs to set the ones that
// matter for coalescing and dump output).
func mmapFlags(raw uint64) addrspace.Flags {
	var f addrspace.Flags
	if raw&unix.MAP_SHARED != 0 {
		f |= addrspace.FlagShared
	} else {
		f |= addrspace.FlagPrivate
	}
	if raw&unix.MAP_ANONYMOUS != 0 {
		f |= addrspace.FlagAnonymous
	}
	if raw&unix.MAP_NORESERVE != 0 {
		f |= addrspace.FlagNoReserve
	}
	if raw&unix.MAP_STACK != 0 {
		f |= addrspace.FlagStack
	}
	return f
}

// basename mirrors the teacher's own helper, used only in the dump header
// printed by run.
func basename(s string) string {
	if i := strings.LastIndex(s, "/"); i != -1 {
		return s[i+1:]
	}
	return s
}
