package addrspace

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	set "github.com/hashicorp/go-set/v2"
)

// Origin records whether an AddressSpace was populated from a fresh exec
// image or inherited from a cloning parent (spec.md §3, "Address-space
// lifecycle").
type Origin int

const (
	OriginExeced Origin = iota
	OriginCloned
)

// TaskId identifies a participant task (thread) sharing this address space.
// The core never dereferences it beyond identity/ordering; the supervisor
// (out of scope) owns the mapping from TaskId to its real ptrace handle.
type TaskId int

// Participant couples a TaskId with the TaskMemory used to reach it.
type Participant struct {
	Id     TaskId
	Memory TaskMemory
}

// AddressSpace composes the mapping table, breakpoint and watchpoint
// registries, the set of participant tasks sharing this virtual memory, and
// the well-known region bookkeeping (heap, exe image, vdso, libc,
// libpthread, syscallbuf) that the supervisor's syscall dispatch and replay
// logic depend on.
type AddressSpace struct {
	id uuid.UUID

	Table       *MappingTable
	Breakpoints *BreakpointRegistry
	Watchpoints *WatchpointRegistry

	origin Origin

	heap            *Mapping
	exeImagePath    string
	vdsoStart       *Mapping
	libcStart       *Mapping
	libpthreadStart *Mapping
	syscallbufLib   *Mapping

	participants   *set.Set[TaskId]
	participantMem map[TaskId]TaskMemory
}

// NewAddressSpace constructs an empty AddressSpace with the given origin.
// Callers must follow up with AfterExec (for OriginExeced) or a manual copy
// from the parent's table (for OriginCloned) per spec.md §3.
func NewAddressSpace(origin Origin) *AddressSpace {
	return &AddressSpace{
		id:             uuid.New(),
		Table:          NewMappingTable(),
		Breakpoints:    NewBreakpointRegistry(),
		Watchpoints:    NewWatchpointRegistry(),
		origin:         origin,
		participants:   set.New[TaskId](4),
		participantMem: make(map[TaskId]TaskMemory),
	}
}

// ID is a debug-friendly session identifier surfaced only in dump/log
// output; it never participates in equality or lookup.
func (a *AddressSpace) ID() uuid.UUID { return a.id }

// Origin reports whether this space was execed fresh or cloned from a
// parent.
func (a *AddressSpace) Origin() Origin { return a.origin }

// AddParticipant registers task as sharing this address space and
// reprograms watchpoints so the newcomer's debug registers match the
// derived set (spec.md §4.4 after_clone).
func (a *AddressSpace) AddParticipant(id TaskId, mem TaskMemory) {
	a.participants.Insert(id)
	a.participantMem[id] = mem
	a.refreshTaskList()
	a.Watchpoints.AfterClone()
}

// RemoveParticipant drops task from the participant set. The AddressSpace
// itself is destroyed by the caller once its last participant is gone
// (spec.md §3); this method only maintains the set.
func (a *AddressSpace) RemoveParticipant(id TaskId) {
	a.participants.Remove(id)
	delete(a.participantMem, id)
	a.refreshTaskList()
}

// Participants returns the current participant task ids.
func (a *AddressSpace) Participants() []TaskId {
	return a.participants.Slice()
}

func (a *AddressSpace) refreshTaskList() {
	mems := make([]TaskMemory, 0, len(a.participantMem))
	for _, m := range a.participantMem {
		mems = append(mems, m)
	}
	a.Watchpoints.SetTasks(mems)
}

// Heap returns the recorded heap mapping, if resolved.
func (a *AddressSpace) Heap() (Mapping, bool) {
	if a.heap == nil {
		return Mapping{}, false
	}
	return *a.heap, true
}

// Vdso returns the recorded vdso mapping, if one has been seen.
func (a *AddressSpace) Vdso() (Mapping, bool) {
	if a.vdsoStart == nil {
		return Mapping{}, false
	}
	return *a.vdsoStart, true
}

// HasLibc reports whether a libc.so/libc-* mapping has been recorded.
func (a *AddressSpace) HasLibc() bool { return a.libcStart != nil }

// Libc returns the recorded libc mapping. HasLibc must be true.
func (a *AddressSpace) Libc() Mapping {
	if a.libcStart == nil {
		invariant("AddressSpace.Libc", "no libc mapping recorded")
	}
	return *a.libcStart
}

// HasLibpthread reports whether a libpthread.so/libpthread-* mapping has
// been recorded.
func (a *AddressSpace) HasLibpthread() bool { return a.libpthreadStart != nil }

// Libpthread returns the recorded libpthread mapping. HasLibpthread must be
// true.
func (a *AddressSpace) Libpthread() Mapping {
	if a.libpthreadStart == nil {
		invariant("AddressSpace.Libpthread", "no libpthread mapping recorded")
	}
	return *a.libpthreadStart
}

// HasBreakpoints reports whether any software breakpoint is currently set
// anywhere in this address space.
func (a *AddressSpace) HasBreakpoints() bool { return a.Breakpoints.Len() > 0 }

// HasWatchpoints reports whether any hardware watchpoint is currently set
// anywhere in this address space.
func (a *AddressSpace) HasWatchpoints() bool { return a.Watchpoints.Len() > 0 }

// Brk implements the brk() syscall's effect on the shadow (spec.md §4.4):
// requires heap.start <= newEnd, no-ops if newEnd == heap.end, otherwise
// records newEnd as the heap end and replays the update as a map() over the
// heap range with read|write, private|anonymous.
func (a *AddressSpace) Brk(newEnd uintptr) {
	if a.heap == nil {
		invariant("AddressSpace.Brk", "heap start is not yet known")
	}
	if newEnd < a.heap.Start {
		invariantf("AddressSpace.Brk", "new brk 0x%x precedes heap start 0x%x", newEnd, a.heap.Start)
	}
	if newEnd == a.heap.End {
		return
	}
	resource := MappedResource{Id: NewPseudoResourceId(KindHeap), Name: "[heap]"}
	length := newEnd - a.heap.Start
	a.Table.Map(a.heap.Start, length, ProtRead|ProtWrite, FlagPrivate|FlagAnonymous, 0, resource)
	heap := Mapping{Start: a.heap.Start, End: newEnd, Prot: ProtRead | ProtWrite,
		Flags: FlagPrivate | FlagAnonymous, Resource: resource}
	a.heap = &heap
}

// AfterExec populates the shadow from the kernel's authoritative map report
// once the tracee is known to be in a fresh post-exec image, detecting
// well-known regions along the way (spec.md §4.4, §4.6).
func (a *AddressSpace) AfterExec(source KernelMapSource, exeImagePath string) error {
	a.exeImagePath = exeImagePath
	a.Table = NewMappingTable()
	a.heap = nil
	a.vdsoStart = nil
	a.libcStart = nil
	a.libpthreadStart = nil
	a.syscallbufLib = nil

	entries, err := ParseKernelMap(source)
	if err != nil {
		return err
	}
	for _, e := range entries {
		m := e.Mapping
		a.Table.Map(m.Start, m.Length(), m.Prot, m.Flags, m.Offset, m.Resource)
		a.detectWellKnown(m)
	}
	return nil
}

// AfterClone re-programs watchpoints for a newly-joined participant
// (spec.md §4.4).
func (a *AddressSpace) AfterClone() bool {
	return a.Watchpoints.AfterClone()
}

// Replace moves any cross-address-space resources this space inherits from
// the kernel when an exec replaces `other`'s address space with this one
// for the same process (spec.md §4.4). Breakpoints physically exist in the
// new image's text (or don't, if the text was replaced), so only the
// well-known naming carries over; the mapping table itself is repopulated
// separately via AfterExec.
//
// The one other cross-address-space resource the original supervisor moves
// on replacement -- its open /proc/pid/mem descriptor (child_mem_fd) -- is
// a per-task, not a per-AddressSpace, concern in this port: since the pid
// is unchanged across exec, the caller hands it off directly between the
// old and new task.Memory values via task.Memory.AdoptMemFile, in tandem
// with this call.
func (a *AddressSpace) Replace(other *AddressSpace) {
	if other == nil {
		return
	}
	if a.exeImagePath == "" {
		a.exeImagePath = other.exeImagePath
	}
}

func (a *AddressSpace) detectWellKnown(m Mapping) {
	switch {
	case m.Resource.Name == "[heap]":
		mm := m
		a.heap = &mm
	case m.Resource.Name == "[stack]":
		// pseudo-kind already carries Stack via the parser; nothing further.
	case m.Resource.Name == "[vdso]":
		mm := m
		a.vdsoStart = &mm
	case isSyscallbufLibrary(m.Resource.Name) && m.Prot&ProtExec != 0:
		mm := m
		a.syscallbufLib = &mm
	case isLibc(m.Resource.Name):
		if a.libcStart == nil {
			mm := m
			a.libcStart = &mm
		}
	case isLibpthread(m.Resource.Name):
		if a.libpthreadStart == nil {
			mm := m
			a.libpthreadStart = &mm
		}
	}
	if a.heap == nil && a.exeImagePath != "" && m.Resource.Name == a.exeImagePath &&
		m.Prot&ProtRead != 0 && m.Prot&ProtWrite != 0 && m.Prot&ProtExec == 0 {
		// Before a real [heap] region is seen, guess the heap start as the end
		// of the first writable-readable-non-executable exe-image mapping.
		guess := Mapping{Start: m.End, End: m.End, Prot: ProtRead | ProtWrite,
			Flags: FlagPrivate | FlagAnonymous, Resource: MappedResource{Id: NewPseudoResourceId(KindHeap), Name: "[heap]"}}
		a.heap = &guess
	}
}

const syscallbufLibraryPattern = "syscallbuf-syms"

func isSyscallbufLibrary(name string) bool {
	return strings.Contains(name, syscallbufLibraryPattern) || strings.Contains(name, "librrpreload")
}

func isLibc(name string) bool {
	base := baseName(name)
	return strings.HasPrefix(base, "libc-") || strings.HasPrefix(base, "libc.so")
}

func isLibpthread(name string) bool {
	base := baseName(name)
	return strings.HasPrefix(base, "libpthread-") || strings.HasPrefix(base, "libpthread.so")
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Dump emits a human-readable per-entry line for every mapping, matching
// the kernel's report format (spec.md §6).
func (a *AddressSpace) Dump() string {
	var b strings.Builder
	for _, m := range a.Table.Entries() {
		b.WriteString(DumpLine(m))
		b.WriteByte('\n')
	}
	return b.String()
}

// String implements fmt.Stringer for log/diagnostic contexts.
func (a *AddressSpace) String() string {
	return fmt.Sprintf("AddressSpace{%s origin=%v participants=%d entries=%d}",
		a.id, a.origin, a.participants.Size(), len(a.Table.Entries()))
}
