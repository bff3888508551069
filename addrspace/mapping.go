package addrspace

import "fmt"

// PageSize is the architecture page size this shadow assumes. The core
// targets 32/64-bit x86 only (spec.md Non-goals), where this is always 4096.
const PageSize = 4096

// Prot is the RWX protection bitmask of a mapping.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

func (p Prot) String() string {
	r, w, x := "-", "-", "-"
	if p&ProtRead != 0 {
		r = "r"
	}
	if p&ProtWrite != 0 {
		w = "w"
	}
	if p&ProtExec != 0 {
		x = "x"
	}
	return r + w + x
}

// Flags is the documented subset of mmap flag bits a Mapping may carry.
// Only these bits are ever stored; anything else is masked off at
// construction (spec.md §3 invariant).
type Flags uint8

const (
	FlagPrivate Flags = 1 << iota
	FlagShared
	FlagAnonymous
	FlagNoReserve
	FlagStack
)

const allowedFlags = FlagPrivate | FlagShared | FlagAnonymous | FlagNoReserve | FlagStack

// Mapping is a half-open, page-aligned virtual address range bound to one
// MappedResource, with protection, flag, and backing-offset metadata.
type Mapping struct {
	Start    uintptr
	End      uintptr // exclusive
	Prot     Prot
	Flags    Flags
	Offset   uint64 // multiple of PageSize
	Resource MappedResource
}

// Length returns End - Start.
func (m Mapping) Length() uintptr { return m.End - m.Start }

// Contains reports whether addr falls within [Start, End).
func (m Mapping) Contains(addr uintptr) bool {
	return addr >= m.Start && addr < m.End
}

// Overlaps reports whether [start, start+len) intersects [m.Start, m.End).
func (m Mapping) Overlaps(start uintptr, length uintptr) bool {
	end := start + length
	return m.Start < end && start < m.End
}

// NewMapping validates and constructs a Mapping, masking flags to the
// documented set and page-aligning length. Violations of the documented
// invariants (start > end, misaligned length/offset) are programming
// errors and panic, per spec.md §7.
func NewMapping(start uintptr, length uintptr, prot Prot, flags Flags, offset uint64, resource MappedResource) Mapping {
	length = alignLength(length)
	end := start + length
	m := Mapping{Start: start, End: end, Prot: prot, Flags: flags & allowedFlags, Offset: offset, Resource: resource}
	m.checkInvariants("NewMapping")
	return m
}

func alignLength(length uintptr) uintptr {
	return (length + PageSize - 1) &^ (PageSize - 1)
}

func isPageAligned(v uintptr) bool { return v%PageSize == 0 }

func (m Mapping) checkInvariants(op string) {
	if m.Start > m.End {
		invariantf(op, "start 0x%x > end 0x%x", m.Start, m.End)
	}
	if !isPageAligned(m.Start) {
		invariantf(op, "start 0x%x is not page-aligned", m.Start)
	}
	if (m.End-m.Start)%PageSize != 0 {
		invariantf(op, "length %d is not a multiple of the page size", m.End-m.Start)
	}
	if m.Offset%PageSize != 0 {
		invariantf(op, "offset %d is not a multiple of the page size", m.Offset)
	}
}

// withRange returns a copy of m restricted to [start, end), keeping prot,
// flags, and resource, and adjusting the offset per the shift rule of
// spec.md §4.1 ("offset adjustment rule"): real-device mappings shift their
// offset by the same delta as the start address; pseudo-devices always
// carry offset 0, since they have no meaningful file offset.
func (m Mapping) withRange(start, end uintptr) Mapping {
	n := m
	n.Start = start
	n.End = end
	if m.Resource.Id.IsRealDevice() {
		delta := int64(start) - int64(m.Start)
		n.Offset = uint64(int64(m.Offset) + delta)
	} else {
		n.Offset = 0
	}
	return n
}

func (m Mapping) String() string {
	return fmt.Sprintf("[0x%x-0x%x) %v %s off=0x%x %s", m.Start, m.End, m.Prot, flagsString(m.Flags), m.Offset, m.Resource.Name)
}

func flagsString(f Flags) string {
	s := ""
	if f&FlagPrivate != 0 {
		s += "p"
	}
	if f&FlagShared != 0 {
		s += "s"
	}
	if f&FlagAnonymous != 0 {
		s += "a"
	}
	if f&FlagNoReserve != 0 {
		s += "n"
	}
	if f&FlagStack != 0 {
		s += "k"
	}
	if s == "" {
		return "-"
	}
	return s
}

// coalescable implements the coalescing predicate of spec.md §4.1: adjacent
// lower mapping L and higher mapping R merge iff all four numbered
// conditions hold, using the shadow's own (inode-strict) resource identity.
func coalescable(l, r Mapping) bool {
	return coalescableUsing(l, r, ResourceId.Equivalent)
}

// coalescableUsing is coalescable parameterized on the resource-equivalence
// function, so the verifier's LCD merge (verify.go) can reuse the same four
// numbered conditions against the kernel's looser KernelEquivalent.
func coalescableUsing(l, r Mapping, equiv func(ResourceId, ResourceId) bool) bool {
	if l.End != r.Start {
		return false
	}
	if l.Flags != r.Flags || l.Prot != r.Prot {
		return false
	}
	forceMerge := r.Resource.IsEmptyMmapedRegionPlaceholder()
	if !forceMerge && !equiv(l.Resource.Id, r.Resource.Id) {
		return false
	}
	if l.Resource.Id.IsRealDevice() {
		if l.Offset+uint64(l.Length()) != r.Offset {
			return false
		}
	}
	return true
}
