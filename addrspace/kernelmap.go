package addrspace

import (
	"fmt"
	"strconv"
	"strings"
)

// KernelMapEntry is a raw line, converted to an owned value type, from the
// kernel's per-process map report (spec.md §4.5). Ownership of any
// transiently-allocated line buffer stays with the parser; the caller only
// ever sees this owned copy.
type KernelMapEntry struct {
	Mapping Mapping
}

// KernelMapSource yields an iterator over the kernel's per-process map
// report in canonical kernel order. Implementations live outside this
// package (see task.ProcMapsSource, which reads /proc/<pid>/maps).
type KernelMapSource interface {
	// Lines returns every raw text line of the report, in order.
	Lines() ([]string, error)
}

const vsyscallName = "[vsyscall]"

// max32 is the largest address a 32-bit supervisor can represent (2^32-1).
const max32 = 0xFFFFFFFF

// Supervisor32Bit toggles the 4 GiB range-rejection rule of spec.md §4.5
// point 2. False by default (64-bit supervisor); set true to emulate a
// 32-bit supervisor tracking a 32-bit tracee.
var Supervisor32Bit = false

// ParseKernelMap reads every line from source and converts each into a
// Mapping. The synthetic [vsyscall] entry is recognized and skipped
// entirely (it is not part of the tracee's real address space and its
// address may sit above the 32-bit boundary even on a 32-bit tracee).
// Any entry whose start or end exceeds 2^32-1 while Supervisor32Bit is set
// is a fatal parser malformation (spec.md §7).
func ParseKernelMap(source KernelMapSource) ([]KernelMapEntry, error) {
	lines, err := source.Lines()
	if err != nil {
		return nil, fmt.Errorf("addrspace: reading kernel map report: %w", err)
	}
	entries := make([]KernelMapEntry, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		e, name, err := parseMapLine(line)
		if err != nil {
			return nil, &FatalError{Reason: fmt.Sprintf("kernel map parse error at line %d", i+1), Detail: err.Error()}
		}
		if name == vsyscallName {
			continue
		}
		if Supervisor32Bit && (e.Start > max32 || e.End > max32) {
			return nil, &FatalError{
				Reason: "tracee mapping beyond 4 GiB on a 32-bit supervisor",
				Detail: fmt.Sprintf("%s (0x%x-0x%x)", name, e.Start, e.End),
			}
		}
		entries = append(entries, KernelMapEntry{Mapping: e})
	}
	return entries, nil
}

// parseMapLine parses one line of the form:
//
//	start-end perms offset major:minor inode  name
//
// matching /proc/<pid>/maps, which is the format spec.md §4.5 describes.
func parseMapLine(line string) (Mapping, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, "", fmt.Errorf("too few fields: %q", line)
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Mapping{}, "", fmt.Errorf("malformed address range: %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Mapping{}, "", fmt.Errorf("malformed start address: %w", err)
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Mapping{}, "", fmt.Errorf("malformed end address: %w", err)
	}

	permString := fields[1]
	prot, flags, err := parsePerms(permString)
	if err != nil {
		return Mapping{}, "", err
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Mapping{}, "", fmt.Errorf("malformed offset: %w", err)
	}

	devParts := strings.SplitN(fields[3], ":", 2)
	if len(devParts) != 2 {
		return Mapping{}, "", fmt.Errorf("malformed device field: %q", fields[3])
	}
	major, err := strconv.ParseUint(devParts[0], 16, 32)
	if err != nil {
		return Mapping{}, "", fmt.Errorf("malformed device major: %w", err)
	}
	minor, err := strconv.ParseUint(devParts[1], 16, 32)
	if err != nil {
		return Mapping{}, "", fmt.Errorf("malformed device minor: %w", err)
	}

	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Mapping{}, "", fmt.Errorf("malformed inode: %w", err)
	}

	name := ""
	if len(fields) > 5 {
		name = strings.TrimSpace(strings.Join(fields[5:], " "))
	}

	var resourceId ResourceId
	switch {
	case name == "[heap]":
		resourceId = NewPseudoResourceId(KindHeap)
	case name == "[stack]" || strings.HasPrefix(name, "[stack:"):
		resourceId = NewPseudoResourceId(KindStack)
		flags |= FlagStack
	case name == "[vdso]":
		resourceId = NewPseudoResourceId(KindVDSO)
	case name == "[scratch]":
		resourceId = NewPseudoResourceId(KindScratch)
	case major == 0 && inode == 0:
		resourceId = NewAnonymousResourceId()
		flags |= FlagAnonymous
	default:
		resourceId = NewRealResourceId(uint32(major), uint32(minor), inode)
	}

	m := NewMapping(uintptr(start), uintptr(end-start), prot, flags, offset, MappedResource{Id: resourceId, Name: name})
	return m, name, nil
}

func parsePerms(s string) (Prot, Flags, error) {
	if len(s) != 4 {
		return 0, 0, fmt.Errorf("malformed permission field: %q", s)
	}
	var prot Prot
	switch s[0] {
	case 'r':
		prot |= ProtRead
	case '-':
	default:
		return 0, 0, fmt.Errorf("bad read bit in %q", s)
	}
	switch s[1] {
	case 'w':
		prot |= ProtWrite
	case '-':
	default:
		return 0, 0, fmt.Errorf("bad write bit in %q", s)
	}
	switch s[2] {
	case 'x':
		prot |= ProtExec
	case '-':
	default:
		return 0, 0, fmt.Errorf("bad exec bit in %q", s)
	}
	var flags Flags
	switch s[3] {
	case 'p':
		flags |= FlagPrivate
	case 's':
		flags |= FlagShared
	default:
		return 0, 0, fmt.Errorf("bad sharing bit in %q", s)
	}
	return prot, flags, nil
}
