package addrspace

import "fmt"

// pseudoTag returns the trailing dump annotation for a mapping's pseudo
// kind, per spec.md §6's closed set of tags.
func pseudoTag(k Kind) string {
	switch k {
	case KindHeap:
		return "(heap)"
	case KindStack:
		return "(stack)"
	case KindVDSO:
		return "(vdso)"
	case KindSyscallbuf:
		return "(syscallbuf)"
	case KindSharedMmapFile:
		return "(shmmap)"
	default:
		return ""
	}
}

// DumpLine renders one mapping as
//
//	START-END RWXP OFFSET MAJOR:MINOR INODE NAME PSEUDO-TAG
//
// matching the kernel's own /proc/pid/maps report format (spec.md §6):
// RWXP is four characters (letter or '-'), OFFSET is eight lowercase hex
// digits, MAJOR/MINOR are two lowercase hex digits each, INODE is decimal
// right-padded to 10 characters, and PSEUDO-TAG is one of the closed set of
// annotations (or empty for ordinary mappings).
func DumpLine(m Mapping) string {
	share := "-"
	if m.Flags&FlagShared != 0 {
		share = "s"
	} else if m.Flags&FlagPrivate != 0 {
		share = "p"
	}
	perms := fmt.Sprintf("%s%s", m.Prot, share)

	return fmt.Sprintf("%x-%x %s %08x %02x:%02x %-10d %s %s",
		m.Start, m.End, perms, m.Offset,
		m.Resource.Id.DeviceMajor, m.Resource.Id.DeviceMinor,
		m.Resource.Id.Inode, m.Resource.Name, pseudoTag(m.Resource.Id.PseudoKind))
}
