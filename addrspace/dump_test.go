package addrspace

import (
	"strings"
	"testing"
)

func TestDumpLineFormat(t *testing.T) {
	m := NewMapping(0x1000, 0x1000, ProtRead|ProtWrite, FlagPrivate|FlagAnonymous, 0,
		MappedResource{Id: NewPseudoResourceId(KindHeap), Name: "[heap]"})

	line := DumpLine(m)
	if !strings.HasPrefix(line, "1000-2000 rw-p") {
		t.Fatalf("unexpected dump line prefix: %q", line)
	}
	if !strings.HasSuffix(line, "(heap)") {
		t.Fatalf("expected trailing heap tag: %q", line)
	}
}

func TestDumpLineOmitsTagForOrdinaryMapping(t *testing.T) {
	m := NewMapping(0x1000, 0x1000, ProtRead, FlagPrivate, 0,
		MappedResource{Id: NewRealResourceId(8, 1, 5), Name: "/lib/libc.so"})

	line := DumpLine(m)
	if strings.HasSuffix(strings.TrimRight(line, " "), ")") {
		t.Fatalf("ordinary mapping should not carry a pseudo tag: %q", line)
	}
}
