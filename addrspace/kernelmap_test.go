package addrspace

import "testing"

type stringSource []string

func (s stringSource) Lines() ([]string, error) { return s, nil }

func TestParseKernelMapBasic(t *testing.T) {
	src := stringSource{
		"00400000-00401000 r-xp 00000000 08:01 131073  /bin/cat",
		"00601000-00602000 rw-p 00001000 08:01 131073  /bin/cat",
		"7f0000000000-7f0000021000 rw-p 00000000 00:00 0 ",
		"7ffd00000000-7ffd00021000 rw-p 00000000 00:00 0          [stack]",
		"ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0  [vsyscall]",
	}
	entries, err := ParseKernelMap(src)
	if err != nil {
		t.Fatalf("ParseKernelMap: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected [vsyscall] to be dropped, got %d entries: %v", len(entries), entries)
	}

	exe := entries[0].Mapping
	if exe.Start != 0x400000 || exe.Prot != (ProtRead|ProtExec) || exe.Flags&FlagPrivate == 0 {
		t.Fatalf("exe text mapping parsed wrong: %+v", exe)
	}
	if exe.Resource.Id.PseudoKind != KindNone || !exe.Resource.Id.IsRealDevice() {
		t.Fatalf("exe text mapping should be a real-device resource: %+v", exe.Resource)
	}

	anon := entries[2].Mapping
	if anon.Resource.Id.PseudoKind != KindAnonymous {
		t.Fatalf("zero-dev/zero-inode mapping should classify anonymous: %+v", anon.Resource)
	}

	stack := entries[3].Mapping
	if stack.Resource.Id.PseudoKind != KindStack || stack.Flags&FlagStack == 0 {
		t.Fatalf("[stack] mapping should classify as stack: %+v", stack)
	}
}

func TestParseKernelMapDetectsScratch(t *testing.T) {
	src := stringSource{
		"7f1000000000-7f1000021000 rw-p 00000000 00:00 0  [scratch]",
	}
	entries, err := ParseKernelMap(src)
	if err != nil {
		t.Fatalf("ParseKernelMap: %v", err)
	}
	if entries[0].Mapping.Resource.Id.PseudoKind != KindScratch {
		t.Fatalf("[scratch] mapping should classify as scratch: %+v", entries[0].Mapping.Resource)
	}
}

func Test32BitBoundaryRejection(t *testing.T) {
	Supervisor32Bit = true
	defer func() { Supervisor32Bit = false }()

	src := stringSource{
		"700000000000-700000001000 rw-p 00000000 00:00 0 ",
	}
	_, err := ParseKernelMap(src)
	if err == nil {
		t.Fatalf("expected a fatal error for a mapping beyond 4 GiB on a 32-bit supervisor")
	}
	if _, ok := err.(*FatalError); !ok {
		t.Fatalf("expected *FatalError, got %T", err)
	}
}

func TestVsyscallIgnoredEvenBeyond32Bit(t *testing.T) {
	Supervisor32Bit = true
	defer func() { Supervisor32Bit = false }()

	src := stringSource{
		"ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0  [vsyscall]",
	}
	entries, err := ParseKernelMap(src)
	if err != nil {
		t.Fatalf("ParseKernelMap: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected [vsyscall] dropped before the 32-bit check runs, got %v", entries)
	}
}

func TestParseMapLineMalformed(t *testing.T) {
	src := stringSource{"not-a-valid-line"}
	if _, err := ParseKernelMap(src); err == nil {
		t.Fatalf("expected an error for a malformed line")
	}
}
