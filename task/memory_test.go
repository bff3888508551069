package task

import (
	"os"
	"testing"
)

func TestOpenMemFileReadsOwnProcess(t *testing.T) {
	m := New(os.Getpid())
	if err := m.OpenMemFile(); err != nil {
		t.Fatalf("OpenMemFile: %v", err)
	}
	defer m.Close()

	var buf [8]byte
	n, err := m.ReadBytes(uintptr(0), buf[:])
	// Address zero is never mapped; the memFile read fails, ReadBytes falls
	// back to ptrace (which also fails here), and an error is reported rather
	// than a panic.
	if err == nil && n == len(buf) {
		t.Fatalf("expected reading address 0 to fail")
	}
}

func TestAdoptMemFileMovesOwnership(t *testing.T) {
	a := New(os.Getpid())
	if err := a.OpenMemFile(); err != nil {
		t.Fatalf("OpenMemFile: %v", err)
	}

	b := New(os.Getpid())
	b.AdoptMemFile(a)

	if a.memFile != nil {
		t.Fatalf("source Memory should no longer hold the descriptor after adoption")
	}
	if b.memFile == nil {
		t.Fatalf("destination Memory should hold the descriptor after adoption")
	}
	b.Close()
}

func TestAdoptMemFileNoopWhenSourceHasNone(t *testing.T) {
	a := New(os.Getpid())
	b := New(os.Getpid())
	b.AdoptMemFile(a)
	if b.memFile != nil {
		t.Fatalf("adopting from a Memory with no open file should be a no-op")
	}
}
