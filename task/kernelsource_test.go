package task

import (
	"os"
	"testing"
)

func TestProcMapsSourceReadsOwnProcess(t *testing.T) {
	s := NewProcMapsSource(os.Getpid())
	lines, err := s.Lines()
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("expected at least one mapping for the running test binary")
	}
}
