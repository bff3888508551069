package task

import (
	"fmt"
	"os"
	"strings"
)

// ProcMapsSource is an addrspace.KernelMapSource reading the real
// /proc/<pid>/maps report of a live tracee.
type ProcMapsSource struct {
	Pid int
}

// NewProcMapsSource returns a ProcMapsSource for pid.
func NewProcMapsSource(pid int) *ProcMapsSource {
	return &ProcMapsSource{Pid: pid}
}

// Lines reads /proc/<pid>/maps and returns its lines in kernel order.
func (s *ProcMapsSource) Lines() ([]string, error) {
	path := fmt.Sprintf("/proc/%d/maps", s.Pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("task: reading %s: %w", path, err)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
