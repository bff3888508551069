// Package addrspace is the supervisor's shadow of a tracee's virtual memory.
//
// It tracks every mapped region the way the kernel does (mmap/mremap/
// mprotect/munmap/brk), coalesces adjacent equivalent mappings the way the
// kernel's own VMA merge logic does, answers range queries for memory
// snapshot/checksum/dump, and arbitrates ownership of software breakpoints
// and hardware watchpoints across overlapping internal (replay) and user
// (debugger) subscribers.
//
// The package is a pure in-memory data structure: it never talks to a
// tracee directly except through the TaskMemory interface, and it never
// decides *when* to run -- the supervisor (out of scope here) drives it
// synchronously between observed tracee events.
package addrspace
