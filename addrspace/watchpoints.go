package addrspace

// AccessMode is the set of memory-access types a logical watch request can
// name. Read-only watches don't exist in this model (spec.md §4.3): a
// read-watch always also watches writes, mirroring the hardware.
type AccessMode uint8

const (
	AccessExec AccessMode = 1 << iota
	AccessRead
	AccessWrite
)

// SlotAccess is the access mask a single hardware debug-register slot
// watches: exec (E), write-only (W), or read-write (R+W).
type SlotAccess uint8

const (
	SlotExec SlotAccess = 1 << iota
	SlotWrite
	SlotReadWrite
)

// DebugSlot is one derived hardware watchpoint programming request.
type DebugSlot struct {
	Start  uintptr
	Length uintptr
	Access SlotAccess
}

// Matches reports whether this slot's access mask covers the given logical
// access mode, per spec.md §8 property 7 ("emitted slot list covers S").
func (s DebugSlot) Matches(mode AccessMode) bool {
	switch mode {
	case AccessExec:
		return s.Access == SlotExec
	case AccessWrite:
		return s.Access == SlotWrite || s.Access == SlotReadWrite
	case AccessRead:
		return s.Access == SlotReadWrite
	}
	return false
}

// HardwareSlotCount is the number of hardware debug-register slots
// available per task on x86 (four debug address registers).
const HardwareSlotCount = 4

type watchpointRecord struct {
	start, length uintptr
	exec          int
	read          int
	write         int
}

func (w watchpointRecord) empty() bool { return w.exec == 0 && w.read == 0 && w.write == 0 }

func watchKey(addr, length uintptr) uintptr {
	// Ranges are keyed by (start,length); since records aren't expected to
	// overlap for distinct logical watches in practice, start alone would
	// usually suffice, but folding length in keeps genuinely distinct
	// same-start requests separate.
	return addr ^ (length * 0x9E3779B1)
}

// WatchpointRegistry maps memory ranges to refcounted per-access-type
// watchpoint records, and derives the minimum hardware debug-register slot
// set that realizes the union of all live logical requests.
type WatchpointRegistry struct {
	records map[uintptr]*watchpointRecord
	tasks   []TaskMemory
}

// NewWatchpointRegistry returns an empty registry.
func NewWatchpointRegistry() *WatchpointRegistry {
	return &WatchpointRegistry{records: make(map[uintptr]*watchpointRecord)}
}

// SetTasks replaces the set of participant tasks that get reprogrammed
// whenever the derived slot set changes.
func (w *WatchpointRegistry) SetTasks(tasks []TaskMemory) {
	w.tasks = tasks
}

// Set finds-or-creates the record for [addr, addr+length), bumps the
// counters named by mode, and reprograms every participant task's debug
// registers with the newly-derived slot set. Returns whether programming
// succeeded on every task; on failure the logical state (the bumped
// counters) is retained regardless, per spec.md §5.
func (w *WatchpointRegistry) Set(addr, length uintptr, mode AccessMode) bool {
	key := watchKey(addr, length)
	rec, ok := w.records[key]
	if !ok {
		rec = &watchpointRecord{start: addr, length: length}
		w.records[key] = rec
	}
	bumpAccess(rec, mode, 1)
	return w.program()
}

// Remove decrements the counters named by mode for [addr, addr+length);
// once all three reach zero the record is dropped. Reprograms every
// participant task afterward.
func (w *WatchpointRegistry) Remove(addr, length uintptr, mode AccessMode) bool {
	key := watchKey(addr, length)
	rec, ok := w.records[key]
	if !ok {
		invariantf("WatchpointRegistry.Remove", "no watchpoint at 0x%x+%d", addr, length)
	}
	bumpAccess(rec, mode, -1)
	if rec.empty() {
		delete(w.records, key)
	}
	return w.program()
}

func bumpAccess(rec *watchpointRecord, mode AccessMode, delta int) {
	if mode&AccessExec != 0 {
		rec.exec += delta
	}
	if mode&AccessRead != 0 {
		rec.read += delta
	}
	if mode&AccessWrite != 0 {
		rec.write += delta
	}
	if rec.exec < 0 || rec.read < 0 || rec.write < 0 {
		invariant("WatchpointRegistry", "refcount went negative")
	}
}

// ClearAll drops every record and reprograms (to the empty set).
func (w *WatchpointRegistry) ClearAll() bool {
	w.records = make(map[uintptr]*watchpointRecord)
	return w.program()
}

// AfterClone reprograms the current derived slot set for a newly-joined
// participant task (spec.md §4.4).
func (w *WatchpointRegistry) AfterClone() bool {
	return w.program()
}

// Derive computes the minimum hardware slot set realizing the union of all
// live logical watch requests, per spec.md §4.3's derivation rule: one exec
// slot when exec>0, one write-only slot when write>0 and read==0, one
// read-write slot when read>0.
func (w *WatchpointRegistry) Derive() []DebugSlot {
	var slots []DebugSlot
	for _, rec := range w.records {
		if rec.exec > 0 {
			slots = append(slots, DebugSlot{Start: rec.start, Length: rec.length, Access: SlotExec})
		}
		if rec.write > 0 && rec.read == 0 {
			slots = append(slots, DebugSlot{Start: rec.start, Length: rec.length, Access: SlotWrite})
		}
		if rec.read > 0 {
			slots = append(slots, DebugSlot{Start: rec.start, Length: rec.length, Access: SlotReadWrite})
		}
	}
	return slots
}

// program re-derives the slot set and asks every participant task to
// program its debug registers. Returns false (without touching the logical
// records) if the derived set exceeds the hardware pool, or if any task's
// programming call fails.
func (w *WatchpointRegistry) program() bool {
	slots := w.Derive()
	if len(slots) > HardwareSlotCount {
		return false
	}
	ok := true
	for _, t := range w.tasks {
		if err := t.SetDebugRegs(slots); err != nil {
			ok = false
		}
	}
	return ok
}

// Len returns the number of distinct watched ranges currently tracked.
func (w *WatchpointRegistry) Len() int { return len(w.records) }
