package addrspace

import (
	"fmt"
	"strings"
)

// emulatedFilesystemPrefix marks kernel-reported names that point into the
// replayer's emulated filesystem. The kernel's device/inode for such a
// mapping may legitimately differ from the shadow's own bookkeeping;
// containment on the name is accepted instead (spec.md §4.6 point 5).
const emulatedFilesystemPrefix = "/rr-emufs/"

// mergeState names the four states of the verifier's stepwise state machine
// (spec.md §4.6): idle before any kernel entry has been consumed,
// merging-shadow while greedily merging shadow entries forward against the
// first kernel entry's projection, init-kernel when the first kernel entry
// starts a new merged kernel segment, and merging-kernel while consuming
// further kernel entries into that same segment.
type mergeState int

const (
	stateIdle mergeState = iota
	stateMergingShadow
	stateInitKernel
	stateMergingKernel
)

// projectKernelVisible applies the "kernel-visible projection" of spec.md
// §4.6: flags masked to {private, shared} only, prot kept as-is, resource
// compared with the looser KernelEquivalent instead of Equivalent.
func projectKernelVisible(m Mapping) Mapping {
	p := m
	p.Flags = m.Flags & (FlagPrivate | FlagShared)
	return p
}

func kernelCoalescable(l, r Mapping) bool {
	return coalescableUsing(projectKernelVisible(l), projectKernelVisible(r), ResourceId.KernelEquivalent)
}

// Verify confirms the shadow table matches the kernel's authoritative view
// of the tracee named by source, via a lowest-common-denominator merge on
// both sides (spec.md §4.6): both the shadow and the kernel apply their own
// slightly different coalescing, so a byte-for-byte walk is insufficient.
// Returns nil if every kernel-visible segment is covered by a matching
// merged run of shadow entries; a *FatalError carrying both views otherwise.
func (a *AddressSpace) Verify(source KernelMapSource) error {
	kernelEntries, err := ParseKernelMap(source)
	if err != nil {
		return err
	}
	shadow := a.Table.Entries()

	state := stateIdle
	ki := 0
	for ki < len(kernelEntries) {
		state = stateInitKernel
		kernelGroup := []Mapping{kernelEntries[ki].Mapping}
		ki++
		state = stateMergingKernel
		for ki < len(kernelEntries) && kernelCoalescable(kernelGroup[len(kernelGroup)-1], kernelEntries[ki].Mapping) {
			kernelGroup = append(kernelGroup, kernelEntries[ki].Mapping)
			ki++
		}
		mergedKernel := mergeGroup(kernelGroup)

		state = stateMergingShadow
		shadowGroup, rest := collectShadowRun(shadow, mergedKernel.Start, mergedKernel.End)
		shadow = rest
		if len(shadowGroup) == 0 {
			return a.mismatch(mergedKernel, Mapping{}, "no shadow entry covers this kernel range")
		}
		mergedShadow := mergeGroup(shadowGroup)

		if !segmentsMatch(mergedShadow, mergedKernel) {
			return a.mismatch(mergedKernel, mergedShadow, "shadow and kernel views disagree")
		}
	}
	state = stateIdle
	_ = state
	return nil
}

// mergeGroup folds a maximal coalescable run into the single logical
// segment it represents, for comparison purposes only (it does not mutate
// any table).
func mergeGroup(group []Mapping) Mapping {
	m := group[0]
	m.End = group[len(group)-1].End
	return m
}

// collectShadowRun consumes and returns the leading shadow entries whose
// range falls within [start, end) and which form one kernel-coalescable run
// (each entry merges with its predecessor under kernelCoalescable, so a gap
// or a prot/flag change ends the run), returning the entries consumed and
// the remaining, not-yet-consumed shadow slice.
func collectShadowRun(shadow []Mapping, start, end uintptr) ([]Mapping, []Mapping) {
	i := 0
	for i < len(shadow) && shadow[i].Start < end && shadow[i].End <= end && shadow[i].Start >= start &&
		(i == 0 || kernelCoalescable(shadow[i-1], shadow[i])) {
		i++
	}
	return shadow[:i], shadow[i:]
}

// segmentsMatch is the assertion of spec.md §4.6 point 4/5: start, end,
// prot, and (masked) flags must agree, with a name-based exemption when the
// kernel's resource points into the replayer's emulated filesystem.
func segmentsMatch(shadow, kernel Mapping) bool {
	if shadow.Start != kernel.Start || shadow.End != kernel.End {
		return false
	}
	if shadow.Prot != kernel.Prot {
		return false
	}
	if projectKernelVisible(shadow).Flags != projectKernelVisible(kernel).Flags {
		return false
	}
	if strings.HasPrefix(kernel.Resource.Name, emulatedFilesystemPrefix) {
		return true
	}
	return shadow.Resource.Id.KernelEquivalent(kernel.Resource.Id)
}

func (a *AddressSpace) mismatch(kernel, shadow Mapping, reason string) *FatalError {
	return &FatalError{
		Reason: fmt.Sprintf("verifier mismatch: %s", reason),
		Detail: fmt.Sprintf("kernel: %s\nshadow: %s\n\nfull shadow dump:\n%s", kernel, shadow, a.Dump()),
	}
}
