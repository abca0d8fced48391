package tracer

import (
	"github.com/tracertl/tracertl/types"
)

// resolveBlockEntry classifies how control left the previous block of a
// vcpu now entering a block at actual, and finalizes its pending record.
//
// Control flow is resolved at block granularity only: instructions inside a
// block are sequential by construction, so the only transition that can be
// taken is the one leaving a block. Leaving before the last instruction is
// reported as a block exit and is marked taken like any branch.
func resolveBlockEntry(v *vcpuState, actual uint64) {
	if !v.hasPending {
		return
	}

	r := &v.pending

	if actual == v.expectedNextPC {
		r.Taken = false
		r.Branch = types.BranchNone
		r.BranchTarget = 0

		return
	}

	r.Taken = true
	r.BranchTarget = actual

	if r.PCVirtual == v.blockEnd {
		r.Branch = types.BranchTaken
	} else {
		r.Branch = types.BranchExit
	}
}
