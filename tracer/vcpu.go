package tracer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tracertl/tracertl/types"
)

// MaxVCPUs bounds the vcpu ids a session accepts, ids index a dense arena
const MaxVCPUs = 1 << 16

// vcpuState is owned by the callback sequence of a single vCPU.
// Only insnCount is read from other goroutines.
type vcpuState struct {
	id    uint32
	start time.Time

	// current block, static per translation
	blockStart     uint64
	blockEnd       uint64
	expectedNextPC uint64
	lastPC         uint64

	// record being assembled, committed when the next instruction or
	// block proves how control left it
	pending    types.TraceRecord
	hasPending bool

	// last record handed to the buffer
	last    types.TraceRecord
	hasLast bool

	insnCount atomic.Uint64
}

func newVCPUState(id uint32) *vcpuState {
	return &vcpuState{
		id:    id,
		start: time.Now(),
	}
}

// enterBlock latches the static quantities of b
func (v *vcpuState) enterBlock(b *Block) {
	v.blockStart = b.start
	v.blockEnd = b.end
	v.expectedNextPC = b.pcAfter
	v.insnCount.Add(uint64(len(b.insns)))
}

// vcpuStore is an append-only arena of vcpu states indexed by id.
// Readers load the published slice without locking; registration copies
// the slice and publishes the copy.
type vcpuStore struct {
	mu    sync.Mutex
	arena atomic.Pointer[[]*vcpuState]
}

func newVCPUStore() *vcpuStore {
	s := &vcpuStore{}
	empty := make([]*vcpuState, 0)
	s.arena.Store(&empty)

	return s
}

// register installs a fresh state for id and returns the one it replaced, if any
func (s *vcpuStore) register(id uint32) (*vcpuState, *vcpuState) {
	if id >= MaxVCPUs {
		panic(fmt.Sprintf("tracer: vcpu id %d exceeds the limit of %d", id, MaxVCPUs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.arena.Load()

	size := len(current)
	if int(id) >= size {
		size = int(id) + 1
	}

	next := make([]*vcpuState, size)
	copy(next, current)

	var prev *vcpuState
	if int(id) < len(current) {
		prev = current[id]
	}

	state := newVCPUState(id)
	next[id] = state

	s.arena.Store(&next)

	return state, prev
}

// get returns the state of a registered vcpu and panics otherwise
func (s *vcpuStore) get(id uint32) *vcpuState {
	arena := *s.arena.Load()

	if int(id) >= len(arena) || arena[id] == nil {
		panic(fmt.Sprintf("tracer: vcpu %d used before registration", id))
	}

	return arena[id]
}

// all returns the registered states ordered by id
func (s *vcpuStore) all() []*vcpuState {
	arena := *s.arena.Load()
	states := make([]*vcpuState, 0, len(arena))

	for _, v := range arena {
		if v != nil {
			states = append(states, v)
		}
	}

	return states
}
