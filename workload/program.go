package workload

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	CodeBase = uint64(0x400000)
	DataBase = uint64(0x10000000)
	DataSize = uint64(1 << 20)

	// x86 allows instructions of up to 15 bytes
	maxInsnWidth   = 15
	fixedInsnWidth = 4
	maxBlockInsns  = 12
)

var (
	ErrNoBlocks = errors.New("program needs at least two blocks")
)

type insnKind uint8

const (
	kindPlain insnKind = iota
	kindLoad
	kindStore
	kindALU
	kindBranch
)

type guestInsn struct {
	vaddr     uint64
	data      []byte
	kind      insnKind
	sizeShift uint8
}

// guestBlock is a basic block of the synthetic program. It ends in a
// branch to target; a conditional branch falls through to the next block
// when not taken.
type guestBlock struct {
	index       int
	vaddr       uint64
	insns       []guestInsn
	target      int
	conditional bool
}

func (b *guestBlock) pcAfter() uint64 {
	last := b.insns[len(b.insns)-1]

	return last.vaddr + uint64(len(last.data))
}

// Program is a deterministic synthetic guest program laid out contiguously
// from CodeBase. The last block always jumps back to the first one.
type Program struct {
	blocks []*guestBlock
}

// NewProgram generates count blocks from seed
func NewProgram(count int, seed int64, fixedWidth bool) (*Program, error) {
	if count < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrNoBlocks, count)
	}

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec
	p := &Program{blocks: make([]*guestBlock, count)}
	pc := CodeBase

	for i := 0; i < count; i++ {
		b := &guestBlock{
			index: i,
			vaddr: pc,
			insns: make([]guestInsn, 1+rng.Intn(maxBlockInsns)),
		}

		for j := range b.insns {
			width := fixedInsnWidth
			if !fixedWidth {
				width = 1 + rng.Intn(maxInsnWidth)
			}

			insn := guestInsn{
				vaddr:     pc,
				data:      make([]byte, width),
				kind:      insnKind(rng.Intn(int(kindBranch))),
				sizeShift: uint8(rng.Intn(4)),
			}

			rng.Read(insn.data)

			if j == len(b.insns)-1 {
				insn.kind = kindBranch
			}

			b.insns[j] = insn
			pc += uint64(width)
		}

		b.conditional = rng.Intn(2) == 0
		b.target = pickTarget(rng, i, count)

		p.blocks[i] = b
	}

	last := p.blocks[count-1]
	last.conditional = false
	last.target = 0

	return p, nil
}

// pickTarget never chooses the fall through block so a taken branch is
// always visible as a discontinuity
func pickTarget(rng *rand.Rand, from, count int) int {
	for {
		target := rng.Intn(count)
		if target != from+1 {
			return target
		}
	}
}

// Len returns the number of blocks
func (p *Program) Len() int {
	return len(p.blocks)
}

// CodeEnd returns the first address past the program text
func (p *Program) CodeEnd() uint64 {
	return p.blocks[len(p.blocks)-1].pcAfter()
}

func (p *Program) block(idx int) *guestBlock {
	return p.blocks[idx]
}

// Map maps the program text and its data region into pt
func (p *Program) Map(pt *PageTable) {
	pt.MapRange(CodeBase, p.CodeEnd())
	pt.MapRange(DataBase, DataBase+DataSize)
}
