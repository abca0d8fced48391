package tracer

import (
	"errors"
	"fmt"
	"math"

	"github.com/tracertl/tracertl/types"
)

var (
	ErrEmptyBlock       = errors.New("translation block has no instructions")
	ErrInvalidInsnWidth = errors.New("invalid instruction width")
)

// InsnDesc is one guest instruction as seen at translation time
type InsnDesc struct {
	Vaddr uint64
	Data  []byte
}

// BlockDesc is a translation block as seen at translation time
type BlockDesc struct {
	Vaddr uint64
	Insns []InsnDesc
}

type insnTemplate struct {
	vaddr  uint64
	opcode uint32
	width  uint8
}

// Block is the immutable handle produced at translation time and passed
// back on every execution of the block
type Block struct {
	start   uint64
	end     uint64
	pcAfter uint64
	insns   []insnTemplate
}

// NewBlock precomputes the static data of a translation block: its start,
// the address of its last instruction and the address that follows it
func NewBlock(desc BlockDesc) (*Block, error) {
	if len(desc.Insns) == 0 {
		return nil, fmt.Errorf("%w: block 0x%x", ErrEmptyBlock, desc.Vaddr)
	}

	b := &Block{
		start: desc.Vaddr,
		insns: make([]insnTemplate, len(desc.Insns)),
	}

	for i, insn := range desc.Insns {
		if len(insn.Data) == 0 || len(insn.Data) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d bytes at 0x%x", ErrInvalidInsnWidth, len(insn.Data), insn.Vaddr)
		}

		b.insns[i] = insnTemplate{
			vaddr:  insn.Vaddr,
			opcode: types.OpcodeFromBytes(insn.Data),
			width:  uint8(len(insn.Data)),
		}
	}

	last := b.insns[len(b.insns)-1]
	b.end = last.vaddr
	b.pcAfter = last.vaddr + uint64(last.width)

	return b, nil
}

// Start is the virtual address of the first instruction
func (b *Block) Start() uint64 {
	return b.start
}

// End is the virtual address of the last instruction
func (b *Block) End() uint64 {
	return b.end
}

// PCAfter is the address execution falls through to after the last instruction
func (b *Block) PCAfter() uint64 {
	return b.pcAfter
}

// Len is the number of instructions in the block
func (b *Block) Len() int {
	return len(b.insns)
}

// InsnVaddr returns the virtual address of instruction idx
func (b *Block) InsnVaddr(idx int) uint64 {
	return b.insns[idx].vaddr
}
