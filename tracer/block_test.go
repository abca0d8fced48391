package tracer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		desc    BlockDesc
		end     uint64
		pcAfter uint64
		err     error
	}{
		{
			name:    "single instruction",
			desc:    BlockDesc{Vaddr: 0x400, Insns: []InsnDesc{{Vaddr: 0x400, Data: []byte{0x90}}}},
			end:     0x400,
			pcAfter: 0x401,
		},
		{
			name: "mixed widths",
			desc: BlockDesc{Vaddr: 0x400, Insns: []InsnDesc{
				{Vaddr: 0x400, Data: []byte{0x48, 0x89, 0xe5}},
				{Vaddr: 0x403, Data: []byte{0xe8, 0x00, 0x00, 0x00, 0x00}},
			}},
			end:     0x403,
			pcAfter: 0x408,
		},
		{
			name: "empty",
			desc: BlockDesc{Vaddr: 0x400},
			err:  ErrEmptyBlock,
		},
		{
			name: "zero width",
			desc: BlockDesc{Vaddr: 0x400, Insns: []InsnDesc{{Vaddr: 0x400}}},
			err:  ErrInvalidInsnWidth,
		},
	}

	for _, c := range cases {
		c := c

		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBlock(c.desc)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, c.desc.Vaddr, b.Start())
			assert.Equal(t, c.end, b.End())
			assert.Equal(t, c.pcAfter, b.PCAfter())
			assert.Equal(t, len(c.desc.Insns), b.Len())
		})
	}
}

func TestNewBlock_OpcodeTruncation(t *testing.T) {
	t.Parallel()

	b, err := NewBlock(BlockDesc{Vaddr: 0, Insns: []InsnDesc{
		{Vaddr: 0, Data: []byte{0x0f, 0x1f, 0x44, 0x00, 0x00, 0x66}},
	}})
	require.NoError(t, err)

	assert.Equal(t, uint32(0x00441f0f), b.insns[0].opcode)
	assert.Equal(t, uint8(6), b.insns[0].width)
}

func TestVCPUStore(t *testing.T) {
	t.Parallel()

	store := newVCPUStore()

	assert.Panics(t, func() { store.get(0) })

	first, prev := store.register(3)
	assert.Nil(t, prev)
	assert.Equal(t, uint32(3), first.id)
	assert.Same(t, first, store.get(3))

	// ids below the highest registered one stay unregistered
	assert.Panics(t, func() { store.get(1) })

	second, prev := store.register(3)
	assert.Same(t, first, prev)
	assert.Same(t, second, store.get(3))

	store.register(0)
	require.Len(t, store.all(), 2)
	assert.Equal(t, uint32(0), store.all()[0].id)
}

func TestVCPUStore_ConcurrentRegistration(t *testing.T) {
	t.Parallel()

	store := newVCPUStore()

	var wg sync.WaitGroup

	for id := uint32(0); id < 32; id++ {
		wg.Add(1)

		go func(id uint32) {
			defer wg.Done()

			store.register(id)
			store.get(id).insnCount.Add(1)
		}(id)
	}

	wg.Wait()

	states := store.all()
	require.Len(t, states, 32)

	for i, v := range states {
		assert.Equal(t, uint32(i), v.id)
		assert.Equal(t, uint64(1), v.insnCount.Load())
	}
}
