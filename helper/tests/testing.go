package tests

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracertl/tracertl/tracer"
)

const (
	FixtureBlockA = uint64(0x1000)
	FixtureBlockB = uint64(0x2000)

	// FixtureRecords is the number of records WriteTraceFixture produces
	FixtureRecords = 16
)

// WriteTraceFixture records a small two vCPU session into path.
// vCPU 0 loops four times over block A (0x1000, 0x1002, 0x1005);
// vCPU 1 runs block A once, then jumps to the single instruction block B.
// The second instruction of A loads 0x8000 and the third one carries operands.
func WriteTraceFixture(t *testing.T, path string, codec string) *tracer.Report {
	t.Helper()

	config := tracer.DefaultConfig()
	config.OutputPath = path
	config.MaxInstructions = 1000
	config.Codec = codec

	session, err := tracer.Open(config)
	require.NoError(t, err)

	blockA, err := session.TranslateBlock(tracer.BlockDesc{
		Vaddr: FixtureBlockA,
		Insns: []tracer.InsnDesc{
			{Vaddr: FixtureBlockA, Data: []byte{0x31, 0xc0}},
			{Vaddr: FixtureBlockA + 2, Data: []byte{0x8b, 0x45, 0xfc}},
			{Vaddr: FixtureBlockA + 5, Data: []byte{0x48, 0x01, 0xd8, 0x90}},
		},
	})
	require.NoError(t, err)

	blockB, err := session.TranslateBlock(tracer.BlockDesc{
		Vaddr: FixtureBlockB,
		Insns: []tracer.InsnDesc{{Vaddr: FixtureBlockB, Data: []byte{0xc3}}},
	})
	require.NoError(t, err)

	runA := func(vcpu uint32) {
		session.BlockExec(vcpu, blockA)
		session.InsnExec(vcpu, blockA, 0)
		session.InsnExec(vcpu, blockA, 1)
		session.MemAccess(vcpu, tracer.MemInfo{Vaddr: 0x8000, SizeShift: 2})
		session.InsnExec(vcpu, blockA, 2)
		session.Operands(vcpu, 7, 9)
	}

	session.VCPUInit(0)
	session.VCPUInit(1)

	for i := 0; i < 4; i++ {
		runA(0)
	}

	runA(1)
	session.BlockExec(1, blockB)
	session.InsnExec(1, blockB, 0)

	report, err := session.Close()
	require.NoError(t, err)
	require.Equal(t, uint64(FixtureRecords), report.TotalTraced)

	return report
}
