package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/types"
)

func TestReport_String(t *testing.T) {
	t.Parallel()

	r := &Report{
		Output:      "tracefile.zst",
		Budget:      500,
		TotalTraced: 500,
		Exhausted:   true,
		Elapsed:     1500 * time.Millisecond,
		Frames: tracefile.Totals{
			Frames:      1,
			Records:     500,
			RawBytes:    500 * types.RecordSize,
			StoredBytes: 1400,
		},
		VCPUs: []VCPUReport{
			{VCPU: 0, Elapsed: time.Second, Instructions: 2_000_000, IPS: 2_000_000, Last: &types.TraceRecord{PCVirtual: 0x4010}},
			{VCPU: 1, Elapsed: time.Second, Instructions: 10},
		},
	}

	out := r.String()

	assert.Contains(t, out, "[TRACE SESSION]")
	assert.Contains(t, out, "500 of 500")
	assert.Contains(t, out, "(20.00x)")
	assert.Contains(t, out, "[VCPUS]")
	assert.Contains(t, out, "2,000,000")
	assert.Contains(t, out, "0x4010")
}

func TestSession_ReportPerVCPU(t *testing.T) {
	t.Parallel()

	s, _ := openTestSession(t, testConfig(100))

	b := fixedBlock(t, 0x1000, 3)

	s.VCPUInit(0)
	s.VCPUInit(1)

	runBlock(s, 0, b)
	runBlock(s, 0, b)
	runBlock(s, 1, b)

	report, err := s.Close()
	require.NoError(t, err)

	assert.Equal(t, s.ID(), report.SessionID)
	assert.Equal(t, uint64(9), report.TotalTraced)
	assert.False(t, report.Exhausted)

	require.Len(t, report.VCPUs, 2)
	assert.Equal(t, uint64(6), report.VCPUs[0].Instructions)
	assert.Equal(t, uint64(3), report.VCPUs[1].Instructions)

	for _, v := range report.VCPUs {
		assert.Greater(t, v.Elapsed, time.Duration(0))
		require.NotNil(t, v.Last)
		assert.Equal(t, uint64(0x1008), v.Last.PCVirtual)
	}
}
