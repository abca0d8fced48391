package stats

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracertl/tracertl/command/helper"
	"github.com/tracertl/tracertl/helper/tests"
	"github.com/tracertl/tracertl/tracefile"
)

func runStats(t *testing.T, args ...string) (string, string) {
	t.Helper()

	cmd := GetCommand()
	helper.RegisterJSONOutputFlag(cmd)

	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	require.NoError(t, cmd.Execute())

	return stdout.String(), stderr.String()
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fixture.trace")
	report := tests.WriteTraceFixture(t, path, tracefile.CodecNone)

	stdout, stderr := runStats(t, "--json", path)
	require.Empty(t, stderr)

	var result StatsResult

	require.NoError(t, json.Unmarshal([]byte(stdout), &result), stdout)

	assert.Equal(t, report.SessionID.String(), result.SessionID)
	assert.Equal(t, uint64(tests.FixtureRecords), result.Records)
	assert.Equal(t, map[string]int{"raw": 1}, result.Frames)
	assert.Equal(t, result.RawBytes, result.StoredBytes)
	require.Len(t, result.VCPUs, 2)

	v0 := result.VCPUs[0]
	assert.Equal(t, uint64(12), v0.Records)
	assert.Equal(t, uint64(3), v0.Taken)
	assert.Equal(t, uint64(4), v0.Loads)
	assert.Equal(t, uint64(4), v0.Operands)
	assert.Equal(t, tests.FixtureBlockA, v0.FirstPC)

	v1 := result.VCPUs[1]
	assert.Equal(t, uint64(4), v1.Records)
	assert.Equal(t, uint64(1), v1.Taken)
	assert.Equal(t, tests.FixtureBlockB, v1.LastPC)

	text, _ := runStats(t, path)
	assert.Contains(t, text, "[TRACE FILE]")
	assert.Contains(t, text, "[FRAMES]")
	assert.Contains(t, text, report.SessionID.String())
}

func TestStatsCommand_MissingFile(t *testing.T) {
	t.Parallel()

	_, stderr := runStats(t, filepath.Join(t.TempDir(), "missing"))
	assert.Contains(t, stderr, "unable to read")
}
