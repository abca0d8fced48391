package bench

import (
	"bytes"
	"fmt"

	"github.com/tracertl/tracertl/command/helper"
	"github.com/tracertl/tracertl/tracer"
	"github.com/tracertl/tracertl/workload"
)

type BenchResult struct {
	Report   *tracer.Report `json:"report"`
	Workload workload.Stats `json:"workload"`

	// Error is set when the run or the session close failed after the
	// report was produced, the trace file may be incomplete
	Error string `json:"error,omitempty"`
}

func newBenchResult(report *tracer.Report, stats workload.Stats, err error) *BenchResult {
	result := &BenchResult{Report: report, Workload: stats}

	if err != nil {
		result.Error = err.Error()
	}

	return result
}

func (r *BenchResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString(r.Report.String())

	buffer.WriteString("\n[WORKLOAD]\n")
	buffer.WriteString(helper.FormatKV([]string{
		fmt.Sprintf("vCPUs|%d", r.Workload.VCPUs),
		fmt.Sprintf("Blocks executed|%d", r.Workload.Blocks),
		fmt.Sprintf("Instructions|%d", r.Workload.Instructions),
		fmt.Sprintf("Translations|%d", r.Workload.Translations),
		fmt.Sprintf("Cache hits|%d", r.Workload.CacheHits),
		fmt.Sprintf("Exceptions|%d", r.Workload.Exceptions),
		fmt.Sprintf("Elapsed|%s", r.Workload.Elapsed),
	}))
	buffer.WriteString("\n")

	if r.Error != "" {
		buffer.WriteString("\n[ERRORS]\n")
		buffer.WriteString(r.Error)
		buffer.WriteString("\n")
	}

	return buffer.String()
}
