package dump

import (
	"bytes"
	"fmt"

	"github.com/tracertl/tracertl/command/helper"
	"github.com/tracertl/tracertl/types"
)

type DumpResult struct {
	Records []types.TraceRecord `json:"records"`
}

func (r *DumpResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[TRACE RECORDS]\n")

	rows := make([]string, 0, len(r.Records)+1)
	rows = append(rows, "VCPU|PC|PHYS|OPCODE|WIDTH|ACCESS|BRANCH|TARGET")

	for i := range r.Records {
		rows = append(rows, formatRecord(&r.Records[i]))
	}

	buffer.WriteString(helper.FormatList(rows))
	buffer.WriteString("\n")

	return buffer.String()
}

func formatRecord(r *types.TraceRecord) string {
	access := ""

	if addr, size, ok := r.Access(); ok {
		access = fmt.Sprintf("%s 0x%x/%d", r.AccessKind(), addr, size)
	} else if src1, src2, ok := r.Operands(); ok {
		access = fmt.Sprintf("0x%x, 0x%x", src1, src2)
	}

	target := ""
	if r.Taken {
		target = fmt.Sprintf("0x%x", r.BranchTarget)
	}

	return fmt.Sprintf("%d|0x%x|0x%x|%08x|%d|%s|%s|%s",
		r.VCPU,
		r.PCVirtual,
		r.PCPhysical,
		r.Opcode,
		r.Width,
		access,
		r.Branch,
		target,
	)
}
