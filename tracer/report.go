package tracer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ryanuber/columnize"

	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/types"
)

// VCPUReport is the execution summary of one vCPU
type VCPUReport struct {
	VCPU         uint32             `json:"vcpu"`
	Elapsed      time.Duration      `json:"elapsed"`
	Instructions uint64             `json:"instructions"`
	IPS          float64            `json:"ips"`
	Last         *types.TraceRecord `json:"last,omitempty"`
}

// Report is produced when a session closes
type Report struct {
	SessionID   uuid.UUID        `json:"sessionId"`
	Output      string           `json:"output"`
	Budget      uint64           `json:"budget"`
	TotalTraced uint64           `json:"totalTraced"`
	Exhausted   bool             `json:"exhausted"`
	Dropped     uint64           `json:"dropped"`
	Elapsed     time.Duration    `json:"elapsed"`
	Frames      tracefile.Totals `json:"frames"`
	VCPUs       []VCPUReport     `json:"vcpus"`
}

func (s *Session) report() *Report {
	now := time.Now()
	stats := s.buffer.stats()

	r := &Report{
		SessionID:   s.id,
		Output:      s.config.OutputPath,
		Budget:      s.config.MaxInstructions,
		TotalTraced: stats.TotalTraced,
		Exhausted:   stats.BudgetReached,
		Dropped:     stats.Dropped,
		Elapsed:     now.Sub(s.start),
		Frames:      s.writer.Totals(),
	}

	for _, v := range s.vcpus.all() {
		vr := VCPUReport{
			VCPU:         v.id,
			Elapsed:      now.Sub(v.start),
			Instructions: v.insnCount.Load(),
		}

		if secs := vr.Elapsed.Seconds(); secs > 0 {
			vr.IPS = float64(vr.Instructions) / secs
		}

		if v.hasLast {
			last := v.last
			vr.Last = &last
		}

		r.VCPUs = append(r.VCPUs, vr)
	}

	return r
}

// String renders the report as aligned columns
func (r *Report) String() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[TRACE SESSION]\n")
	buffer.WriteString(columnize.SimpleFormat([]string{
		fmt.Sprintf("Session|%s", r.SessionID),
		fmt.Sprintf("Output|%s", r.Output),
		fmt.Sprintf("Traced|%s of %s", humanize.Comma(int64(r.TotalTraced)), humanize.Comma(int64(r.Budget))),
		fmt.Sprintf("Budget reached|%t", r.Exhausted),
		fmt.Sprintf("Dropped|%d", r.Dropped),
		fmt.Sprintf("Frames|%d (%d fallback)", r.Frames.Frames, r.Frames.Fallbacks),
		fmt.Sprintf(
			"Size|%s raw, %s stored (%.2fx)",
			humanize.IBytes(r.Frames.RawBytes),
			humanize.IBytes(r.Frames.StoredBytes),
			r.Frames.Ratio(),
		),
		fmt.Sprintf("Elapsed|%s", r.Elapsed.Round(time.Millisecond)),
	}))
	buffer.WriteString("\n")

	if len(r.VCPUs) == 0 {
		return buffer.String()
	}

	rows := make([]string, 0, len(r.VCPUs)+1)
	rows = append(rows, "VCPU|ELAPSED|INSTRUCTIONS|IPS|LAST PC")

	for _, v := range r.VCPUs {
		last := "-"
		if v.Last != nil {
			last = fmt.Sprintf("0x%x", v.Last.PCVirtual)
		}

		rows = append(rows, fmt.Sprintf(
			"%d|%s|%s|%s|%s",
			v.VCPU,
			v.Elapsed.Round(time.Microsecond),
			humanize.Comma(int64(v.Instructions)),
			humanize.SIWithDigits(v.IPS, 2, ""),
			last,
		))
	}

	buffer.WriteString("\n[VCPUS]\n")
	buffer.WriteString(columnize.SimpleFormat(rows))
	buffer.WriteString("\n")

	return buffer.String()
}
