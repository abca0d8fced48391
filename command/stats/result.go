package stats

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/tracertl/tracertl/command/helper"
	"github.com/tracertl/tracertl/tracefile"
)

type StatsResult struct {
	File          string                   `json:"file"`
	SessionID     string                   `json:"sessionID"`
	StartTime     string                   `json:"startTime"`
	FormatVersion uint16                   `json:"formatVersion"`
	Frames        map[string]int           `json:"frames"`
	Records       uint64                   `json:"records"`
	RawBytes      uint64                   `json:"rawBytes"`
	StoredBytes   uint64                   `json:"storedBytes"`
	Ratio         float64                  `json:"ratio"`
	VCPUs         []*tracefile.VCPUSummary `json:"vcpus"`
}

func (r *StatsResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[TRACE FILE]\n")
	buffer.WriteString(helper.FormatKV([]string{
		fmt.Sprintf("File|%s", r.File),
		fmt.Sprintf("Session|%s", r.SessionID),
		fmt.Sprintf("Started|%s", r.StartTime),
		fmt.Sprintf("Format version|%d", r.FormatVersion),
		fmt.Sprintf("Records|%s", humanize.Comma(int64(r.Records))),
		fmt.Sprintf("Size|%s raw, %s stored (%.2fx)",
			humanize.IBytes(r.RawBytes), humanize.IBytes(r.StoredBytes), r.Ratio),
	}))
	buffer.WriteString("\n")

	kinds := make([]string, 0, len(r.Frames))
	for kind := range r.Frames {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	frames := []string{"KIND|FRAMES"}
	for _, kind := range kinds {
		frames = append(frames, fmt.Sprintf("%s|%d", kind, r.Frames[kind]))
	}

	buffer.WriteString("\n[FRAMES]\n")
	buffer.WriteString(helper.FormatList(frames))
	buffer.WriteString("\n")

	vcpus := []string{"VCPU|RECORDS|TAKEN|EXITS|LOADS|STORES|OPERANDS|FIRST PC|LAST PC"}
	for _, v := range r.VCPUs {
		vcpus = append(vcpus, fmt.Sprintf("%d|%d|%d|%d|%d|%d|%d|0x%x|0x%x",
			v.VCPU, v.Records, v.Taken, v.BlockExits, v.Loads, v.Stores, v.Operands, v.FirstPC, v.LastPC))
	}

	buffer.WriteString("\n[VCPUS]\n")
	buffer.WriteString(helper.FormatList(vcpus))
	buffer.WriteString("\n")

	return buffer.String()
}
