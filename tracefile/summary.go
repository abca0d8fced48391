package tracefile

import (
	"sort"

	"github.com/tracertl/tracertl/types"
)

// VCPUSummary aggregates the records of one virtual CPU
type VCPUSummary struct {
	VCPU       uint32 `json:"vcpu"`
	Records    uint64 `json:"records"`
	Taken      uint64 `json:"taken"`
	BlockExits uint64 `json:"blockExits"`
	Loads      uint64 `json:"loads"`
	Stores     uint64 `json:"stores"`
	Operands   uint64 `json:"operands"`
	FirstPC    uint64 `json:"firstPC"`
	LastPC     uint64 `json:"lastPC"`
}

// Summary aggregates a whole trace file
type Summary struct {
	Header      FileHeader        `json:"-"`
	Frames      map[FrameKind]int `json:"frames"`
	Records     uint64            `json:"records"`
	RawBytes    uint64            `json:"rawBytes"`
	StoredBytes uint64            `json:"storedBytes"`
	VCPUs       []*VCPUSummary    `json:"vcpus"`

	byVCPU map[uint32]*VCPUSummary
}

// Ratio is the overall raw to stored size ratio
func (s *Summary) Ratio() float64 {
	if s.StoredBytes == 0 {
		return 0
	}

	return float64(s.RawBytes) / float64(s.StoredBytes)
}

// Summarize consumes every remaining frame of rd
func Summarize(rd *Reader) (*Summary, error) {
	s := &Summary{
		Header: rd.Header(),
		Frames: make(map[FrameKind]int),
		byVCPU: make(map[uint32]*VCPUSummary),
	}

	var lastFrame *Frame

	err := rd.ForEach(func(frame *Frame, r *types.TraceRecord) error {
		if frame != lastFrame {
			lastFrame = frame
			s.Frames[frame.Kind]++
			s.RawBytes += uint64(len(frame.Records)) * types.RecordSize
			s.StoredBytes += uint64(frame.StoredBytes)
		}

		s.add(r)

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.VCPUs = make([]*VCPUSummary, 0, len(s.byVCPU))
	for _, v := range s.byVCPU {
		s.VCPUs = append(s.VCPUs, v)
	}

	sort.Slice(s.VCPUs, func(i, j int) bool {
		return s.VCPUs[i].VCPU < s.VCPUs[j].VCPU
	})

	return s, nil
}

func (s *Summary) add(r *types.TraceRecord) {
	s.Records++

	v, ok := s.byVCPU[r.VCPU]
	if !ok {
		v = &VCPUSummary{VCPU: r.VCPU, FirstPC: r.PCVirtual}
		s.byVCPU[r.VCPU] = v
	}

	v.Records++
	v.LastPC = r.PCVirtual

	if r.Taken {
		v.Taken++
	}

	if r.Branch == types.BranchExit {
		v.BlockExits++
	}

	switch r.AccessKind() {
	case types.AccessLoad:
		v.Loads++
	case types.AccessStore:
		v.Stores++
	case types.AccessOperands:
		v.Operands++
	}
}
