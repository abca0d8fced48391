package types

import (
	"encoding/json"

	"github.com/tracertl/tracertl/helper/hex"
)

// recordJSON is the human facing JSON view of a TraceRecord.
// Addresses are hex encoded with the 0x prefix.
type recordJSON struct {
	VCPU         uint32  `json:"vcpu"`
	PCVirtual    string  `json:"pc"`
	PCPhysical   string  `json:"pcPhys"`
	Opcode       string  `json:"opcode"`
	Width        uint8   `json:"width"`
	Access       string  `json:"access"`
	Address      *string `json:"address,omitempty"`
	Size         uint64  `json:"size,omitempty"`
	Src1         *string `json:"src1,omitempty"`
	Src2         *string `json:"src2,omitempty"`
	Branch       string  `json:"branch"`
	Taken        bool    `json:"taken"`
	BranchTarget *string `json:"target,omitempty"`
	Exception    bool    `json:"exception,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (r TraceRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		VCPU:       r.VCPU,
		PCVirtual:  hex.EncodeUint64(r.PCVirtual),
		PCPhysical: hex.EncodeUint64(r.PCPhysical),
		Opcode:     hex.EncodeUint64(uint64(r.Opcode)),
		Width:      r.Width,
		Access:     r.kind.String(),
		Branch:     r.Branch.String(),
		Taken:      r.Taken,
		Exception:  r.Exception,
	}

	if addr, size, ok := r.Access(); ok {
		out.Address = hexPtr(addr)
		out.Size = size
	}

	if src1, src2, ok := r.Operands(); ok {
		out.Src1 = hexPtr(src1)
		out.Src2 = hexPtr(src2)
	}

	if r.Taken {
		out.BranchTarget = hexPtr(r.BranchTarget)
	}

	return json.Marshal(out)
}

func hexPtr(v uint64) *string {
	s := hex.EncodeUint64(v)

	return &s
}
