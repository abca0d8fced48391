package dump

import (
	"errors"
	"fmt"

	"github.com/tracertl/tracertl/helper/hex"
	"github.com/tracertl/tracertl/types"
)

const (
	limitFlag = "limit"
	skipFlag  = "skip"
	vcpuFlag  = "vcpu"
	pcFlag    = "pc"

	allVCPUs = -1
)

var (
	errInvalidLimit = errors.New("limit and skip can not be negative")
	errInvalidVCPU  = errors.New("invalid vcpu filter")
	errInvalidPC    = errors.New("invalid pc filter")
)

var (
	params = &dumpParams{}
)

type dumpParams struct {
	path  string
	limit int
	skip  int
	vcpu  int64
	pcRaw string

	pc    uint64
	hasPC bool
}

func (p *dumpParams) validateFlags() error {
	if p.limit < 0 || p.skip < 0 {
		return errInvalidLimit
	}

	if p.vcpu < allVCPUs || p.vcpu > int64(^uint32(0)) {
		return fmt.Errorf("%w: %d", errInvalidVCPU, p.vcpu)
	}

	p.hasPC = p.pcRaw != ""
	if p.hasPC {
		pc, err := hex.DecodeUint64(p.pcRaw)
		if err != nil {
			return fmt.Errorf("%w: %s", errInvalidPC, p.pcRaw)
		}

		p.pc = pc
	}

	return nil
}

func (p *dumpParams) matches(r *types.TraceRecord) bool {
	if p.vcpu != allVCPUs && uint32(p.vcpu) != r.VCPU {
		return false
	}

	return !p.hasPC || r.PCVirtual == p.pc
}
