package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// RecordSize is the size in bytes of one encoded TraceRecord
	RecordSize = 56

	// OpcodeSize is the number of encoding bytes kept in the opcode field.
	// Longer instruction encodings are truncated.
	OpcodeSize = 4
)

var (
	ErrShortRecord    = errors.New("record buffer too short")
	ErrPartialRecords = errors.New("payload is not a whole number of records")
	ErrInvalidAccess  = errors.New("invalid access kind")
)

// AccessKind selects which interpretation of the record access union is valid
type AccessKind uint8

const (
	AccessNone     AccessKind = iota // no memory access
	AccessLoad                       // single address, load
	AccessStore                      // single address, store
	AccessOperands                   // two source operands, no memory
)

func (k AccessKind) String() (s string) {
	switch k {
	case AccessNone:
		s = "none"
	case AccessLoad:
		s = "load"
	case AccessStore:
		s = "store"
	case AccessOperands:
		s = "operands"
	default:
		s = fmt.Sprintf("access(%d)", uint8(k))
	}

	return
}

// IsMemory returns true for loads and stores
func (k AccessKind) IsMemory() bool {
	return k == AccessLoad || k == AccessStore
}

// BranchKind is the control-flow transition that ended a record
type BranchKind uint8

const (
	BranchNone  BranchKind = iota // sequential or unresolved
	BranchTaken                   // last instruction of the block transferred control
	BranchExit                    // the block was left before its last instruction
)

func (k BranchKind) String() (s string) {
	switch k {
	case BranchNone:
		s = "none"
	case BranchTaken:
		s = "taken"
	case BranchExit:
		s = "block-exit"
	default:
		s = fmt.Sprintf("branch(%d)", uint8(k))
	}

	return
}

// TraceRecord describes one executed instruction
type TraceRecord struct {
	PCVirtual    uint64
	PCPhysical   uint64
	BranchTarget uint64
	Opcode       uint32
	VCPU         uint32
	Width        uint8

	Branch    BranchKind
	Taken     bool
	Exception bool

	// access union: addr holds the memory address or the first operand,
	// src2 holds the second operand
	kind      AccessKind
	sizeShift uint8
	addr      uint64
	src2      uint64
}

// SetMemory records a load or store of 1<<sizeShift bytes at addr.
// It replaces any operand interpretation.
func (r *TraceRecord) SetMemory(addr uint64, sizeShift uint8, store bool) {
	r.kind = AccessLoad
	if store {
		r.kind = AccessStore
	}

	r.sizeShift = sizeShift & 0x0f
	r.addr = addr
	r.src2 = 0
}

// SetOperands records the two non-memory source operands of an
// arithmetic instruction. A record that already holds a memory access keeps it.
func (r *TraceRecord) SetOperands(src1, src2 uint64) bool {
	if r.kind.IsMemory() {
		return false
	}

	r.kind = AccessOperands
	r.sizeShift = 0
	r.addr = src1
	r.src2 = src2

	return true
}

// ClearAccess resets the access union to AccessNone
func (r *TraceRecord) ClearAccess() {
	r.kind = AccessNone
	r.sizeShift = 0
	r.addr = 0
	r.src2 = 0
}

// AccessKind returns the valid interpretation of the access union
func (r *TraceRecord) AccessKind() AccessKind {
	return r.kind
}

// Access returns the memory address and access size in bytes.
// ok is false unless the record holds a load or a store.
func (r *TraceRecord) Access() (addr uint64, size uint64, ok bool) {
	if !r.kind.IsMemory() {
		return 0, 0, false
	}

	return r.addr, 1 << r.sizeShift, true
}

// Operands returns the two source operands, ok is false unless the
// record holds operands
func (r *TraceRecord) Operands() (src1, src2 uint64, ok bool) {
	if r.kind != AccessOperands {
		return 0, 0, false
	}

	return r.addr, r.src2, true
}

// SizeShift returns log2 of the memory access size
func (r *TraceRecord) SizeShift() uint8 {
	return r.sizeShift
}

// NextPC is the sequential successor of this instruction
func (r *TraceRecord) NextPC() uint64 {
	return r.PCVirtual + uint64(r.Width)
}

// MarshalTo encodes the record into buf, which must hold RecordSize bytes
func (r *TraceRecord) MarshalTo(buf []byte) error {
	if len(buf) < RecordSize {
		return ErrShortRecord
	}

	binary.LittleEndian.PutUint64(buf[0:], r.PCVirtual)
	binary.LittleEndian.PutUint64(buf[8:], r.PCPhysical)
	binary.LittleEndian.PutUint64(buf[16:], r.addr)
	binary.LittleEndian.PutUint64(buf[24:], r.src2)
	binary.LittleEndian.PutUint64(buf[32:], r.BranchTarget)
	binary.LittleEndian.PutUint32(buf[40:], r.Opcode)
	buf[44] = uint8(r.kind)&0x0f | r.sizeShift<<4
	buf[45] = uint8(r.Branch)
	buf[46] = boolToByte(r.Taken)
	buf[47] = boolToByte(r.Exception)
	binary.LittleEndian.PutUint32(buf[48:], r.VCPU)
	buf[52] = r.Width
	buf[53], buf[54], buf[55] = 0, 0, 0

	return nil
}

// UnmarshalFrom decodes a record previously written by MarshalTo
func (r *TraceRecord) UnmarshalFrom(buf []byte) error {
	if len(buf) < RecordSize {
		return ErrShortRecord
	}

	kind := AccessKind(buf[44] & 0x0f)
	if kind > AccessOperands {
		return fmt.Errorf("%w: %d", ErrInvalidAccess, kind)
	}

	r.PCVirtual = binary.LittleEndian.Uint64(buf[0:])
	r.PCPhysical = binary.LittleEndian.Uint64(buf[8:])
	r.addr = binary.LittleEndian.Uint64(buf[16:])
	r.src2 = binary.LittleEndian.Uint64(buf[24:])
	r.BranchTarget = binary.LittleEndian.Uint64(buf[32:])
	r.Opcode = binary.LittleEndian.Uint32(buf[40:])
	r.kind = kind
	r.sizeShift = buf[44] >> 4
	r.Branch = BranchKind(buf[45])
	r.Taken = buf[46] != 0
	r.Exception = buf[47] != 0
	r.VCPU = binary.LittleEndian.Uint32(buf[48:])
	r.Width = buf[52]

	return nil
}

// AppendRecords appends the encoding of records to dst
func AppendRecords(dst []byte, records []TraceRecord) []byte {
	offset := len(dst)
	need := offset + len(records)*RecordSize

	if cap(dst) < need {
		grown := make([]byte, offset, need)
		copy(grown, dst)
		dst = grown
	}

	dst = dst[:need]

	for i := range records {
		// buffer is sized above, MarshalTo cannot fail
		_ = records[i].MarshalTo(dst[offset+i*RecordSize:])
	}

	return dst
}

// DecodeRecords decodes a payload of contiguous records, appending them to dst
func DecodeRecords(dst []TraceRecord, payload []byte) ([]TraceRecord, error) {
	if len(payload)%RecordSize != 0 {
		return dst, ErrPartialRecords
	}

	for offset := 0; offset < len(payload); offset += RecordSize {
		var r TraceRecord
		if err := r.UnmarshalFrom(payload[offset:]); err != nil {
			return dst, fmt.Errorf("record %d: %w", offset/RecordSize, err)
		}

		dst = append(dst, r)
	}

	return dst, nil
}

// OpcodeFromBytes packs the first OpcodeSize bytes of an encoding,
// little-endian. Shorter encodings are zero extended.
func OpcodeFromBytes(data []byte) uint32 {
	var buf [OpcodeSize]byte

	copy(buf[:], data)

	return binary.LittleEndian.Uint32(buf[:])
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}

	return 0
}
