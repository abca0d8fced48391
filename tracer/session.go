// Package tracer records a per-vCPU instruction trace from the execution
// callbacks of a CPU emulator and persists it through the tracefile format.
package tracer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/tracertl/tracertl/tracefile"
)

var (
	ErrSessionClosed = errors.New("trace session closed")
)

const (
	stateUninitialized uint32 = iota
	stateActive
	stateClosed
)

// MemInfo describes one guest memory access
type MemInfo struct {
	Vaddr     uint64
	SizeShift uint8
	Store     bool
	Paddr     uint64
	HasPaddr  bool
}

// PhysResolver translates a guest virtual instruction address
type PhysResolver interface {
	PhysAddr(vcpu uint32, vaddr uint64) (uint64, bool)
}

// CodecFactory allocates the compression context of a session
type CodecFactory func(name, level string) (tracefile.Codec, error)

type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger hclog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithPhysResolver sets the resolver used to fill the physical PC
func WithPhysResolver(resolver PhysResolver) Option {
	return func(s *Session) {
		s.phys = resolver
	}
}

// WithCodecFactory overrides how the compression context is allocated
func WithCodecFactory(factory CodecFactory) Option {
	return func(s *Session) {
		s.codecFactory = factory
	}
}

// WithSink writes the trace to sink instead of creating the configured
// output file. The session closes sink on Close.
func WithSink(sink io.WriteCloser) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// Session is one tracing run. The callbacks are safe to call concurrently
// from different vCPU goroutines; callbacks for one vCPU must be sequential.
type Session struct {
	logger       hclog.Logger
	config       Config
	id           uuid.UUID
	phys         PhysResolver
	codecFactory CodecFactory
	sink         io.WriteCloser

	// gate is held shared by callbacks and exclusively by Close
	gate  sync.RWMutex
	state atomic.Uint32

	vcpus  *vcpuStore
	buffer *traceBuffer
	writer *tracefile.Writer
	start  time.Time
}

// Open validates config, creates the output and starts an active session.
// On failure nothing is left behind: a created output file is removed.
func Open(config *Config, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		logger:       hclog.NewNullLogger(),
		config:       *config,
		id:           uuid.New(),
		codecFactory: tracefile.NewCodec,
		vcpus:        newVCPUStore(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.Named("tracer")

	createdFile := false

	if s.sink == nil {
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("unable to open output file: %w", err)
		}

		s.sink = f
		createdFile = true
	}

	abort := func(cause error) error {
		if err := s.sink.Close(); err != nil {
			s.logger.Error("unable to close output", "err", err)
		}

		if createdFile {
			if err := os.Remove(config.OutputPath); err != nil {
				s.logger.Error("unable to remove output file", "path", config.OutputPath, "err", err)
			}
		}

		return cause
	}

	codec, err := s.codecFactory(config.Codec, config.CompressionLevel)
	if err != nil {
		return nil, abort(fmt.Errorf("unable to allocate compression context: %w", err))
	}

	s.writer, err = tracefile.NewWriter(s.sink, codec, s.id, s.logger.Named("tracefile"))
	if err != nil {
		_ = codec.Close()

		return nil, abort(err)
	}

	s.buffer, err = newTraceBuffer(&s.config, s.writer, s.logger.Named("buffer"))
	if err != nil {
		_ = codec.Close()

		return nil, abort(err)
	}

	s.start = time.Now()
	s.state.Store(stateActive)

	s.logger.Info(
		"trace session started",
		"id", s.id,
		"output", config.OutputPath,
		"budget", config.MaxInstructions,
		"codec", codec.Kind(),
	)

	return s, nil
}

// ID returns the session identifier written to the file header
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Exhausted reports whether the instruction budget has been reached
func (s *Session) Exhausted() bool {
	return s.buffer != nil && s.buffer.isExhausted()
}

// enter admits a callback. Callbacks are ignored unless the session is active.
func (s *Session) enter() bool {
	s.gate.RLock()

	if s.state.Load() != stateActive {
		s.gate.RUnlock()

		return false
	}

	return true
}

func (s *Session) leave() {
	s.gate.RUnlock()
}

// TranslateBlock precomputes the static block data. It is independent of
// the session state and may be called at any time.
func (s *Session) TranslateBlock(desc BlockDesc) (*Block, error) {
	b, err := NewBlock(desc)
	if err != nil {
		return nil, err
	}

	metrics.IncrCounter([]string{tracerMetrics, "blocks_translated"}, 1)

	return b, nil
}

// VCPUInit registers a vCPU. Registering a known id again resets its state,
// committing its pending record first.
func (s *Session) VCPUInit(id uint32) {
	if !s.enter() {
		return
	}
	defer s.leave()

	_, prev := s.vcpus.register(id)
	if prev != nil {
		s.commit(prev)
	}

	s.logger.Debug("vcpu registered", "vcpu", id, "reset", prev != nil)
}

// BlockExec is called when vcpu starts executing b. It resolves how control
// left the previous block.
func (s *Session) BlockExec(vcpu uint32, b *Block) {
	if b == nil {
		panic("tracer: nil block")
	}

	if !s.enter() {
		return
	}
	defer s.leave()

	v := s.vcpus.get(vcpu)

	if v.hasPending {
		resolveBlockEntry(v, b.start)
		s.commit(v)
	}

	v.enterBlock(b)
}

// InsnExec is called before instruction idx of b executes on vcpu
func (s *Session) InsnExec(vcpu uint32, b *Block, idx int) {
	if b == nil {
		panic("tracer: nil block")
	}

	if idx < 0 || idx >= len(b.insns) {
		panic(fmt.Sprintf("tracer: instruction %d outside block 0x%x of %d", idx, b.start, len(b.insns)))
	}

	if !s.enter() {
		return
	}
	defer s.leave()

	v := s.vcpus.get(vcpu)

	// the next instruction of the same block proves the pending one sequential
	if v.hasPending {
		s.commit(v)
	}

	insn := &b.insns[idx]
	v.lastPC = insn.vaddr

	if s.buffer.isExhausted() {
		return
	}

	s.beginRecord(v, insn)
}

// MemAccess attaches a memory access to the instruction executing on vcpu
func (s *Session) MemAccess(vcpu uint32, info MemInfo) {
	if !s.enter() {
		return
	}
	defer s.leave()

	v := s.vcpus.get(vcpu)
	if !v.hasPending {
		return
	}

	addr := info.Vaddr
	if s.config.PhysicalMemory && info.HasPaddr {
		addr = info.Paddr
	}

	v.pending.SetMemory(addr, info.SizeShift, info.Store)
}

// Operands attaches the source operands of an arithmetic instruction.
// An instruction that already accessed memory keeps its memory access.
func (s *Session) Operands(vcpu uint32, src1, src2 uint64) {
	if !s.enter() {
		return
	}
	defer s.leave()

	v := s.vcpus.get(vcpu)
	if !v.hasPending {
		return
	}

	v.pending.SetOperands(src1, src2)
}

// beginRecord fills the pending slot of v from translation time data
func (s *Session) beginRecord(v *vcpuState, insn *insnTemplate) {
	r := &v.pending

	r.PCVirtual = insn.vaddr
	r.PCPhysical = insn.vaddr
	r.Opcode = insn.opcode
	r.Width = insn.width
	r.VCPU = v.id
	r.BranchTarget = 0
	r.Branch = 0
	r.Taken = false
	r.Exception = false
	r.ClearAccess()

	if s.phys != nil {
		if paddr, ok := s.phys.PhysAddr(v.id, insn.vaddr); ok {
			r.PCPhysical = paddr
		}
	}

	v.hasPending = true
}

// commit hands the pending record of v to the buffer
func (s *Session) commit(v *vcpuState) {
	if !v.hasPending {
		return
	}

	v.hasPending = false

	if err := s.buffer.append(&v.pending); err != nil {
		return
	}

	v.last = v.pending
	v.hasLast = true
}

// Close finalizes every pending record, flushes the buffer and closes the
// output. Callbacks arriving after Close are ignored. Calling Close again
// returns ErrSessionClosed.
func (s *Session) Close() (*Report, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if s.state.Load() != stateActive {
		return nil, ErrSessionClosed
	}

	s.state.Store(stateClosed)

	var result error

	for _, v := range s.vcpus.all() {
		s.commit(v)
	}

	if err := s.buffer.flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("final flush failed: %w", err))
	}

	if err := s.writer.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	report := s.report()

	s.logger.Info(
		"trace session closed",
		"traced", report.TotalTraced,
		"dropped", report.Dropped,
		"frames", report.Frames.Frames,
		"ratio", fmt.Sprintf("%.2f", report.Frames.Ratio()),
	)

	return report, result
}
