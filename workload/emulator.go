// Package workload is a synthetic multi vCPU emulator. It translates the
// blocks of a generated guest program through a shared translation cache
// and reports execution to a tracer the way an emulator plugin host does.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tracertl/tracertl/tracer"
)

const (
	workloadMetrics = "workload"

	// one instruction in exceptionOdds faults and leaves its block early
	exceptionOdds = 256
)

var (
	ErrInvalidWorkload = errors.New("invalid workload")
)

// Tracer receives the execution callbacks. *tracer.Session implements it.
type Tracer interface {
	TranslateBlock(desc tracer.BlockDesc) (*tracer.Block, error)
	VCPUInit(id uint32)
	BlockExec(vcpu uint32, b *tracer.Block)
	InsnExec(vcpu uint32, b *tracer.Block, idx int)
	MemAccess(vcpu uint32, info tracer.MemInfo)
	Operands(vcpu uint32, src1, src2 uint64)
	Exhausted() bool
}

// Config drives a run. Each vCPU executes at most Steps blocks; unless
// RunAll is set a vCPU stops as soon as the tracer budget is exhausted.
type Config struct {
	VCPUs       int
	Steps       int
	TBCacheSize int
	Seed        int64
	RunAll      bool
}

// Stats summarizes a run
type Stats struct {
	VCPUs        int           `json:"vcpus"`
	Blocks       uint64        `json:"blocks"`
	Instructions uint64        `json:"instructions"`
	Translations uint64        `json:"translations"`
	CacheHits    uint64        `json:"cache_hits"`
	Exceptions   uint64        `json:"exceptions"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Emulator executes a Program on several vCPU goroutines
type Emulator struct {
	logger  hclog.Logger
	config  Config
	program *Program
	pages   *PageTable
	tracer  Tracer

	// translated blocks keyed by guest start address, shared by all vCPUs
	cache *lru.Cache

	blocks       atomic.Uint64
	instructions atomic.Uint64
	translations atomic.Uint64
	hits         atomic.Uint64
	exceptions   atomic.Uint64
}

func New(
	program *Program,
	pages *PageTable,
	t Tracer,
	config Config,
	logger hclog.Logger,
) (*Emulator, error) {
	if config.VCPUs <= 0 || config.Steps <= 0 {
		return nil, fmt.Errorf("%w: needs at least one vcpu and one step", ErrInvalidWorkload)
	}

	if config.VCPUs > tracer.MaxVCPUs {
		return nil, fmt.Errorf("%w: %d vcpus, at most %d", ErrInvalidWorkload, config.VCPUs, tracer.MaxVCPUs)
	}

	cache, err := lru.New(config.TBCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: translation cache: %v", ErrInvalidWorkload, err)
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Emulator{
		logger:  logger.Named("workload"),
		config:  config,
		program: program,
		pages:   pages,
		tracer:  t,
		cache:   cache,
	}, nil
}

// Run executes every vCPU until it has run its steps, the budget is
// exhausted or ctx is done. The first error cancels the other vCPUs.
func (e *Emulator) Run(ctx context.Context) (Stats, error) {
	start := time.Now()

	e.logger.Info("starting workload",
		"vcpus", e.config.VCPUs,
		"blocks", e.program.Len(),
		"steps", e.config.Steps,
		"tb_cache", e.config.TBCacheSize,
	)

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < e.config.VCPUs; i++ {
		id := uint32(i)

		g.Go(func() error {
			return e.runVCPU(gctx, id)
		})
	}

	err := g.Wait()

	stats := Stats{
		VCPUs:        e.config.VCPUs,
		Blocks:       e.blocks.Load(),
		Instructions: e.instructions.Load(),
		Translations: e.translations.Load(),
		CacheHits:    e.hits.Load(),
		Exceptions:   e.exceptions.Load(),
		Elapsed:      time.Since(start),
	}

	metrics.SetGauge([]string{workloadMetrics, "instructions"}, float32(stats.Instructions))

	e.logger.Info("workload finished",
		"blocks", stats.Blocks,
		"instructions", stats.Instructions,
		"translations", stats.Translations,
		"elapsed", stats.Elapsed,
	)

	return stats, err
}

func (e *Emulator) runVCPU(ctx context.Context, id uint32) error {
	rng := rand.New(rand.NewSource(e.config.Seed + int64(id))) //nolint:gosec

	e.tracer.VCPUInit(id)

	cur := 0

	for step := 0; step < e.config.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !e.config.RunAll && e.tracer.Exhausted() {
			e.logger.Debug("trace budget reached, stopping vcpu", "vcpu", id, "step", step)

			return nil
		}

		gb := e.program.block(cur)

		tb, err := e.translate(gb)
		if err != nil {
			return err
		}

		e.tracer.BlockExec(id, tb)
		e.blocks.Inc()

		cur = e.execute(rng, id, gb, tb)
	}

	return nil
}

// translate returns the cached translation of gb, translating on a miss.
// Two vCPUs missing on the same block both translate it; the later Add wins.
func (e *Emulator) translate(gb *guestBlock) (*tracer.Block, error) {
	if cached, ok := e.cache.Get(gb.vaddr); ok {
		e.hits.Inc()

		return cached.(*tracer.Block), nil //nolint:forcetypeassert
	}

	desc := tracer.BlockDesc{
		Vaddr: gb.vaddr,
		Insns: make([]tracer.InsnDesc, len(gb.insns)),
	}

	for i, insn := range gb.insns {
		desc.Insns[i] = tracer.InsnDesc{Vaddr: insn.vaddr, Data: insn.data}
	}

	tb, err := e.tracer.TranslateBlock(desc)
	if err != nil {
		return nil, fmt.Errorf("unable to translate block 0x%x: %w", gb.vaddr, err)
	}

	if evicted := e.cache.Add(gb.vaddr, tb); evicted {
		metrics.IncrCounter([]string{workloadMetrics, "tb_evictions"}, 1)
	}

	e.translations.Inc()
	metrics.IncrCounter([]string{workloadMetrics, "tb_misses"}, 1)

	return tb, nil
}

// execute runs the instructions of gb and returns the next block index
func (e *Emulator) execute(rng *rand.Rand, id uint32, gb *guestBlock, tb *tracer.Block) int {
	for i, insn := range gb.insns {
		e.tracer.InsnExec(id, tb, i)
		e.instructions.Inc()

		switch insn.kind {
		case kindLoad, kindStore:
			e.tracer.MemAccess(id, e.memAccess(rng, insn))
		case kindALU:
			e.tracer.Operands(id, rng.Uint64(), rng.Uint64())
		case kindBranch:
			if gb.conditional && rng.Intn(2) == 0 {
				return gb.index + 1
			}

			return gb.target
		case kindPlain:
		}

		if rng.Intn(exceptionOdds) == 0 {
			// fault: control moves to the handler at the program entry
			e.exceptions.Inc()

			return 0
		}
	}

	return gb.target
}

func (e *Emulator) memAccess(rng *rand.Rand, insn guestInsn) tracer.MemInfo {
	align := uint64(1)<<insn.sizeShift - 1
	vaddr := (DataBase + rng.Uint64()%DataSize) &^ align

	info := tracer.MemInfo{
		Vaddr:     vaddr,
		SizeShift: insn.sizeShift,
		Store:     insn.kind == kindStore,
	}

	if e.pages != nil {
		info.Paddr, info.HasPaddr = e.pages.Translate(vaddr)
	}

	return info
}
