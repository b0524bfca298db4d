package tracing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/timing"
)

// CycleTimeReport summarizes the cycles seen by a CycleTimeTracer.
type CycleTimeReport struct {
	Cycles       uint64        `json:"cycles"`
	Overruns     uint64        `json:"overruns"`
	MinWorkTime  time.Duration `json:"min_work_ns"`
	MaxWorkTime  time.Duration `json:"max_work_ns"`
	MeanWorkTime time.Duration `json:"mean_work_ns"`
	MeanCycle    time.Duration `json:"mean_cycle_ns"`
	MaxCycle     time.Duration `json:"max_cycle_ns"`
}

// CycleTimeTracer measures how much of the cycle budget the executive uses.
type CycleTimeTracer struct {
	logger *zap.Logger

	lock          sync.Mutex
	report        CycleTimeReport
	totalWorkTime time.Duration
	totalCycle    time.Duration
}

// NewCycleTimeTracer creates a new CycleTimeTracer. The summary is logged to
// logger when the engine stops. A nil logger disables the summary.
func NewCycleTimeTracer(logger *zap.Logger) *CycleTimeTracer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CycleTimeTracer{logger: logger}
}

// Report returns the statistics collected so far.
func (t *CycleTimeTracer) Report() CycleTimeReport {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.report
}

// EndCycle accounts for a completed cycle.
func (t *CycleTimeTracer) EndCycle(info executive.CycleInfo) {
	t.lock.Lock()
	defer t.lock.Unlock()

	r := &t.report
	if r.Cycles == 0 || info.WorkTime < r.MinWorkTime {
		r.MinWorkTime = info.WorkTime
	}

	if info.WorkTime > r.MaxWorkTime {
		r.MaxWorkTime = info.WorkTime
	}

	if info.CycleTime > r.MaxCycle {
		r.MaxCycle = info.CycleTime
	}

	if info.Overrun {
		r.Overruns++
	}

	r.Cycles++
	t.totalWorkTime += info.WorkTime
	t.totalCycle += info.CycleTime
	r.MeanWorkTime = t.totalWorkTime / time.Duration(r.Cycles)
	r.MeanCycle = t.totalCycle / time.Duration(r.Cycles)
}

// Command does nothing.
func (t *CycleTimeTracer) Command(command.Command, executive.CommandResult) {}

// Stop logs the summary.
func (t *CycleTimeTracer) Stop(elapsed timing.ElapsedSec) {
	r := t.Report()

	t.logger.Info("Cycle time summary",
		zap.Stringer("ret_s", elapsed),
		zap.Uint64("cycles", r.Cycles),
		zap.Uint64("overruns", r.Overruns),
		zap.Duration("min_work", r.MinWorkTime),
		zap.Duration("mean_work", r.MeanWorkTime),
		zap.Duration("max_work", r.MaxWorkTime),
		zap.Duration("mean_cycle", r.MeanCycle),
		zap.Duration("max_cycle", r.MaxCycle))
}
