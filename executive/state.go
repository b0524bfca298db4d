package executive

import (
	"time"

	"github.com/phobosrover/phobosexec/dispatch"
	"github.com/phobosrover/phobosexec/timing"
)

// State is the run state of the engine.
type State int

// The engine starts Idle, runs, and stops for good.
const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets the state appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the engine taken between the steps of a cycle.
type Status struct {
	State         State             `json:"state"`
	Elapsed       timing.ElapsedSec `json:"ret_s"`
	Cycle         uint64            `json:"cycle"`
	Overruns      uint64            `json:"overruns"`
	LastWorkTime  time.Duration     `json:"last_work_ns"`
	LastCycleTime time.Duration     `json:"last_cycle_ns"`
	Safed         bool              `json:"safed"`
	Pending       int               `json:"pending"`
	Executed      int               `json:"executed"`
	Total         int               `json:"total"`
	Dispatched    uint64            `json:"dispatched"`
	Failed        uint64            `json:"failed"`
	Safings       uint64            `json:"safings"`
}

type timelineReporter interface {
	NumPending() int
	NumExecuted() int
	Total() int
}

type safeReporter interface {
	Safed() bool
}

type statsReporter interface {
	Stats() dispatch.Stats
}

// Status returns the latest snapshot. It may be called from any goroutine.
func (e *Engine) Status() Status {
	e.statusLock.RLock()
	defer e.statusLock.RUnlock()

	return e.status
}

func (e *Engine) publish(lastCycle *CycleInfo) {
	e.statusLock.Lock()
	defer e.statusLock.Unlock()

	s := &e.status
	s.State = e.state
	s.Elapsed = e.elapsed
	s.Cycle = e.cycle
	s.Overruns = e.overruns

	if lastCycle != nil {
		s.LastWorkTime = lastCycle.WorkTime
		s.LastCycleTime = lastCycle.CycleTime
	}

	if r, ok := e.source.(timelineReporter); ok {
		s.Pending = r.NumPending()
		s.Executed = r.NumExecuted()
		s.Total = r.Total()
	}

	if r, ok := e.dispatcher.(safeReporter); ok {
		s.Safed = r.Safed()
	}

	if r, ok := e.dispatcher.(statsReporter); ok {
		stats := r.Stats()
		s.Dispatched = stats.Dispatched
		s.Failed = stats.Failed
		s.Safings = stats.Safings
	}
}
