package monitoring

import (
	"sync"
	"time"

	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/hooking"
)

// A ProgressBar is a tracker of the progress
type ProgressBar struct {
	sync.Mutex
	ID        string
	Name      string
	StartTime time.Time
	Total     uint64
	Finished  uint64
}

// ProgressBarState is a snapshot of a ProgressBar.
type ProgressBarState struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

// State returns a snapshot of the bar.
func (b *ProgressBar) State() ProgressBarState {
	b.Lock()
	defer b.Unlock()

	return ProgressBarState{
		ID:        b.ID,
		Name:      b.Name,
		StartTime: b.StartTime,
		Total:     b.Total,
		Finished:  b.Finished,
	}
}

// IncrementFinished add a certain amount to finished element.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// CommandProgressHook advances a bar every time the engine dispatches a
// command and takes the bar off the monitor once the engine stops.
type CommandProgressHook struct {
	monitor *Monitor
	bar     *ProgressBar
}

// NewCommandProgressHook creates a hook that drives bar on m.
func NewCommandProgressHook(m *Monitor, bar *ProgressBar) *CommandProgressHook {
	return &CommandProgressHook{monitor: m, bar: bar}
}

// Func counts dispatched commands.
func (h *CommandProgressHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case executive.HookPosCommand:
		h.bar.IncrementFinished(1)
	case executive.HookPosStopped:
		h.monitor.CompleteProgressBar(h.bar)
	}
}
