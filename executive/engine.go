// Package executive runs the fixed-rate executive cycle of the rover. Every
// cycle it pulls the commands that are due, dispatches them, archives the
// state of every module and then sleeps out the rest of the cycle.
package executive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/hooking"
	"github.com/phobosrover/phobosexec/timing"
)

// ErrAlreadyRun is returned when Run is called on an engine that has run.
var ErrAlreadyRun = errors.New("engine has already run")

// A CommandSource hands out the commands that are due at the given elapsed
// time. A source that has no more commands returns a single
// command.EndOfTimeline.
type CommandSource interface {
	GetPending(now timing.ElapsedSec) []command.Command
}

// A CommandDispatcher executes one command and reports whether it succeeded.
// Failures are handled by the dispatcher itself.
type CommandDispatcher interface {
	Dispatch(now timing.ElapsedSec, cmd command.Command) bool
}

// An ArchiveSink records the state of the rover once per cycle.
type ArchiveSink interface {
	Write(now timing.ElapsedSec) error
	Close() error
}

// Hook positions of the engine.
var (
	// HookPosCycleStart is invoked right after the cycle start is recorded.
	// The item is the cycle number.
	HookPosCycleStart = &hooking.HookPos{Name: "CycleStart"}

	// HookPosCommand is invoked after each command is dispatched. The item
	// is the command and the detail is a CommandResult.
	HookPosCommand = &hooking.HookPos{Name: "Command"}

	// HookPosOverrun is invoked when the work of a cycle takes longer than
	// the cycle period. The item is a CycleInfo.
	HookPosOverrun = &hooking.HookPos{Name: "Overrun"}

	// HookPosCycleEnd is invoked after the elapsed time is advanced. The
	// item is a CycleInfo.
	HookPosCycleEnd = &hooking.HookPos{Name: "CycleEnd"}

	// HookPosStopped is invoked once the engine stops. The item is the final
	// elapsed time.
	HookPosStopped = &hooking.HookPos{Name: "Stopped"}
)

// CommandResult is the detail of a HookPosCommand invocation.
type CommandResult struct {
	Now     timing.ElapsedSec
	Success bool
}

// CycleInfo describes one completed cycle.
type CycleInfo struct {
	Cycle     uint64
	Start     timing.ElapsedSec
	WorkTime  time.Duration
	CycleTime time.Duration
	Overrun   bool
}

// Engine is the executive cycle engine. It is single threaded: Run drives
// everything from the calling goroutine. Status may be read concurrently.
type Engine struct {
	*hooking.HookableBase

	freq       timing.Freq
	period     time.Duration
	clock      timing.Clock
	source     CommandSource
	dispatcher CommandDispatcher
	archive    ArchiveSink
	logger     *zap.Logger

	state          State
	elapsed        timing.ElapsedSec
	cycle          uint64
	overruns       uint64
	hasRun         bool
	archiveFailing bool

	statusLock sync.RWMutex
	status     Status
}

// Freq returns the cycle frequency.
func (e *Engine) Freq() timing.Freq {
	return e.freq
}

// Elapsed returns the rover elapsed time. Only safe to call from the
// goroutine that runs the engine, or after Run returns.
func (e *Engine) Elapsed() timing.ElapsedSec {
	return e.elapsed
}

// Run executes cycles until the engine stops, then closes the archive sink
// and returns the final elapsed time.
func (e *Engine) Run() (timing.ElapsedSec, error) {
	if e.hasRun {
		return e.elapsed, ErrAlreadyRun
	}

	e.hasRun = true
	e.state = Running
	e.publish(nil)

	e.logger.Info("Starting main loop",
		zap.Float64("freq_hz", float64(e.freq)),
		zap.Duration("period", e.period))

	for e.state == Running {
		e.runCycle()
	}

	return e.stop()
}

func (e *Engine) runCycle() {
	start := e.clock.Now()
	startElapsed := e.elapsed

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosCycleStart,
		Item:   e.cycle,
	})

	e.processCommands()
	e.publish(nil)
	e.writeArchive()

	info := CycleInfo{
		Cycle:    e.cycle,
		Start:    startElapsed,
		WorkTime: e.clock.Now().Sub(start),
	}

	if remaining := e.period - info.WorkTime; remaining > 0 {
		e.clock.Sleep(remaining)
	} else {
		info.Overrun = true
		e.overruns++
		e.logger.Warn("Cycle overrun",
			zap.Uint64("cycle", e.cycle),
			zap.Duration("work", info.WorkTime),
			zap.Duration("budget", e.period))
		e.InvokeHook(hooking.HookCtx{Domain: e, Pos: HookPosOverrun, Item: info})
	}

	// Advancing by the measured duration rather than the period keeps the
	// elapsed time locked to the wall clock.
	info.CycleTime = e.clock.Now().Sub(start)
	e.elapsed = e.elapsed.Advance(info.CycleTime)
	e.cycle++

	e.publish(&info)
	e.InvokeHook(hooking.HookCtx{Domain: e, Pos: HookPosCycleEnd, Item: info})
}

func (e *Engine) processCommands() {
	if e.source == nil {
		e.logger.Warn("No command source, commanding over a link is not " +
			"available yet, stopping")
		e.state = Stopped

		return
	}

	for _, cmd := range e.source.GetPending(e.elapsed) {
		if _, end := cmd.(command.EndOfTimeline); end {
			e.logger.Info("End of script reached", zap.Stringer("ret_s", e.elapsed))
			e.state = Stopped

			continue
		}

		ok := e.dispatcher.Dispatch(e.elapsed, cmd)

		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosCommand,
			Item:   cmd,
			Detail: CommandResult{Now: e.elapsed, Success: ok},
		})
	}
}

func (e *Engine) writeArchive() {
	if e.archive == nil {
		return
	}

	err := e.archive.Write(e.elapsed)

	switch {
	case err != nil && !e.archiveFailing:
		e.archiveFailing = true
		e.logger.Error("Archive write failed", zap.Stringer("ret_s", e.elapsed),
			zap.Error(err))
	case err == nil && e.archiveFailing:
		e.archiveFailing = false
		e.logger.Info("Archive write recovered", zap.Stringer("ret_s", e.elapsed))
	}
}

func (e *Engine) stop() (timing.ElapsedSec, error) {
	e.publish(nil)

	e.logger.Info(fmt.Sprintf(
		"Execution stopped, rover elapsed time = %.2f s", float64(e.elapsed)),
		zap.Uint64("cycles", e.cycle),
		zap.Uint64("overruns", e.overruns))

	e.InvokeHook(hooking.HookCtx{Domain: e, Pos: HookPosStopped, Item: e.elapsed})

	if e.archive == nil {
		return e.elapsed, nil
	}

	if err := e.archive.Close(); err != nil {
		e.logger.Error("Closing archives failed", zap.Error(err))
		return e.elapsed, fmt.Errorf("close archives: %w", err)
	}

	return e.elapsed, nil
}
