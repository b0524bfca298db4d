// Package dispatch routes commands to their handlers and owns the safe mode
// of the rover. Any command that fails puts the rover in safe mode.
package dispatch

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/loco"
	"github.com/phobosrover/phobosexec/timing"
)

// Stats counts what the dispatcher has done during a run.
type Stats struct {
	Dispatched uint64
	Failed     uint64
	Safings    uint64
}

// A Dispatcher executes commands against the locomotion controller. While the
// rover is safe, only SAFE and UNSAFE are accepted.
type Dispatcher struct {
	ctrl   loco.Controller
	logger *zap.Logger

	safed bool
	stats Stats
}

// NewDispatcher creates a Dispatcher. The rover starts unsafe, meaning
// commanding is enabled.
func NewDispatcher(ctrl loco.Controller, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		ctrl:   ctrl,
		logger: logger.Named("dispatch"),
	}
}

// Safed reports whether the rover is in safe mode.
func (d *Dispatcher) Safed() bool {
	return d.safed
}

// Stats returns the counters of the run so far.
func (d *Dispatcher) Stats() Stats {
	return d.stats
}

// Dispatch executes a command and reports whether it succeeded. A command
// that fails, or whose type is not known, makes the rover safe before
// Dispatch returns.
func (d *Dispatcher) Dispatch(now timing.ElapsedSec, cmd command.Command) bool {
	d.stats.Dispatched++

	if unknown, ok := cmd.(command.Unknown); ok {
		d.logger.Warn(
			fmt.Sprintf("Unknown command type %q, making safe", unknown.Type),
			zap.Stringer("ret_s", now))
		d.stats.Failed++
		d.safe()

		return false
	}

	d.logger.Info(fmt.Sprintf("%v: new command: %v", now, cmd),
		zap.String("type", cmd.Tag()))

	if d.handle(cmd) {
		return true
	}

	d.logger.Warn("Error executing last command, making safe",
		zap.Stringer("ret_s", now), zap.String("type", cmd.Tag()))
	d.stats.Failed++
	d.safe()

	return false
}

func (d *Dispatcher) handle(cmd command.Command) bool {
	switch c := cmd.(type) {
	case command.Safe:
		return d.safe()
	case command.Unsafe:
		return d.unsafe()
	case command.None:
		return d.none()
	case command.Maneuver:
		return d.maneuver(c)
	case command.Invalid:
		d.logger.Error("Error building command", zap.String("type", c.Type),
			zap.Error(c.Err))
		return false
	case command.EndOfTimeline:
		return true
	default:
		d.logger.Error("unhandled command variant",
			zap.String("variant", fmt.Sprintf("%T", cmd)))
		return false
	}
}

func (d *Dispatcher) rejectIfSafe(cmd command.Command) bool {
	if !d.safed {
		return false
	}

	d.logger.Warn("Rover is safe, rejecting command",
		zap.String("type", cmd.Tag()))

	return true
}

func (d *Dispatcher) none() bool {
	return !d.rejectIfSafe(command.None{})
}

// safe halts all motion and blocks commanding. It can be invoked any number
// of times and never fails.
func (d *Dispatcher) safe() bool {
	if !d.safed {
		d.logger.Warn("Rover safe")
	}

	d.safed = true
	d.stats.Safings++
	d.ctrl.Halt()

	return true
}

func (d *Dispatcher) unsafe() bool {
	if d.safed {
		d.logger.Info("Rover unsafe")
	}

	d.safed = false

	return true
}

func (d *Dispatcher) maneuver(c command.Maneuver) bool {
	if d.rejectIfSafe(c) {
		return false
	}

	report := d.ctrl.DoManeuverControl(c.Cmd)
	if report.OK() {
		return true
	}

	// A fault report from the controller is handled like any other failed
	// command until the controller defines recovery actions per fault.
	d.logger.Error("Locomotion control reported faults",
		zap.Stringer("mnvr", c.Cmd), zap.Strings("faults", report.Faults))

	return false
}
