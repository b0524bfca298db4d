// Package tracing collects statistics about the executive cycle through the
// engine hooks.
package tracing

import (
	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/timing"
)

// A Tracer is notified about what happens in the executive cycle.
type Tracer interface {
	EndCycle(info executive.CycleInfo)
	Command(cmd command.Command, result executive.CommandResult)
	Stop(elapsed timing.ElapsedSec)
}
