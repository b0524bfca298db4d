package tracing

import (
	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/hooking"
	"github.com/phobosrover/phobosexec/timing"
)

// CollectTrace lets the tracer collect traces from a domain.
func CollectTrace(domain hooking.Hookable, tracer Tracer) {
	domain.AcceptHook(&traceHook{t: tracer})
}

// A traceHook forwards engine hook invocations to a tracer.
type traceHook struct {
	t Tracer
}

// Func calls the tracer interfaces when the hook is triggered.
func (h *traceHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case executive.HookPosCycleEnd:
		h.t.EndCycle(ctx.Item.(executive.CycleInfo))
	case executive.HookPosCommand:
		h.t.Command(
			ctx.Item.(command.Command),
			ctx.Detail.(executive.CommandResult))
	case executive.HookPosStopped:
		h.t.Stop(ctx.Item.(timing.ElapsedSec))
	}
}
