package tracing

import (
	"sync"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/timing"
)

// CommandCountTracer counts the dispatched commands by type.
type CommandCountTracer struct {
	lock        sync.Mutex
	tags        []string
	count       map[string]uint64
	failedCount map[string]uint64
}

// NewCommandCountTracer creates a new CommandCountTracer.
func NewCommandCountTracer() *CommandCountTracer {
	return &CommandCountTracer{
		count:       make(map[string]uint64),
		failedCount: make(map[string]uint64),
	}
}

// GetTags returns the command types seen, in order of first appearance.
func (t *CommandCountTracer) GetTags() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.tags...)
}

// GetCount returns how many commands of a type were dispatched.
func (t *CommandCountTracer) GetCount(tag string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count[tag]
}

// GetFailedCount returns how many commands of a type failed.
func (t *CommandCountTracer) GetFailedCount(tag string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.failedCount[tag]
}

// EndCycle does nothing.
func (t *CommandCountTracer) EndCycle(executive.CycleInfo) {}

// Command counts a dispatched command.
func (t *CommandCountTracer) Command(
	cmd command.Command,
	result executive.CommandResult,
) {
	t.lock.Lock()
	defer t.lock.Unlock()

	tag := cmd.Tag()
	if _, ok := t.count[tag]; !ok {
		t.tags = append(t.tags, tag)
	}

	t.count[tag]++

	if !result.Success {
		t.failedCount[tag]++
	}
}

// Stop does nothing.
func (t *CommandCountTracer) Stop(timing.ElapsedSec) {}
