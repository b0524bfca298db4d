package executive

import (
	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/hooking"
	"github.com/phobosrover/phobosexec/timing"
)

// Builder can build executive engines.
type Builder struct {
	freq       timing.Freq
	clock      timing.Clock
	source     CommandSource
	dispatcher CommandDispatcher
	archive    ArchiveSink
	logger     *zap.Logger
}

// MakeBuilder returns a Builder with a 100 Hz wall clock engine.
func MakeBuilder() Builder {
	return Builder{
		freq:  100 * timing.Hz,
		clock: timing.WallClock{},
	}
}

// WithFreq sets the cycle frequency.
func (b Builder) WithFreq(freq timing.Freq) Builder {
	b.freq = freq
	return b
}

// WithClock sets the clock the engine measures and sleeps with.
func (b Builder) WithClock(clock timing.Clock) Builder {
	b.clock = clock
	return b
}

// WithSource sets where commands come from. Without a source the engine
// stops after its first cycle.
func (b Builder) WithSource(source CommandSource) Builder {
	b.source = source
	return b
}

// WithDispatcher sets what executes the commands.
func (b Builder) WithDispatcher(dispatcher CommandDispatcher) Builder {
	b.dispatcher = dispatcher
	return b
}

// WithArchive sets the sink that records the state every cycle.
func (b Builder) WithArchive(archive ArchiveSink) Builder {
	b.archive = archive
	return b
}

// WithLogger sets the diagnostic sink.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the engine.
func (b Builder) Build() *Engine {
	if b.source != nil && b.dispatcher == nil {
		panic("a command source needs a dispatcher")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		HookableBase: hooking.NewHookableBase(),
		freq:         b.freq,
		period:       b.freq.Period(),
		clock:        b.clock,
		source:       b.source,
		dispatcher:   b.dispatcher,
		archive:      b.archive,
		logger:       logger.Named("exec"),
	}
}
