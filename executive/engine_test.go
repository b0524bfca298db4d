package executive

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/hooking"
	"github.com/phobosrover/phobosexec/timing"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// workHook makes every cycle take the given amount of wall time.
func workHook(clock *fakeClock, work time.Duration) hooking.Hook {
	return hooking.HookFunc(func(ctx hooking.HookCtx) {
		if ctx.Pos == HookPosCycleStart {
			clock.Advance(work)
		}
	})
}

func endOfTimeline() []command.Command {
	return []command.Command{command.EndOfTimeline{}}
}

var _ = Describe("Engine", func() {
	var (
		mockCtrl   *gomock.Controller
		clock      *fakeClock
		source     *MockCommandSource
		dispatcher *MockCommandDispatcher
		sink       *MockArchiveSink
		logs       *observer.ObservedLogs
		builder    Builder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		clock = newFakeClock()
		source = NewMockCommandSource(mockCtrl)
		dispatcher = NewMockCommandDispatcher(mockCtrl)
		sink = NewMockArchiveSink(mockCtrl)

		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)

		builder = MakeBuilder().
			WithClock(clock).
			WithSource(source).
			WithDispatcher(dispatcher).
			WithArchive(sink).
			WithLogger(zap.New(core))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should stop after one cycle without a command source", func() {
		engine := builder.WithSource(nil).Build()

		gomock.InOrder(
			sink.EXPECT().Write(timing.ElapsedSec(0)).Return(nil),
			sink.EXPECT().Close().Return(nil),
		)

		elapsed, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(float64(elapsed)).To(BeNumerically("~", 0.01, 1e-12))
		Expect(engine.Status().State).To(Equal(Stopped))
		Expect(logs.FilterMessageSnippet("No command source").Len()).To(Equal(1))
	})

	It("should stop on the end of the timeline and close the archive once", func() {
		engine := builder.Build()

		gomock.InOrder(
			source.EXPECT().GetPending(gomock.Any()).
				Return([]command.Command{command.None{}}),
			dispatcher.EXPECT().Dispatch(timing.ElapsedSec(0), command.None{}).
				Return(true),
			sink.EXPECT().Write(timing.ElapsedSec(0)).Return(nil),
			source.EXPECT().GetPending(gomock.Any()).Return(nil),
			sink.EXPECT().Write(gomock.Any()).Return(nil),
			source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline()),
			sink.EXPECT().Write(gomock.Any()).Return(nil),
			sink.EXPECT().Close().Return(nil),
		)

		elapsed, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(float64(elapsed)).To(BeNumerically("~", 0.03, 1e-12))
		Expect(engine.Status().Cycle).To(Equal(uint64(3)))
		Expect(logs.FilterMessageSnippet("Execution stopped").Len()).To(Equal(1))
	})

	It("should dispatch the commands of a cycle in the order returned", func() {
		engine := builder.Build()
		batch := []command.Command{
			command.Safe{}, command.Unsafe{}, command.None{},
		}

		source.EXPECT().GetPending(timing.ElapsedSec(0)).Return(batch)
		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(nil).Times(2)
		sink.EXPECT().Close().Return(nil)

		gomock.InOrder(
			dispatcher.EXPECT().Dispatch(gomock.Any(), command.Safe{}).Return(true),
			dispatcher.EXPECT().Dispatch(gomock.Any(), command.Unsafe{}).Return(true),
			dispatcher.EXPECT().Dispatch(gomock.Any(), command.None{}).Return(false),
		)

		_, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
	})

	It("should query the source with the elapsed time of each cycle", func() {
		engine := builder.Build()
		engine.AcceptHook(workHook(clock, 3*time.Millisecond))

		var polled []timing.ElapsedSec
		source.EXPECT().GetPending(gomock.Any()).
			DoAndReturn(func(now timing.ElapsedSec) []command.Command {
				polled = append(polled, now)
				if len(polled) == 3 {
					return endOfTimeline()
				}
				return nil
			}).Times(3)
		sink.EXPECT().Write(gomock.Any()).Return(nil).Times(3)
		sink.EXPECT().Close().Return(nil)

		_, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(polled).To(HaveLen(3))
		Expect(float64(polled[0])).To(Equal(0.0))
		Expect(float64(polled[1])).To(BeNumerically("~", 0.01, 1e-12))
		Expect(float64(polled[2])).To(BeNumerically("~", 0.02, 1e-12))
	})

	It("should sleep out the remainder of the cycle", func() {
		engine := builder.Build()
		engine.AcceptHook(workHook(clock, 4*time.Millisecond))

		source.EXPECT().GetPending(gomock.Any()).Return(nil).Times(4)
		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(nil).Times(5)
		sink.EXPECT().Close().Return(nil)

		elapsed, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(clock.sleeps).To(HaveLen(5))
		for _, d := range clock.sleeps {
			Expect(d).To(Equal(6 * time.Millisecond))
		}
		Expect(float64(elapsed)).To(BeNumerically("~", 0.05, 1e-9))
		Expect(engine.Status().Overruns).To(BeZero())
	})

	It("should follow the wall clock when every cycle overruns", func() {
		const cycles = 20

		engine := builder.Build()
		engine.AcceptHook(workHook(clock, 12*time.Millisecond))

		var overruns []CycleInfo
		engine.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == HookPosOverrun {
				overruns = append(overruns, ctx.Item.(CycleInfo))
			}
		}))

		source.EXPECT().GetPending(gomock.Any()).Return(nil).Times(cycles - 1)
		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(nil).Times(cycles)
		sink.EXPECT().Close().Return(nil)

		elapsed, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(clock.sleeps).To(BeEmpty())
		Expect(overruns).To(HaveLen(cycles))
		Expect(engine.Status().Overruns).To(Equal(uint64(cycles)))
		Expect(float64(elapsed)).To(BeNumerically("~", cycles*0.012, 1e-9))
		Expect(float64(elapsed)).ToNot(BeNumerically("~", cycles*0.01, 1e-3))
		Expect(logs.FilterMessage("Cycle overrun").Len()).To(Equal(cycles))
	})

	It("should flag a cycle whose work uses exactly the whole budget", func() {
		engine := builder.Build()
		engine.AcceptHook(workHook(clock, 10*time.Millisecond))

		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(nil)
		sink.EXPECT().Close().Return(nil)

		_, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(engine.Status().Overruns).To(Equal(uint64(1)))
	})

	It("should keep cycling when the archive write fails", func() {
		engine := builder.Build()

		source.EXPECT().GetPending(gomock.Any()).Return(nil).Times(2)
		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(errors.New("disk full")).Times(2)
		sink.EXPECT().Write(gomock.Any()).Return(nil)
		sink.EXPECT().Close().Return(nil)

		_, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(logs.FilterMessage("Archive write failed").Len()).To(Equal(1))
		Expect(logs.FilterMessage("Archive write recovered").Len()).To(Equal(1))
	})

	It("should report a failure to close the archive", func() {
		engine := builder.Build()

		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(nil)
		sink.EXPECT().Close().Return(errors.New("flush failed"))

		_, err := engine.Run()

		Expect(err).To(MatchError(ContainSubstring("flush failed")))
	})

	It("should only run once", func() {
		engine := builder.Build()

		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())
		sink.EXPECT().Write(gomock.Any()).Return(nil)
		sink.EXPECT().Close().Return(nil)

		_, err := engine.Run()
		Expect(err).ToNot(HaveOccurred())

		_, err = engine.Run()
		Expect(err).To(MatchError(ErrAlreadyRun))
	})

	It("should run without an archive sink", func() {
		engine := builder.WithArchive(nil).Build()

		source.EXPECT().GetPending(gomock.Any()).Return(endOfTimeline())

		_, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
	})

	It("should invoke the hooks of a cycle in order", func() {
		engine := builder.Build()

		var positions []string
		engine.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			positions = append(positions, ctx.Pos.Name)
		}))

		source.EXPECT().GetPending(gomock.Any()).
			Return([]command.Command{command.None{}, command.EndOfTimeline{}})
		dispatcher.EXPECT().Dispatch(gomock.Any(), command.None{}).Return(true)
		sink.EXPECT().Write(gomock.Any()).Return(nil)
		sink.EXPECT().Close().Return(nil)

		_, err := engine.Run()

		Expect(err).ToNot(HaveOccurred())
		Expect(positions).To(Equal([]string{
			"CycleStart", "Command", "CycleEnd", "Stopped",
		}))
	})

	It("should panic when built with a source but no dispatcher", func() {
		Expect(func() { builder.WithDispatcher(nil).Build() }).To(Panic())
	})
})
