package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/hooking"
)

type sampleState struct {
	Speed  float64
	Halted bool
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

var _ = Describe("Monitor", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockStatusSource
		m        *Monitor
		handler  http.Handler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockStatusSource(mockCtrl)

		m = NewMonitor(nil)
		m.RegisterEngine(engine)
		handler = m.router()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should report the elapsed time", func() {
		engine.EXPECT().Status().Return(executive.Status{Elapsed: 1.25})

		rec := get(handler, "/api/now")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal(`{"now":1.2500000000}`))
	})

	It("should report the engine status", func() {
		engine.EXPECT().Status().Return(executive.Status{
			State:    executive.Running,
			Cycle:    42,
			Overruns: 1,
			Safed:    true,
		})

		rec := get(handler, "/api/status")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("state", "RUNNING"))
		Expect(body).To(HaveKeyWithValue("cycle", 42.0))
		Expect(body).To(HaveKeyWithValue("overruns", 1.0))
		Expect(body).To(HaveKeyWithValue("safed", true))
	})

	It("should answer 503 without an engine", func() {
		m = NewMonitor(nil)

		rec := get(m.router(), "/api/status")

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should serve the state of registered objects", func() {
		m.RegisterObject("loco", &sampleState{Speed: 0.2})

		rec := get(m.router(), "/api/state/loco")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Speed"))

		rec = get(m.router(), "/api/objects")
		Expect(rec.Body.String()).To(MatchJSON(`["loco"]`))
	})

	It("should answer 404 for unknown objects", func() {
		rec := get(handler, "/api/state/arm")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should not register an object twice", func() {
		m.RegisterObject("loco", &sampleState{})

		Expect(func() { m.RegisterObject("loco", &sampleState{}) }).To(Panic())
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("Script", 3)
		bar.IncrementFinished(2)
		m.CreateProgressBar("Other", 1)

		rec := get(handler, "/api/progress")

		var bars []ProgressBarState
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(2))
		Expect(bars[0].Name).To(Equal("Script"))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].Total).To(Equal(uint64(3)))

		m.CompleteProgressBar(bar)

		rec = get(handler, "/api/progress")
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Other"))
	})

	It("should report resource usage", func() {
		rec := get(handler, "/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve the dashboard", func() {
		rec := get(handler, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should replace forbidden port numbers", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})

	It("should refuse to stop a server that never started", func() {
		Expect(m.Shutdown(context.Background())).To(MatchError(ErrNotStarted))
	})

	It("should serve and shut down without leaking goroutines", func() {
		ignore := goleak.IgnoreCurrent()

		engine.EXPECT().Status().Return(executive.Status{Elapsed: 2}).AnyTimes()

		addr, err := m.StartServer()
		Expect(err).ToNot(HaveOccurred())

		client := &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
		}
		rsp, err := client.Get("http://" + addr + "/api/now")
		Expect(err).ToNot(HaveOccurred())
		body, err := io.ReadAll(rsp.Body)
		Expect(err).ToNot(HaveOccurred())
		rsp.Body.Close()
		Expect(string(body)).To(Equal(`{"now":2.0000000000}`))

		Expect(m.Shutdown(context.Background())).To(Succeed())
		client.CloseIdleConnections()
		Expect(goleak.Find(ignore)).To(Succeed())
	})
})

var _ = Describe("CommandProgressHook", func() {
	var (
		m    *Monitor
		bar  *ProgressBar
		hook *CommandProgressHook
	)

	BeforeEach(func() {
		m = NewMonitor(nil)
		bar = m.CreateProgressBar("Script", 2)
		hook = NewCommandProgressHook(m, bar)
	})

	It("should count dispatched commands", func() {
		hook.Func(hooking.HookCtx{Pos: executive.HookPosCycleStart})
		hook.Func(hooking.HookCtx{Pos: executive.HookPosCommand})
		hook.Func(hooking.HookCtx{Pos: executive.HookPosCommand})

		Expect(bar.State().Finished).To(Equal(uint64(2)))
	})

	It("should take the bar off the monitor when the engine stops", func() {
		handler := m.router()

		hook.Func(hooking.HookCtx{Pos: executive.HookPosCommand})
		hook.Func(hooking.HookCtx{Pos: executive.HookPosStopped})

		var bars []ProgressBarState
		rec := get(handler, "/api/progress")
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(BeEmpty())
		Expect(bar.State().Finished).To(Equal(uint64(1)))
	})
})
