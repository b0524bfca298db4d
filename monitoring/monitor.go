// Package monitoring serves the live state of the executive over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/executive"
	"github.com/phobosrover/phobosexec/monitoring/web"
)

// ErrNotStarted is returned when stopping a monitor that is not serving.
var ErrNotStarted = errors.New("monitor server not started")

// A StatusSource reports the live status of the executive.
type StatusSource interface {
	Status() executive.Status
}

// Monitor turns the executive into a server that can be watched from a
// browser.
type Monitor struct {
	engine          StatusSource
	objects         map[string]any
	portNumber      int
	profileDuration time.Duration
	logger          *zap.Logger

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server   *http.Server
	serveErr chan error
}

// NewMonitor creates a new Monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		objects:         make(map[string]any),
		profileDuration: time.Second,
		logger:          logger.Named("monitor"),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// not allowed and are replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("Port number not allowed, using a random port instead",
			zap.Int("port", portNumber))

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine whose status is served.
func (m *Monitor) RegisterEngine(e StatusSource) {
	m.engine = e
}

// RegisterObject exposes the state of an object under /api/state/{name}.
func (m *Monitor) RegisterObject(name string, obj any) {
	if _, found := m.objects[name]; found {
		panic(fmt.Sprintf("object %s already registered", name))
	}

	m.objects[name] = obj
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/objects", m.listObjects)
	r.HandleFunc("/api/state/{name}", m.objectState)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the web server in the background and returns the
// address it listens on.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", "localhost:"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", fmt.Errorf("start monitor: %w", err)
	}

	m.server = &http.Server{
		Handler:           m.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.serveErr = make(chan error, 1)

	go func() {
		m.serveErr <- m.server.Serve(listener)
	}()

	addr := listener.Addr().String()
	m.logger.Info(fmt.Sprintf("Monitoring the executive with http://%s", addr))

	return addr, nil
}

// OpenBrowser opens the dashboard served at addr.
func (m *Monitor) OpenBrowser(addr string) {
	browser.Stdout = os.Stderr

	if err := browser.OpenURL("http://" + addr); err != nil {
		m.logger.Warn("Cannot open a browser", zap.Error(err))
	}
}

// Shutdown stops the web server and waits for it to return.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return ErrNotStarted
	}

	if err := m.server.Shutdown(ctx); err != nil {
		return err
	}

	err := <-m.serveErr
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Debug("Cannot write response", zap.Error(err))
	}
}

func (m *Monitor) fail(w http.ResponseWriter, code int, err error) {
	m.logger.Warn("Request failed", zap.Int("code", code), zap.Error(err))
	http.Error(w, err.Error(), code)
}

func (m *Monitor) engineOr503(w http.ResponseWriter) StatusSource {
	if m.engine == nil {
		m.fail(w, http.StatusServiceUnavailable, errors.New("no engine"))
	}

	return m.engine
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "{\"now\":%.10f}", float64(e.Status().Elapsed))
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	e := m.engineOr503(w)
	if e == nil {
		return
	}

	m.writeJSON(w, e.Status())
}

func (m *Monitor) listObjects(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}

	sort.Strings(names)

	m.writeJSON(w, names)
}

func (m *Monitor) objectState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	obj, found := m.objects[name]
	if !found {
		m.fail(w, http.StatusNotFound, fmt.Errorf("object %s not found", name))
		return
	}

	buf := bytes.NewBuffer(nil)
	serializer := goseth.NewSerializer()
	serializer.SetRoot(obj)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(buf); err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarState, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.State())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		m.fail(w, http.StatusConflict, err)
		return
	}

	select {
	case <-time.After(m.profileDuration):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, prof)
}
