package executive

import (
	"path/filepath"

	"github.com/phobosrover/phobosexec/datarecording"
	"github.com/phobosrover/phobosexec/timing"
)

// ExecArchTable is the table, and database name, of the exec archive.
const ExecArchTable = "exec"

// ExecArchEntry is one row of the exec archive.
type ExecArchEntry struct {
	ElapsedS     float64
	Cycle        uint64
	LastCycleS   float64
	Overruns     uint64
	Safed        bool
	Pending      int
	Executed     int
	Dispatched   uint64
	FailedCmds   uint64
	SafingsCount uint64
}

// ExecArchive archives the engine status every cycle.
type ExecArchive struct {
	engine    *Engine
	batchSize int
	recorder  datarecording.DataRecorder
}

// NewExecArchive creates the archive module of an engine.
func NewExecArchive(engine *Engine, batchSize int) *ExecArchive {
	return &ExecArchive{engine: engine, batchSize: batchSize}
}

// CreateArch opens the exec archive database in dir.
func (a *ExecArchive) CreateArch(dir string) error {
	recorder, err := datarecording.Open(
		filepath.Join(dir, ExecArchTable), a.batchSize)
	if err != nil {
		return err
	}

	if err := recorder.CreateTable(ExecArchTable, ExecArchEntry{}); err != nil {
		recorder.Close()
		return err
	}

	a.recorder = recorder

	return nil
}

// WriteArch records the engine status.
func (a *ExecArchive) WriteArch(now timing.ElapsedSec) error {
	if a.recorder == nil {
		return nil
	}

	s := a.engine.Status()

	return a.recorder.InsertData(ExecArchTable, ExecArchEntry{
		ElapsedS:     float64(now),
		Cycle:        s.Cycle,
		LastCycleS:   s.LastCycleTime.Seconds(),
		Overruns:     s.Overruns,
		Safed:        s.Safed,
		Pending:      s.Pending,
		Executed:     s.Executed,
		Dispatched:   s.Dispatched,
		FailedCmds:   s.Failed,
		SafingsCount: s.Safings,
	})
}

// CloseArch flushes and closes the exec archive.
func (a *ExecArchive) CloseArch() error {
	if a.recorder == nil {
		return nil
	}

	return a.recorder.Close()
}
