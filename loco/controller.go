package loco

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/datarecording"
	"github.com/phobosrover/phobosexec/timing"
)

// StatusReport is returned by the controller for every maneuver request. An
// empty report means the request was accepted.
type StatusReport struct {
	Faults []string
}

// OK reports whether the report carries no faults.
func (r StatusReport) OK() bool {
	return len(r.Faults) == 0
}

func (r StatusReport) String() string {
	if r.OK() {
		return "ok"
	}

	return strings.Join(r.Faults, "; ")
}

// A Controller executes maneuver commands.
type Controller interface {
	// DoManeuverControl hands a validated maneuver to the controller and
	// returns synchronously.
	DoManeuverControl(cmd ManeuverCommand) StatusReport

	// Halt stops all motion.
	Halt()
}

// Limits are the demand limits of the reference controller.
type Limits struct {
	MaxSpeedMss float64 `yaml:"max_speed_mss"`
	MaxCurvM    float64 `yaml:"max_curv_m"`
	MaxRateRads float64 `yaml:"max_rate_rads"`
}

// DefaultParams returns conservative limits for a small rover.
func DefaultParams() Limits {
	return Limits{
		MaxSpeedMss: 0.3,
		MaxCurvM:    2.0,
		MaxRateRads: 0.5,
	}
}

// ArchTable is the table, and database name, of the controller archive.
const ArchTable = "loco_ctrl"

// ArchEntry is one row of the controller archive.
type ArchEntry struct {
	ElapsedS float64
	MnvrType string
	SpeedMss float64
	CurvM    float64
	RateRads float64
	Halted   bool
	Rejected uint64
}

// LocoCtrl is the reference locomotion controller. It keeps the active
// maneuver demand, rejects demands beyond its limits and archives its state.
type LocoCtrl struct {
	lock     sync.Mutex
	params   Limits
	logger   *zap.Logger
	active   *ManeuverCommand
	rejected uint64

	batchSize int
	recorder  datarecording.DataRecorder
}

// NewLocoCtrl creates a controller with the given limits.
func NewLocoCtrl(params Limits, logger *zap.Logger) *LocoCtrl {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LocoCtrl{
		params: params,
		logger: logger.Named("loco_ctrl"),
	}
}

// WithArchiveBatchSize sets how many rows are buffered before the archive is
// flushed.
func (c *LocoCtrl) WithArchiveBatchSize(n int) *LocoCtrl {
	c.batchSize = n
	return c
}

// Params returns the limits the controller was built with.
func (c *LocoCtrl) Params() Limits {
	return c.params
}

// Active returns the maneuver being executed, if any.
func (c *LocoCtrl) Active() (ManeuverCommand, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.active == nil {
		return ManeuverCommand{}, false
	}

	return *c.active, true
}

// DoManeuverControl checks the demand against the limits and makes it the
// active maneuver when it is within them.
func (c *LocoCtrl) DoManeuverControl(cmd ManeuverCommand) StatusReport {
	report := StatusReport{Faults: c.checkLimits(cmd)}

	c.lock.Lock()
	defer c.lock.Unlock()

	if !report.OK() {
		c.rejected++
		return report
	}

	c.active = &cmd
	c.logger.Debug("maneuver accepted", zap.Stringer("mnvr", cmd))

	return report
}

func (c *LocoCtrl) checkLimits(cmd ManeuverCommand) []string {
	var faults []string

	exceeds := func(name string, v, limit float64) {
		if math.Abs(v) > limit {
			faults = append(faults,
				fmt.Sprintf("%s %.3f exceeds limit %.3f", name, v, limit))
		}
	}

	switch p := cmd.Params.(type) {
	case AckermanParams:
		exceeds(KeySpeed, p.SpeedMss, c.params.MaxSpeedMss)
		exceeds(KeyCurvature, p.CurvM, c.params.MaxCurvM)
	case SkidSteerParams:
		exceeds(KeySpeed, p.SpeedMss, c.params.MaxSpeedMss)
		exceeds(KeyCurvature, p.CurvM, c.params.MaxCurvM)
	case PointTurnParams:
		exceeds(KeyRate, p.RateRads, c.params.MaxRateRads)
	default:
		faults = append(faults, fmt.Sprintf("no parameters for %s", cmd.Type))
	}

	return faults
}

// Halt drops the active maneuver.
func (c *LocoCtrl) Halt() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.active = nil
}

// CreateArch opens the controller's archive database in dir.
func (c *LocoCtrl) CreateArch(dir string) error {
	recorder, err := datarecording.Open(filepath.Join(dir, ArchTable), c.batchSize)
	if err != nil {
		return err
	}

	if err := recorder.CreateTable(ArchTable, ArchEntry{}); err != nil {
		recorder.Close()
		return err
	}

	c.recorder = recorder

	return nil
}

// WriteArch records the controller state at the given elapsed time.
func (c *LocoCtrl) WriteArch(now timing.ElapsedSec) error {
	if c.recorder == nil {
		return nil
	}

	c.lock.Lock()
	entry := ArchEntry{
		ElapsedS: float64(now),
		Halted:   c.active == nil,
		Rejected: c.rejected,
	}

	if c.active != nil {
		entry.MnvrType = c.active.Type.String()
		fields := c.active.Params.Fields()
		entry.SpeedMss = fields[KeySpeed]
		entry.CurvM = fields[KeyCurvature]
		entry.RateRads = fields[KeyRate]
	}
	c.lock.Unlock()

	return c.recorder.InsertData(ArchTable, entry)
}

// CloseArch flushes and closes the archive database.
func (c *LocoCtrl) CloseArch() error {
	if c.recorder == nil {
		return nil
	}

	return c.recorder.Close()
}
