// Package archive fans the per-cycle archive write out to every module that
// keeps an archive.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/timing"
)

// DirName is the directory under the session directory that holds archives.
const DirName = "Archives"

// ErrClosed is returned when the manager is used after Close.
var ErrClosed = errors.New("archive manager is closed")

// A Module keeps an archive of its own state.
type Module interface {
	// CreateArch creates the module's archive files in dir. It is called
	// once, before any write.
	CreateArch(dir string) error

	// WriteArch records the module's full state at the given elapsed time.
	WriteArch(now timing.ElapsedSec) error

	// CloseArch closes the module's archive files.
	CloseArch() error
}

type namedModule struct {
	name   string
	module Module
}

// Manager owns the archive lifecycle of all registered modules.
type Manager struct {
	logger  *zap.Logger
	modules []namedModule
	dir     string
	created bool
	closed  bool
}

// NewManager creates a Manager with no modules.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{logger: logger.Named("archive")}
}

// Register adds a module. Registering two modules under the same name panics.
func (m *Manager) Register(name string, module Module) {
	for _, nm := range m.modules {
		if nm.name == name {
			panic("archive module " + name + " already registered")
		}
	}

	m.modules = append(m.modules, namedModule{name: name, module: module})
}

// Modules returns the names of the registered modules in registration order.
func (m *Manager) Modules() []string {
	names := make([]string, 0, len(m.modules))
	for _, nm := range m.modules {
		names = append(names, nm.name)
	}

	return names
}

// Dir returns the directory archives are written to.
func (m *Manager) Dir() string {
	return m.dir
}

// Create makes the archive directory under the session directory and asks
// every module to create its archive there. If a module fails, the archives
// already created are closed and the manager cannot be used any more.
func (m *Manager) Create(sessionPath string) error {
	if m.closed {
		return ErrClosed
	}

	m.dir = filepath.Join(sessionPath, DirName)
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	for i, nm := range m.modules {
		if err := nm.module.CreateArch(m.dir); err != nil {
			err = fmt.Errorf("create archive for %s: %w", nm.name, err)
			m.closed = true

			return errors.Join(err, closeModules(m.modules[:i]))
		}
	}

	m.created = true

	return nil
}

// Write records the state of every module. A failing module does not stop
// the others from being written.
func (m *Manager) Write(now timing.ElapsedSec) error {
	if m.closed {
		return ErrClosed
	}

	var errs []error

	for _, nm := range m.modules {
		if err := nm.module.WriteArch(now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nm.name, err))
		}
	}

	return errors.Join(errs...)
}

// Close closes every module's archive. Only the first call has an effect;
// later calls return ErrClosed.
func (m *Manager) Close() error {
	if m.closed {
		return ErrClosed
	}

	m.closed = true
	err := closeModules(m.modules)

	if m.created {
		m.logger.Info("Archives closed", zap.String("dir", m.dir))
	}

	return err
}

func closeModules(modules []namedModule) error {
	var errs []error

	for _, nm := range modules {
		if err := nm.module.CloseArch(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nm.name, err))
		}
	}

	return errors.Join(errs...)
}
