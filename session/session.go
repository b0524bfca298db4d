// Package session owns the directory a run of the executive writes into and
// the loggers that write there.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IDLayout formats the start time of a session into its ID.
const IDLayout = "20060102_150405"

// Names of the entries of a session directory.
const (
	ArchivesDirName = "Archives"
	DataDirName     = "Data"
	LogFileName     = "PhobosExec.log"
)

// ErrSessionExists is returned when the session directory is already there.
var ErrSessionExists = errors.New("session already exists")

// A Session is one run of the executive.
type Session struct {
	ID    string
	Path  string
	Start time.Time
}

// Create makes the directory of the session starting at now under root,
// along with its archive and data subdirectories.
func Create(root string, now time.Time) (*Session, error) {
	s := &Session{
		ID:    now.Format(IDLayout),
		Start: now,
	}
	s.Path = filepath.Join(root, s.ID)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}

	if err := os.Mkdir(s.Path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", s.Path, ErrSessionExists)
		}

		return nil, fmt.Errorf("create session directory: %w", err)
	}

	for _, dir := range []string{s.ArchivesDir(), s.DataDir()} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session subdirectory: %w", err)
		}
	}

	return s, nil
}

// ArchivesDir is where the module archives are written.
func (s *Session) ArchivesDir() string {
	return filepath.Join(s.Path, ArchivesDirName)
}

// DataDir is where bulk data such as images are written.
func (s *Session) DataDir() string {
	return filepath.Join(s.Path, DataDirName)
}

// LogPath is the path of the session log file.
func (s *Session) LogPath() string {
	return filepath.Join(s.Path, LogFileName)
}
