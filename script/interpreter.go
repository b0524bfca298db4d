// Package script loads a command script into a time-ordered timeline and
// hands out the commands that are due as the rover elapsed time advances.
//
// A command is written as
//
//	<time>: <json object>;
//
// at the start of a line. Further commands may follow on the same line right
// after the terminating semicolon. Anything else is ignored.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/timing"
)

// ErrInvalidCommand is wrapped by every LoadError.
var ErrInvalidCommand = errors.New("invalid command")

// LoadError reports a command whose time or payload could not be decoded.
// TimeText holds the time as written in the script.
type LoadError struct {
	ExecTime timing.ElapsedSec
	TimeText string
	Err      error
}

func (e *LoadError) Error() string {
	if e.TimeText != "" {
		return fmt.Sprintf("invalid command at t=%s: %v", e.TimeText, e.Err)
	}

	return fmt.Sprintf("invalid command at t=%v: %v", float64(e.ExecTime), e.Err)
}

// Unwrap exposes the decode failure.
func (e *LoadError) Unwrap() []error {
	return []error{ErrInvalidCommand, e.Err}
}

// ScheduledCommand is a command bound to the elapsed time it becomes due.
type ScheduledCommand struct {
	ExecTime timing.ElapsedSec
	Payload  command.Payload
	Command  command.Command
}

var commandPattern = regexp.MustCompile(
	`\A\s*(\d+(?:\.\d+)?)\s*:\s*([^;]*);`)

// Interpreter is a command source backed by a script. The whole script is
// parsed when the interpreter is created.
type Interpreter struct {
	name     string
	pending  []ScheduledCommand
	executed []ScheduledCommand
	total    int
	duration timing.ElapsedSec
}

// Load reads and parses the script at path.
func Load(path string, logger *zap.Logger) (*Interpreter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(path, f, logger)
}

// Parse parses a script read from r. The name is only used in diagnostics.
// A command whose payload is not a JSON object aborts the parse.
func Parse(name string, r io.Reader, logger *zap.Logger) (*Interpreter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	cmds, err := parseCommands(string(data))
	if err != nil {
		logger.Error("invalid command in script",
			zap.String("script", name), zap.Error(err))
		return nil, err
	}

	if !sort.SliceIsSorted(cmds, func(i, j int) bool {
		return cmds[i].ExecTime < cmds[j].ExecTime
	}) {
		logger.Warn("script commands are not in time order, sorting",
			zap.String("script", name))
		sort.SliceStable(cmds, func(i, j int) bool {
			return cmds[i].ExecTime < cmds[j].ExecTime
		})
	}

	s := &Interpreter{
		name:    name,
		pending: cmds,
		total:   len(cmds),
	}

	if len(cmds) > 0 {
		s.duration = cmds[len(cmds)-1].ExecTime
	}

	logger.Info(fmt.Sprintf("Loaded %d commands from %s", s.total, name))
	logger.Info(fmt.Sprintf("Total script run time is %v s", float64(s.duration)))

	return s, nil
}

func parseCommands(text string) ([]ScheduledCommand, error) {
	var cmds []ScheduledCommand

	pos := 0
	for pos < len(text) {
		loc := commandPattern.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			next := strings.IndexByte(text[pos:], '\n')
			if next < 0 {
				break
			}

			pos += next + 1

			continue
		}

		timeStr := text[pos+loc[2] : pos+loc[3]]
		body := text[pos+loc[4] : pos+loc[5]]
		pos += loc[1]

		execTime, err := strconv.ParseFloat(timeStr, 64)
		if err != nil {
			return nil, &LoadError{
				ExecTime: timing.ElapsedSec(execTime),
				TimeText: timeStr,
				Err:      err,
			}
		}

		var payload command.Payload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			return nil, &LoadError{
				ExecTime: timing.ElapsedSec(execTime),
				TimeText: timeStr,
				Err:      err,
			}
		}

		if payload == nil {
			return nil, &LoadError{
				ExecTime: timing.ElapsedSec(execTime),
				TimeText: timeStr,
				Err:      errors.New("payload is null"),
			}
		}

		cmds = append(cmds, ScheduledCommand{
			ExecTime: timing.ElapsedSec(execTime),
			Payload:  payload,
			Command:  command.Decode(payload),
		})
	}

	return cmds, nil
}

// Name returns the name the script was loaded under.
func (s *Interpreter) Name() string {
	return s.name
}

// GetPending returns the commands whose time is strictly before now, in time
// order, moving them to the executed log. Each command is returned once. When
// no command is left, GetPending returns a single EndOfTimeline.
func (s *Interpreter) GetPending(now timing.ElapsedSec) []command.Command {
	if len(s.pending) == 0 {
		return []command.Command{command.EndOfTimeline{}}
	}

	var due []command.Command

	for len(s.pending) > 0 && s.pending[0].ExecTime < now {
		item := s.pending[0]
		s.pending = s.pending[1:]

		due = append(due, item.Command)
		s.executed = append(s.executed, item)
	}

	return due
}

// Pending returns the commands that have not been handed out yet.
func (s *Interpreter) Pending() []ScheduledCommand {
	return append([]ScheduledCommand(nil), s.pending...)
}

// Executed returns the commands handed out so far, in the order they were
// handed out.
func (s *Interpreter) Executed() []ScheduledCommand {
	return append([]ScheduledCommand(nil), s.executed...)
}

// NumPending returns the number of commands not yet handed out.
func (s *Interpreter) NumPending() int {
	return len(s.pending)
}

// NumExecuted returns the number of commands handed out.
func (s *Interpreter) NumExecuted() int {
	return len(s.executed)
}

// Total returns the number of commands in the script.
func (s *Interpreter) Total() int {
	return s.total
}

// Duration returns the time of the last command.
func (s *Interpreter) Duration() timing.ElapsedSec {
	return s.duration
}
