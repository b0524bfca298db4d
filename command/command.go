// Package command defines the commands the executive understands. A decoded
// payload becomes exactly one variant of Command; the dispatcher switches over
// the variants instead of looking handlers up by name.
package command

import (
	"fmt"

	"github.com/phobosrover/phobosexec/loco"
)

// Payload is the structured record carried by a command line of a script.
type Payload map[string]any

// Type tags recognised on the wire.
const (
	TypeNone     = "NONE"
	TypeSafe     = "SAFE"
	TypeUnsafe   = "UNSAFE"
	TypeManeuver = "MNVR"
)

// KeyType is the payload key holding the type tag.
const KeyType = "type"

// Command is one of None, Safe, Unsafe, Maneuver, Invalid, Unknown or
// EndOfTimeline.
type Command interface {
	// Tag returns the wire type tag the command was decoded from.
	Tag() string

	sealed()
}

// None does nothing.
type None struct{}

// Safe stops all motion and blocks commanding until an Unsafe arrives.
type Safe struct{}

// Unsafe releases a previous Safe.
type Unsafe struct{}

// Maneuver carries a validated maneuver for the locomotion controller.
type Maneuver struct {
	Cmd loco.ManeuverCommand
}

// Invalid is a command with a recognised tag whose payload failed
// validation.
type Invalid struct {
	Type string
	Err  error
}

// Unknown is a command whose tag is missing or not recognised.
type Unknown struct {
	Type string
}

// EndOfTimeline is returned by a source that has no more commands.
type EndOfTimeline struct{}

func (None) Tag() string          { return TypeNone }
func (Safe) Tag() string          { return TypeSafe }
func (Unsafe) Tag() string        { return TypeUnsafe }
func (Maneuver) Tag() string      { return TypeManeuver }
func (c Invalid) Tag() string     { return c.Type }
func (c Unknown) Tag() string     { return c.Type }
func (EndOfTimeline) Tag() string { return "" }

func (None) sealed()          {}
func (Safe) sealed()          {}
func (Unsafe) sealed()        {}
func (Maneuver) sealed()      {}
func (Invalid) sealed()       {}
func (Unknown) sealed()       {}
func (EndOfTimeline) sealed() {}

func (None) String() string   { return TypeNone }
func (Safe) String() string   { return TypeSafe }
func (Unsafe) String() string { return TypeUnsafe }

func (c Maneuver) String() string {
	return fmt.Sprintf("%s %s", TypeManeuver, c.Cmd)
}

func (c Invalid) String() string {
	return fmt.Sprintf("%s (invalid: %v)", c.Type, c.Err)
}

func (c Unknown) String() string {
	return fmt.Sprintf("%q (unknown)", c.Type)
}

// Decode converts a payload into its Command variant. Decode never fails;
// problems with the payload are carried by the Invalid and Unknown variants
// so they surface when the command is dispatched.
func Decode(payload Payload) Command {
	rawTag, ok := payload[KeyType]
	if !ok {
		return Unknown{}
	}

	tag, ok := rawTag.(string)
	if !ok {
		return Unknown{Type: fmt.Sprint(rawTag)}
	}

	switch tag {
	case TypeNone:
		return None{}
	case TypeSafe:
		return Safe{}
	case TypeUnsafe:
		return Unsafe{}
	case TypeManeuver:
		cmd, err := loco.BuildManeuver(payload)
		if err != nil {
			return Invalid{Type: tag, Err: err}
		}

		return Maneuver{Cmd: cmd}
	default:
		return Unknown{Type: tag}
	}
}
