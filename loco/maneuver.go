// Package loco defines the contract between the executive and the locomotion
// controller, along with a reference controller that tracks the commanded
// maneuver, enforces demand limits and archives its state every cycle.
package loco

import (
	"errors"
	"fmt"
)

// Errors reported while building a maneuver command.
var (
	ErrMissingManeuverID = errors.New("the command must include a maneuver ID")
	ErrUnknownManeuver   = errors.New("not a valid maneuver ID")
	ErrMissingParam      = errors.New("missing maneuver parameter")
	ErrInvalidParam      = errors.New("maneuver parameter must be a number")
)

// ManeuverType enumerates the maneuvers the locomotion controller executes.
type ManeuverType int

// The closed set of maneuvers.
const (
	Ackerman ManeuverType = iota + 1
	SkidSteer
	PointTurn
)

var maneuverNames = map[ManeuverType]string{
	Ackerman:  "ACKERMAN",
	SkidSteer: "SKID_STEER",
	PointTurn: "POINT_TURN",
}

func (t ManeuverType) String() string {
	if name, ok := maneuverNames[t]; ok {
		return name
	}

	return fmt.Sprintf("ManeuverType(%d)", int(t))
}

// ParseManeuverType resolves a wire identifier such as "POINT_TURN".
func ParseManeuverType(id string) (ManeuverType, error) {
	for t, name := range maneuverNames {
		if name == id {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%q is %w", id, ErrUnknownManeuver)
}

// Payload keys of maneuver commands.
const (
	KeyManeuverID = "mnvr_id"
	KeySpeed      = "rov_speed_mss_Lm"
	KeyCurvature  = "curv_m_Rb"
	KeyRate       = "rov_rate_rads_Rb"
)

// Params is the closed set of per-maneuver parameter records.
type Params interface {
	// Fields returns the parameters keyed by their wire names.
	Fields() map[string]float64
}

// AckermanParams drives the rover along an arc with all wheels steered.
type AckermanParams struct {
	SpeedMss float64
	CurvM    float64
}

// Fields returns the parameters keyed by their wire names.
func (p AckermanParams) Fields() map[string]float64 {
	return map[string]float64{KeySpeed: p.SpeedMss, KeyCurvature: p.CurvM}
}

// SkidSteerParams drives the rover along an arc by differential wheel speed.
type SkidSteerParams struct {
	SpeedMss float64
	CurvM    float64
}

// Fields returns the parameters keyed by their wire names.
func (p SkidSteerParams) Fields() map[string]float64 {
	return map[string]float64{KeySpeed: p.SpeedMss, KeyCurvature: p.CurvM}
}

// PointTurnParams rotates the rover on the spot.
type PointTurnParams struct {
	RateRads float64
}

// Fields returns the parameters keyed by their wire names.
func (p PointTurnParams) Fields() map[string]float64 {
	return map[string]float64{KeyRate: p.RateRads}
}

// ManeuverCommand is the validated request handed to the controller.
type ManeuverCommand struct {
	Type   ManeuverType
	Params Params
}

func (c ManeuverCommand) String() string {
	return fmt.Sprintf("%s %v", c.Type, c.Params.Fields())
}

// BuildManeuver validates a decoded command payload and converts it into a
// ManeuverCommand. Only the parameters required by the maneuver type are read.
func BuildManeuver(payload map[string]any) (ManeuverCommand, error) {
	rawID, ok := payload[KeyManeuverID]
	if !ok {
		return ManeuverCommand{}, ErrMissingManeuverID
	}

	id, ok := rawID.(string)
	if !ok {
		return ManeuverCommand{}, fmt.Errorf("%v is %w", rawID, ErrUnknownManeuver)
	}

	mnvrType, err := ParseManeuverType(id)
	if err != nil {
		return ManeuverCommand{}, err
	}

	cmd := ManeuverCommand{Type: mnvrType}

	switch mnvrType {
	case Ackerman, SkidSteer:
		speed, err := numberParam(payload, KeySpeed, mnvrType)
		if err != nil {
			return ManeuverCommand{}, err
		}

		curv, err := numberParam(payload, KeyCurvature, mnvrType)
		if err != nil {
			return ManeuverCommand{}, err
		}

		if mnvrType == Ackerman {
			cmd.Params = AckermanParams{SpeedMss: speed, CurvM: curv}
		} else {
			cmd.Params = SkidSteerParams{SpeedMss: speed, CurvM: curv}
		}
	case PointTurn:
		rate, err := numberParam(payload, KeyRate, mnvrType)
		if err != nil {
			return ManeuverCommand{}, err
		}

		cmd.Params = PointTurnParams{RateRads: rate}
	}

	return cmd, nil
}

func numberParam(
	payload map[string]any,
	key string,
	mnvrType ManeuverType,
) (float64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("%s commands must include %s: %w",
			mnvrType, key, ErrMissingParam)
	}

	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%s=%v: %w", key, raw, ErrInvalidParam)
	}

	return v, nil
}
