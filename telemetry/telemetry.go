// Package telemetry turns inbound autopilot messages into unit normalized records.
// Decoders are pure: no I/O, no partially populated results.
package telemetry

import (
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
)

const radToDeg = 180 / math.Pi

var (
	ErrNotAttitudeKind = errors.New("message is not attitude kind")
	ErrNotPositionKind = errors.New("message is not position kind")
)

// Roll, pitch and their rates in radians (per second).
// Yaw and yaw rate in degrees (per second).
type Attitude struct {
	Roll       float64
	Pitch      float64
	Yaw        float64
	RollSpeed  float64
	PitchSpeed float64
	YawSpeed   float64
}

// Lat, Lon and Heading in degrees.
// Vx, Vy keep wire scale (cm/s).
type PositionVelocityHeading struct {
	Lat     float64
	Lon     float64
	Vx      float64
	Vy      float64
	Heading float64
}

func DecodeAttitude(m message.Message) (Attitude, error) {
	a, ok := m.(*common.MessageAttitude)
	if !ok || a == nil {
		return Attitude{}, errors.Trace(ErrNotAttitudeKind)
	}
	return Attitude{
		Roll:       float64(a.Roll),
		Pitch:      float64(a.Pitch),
		Yaw:        float64(a.Yaw) * radToDeg,
		RollSpeed:  float64(a.Rollspeed),
		PitchSpeed: float64(a.Pitchspeed),
		YawSpeed:   float64(a.Yawspeed) * radToDeg,
	}, nil
}

func DecodePosition(m message.Message) (PositionVelocityHeading, error) {
	p, ok := m.(*common.MessageGlobalPositionInt)
	if !ok || p == nil {
		return PositionVelocityHeading{}, errors.Trace(ErrNotPositionKind)
	}
	return PositionVelocityHeading{
		Lat:     float64(p.Lat) / 1e7,
		Lon:     float64(p.Lon) / 1e7,
		Vx:      float64(p.Vx),
		Vy:      float64(p.Vy),
		Heading: float64(p.Hdg) / 100,
	}, nil
}
