// Package command builds outbound messages. No I/O, no failure modes.
package command

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

const (
	// MAVLink protocol version announced in keepalive.
	KeepaliveMavlinkVersion = 3

	// Magic param2 value of COMPONENT_ARM_DISARM that bypasses autopilot safety checks.
	ForceDisarmMagic = 21196

	// Fixed-point scale of MANUAL_CONTROL axes.
	ManualControlScale = 1000
)

// Target addresses one component of one vehicle.
type Target struct {
	System    uint8
	Component uint8
}

// Keepalive announces this ground endpoint alive and in standby.
func Keepalive() *common.MessageHeartbeat {
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_ARDUPILOTMEGA,
		BaseMode:       0,
		CustomMode:     0,
		SystemStatus:   common.MAV_STATE_STANDBY,
		MavlinkVersion: KeepaliveMavlinkVersion,
	}
}

func RequestParameters(t Target) *common.MessageParamRequestList {
	return &common.MessageParamRequestList{
		TargetSystem:    t.System,
		TargetComponent: t.Component,
	}
}

func RequestTelemetryStream(t Target, streamID uint8, rateHz uint16, enable bool) *common.MessageRequestDataStream {
	var startStop uint8
	if enable {
		startStop = 1
	}
	return &common.MessageRequestDataStream{
		TargetSystem:    t.System,
		TargetComponent: t.Component,
		ReqStreamId:     streamID,
		ReqMessageRate:  rateHz,
		StartStop:       startStop,
	}
}

// Arm respects autopilot safety interlocks.
func Arm(t Target) *common.MessageCommandLong {
	return armDisarm(t, 1, 0)
}

// Disarm carries force flag, disarm must not be refused by preflight checks.
func Disarm(t Target) *common.MessageCommandLong {
	return armDisarm(t, 0, ForceDisarmMagic)
}

func armDisarm(t Target, arm, force float32) *common.MessageCommandLong {
	return &common.MessageCommandLong{
		TargetSystem:    t.System,
		TargetComponent: t.Component,
		Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
		Confirmation:    0,
		Param1:          arm,
		Param2:          force,
	}
}

// ManualControl maps normalized axes x,y,r in [-1,1] and z in [0,1] to [-1000,1000].
// Values are truncated toward zero and NOT clamped, callers must validate range.
func ManualControl(x, y, z, r float32, buttons uint16, target uint8) *common.MessageManualControl {
	return &common.MessageManualControl{
		Target:  target,
		X:       int16(x * ManualControlScale),
		Y:       int16(y * ManualControlScale),
		Z:       int16(z * ManualControlScale),
		R:       int16(r * ManualControlScale),
		Buttons: buttons,
	}
}
