// Package sink holds telemetry consumers that need no storage.
package sink

import (
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
)

// Log writes every Nth record of each kind at info level.
type Log struct {
	log   *log2.Log
	every uint32
	seen  [telemetry.KindCount]uint32
}

var _ telemetry.Sink = (*Log)(nil)

func NewLog(log *log2.Log, every int) *Log {
	if every <= 0 {
		every = 1
	}
	return &Log{log: log, every: uint32(every)}
}

func (self *Log) skip(k telemetry.Kind) bool {
	self.seen[k]++
	return (self.seen[k]-1)%self.every != 0
}

func (self *Log) Attitude(a telemetry.Attitude) {
	if self.skip(telemetry.KindAttitude) {
		return
	}
	self.log.Infof("attitude roll=%.3f pitch=%.3f yaw=%.1f° rollspeed=%.3f pitchspeed=%.3f yawspeed=%.1f°/s",
		a.Roll, a.Pitch, a.Yaw, a.RollSpeed, a.PitchSpeed, a.YawSpeed)
}

func (self *Log) Position(p telemetry.PositionVelocityHeading) {
	if self.skip(telemetry.KindPosition) {
		return
	}
	self.log.Infof("position lat=%.7f lon=%.7f vx=%.0f vy=%.0f heading=%.2f°",
		p.Lat, p.Lon, p.Vx, p.Vy, p.Heading)
}

func (self *Log) Close() error { return nil }

// Multi fans out every record to all sinks in order.
type Multi []telemetry.Sink

var _ telemetry.Sink = Multi(nil)

func (self Multi) Attitude(a telemetry.Attitude) {
	for _, s := range self {
		s.Attitude(a)
	}
}

func (self Multi) Position(p telemetry.PositionVelocityHeading) {
	for _, s := range self {
		s.Position(p)
	}
}

// Close closes all, errors folded.
func (self Multi) Close() error {
	errs := make([]error, 0, len(self))
	for _, s := range self {
		errs = append(errs, s.Close())
	}
	return helpers.FoldErrors(errs)
}
