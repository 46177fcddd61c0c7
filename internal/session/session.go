// Package session drives one single-shot vehicle session:
// handshake, arm, ingest telemetry until stop, disarm.
// Disarm is sent on every exit path once arm was attempted.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

const DefaultDisarmTimeout = 3 * time.Second

type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseHandshaking
	PhaseArmed
	PhaseRunning
	PhaseDisarming
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseArmed:
		return "armed"
	case PhaseRunning:
		return "running"
	case PhaseDisarming:
		return "disarming"
	case PhaseClosed:
		return "closed"
	}
	return "invalid"
}

type Config struct {
	Target            command.Target
	Budget            time.Duration // zero is valid, ingest performs no iterations
	KeepaliveInterval time.Duration
	RecvBackoff       time.Duration
	StreamID          uint8
	StreamRateHz      uint16
	ManualInterval    time.Duration
	DisarmTimeout     time.Duration
}

// ArmRecorder persists arm state across process crash.
type ArmRecorder interface {
	Armed() error
	Disarmed() error
}

type Session struct {
	config Config
	log    *log2.Log
	tr     transport.Transport
	run    *RunFlag
	ingest *Ingest
	stat   Stat
	phase  uint32 // atomic Phase
	// serializes operator arm against transition to disarming
	cmdMu sync.Mutex

	manual   ManualSource
	recorder ArmRecorder
	onPhase  func(Phase)
}

func New(c Config, tr transport.Transport, sink telemetry.Sink, run *RunFlag, log *log2.Log) *Session {
	if run == nil {
		run = NewRunFlag()
	}
	if c.DisarmTimeout <= 0 {
		c.DisarmTimeout = DefaultDisarmTimeout
	}
	self := &Session{
		config: c,
		log:    log,
		tr:     tr,
		run:    run,
	}
	self.ingest = NewIngest(tr, sink, c.RecvBackoff, log, &self.stat)
	return self
}

// Optional collaborators, must be set before Run.
func (self *Session) SetManualSource(src ManualSource) { self.manual = src }
func (self *Session) SetArmRecorder(r ArmRecorder)     { self.recorder = r }
func (self *Session) OnPhase(f func(Phase))            { self.onPhase = f }

func (self *Session) Phase() Phase      { return Phase(atomic.LoadUint32(&self.phase)) }
func (self *Session) Stat() Stat        { return self.stat.Snapshot() }
func (self *Session) RunFlag() *RunFlag { return self.run }
func (self *Session) Ingest() *Ingest   { return self.ingest }

// ReportError counts errors, fits log2.ErrorFunc.
func (self *Session) ReportError(error) { self.stat.inc(&self.stat.Errors) }

// Send passes extra operator commands to transport.
// Arm command is routed through Arm.
func (self *Session) Send(ctx context.Context, m message.Message) error {
	if isArmCommand(m) {
		return self.Arm(ctx)
	}
	return self.tr.Send(ctx, m)
}

// Arm repeats arm command on operator request.
// Valid only while armed or running; after final disarm began it is rejected without I/O.
func (self *Session) Arm(ctx context.Context) error {
	self.cmdMu.Lock()
	defer self.cmdMu.Unlock()
	phase := self.Phase()
	if phase != PhaseArmed && phase != PhaseRunning {
		return errors.NotValidf("arm in phase=%s", phase)
	}
	target := self.config.Target
	if err := self.tr.Send(ctx, command.Arm(target)); err != nil {
		return errors.Annotate(err, "arm")
	}
	self.log.Infof("operator arm sent target=%d/%d", target.System, target.Component)
	self.recordArmed()
	return nil
}

// Run is single-shot. Second call returns error without I/O.
func (self *Session) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&self.phase, uint32(PhaseIdle), uint32(PhaseHandshaking)) {
		return errors.Errorf("session run phase=%s expected=%s", self.Phase(), PhaseIdle)
	}
	self.notifyPhase(PhaseHandshaking)
	target := self.config.Target

	self.log.Infof("session protocol version=%s", self.tr.ProtocolVersion())

	if err := self.tr.Send(ctx, command.RequestParameters(target)); err != nil {
		self.setPhase(PhaseClosed)
		return errors.Annotate(err, "handshake request parameters")
	}
	if err := self.tr.Send(ctx, command.RequestTelemetryStream(target, self.config.StreamID, self.config.StreamRateHz, true)); err != nil {
		self.setPhase(PhaseClosed)
		return errors.Annotate(err, "handshake request telemetry stream")
	}

	keepalive := StartKeepalive(self.tr, self.config.KeepaliveInterval, self.log, &self.stat)

	errs := make([]error, 0, 3)
	if err := self.tr.Send(ctx, command.Arm(target)); err != nil {
		errs = append(errs, errors.Annotate(err, "arm"))
		self.log.Errorf("arm send err=%v", err)
	} else {
		self.setPhase(PhaseArmed)
		self.log.Infof("arm sent target=%d/%d", target.System, target.Component)
		self.recordArmed()
		errs = append(errs, self.running())
	}

	errs = append(errs, self.disarm())
	// keepalive outlives disarm attempt
	keepalive.Stop()
	self.setPhase(PhaseClosed)
	self.log.Infof("session closed %s", self.stat.Snapshot().String())
	return helpers.FoldErrors(errs)
}

func (self *Session) running() error {
	self.setPhase(PhaseRunning)
	if self.manual != nil && self.config.ManualInterval > 0 {
		md := startManual(self.tr, self.manual, self.config.Target.System, self.config.ManualInterval, self.log, &self.stat)
		defer md.Stop()
	}
	start := time.Now()
	budget := self.config.Budget
	stop := func() bool {
		return time.Since(start) >= budget || !self.run.IsRunning()
	}
	err := self.ingest.Run(stop)
	if err != nil {
		self.log.Errorf("session running err=%v", err)
		return err
	}
	reason := "budget"
	if !self.run.IsRunning() {
		reason = "stop signal"
	}
	self.log.Infof("session running end reason=%s elapsed=%s", reason, time.Since(start).Truncate(time.Millisecond))
	return nil
}

func (self *Session) disarm() error {
	self.cmdMu.Lock()
	atomic.StoreUint32(&self.phase, uint32(PhaseDisarming))
	self.cmdMu.Unlock()
	self.log.Debugf("session phase=%s", PhaseDisarming)
	self.notifyPhase(PhaseDisarming)
	// independent of run ctx
	ctx, cancel := context.WithTimeout(context.Background(), self.config.DisarmTimeout)
	defer cancel()
	if err := self.tr.Send(ctx, command.Disarm(self.config.Target)); err != nil {
		err = errors.Annotate(err, "DISARM FAILED")
		self.log.Error(err)
		return err
	}
	self.log.Infof("disarm sent")
	if self.recorder != nil {
		if err := self.recorder.Disarmed(); err != nil {
			self.log.Errorf("arm state record err=%v", err)
		}
	}
	return nil
}

func (self *Session) recordArmed() {
	if self.recorder != nil {
		if err := self.recorder.Armed(); err != nil {
			self.log.Errorf("arm state record err=%v", err)
		}
	}
}

func isArmCommand(m message.Message) bool {
	c, ok := m.(*common.MessageCommandLong)
	return ok && c.Command == common.MAV_CMD_COMPONENT_ARM_DISARM && c.Param1 == 1
}

func (self *Session) setPhase(p Phase) {
	atomic.StoreUint32(&self.phase, uint32(p))
	self.log.Debugf("session phase=%s", p)
	self.notifyPhase(p)
}

func (self *Session) notifyPhase(p Phase) {
	if self.onPhase != nil {
		self.onPhase(p)
	}
}
