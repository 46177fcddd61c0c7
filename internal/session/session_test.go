package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

var testTarget = command.Target{System: 1, Component: 1}

type captureSink struct {
	sync.Mutex
	attitudes []telemetry.Attitude
	positions []telemetry.PositionVelocityHeading
}

func (self *captureSink) Attitude(a telemetry.Attitude) {
	self.Lock()
	self.attitudes = append(self.attitudes, a)
	self.Unlock()
}
func (self *captureSink) Position(p telemetry.PositionVelocityHeading) {
	self.Lock()
	self.positions = append(self.positions, p)
	self.Unlock()
}
func (self *captureSink) Close() error { return nil }

type recorder struct{ armed, disarmed int32 }

func (self *recorder) Armed() error    { atomic.AddInt32(&self.armed, 1); return nil }
func (self *recorder) Disarmed() error { atomic.AddInt32(&self.disarmed, 1); return nil }

// wrong type claiming attitude message id
type fakeAttitude struct{}

func (fakeAttitude) GetID() uint32 { return telemetry.MsgIDAttitude }

func isArm(m message.Message) bool {
	c, ok := m.(*common.MessageCommandLong)
	return ok && c.Command == common.MAV_CMD_COMPONENT_ARM_DISARM && c.Param1 == 1
}
func isDisarm(m message.Message) bool {
	c, ok := m.(*common.MessageCommandLong)
	return ok && c.Command == common.MAV_CMD_COMPONENT_ARM_DISARM && c.Param1 == 0
}
func isHeartbeat(m message.Message) bool {
	_, ok := m.(*common.MessageHeartbeat)
	return ok
}

func newTestSession(t testing.TB, c Config) (*Session, *transport.Mock, *captureSink) {
	mock, err := transport.NewMock(transport.V2)
	require.NoError(t, err)
	if c.Target == (command.Target{}) {
		c.Target = testTarget
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = time.Hour
	}
	if c.RecvBackoff == 0 {
		c.RecvBackoff = time.Millisecond
	}
	sink := &captureSink{}
	s := New(c, mock, sink, NewRunFlag(), log2.NewTest(t, log2.LDebug))
	return s, mock, sink
}

// sent messages except keepalive, which interleave at any point
func sentCommands(mock *transport.Mock) []message.Message {
	out := []message.Message{}
	for _, m := range mock.Sent() {
		if !isHeartbeat(m) {
			out = append(out, m)
		}
	}
	return out
}

func TestSessionBudgetZero(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: 0, StreamRateHz: 4})
	require.NoError(t, mock.Enqueue(1, 1, &common.MessageAttitude{Yaw: 1}))
	phases := []Phase{}
	s.OnPhase(func(p Phase) { phases = append(phases, p) })

	require.NoError(t, s.Run(context.Background()))

	cmds := sentCommands(mock)
	require.Len(t, cmds, 4)
	assert.IsType(t, &common.MessageParamRequestList{}, cmds[0])
	assert.Equal(t, command.RequestTelemetryStream(testTarget, 0, 4, true), cmds[1])
	assert.True(t, isArm(cmds[2]))
	assert.True(t, isDisarm(cmds[3]))
	assert.Equal(t, 1, mock.SentCount(isDisarm))
	// no ingest iterations
	assert.Equal(t, 1, mock.Pending())
	assert.Equal(t, uint32(0), s.Stat().IdlePolls)
	assert.Equal(t, PhaseClosed, s.Phase())
	assert.Equal(t, []Phase{PhaseHandshaking, PhaseArmed, PhaseRunning, PhaseDisarming, PhaseClosed}, phases)
}

func TestSessionStopSignal(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: time.Hour})
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.RunFlag().Stop()
		s.RunFlag().Stop()
	}()
	begin := time.Now()
	require.NoError(t, s.Run(context.Background()))
	assert.True(t, time.Since(begin) < time.Second)
	assert.Equal(t, 1, mock.SentCount(isDisarm))
	assert.Equal(t, 1, mock.SentCount(isArm))
	assert.True(t, s.Stat().IdlePolls > 0)
	assert.Equal(t, PhaseClosed, s.Phase())
}

func TestSessionHandshakeFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fail func(message.Message) bool
	}{
		{"parameters", func(m message.Message) bool { _, ok := m.(*common.MessageParamRequestList); return ok }},
		{"stream", func(m message.Message) bool { _, ok := m.(*common.MessageRequestDataStream); return ok }},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			s, mock, _ := newTestSession(t, Config{Budget: time.Hour})
			errLink := fmt.Errorf("link down")
			mock.SetSendError(func(m message.Message) error {
				if c.fail(m) {
					return errLink
				}
				return nil
			})
			err := s.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, errLink, errors.Cause(err))
			assert.Equal(t, 0, mock.SentCount(isArm))
			assert.Equal(t, 0, mock.SentCount(isDisarm))
			assert.Equal(t, 0, mock.SentCount(isHeartbeat))
			assert.Equal(t, PhaseClosed, s.Phase())
		})
	}
}

func TestSessionArmFailureStillDisarms(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: time.Hour})
	rec := &recorder{}
	s.SetArmRecorder(rec)
	mock.SetSendError(func(m message.Message) error {
		if isArm(m) {
			return fmt.Errorf("arm lost")
		}
		return nil
	})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arm lost")
	assert.Equal(t, 1, mock.SentCount(isDisarm))
	assert.Equal(t, int32(0), atomic.LoadInt32(&rec.armed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.disarmed))
	assert.Equal(t, uint32(0), s.Stat().IdlePolls)
}

func TestSessionDisarmFailure(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: 0})
	rec := &recorder{}
	s.SetArmRecorder(rec)
	mock.SetSendError(func(m message.Message) error {
		if isDisarm(m) {
			return fmt.Errorf("link down")
		}
		return nil
	})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISARM FAILED")
	assert.Equal(t, PhaseClosed, s.Phase())
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.armed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&rec.disarmed))
}

func TestSessionRecvFatal(t *testing.T) {
	t.Parallel()

	s, mock, sink := newTestSession(t, Config{Budget: time.Hour})
	require.NoError(t, mock.Enqueue(1, 1, &common.MessageGlobalPositionInt{Lat: 10000000}))
	errBroken := fmt.Errorf("socket gone")
	mock.EnqueueError(errBroken)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errBroken, errors.Cause(err))
	assert.Equal(t, 1, mock.SentCount(isDisarm))
	require.Len(t, sink.positions, 1)
	assert.Equal(t, 1.0, sink.positions[0].Lat)
}

func TestSessionDecoderMismatch(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: time.Hour})
	mock.EnqueueRaw(fakeAttitude{})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, telemetry.ErrNotAttitudeKind, errors.Cause(err))
	assert.Equal(t, 1, mock.SentCount(isDisarm))
	assert.Equal(t, PhaseClosed, s.Phase())
}

func TestSessionOperatorArm(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: time.Hour})
	rec := &recorder{}
	s.SetArmRecorder(rec)
	ctx := context.Background()

	err := s.Arm(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
	assert.Equal(t, 0, mock.SentCount(isArm))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.Phase() == PhaseRunning }, time.Second, time.Millisecond)
	require.NoError(t, s.Arm(ctx))
	require.NoError(t, s.Send(ctx, command.Arm(testTarget)))
	assert.Equal(t, 3, mock.SentCount(isArm))
	assert.Equal(t, int32(3), atomic.LoadInt32(&rec.armed))

	s.RunFlag().Stop()
	require.NoError(t, <-done)

	err = s.Arm(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase=closed")
	assert.Error(t, s.Send(ctx, command.Arm(testTarget)))
	// forced disarm stays available
	require.NoError(t, s.Send(ctx, command.Disarm(testTarget)))
	assert.Equal(t, 3, mock.SentCount(isArm))
	assert.Equal(t, int32(3), atomic.LoadInt32(&rec.armed))
	cmds := sentCommands(mock)
	assert.True(t, isDisarm(cmds[len(cmds)-1]))
}

func TestSessionArmRacesDisarm(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		s, mock, _ := newTestSession(t, Config{Budget: time.Hour})
		ctx := context.Background()
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()
		require.Eventually(t, func() bool { return s.Phase() == PhaseRunning }, time.Second, time.Millisecond)

		armer := make(chan struct{})
		go func() {
			defer close(armer)
			for s.Phase() < PhaseClosed {
				_ = s.Arm(ctx)
			}
		}()
		s.RunFlag().Stop()
		require.NoError(t, <-done)
		<-armer

		// no arm may follow the final disarm
		var last message.Message
		for _, m := range mock.Sent() {
			if isArm(m) || isDisarm(m) {
				last = m
			}
		}
		require.NotNil(t, last)
		assert.True(t, isDisarm(last), "iteration %d", i)
	}
}

func TestSessionRunOnce(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: 0})
	require.NoError(t, s.Run(context.Background()))
	n := len(mock.Sent())
	assert.Error(t, s.Run(context.Background()))
	assert.Equal(t, n, len(mock.Sent()))
}

func TestIngestDispatch(t *testing.T) {
	t.Parallel()

	mock, err := transport.NewMock(transport.V2)
	require.NoError(t, err)
	sink := &captureSink{}
	stat := &Stat{}
	ing := NewIngest(mock, sink, time.Millisecond, log2.NewTest(t, log2.LDebug), stat)

	require.NoError(t, mock.Enqueue(1, 1, &common.MessageHeartbeat{}))
	require.NoError(t, mock.Enqueue(1, 1, &common.MessageAttitude{Yaw: 0}))
	require.NoError(t, mock.Enqueue(1, 1, &common.MessageSysStatus{}))
	require.NoError(t, mock.Enqueue(1, 1, &common.MessageGlobalPositionInt{Hdg: 9000}))
	require.NoError(t, mock.Enqueue(1, 1, &common.MessageAttitude{Roll: 0.5}))

	require.NoError(t, ing.Run(func() bool { return mock.Pending() == 0 }))

	require.Len(t, sink.attitudes, 2)
	assert.Equal(t, 0.5, sink.attitudes[1].Roll)
	require.Len(t, sink.positions, 1)
	assert.Equal(t, 90.0, sink.positions[0].Heading)

	s := stat.Snapshot()
	assert.Equal(t, uint32(5), s.Received)
	assert.Equal(t, uint32(2), s.Ignored)
	assert.Equal(t, uint32(2), s.Kinds[telemetry.KindAttitude])
	assert.Equal(t, uint32(1), s.Kinds[telemetry.KindPosition])

	// latest only
	in, _, ok := ing.Latest(telemetry.KindAttitude)
	require.True(t, ok)
	assert.Equal(t, float32(0.5), in.Message.(*common.MessageAttitude).Roll)
	_, _, ok = ing.Latest(telemetry.KindIgnored)
	assert.False(t, ok)
}

func TestKeepaliveRetryImmediately(t *testing.T) {
	t.Parallel()

	mock, err := transport.NewMock(transport.V2)
	require.NoError(t, err)
	var attempts int32
	mock.SetSendError(func(m message.Message) error {
		if atomic.AddInt32(&attempts, 1) <= 3 {
			return fmt.Errorf("busy")
		}
		return nil
	})
	stat := &Stat{}
	begin := time.Now()
	k := StartKeepalive(mock, time.Hour, log2.NewTest(t, log2.LDebug), stat)
	assert.Eventually(t, func() bool { return atomic.LoadUint32(&stat.KeepaliveSent) == 1 }, time.Second, time.Millisecond)
	k.Stop()
	k.Stop()
	assert.True(t, time.Since(begin) < time.Second)
	assert.Equal(t, uint32(3), atomic.LoadUint32(&stat.KeepaliveErrors))
	assert.Equal(t, 1, mock.SentCount(isHeartbeat))
	assert.True(t, k.SinceLastOk() > 0)
}

func TestKeepaliveCadence(t *testing.T) {
	t.Parallel()

	mock, err := transport.NewMock(transport.V2)
	require.NoError(t, err)
	stat := &Stat{}
	k := StartKeepalive(mock, 20*time.Millisecond, log2.NewTest(t, log2.LDebug), stat)
	time.Sleep(110 * time.Millisecond)
	k.Stop()
	n := mock.SentCount(isHeartbeat)
	assert.True(t, n >= 3 && n <= 7, "n=%d", n)
}

func TestInterleaving(t *testing.T) {
	t.Parallel()

	const N = 500
	mock, err := transport.NewMock(transport.V2)
	require.NoError(t, err)
	sink := &captureSink{}
	stat := &Stat{}
	log := log2.NewTest(t, log2.LInfo)
	ing := NewIngest(mock, sink, time.Millisecond, log, stat)
	k := StartKeepalive(mock, time.Microsecond, log, stat)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < N; i++ {
			assert.NoError(t, mock.Enqueue(1, 1, &common.MessageGlobalPositionInt{Lat: int32(i), Hdg: uint16(i)}))
		}
	}()
	require.NoError(t, ing.Run(func() bool {
		return atomic.LoadUint32(&stat.Kinds[telemetry.KindPosition]) == N
	}))
	<-done
	k.Stop()

	require.Len(t, sink.positions, N)
	for i, p := range sink.positions {
		assert.Equal(t, float64(i)/1e7, p.Lat)
		assert.Equal(t, float64(i)/100, p.Heading)
	}
	expect := command.Keepalive()
	for _, m := range mock.Sent() {
		assert.Equal(t, expect, m)
	}
	assert.True(t, mock.SentCount(nil) > 0)
}

type fixedManual struct{ in ManualInput }

func (self fixedManual) Manual() (ManualInput, bool) { return self.in, true }

func TestSessionManualControl(t *testing.T) {
	t.Parallel()

	s, mock, _ := newTestSession(t, Config{Budget: 100 * time.Millisecond, ManualInterval: 5 * time.Millisecond})
	s.SetManualSource(fixedManual{ManualInput{X: 2, Y: -0.5, Z: -1, R: 0.25, Buttons: 1}})
	require.NoError(t, s.Run(context.Background()))

	n := 0
	for _, m := range mock.Sent() {
		if mc, ok := m.(*common.MessageManualControl); ok {
			n++
			assert.Equal(t, [4]int16{1000, -500, 0, 250}, [4]int16{mc.X, mc.Y, mc.Z, mc.R})
			assert.Equal(t, uint8(1), mc.Target)
		}
	}
	assert.True(t, n > 0)
	assert.Equal(t, uint32(n), s.Stat().ManualSent)
	cmds := sentCommands(mock)
	assert.True(t, isDisarm(cmds[len(cmds)-1]), "manual control must stop before disarm")
}

func TestPhaseString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "running", PhaseRunning.String())
	assert.Equal(t, "invalid", Phase(99).String())
}
