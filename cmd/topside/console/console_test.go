package console

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/internal/session"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

func newTestConsole(t testing.TB) (*Console, *session.Session, *transport.Mock, *bytes.Buffer) {
	mock, err := transport.NewMock(transport.V2)
	require.NoError(t, err)
	log := log2.NewTest(t, log2.LDebug)
	target := command.Target{System: 1, Component: 1}
	sess := session.New(session.Config{Target: target, Budget: time.Hour}, mock, telemetry.Noop{}, nil, log)
	buf := bytes.NewBuffer(nil)
	return New(sess, target, buf, log), sess, mock, buf
}

func TestConsoleCommands(t *testing.T) {
	t.Parallel()

	type Case struct {
		line      string
		expectErr string
		check     func(testing.TB, interface{})
	}
	cases := []Case{
		{"arm", "arm in phase=idle not valid", nil},
		{"disarm", "", func(t testing.TB, m interface{}) {
			c := m.(*common.MessageCommandLong)
			assert.Equal(t, float32(0), c.Param1)
			assert.Equal(t, float32(command.ForceDisarmMagic), c.Param2)
		}},
		{"manual 1 -1 0.5 0", "", func(t testing.TB, m interface{}) {
			c := m.(*common.MessageManualControl)
			assert.Equal(t, int16(1000), c.X)
			assert.Equal(t, int16(-1000), c.Y)
			assert.Equal(t, int16(500), c.Z)
			assert.Equal(t, uint16(0), c.Buttons)
		}},
		{"manual 0 0 0 0 0x3", "", func(t testing.TB, m interface{}) {
			assert.Equal(t, uint16(3), m.(*common.MessageManualControl).Buttons)
		}},
		{"manual 1.5 0 0 0", "out of range", nil},
		{"manual 0 0 -0.1 0", "out of range", nil},
		{"manual nan 0 0 0", "out of range", nil},
		{"manual 0 0 NaN 0", "out of range", nil},
		{"manual 0 0", "usage: manual", nil},
		{"manual a 0 0 0", `axis="a"`, nil},
		{"stream 6 10 on", "", func(t testing.TB, m interface{}) {
			c := m.(*common.MessageRequestDataStream)
			assert.Equal(t, uint8(6), c.ReqStreamId)
			assert.Equal(t, uint16(10), c.ReqMessageRate)
			assert.Equal(t, uint8(1), c.StartStop)
		}},
		{"stream 6 10 maybe", "stream state", nil},
		{"stream 300 10 on", "stream id", nil},
		{"params", "", func(t testing.TB, m interface{}) {
			assert.IsType(t, &common.MessageParamRequestList{}, m)
		}},
		{"takeoff", "command=takeoff not supported", nil},
		{"latest wind", "kind=wind", nil},
		{"wait soon", "duration", nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.line, func(t *testing.T) {
			t.Parallel()
			con, _, mock, buf := newTestConsole(t)
			assert.True(t, con.Exec(c.line))
			if c.expectErr != "" {
				assert.Contains(t, buf.String(), c.expectErr)
				assert.Empty(t, mock.Sent())
				return
			}
			assert.Empty(t, buf.String())
			sent := mock.Sent()
			require.Len(t, sent, 1)
			c.check(t, sent[0])
		})
	}
}

type countRecorder struct{ armed, disarmed int32 }

func (self *countRecorder) Armed() error    { atomic.AddInt32(&self.armed, 1); return nil }
func (self *countRecorder) Disarmed() error { atomic.AddInt32(&self.disarmed, 1); return nil }

func isArmDisarm(m message.Message) bool {
	c, ok := m.(*common.MessageCommandLong)
	return ok && c.Command == common.MAV_CMD_COMPONENT_ARM_DISARM
}

func TestConsoleArmLifecycle(t *testing.T) {
	t.Parallel()
	con, sess, mock, buf := newTestConsole(t)
	rec := &countRecorder{}
	sess.SetArmRecorder(rec)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	require.Eventually(t, func() bool { return sess.Phase() == session.PhaseRunning }, time.Second, time.Millisecond)

	assert.True(t, con.Exec("arm"))
	assert.Empty(t, buf.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&rec.armed))

	sess.RunFlag().Stop()
	require.NoError(t, <-done)
	require.Equal(t, session.PhaseClosed, sess.Phase())

	assert.True(t, con.Exec("arm"))
	assert.Contains(t, buf.String(), "arm in phase=closed not valid")
	cmds := []message.Message{}
	for _, m := range mock.Sent() {
		if isArmDisarm(m) {
			cmds = append(cmds, m)
		}
	}
	require.Len(t, cmds, 3)
	last := cmds[len(cmds)-1].(*common.MessageCommandLong)
	assert.Equal(t, float32(0), last.Param1, "final command must stay disarm")
	assert.Equal(t, int32(2), atomic.LoadInt32(&rec.armed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.disarmed))
}

func TestConsoleQuit(t *testing.T) {
	t.Parallel()
	con, _, _, _ := newTestConsole(t)
	assert.True(t, con.Exec(""))
	assert.False(t, con.Exec("quit"))
	assert.False(t, con.Exec("exit"))
}

func TestConsoleLatest(t *testing.T) {
	t.Parallel()
	con, sess, mock, buf := newTestConsole(t)

	assert.True(t, con.Exec("latest attitude"))
	assert.Contains(t, buf.String(), "attitude: nothing received")
	buf.Reset()

	require.NoError(t, mock.Enqueue(1, 1, &common.MessageGlobalPositionInt{
		Lat: 473977418, Lon: 85455939, Vx: 12, Vy: -3, Hdg: 9000,
	}))
	require.NoError(t, sess.Ingest().Run(func() bool { return mock.Pending() == 0 }))
	assert.True(t, con.Exec("latest position"))
	assert.Contains(t, buf.String(), "lat=47.3977418 lon=8.5455939 vx=12 vy=-3 heading=90.00°")
}

func TestConsoleStatHelp(t *testing.T) {
	t.Parallel()
	con, _, _, buf := newTestConsole(t)
	assert.True(t, con.Exec("stat"))
	assert.Contains(t, buf.String(), "phase=idle keepalive=0")
	buf.Reset()
	assert.True(t, con.Exec("help"))
	assert.Contains(t, buf.String(), "manual x y z r [buttons]")
}

func TestConsoleComplete(t *testing.T) {
	t.Parallel()
	con, _, _, _ := newTestConsole(t)

	b := prompt.NewBuffer()
	b.InsertText("di", false, true)
	s := con.Complete(*b.Document())
	require.Len(t, s, 1)
	assert.Equal(t, "disarm", s[0].Text)

	b = prompt.NewBuffer()
	b.InsertText("stream 6", false, true)
	assert.Empty(t, con.Complete(*b.Document()))
}
