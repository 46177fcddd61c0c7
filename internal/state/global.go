package state

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/internal/joystick"
	"github.com/temoto/topside/internal/session"
	"github.com/temoto/topside/internal/sink"
	"github.com/temoto/topside/internal/sink/mqtt"
	"github.com/temoto/topside/internal/sink/record"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

// Global holds everything one topside process needs for a session.
type Global struct {
	Run          *session.RunFlag
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Transport    transport.Transport
	Session      *session.Session
	Sink         telemetry.Sink
	Record       *record.Store
	Mqtt         *mqtt.Sink
	Joystick     *joystick.Joystick
	ArmState     *ArmState

	// Dial is replaced in tests
	Dial func(transport.Options) (transport.Transport, error)

	closeOnce   sync.Once
	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log, buildVersion string) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Run:          session.NewRunFlag(),
		BuildVersion: buildVersion,
		Log:          log,
		Sink:         telemetry.Noop{},
		Dial: func(opt transport.Options) (transport.Transport, error) {
			n, err := transport.Dial(opt)
			if err != nil {
				return nil, err
			}
			return n, nil
		},
	}
	ctx := context.WithValue(context.Background(), ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state, only Close is allowed.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	sc, err := cfg.SessionConfig()
	if err != nil {
		return errors.Annotate(err, "session config")
	}

	if g.ArmState, err = OpenArmState(cfg.Persist.Root, g.Log); err != nil {
		g.Log.Errorf("arm state disabled err=%v", err)
		g.ArmState = nil
	}

	if err = g.initSinks(ctx); err != nil {
		return errors.Annotate(err, "sink init")
	}

	if g.Transport, err = g.Dial(cfg.TransportOptions(g.Log)); err != nil {
		return errors.Annotatef(err, "link endpoint=%s", cfg.Link.Endpoint)
	}

	g.Session = session.New(sc, g.Transport, g.Sink, g.Run, g.Log)
	if g.ArmState != nil {
		g.Session.SetArmRecorder(g.ArmState)
	}
	g.Log.SetErrorFunc(g.Session.ReportError)

	if cfg.Joystick.Enable {
		if g.Joystick, err = joystick.Open(cfg.Joystick.Driver(), g.Log); err != nil {
			return errors.Annotate(err, "joystick init")
		}
		g.Session.SetManualSource(g.Joystick)
	}
	return nil
}

func (g *Global) initSinks(ctx context.Context) error {
	c := &g.Config.Sink
	sinks := make(sink.Multi, 0, 3)
	if c.Log.Enable {
		sinks = append(sinks, sink.NewLog(g.Log, c.Log.Every))
	}
	if c.Record.Enable {
		store, err := record.Open(c.Record.Path, g.Log)
		if err != nil {
			return err
		}
		g.Record = store
		sinks = append(sinks, store)
		if err = store.BeginSession(ctx, g.Config.Link.Endpoint, uint8(g.Config.Target.System)); err != nil {
			return helpers.FoldErrors([]error{err, sinks.Close()})
		}
	}
	if c.Mqtt.Enable {
		pub, err := mqtt.Connect(mqtt.ClientConfig{
			Broker:       c.Mqtt.Broker,
			ClientID:     c.Mqtt.ClientID,
			Username:     c.Mqtt.Username,
			Password:     c.Mqtt.Password,
			QoS:          c.Mqtt.QoS,
			KeepaliveSec: c.Mqtt.KeepaliveSec,
		}, g.Log)
		if err != nil {
			return helpers.FoldErrors([]error{err, sinks.Close()})
		}
		ms, err := mqtt.New(mqtt.Options{
			Topic:     c.Mqtt.Topic,
			QueuePath: c.Mqtt.QueuePath,
			SystemID:  uint8(g.Config.Target.System),
			RetryMax:  helpers.IntSecondDefault(c.Mqtt.RetryMaxSec, 30*time.Second),
		}, pub, g.Log)
		if err != nil {
			pub.Close()
			return helpers.FoldErrors([]error{err, sinks.Close()})
		}
		g.Mqtt = ms
		sinks = append(sinks, ms)
	}
	switch len(sinks) {
	case 0:
		g.Sink = telemetry.Noop{}
	case 1:
		g.Sink = sinks[0]
	default:
		g.Sink = sinks
	}
	return nil
}

// HandleSignals flips run flag on first SIGINT/SIGTERM.
// Second signal terminates process without waiting for disarm.
func (g *Global) HandleSignals() (cancel func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case s := <-sigs:
			g.Log.Infof("signal=%v stopping session", s)
			g.Run.Stop()
		case <-done:
			return
		}
		select {
		case s := <-sigs:
			g.Log.Errorf("signal=%v again, exit without waiting for disarm", s)
			os.Exit(1)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

// Close releases link, sinks and input device. Safe to call after failed Init.
func (g *Global) Close() error {
	var err error
	g.closeOnce.Do(func() {
		errs := make([]error, 0, 3)
		if g.Joystick != nil {
			errs = append(errs, g.Joystick.Close())
		}
		if g.Transport != nil {
			errs = append(errs, errors.Annotate(g.Transport.Close(), "link close"))
		}
		if g.Sink != nil {
			errs = append(errs, g.Sink.Close())
		}
		err = helpers.FoldErrors(errs)
	})
	return err
}

func (j *JoystickConfig) Driver() joystick.Config {
	c := joystick.Config{
		Device: j.Device,
		AxisX:  uint16(j.AxisX),
		AxisY:  uint16(j.AxisY),
		AxisZ:  uint16(j.AxisZ),
		AxisR:  uint16(j.AxisR),
		RawMin: int32(j.RawMin),
		RawMax: int32(j.RawMax),
		Stale:  j.StaleDuration(),
	}
	if j.AxisX == 0 && j.AxisY == 0 && j.AxisZ == 0 && j.AxisR == 0 {
		// ABS_X ABS_Y ABS_Z ABS_RX
		c.AxisX, c.AxisY, c.AxisZ, c.AxisR = 0, 1, 2, 3
	}
	return c
}
