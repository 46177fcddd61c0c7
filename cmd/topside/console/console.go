package console

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/c-bata/go-prompt"
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/internal/session"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/telemetry"
)

const sendTimeout = time.Second

var suggests = []prompt.Suggest{
	{Text: "arm", Description: "send arm command"},
	{Text: "disarm", Description: "send forced disarm command"},
	{Text: "manual", Description: "manual x y z r [buttons], x y r in -1..1, z in 0..1"},
	{Text: "stream", Description: "stream id rate on|off"},
	{Text: "params", Description: "request parameter list"},
	{Text: "latest", Description: "latest attitude|position"},
	{Text: "stat", Description: "session counters"},
	{Text: "wait", Description: "wait duration, for scripts"},
	{Text: "help"},
	{Text: "quit", Description: "disarm and exit"},
}

// Console executes operator commands against running session.
type Console struct {
	sess   *session.Session
	target command.Target
	w      io.Writer
	log    *log2.Log
}

func New(sess *session.Session, target command.Target, w io.Writer, log *log2.Log) *Console {
	return &Console{sess: sess, target: target, w: w, log: log}
}

// Exec returns false on quit.
func (self *Console) Exec(line string) bool {
	quit, err := self.exec(line)
	if err != nil {
		fmt.Fprintf(self.w, "error: %v\n", err)
	}
	return !quit
}

func (self *Console) Complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func (self *Console) exec(line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}
	args := parts[1:]
	switch parts[0] {
	case "arm":
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return false, self.sess.Arm(ctx)

	case "disarm":
		return false, self.send(command.Disarm(self.target))

	case "manual":
		m, err := parseManual(args, self.target.System)
		if err != nil {
			return false, err
		}
		return false, self.send(m)

	case "stream":
		m, err := parseStream(args, self.target)
		if err != nil {
			return false, err
		}
		return false, self.send(m)

	case "params":
		return false, self.send(command.RequestParameters(self.target))

	case "latest":
		if len(args) != 1 {
			return false, errors.NotValidf("usage: latest attitude|position")
		}
		return false, self.latest(args[0])

	case "stat":
		fmt.Fprintf(self.w, "phase=%s %s\n", self.sess.Phase(), self.sess.Stat().String())
		return false, nil

	case "wait":
		if len(args) != 1 {
			return false, errors.NotValidf("usage: wait duration")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return false, errors.NotValidf("duration=%q", args[0])
		}
		select {
		case <-time.After(d):
		case <-self.sess.RunFlag().StopChan():
		}
		return false, nil

	case "help":
		for _, s := range suggests {
			fmt.Fprintf(self.w, "  %-8s %s\n", s.Text, s.Description)
		}
		return false, nil

	case "quit", "exit":
		return true, nil
	}
	return false, errors.NotSupportedf("command=%s", parts[0])
}

func (self *Console) send(m message.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	err := self.sess.Send(ctx, m)
	if err == nil {
		self.log.Debugf("console sent %T", m)
	}
	return errors.Annotatef(err, "send %T", m)
}

func (self *Console) latest(name string) error {
	var kind telemetry.Kind
	switch name {
	case telemetry.KindAttitude.String():
		kind = telemetry.KindAttitude
	case telemetry.KindPosition.String():
		kind = telemetry.KindPosition
	default:
		return errors.NotValidf("kind=%s", name)
	}
	in, when, ok := self.sess.Ingest().Latest(kind)
	if !ok {
		fmt.Fprintf(self.w, "%s: nothing received\n", kind)
		return nil
	}
	switch kind {
	case telemetry.KindAttitude:
		a, err := telemetry.DecodeAttitude(in.Message)
		if err != nil {
			return err
		}
		fmt.Fprintf(self.w, "attitude sys=%d %s roll=%.3f pitch=%.3f yaw=%.1f° yawspeed=%.1f°/s\n",
			in.SystemID, humanize.Time(when), a.Roll, a.Pitch, a.Yaw, a.YawSpeed)
	case telemetry.KindPosition:
		p, err := telemetry.DecodePosition(in.Message)
		if err != nil {
			return err
		}
		fmt.Fprintf(self.w, "position sys=%d %s lat=%.7f lon=%.7f vx=%.0f vy=%.0f heading=%.2f°\n",
			in.SystemID, humanize.Time(when), p.Lat, p.Lon, p.Vx, p.Vy, p.Heading)
	}
	return nil
}

func parseManual(args []string, target uint8) (message.Message, error) {
	if len(args) != 4 && len(args) != 5 {
		return nil, errors.NotValidf("usage: manual x y z r [buttons]")
	}
	var axes [4]float32
	for i := range axes {
		f, err := strconv.ParseFloat(args[i], 32)
		if err != nil {
			return nil, errors.NotValidf("axis=%q", args[i])
		}
		lo := float32(-1)
		if i == 2 {
			lo = 0
		}
		if math.IsNaN(f) || float32(f) < lo || f > 1 {
			return nil, errors.NotValidf("axis=%s out of range %v..1", args[i], lo)
		}
		axes[i] = float32(f)
	}
	var buttons uint16
	if len(args) == 5 {
		b, err := strconv.ParseUint(args[4], 0, 16)
		if err != nil {
			return nil, errors.NotValidf("buttons=%q", args[4])
		}
		buttons = uint16(b)
	}
	return command.ManualControl(axes[0], axes[1], axes[2], axes[3], buttons, target), nil
}

func parseStream(args []string, target command.Target) (message.Message, error) {
	if len(args) != 3 {
		return nil, errors.NotValidf("usage: stream id rate on|off")
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return nil, errors.NotValidf("stream id=%q", args[0])
	}
	rate, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return nil, errors.NotValidf("stream rate=%q", args[1])
	}
	var enable bool
	switch args[2] {
	case "on":
		enable = true
	case "off":
	default:
		return nil, errors.NotValidf("stream state=%q", args[2])
	}
	return command.RequestTelemetryStream(target, uint8(id), uint16(rate), enable), nil
}
