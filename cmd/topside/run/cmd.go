// Full unattended session: handshake, arm, telemetry until budget or signal, disarm.
package run

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/temoto/topside/cmd/topside/subcmd"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/internal/session"
	"github.com/temoto/topside/internal/state"
	"github.com/temoto/topside/telemetry"
	"github.com/temoto/topside/transport"
)

var Mod = subcmd.Mod{Name: "run", Short: "arm vehicle, ingest telemetry for session budget, disarm", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		return helpers.FoldErrors([]error{errors.Annotate(err, "init"), g.Close()})
	}
	stopSignals := g.HandleSignals()
	defer stopSignals()

	g.Session.OnPhase(func(p session.Phase) {
		switch p {
		case session.PhaseRunning:
			subcmd.SdNotify(daemon.SdNotifyReady)
		case session.PhaseDisarming:
			subcmd.SdNotify(daemon.SdNotifyStopping)
		}
	})

	err := g.Session.Run(ctx)
	Summary(os.Stdout, g)
	return helpers.FoldErrors([]error{err, g.Close()})
}

// Summary prints session counters.
func Summary(w io.Writer, g *state.Global) {
	s := g.Session.Stat()
	fmt.Fprintf(w, "session phase=%s\n", g.Session.Phase())
	fmt.Fprintf(w, "  received   %s (attitude %s, position %s, ignored %s)\n",
		humanize.Comma(int64(s.Received)), humanize.Comma(int64(s.Kinds[telemetry.KindAttitude])),
		humanize.Comma(int64(s.Kinds[telemetry.KindPosition])), humanize.Comma(int64(s.Ignored)))
	fmt.Fprintf(w, "  keepalive  %s sent, %s failed\n",
		humanize.Comma(int64(s.KeepaliveSent)), humanize.Comma(int64(s.KeepaliveErrors)))
	if s.ManualSent+s.ManualErrors != 0 {
		fmt.Fprintf(w, "  manual     %s sent, %s failed\n",
			humanize.Comma(int64(s.ManualSent)), humanize.Comma(int64(s.ManualErrors)))
	}
	if n, ok := g.Transport.(*transport.Node); ok {
		ts := n.Stat()
		fmt.Fprintf(w, "  link       %s sent, %s received, %s dropped, %s parse errors\n",
			humanize.Comma(int64(ts.Sent)), humanize.Comma(int64(ts.Received)),
			humanize.Comma(int64(ts.Dropped)), humanize.Comma(int64(ts.ParseErrors)))
	}
	if g.Mqtt != nil {
		ms := g.Mqtt.Stat()
		fmt.Fprintf(w, "  mqtt       %s queued, %s published, %s retried\n",
			humanize.Comma(int64(ms.Pushed)), humanize.Comma(int64(ms.Published)), humanize.Comma(int64(ms.Failed)))
	}
	if g.Record != nil && g.Record.Errors() != 0 {
		fmt.Fprintf(w, "  record     %s failed saves\n", humanize.Comma(int64(g.Record.Errors())))
	}
	if s.Errors != 0 {
		fmt.Fprintf(w, "  errors     %s\n", humanize.Comma(int64(s.Errors)))
	}
}
