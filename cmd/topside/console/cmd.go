// Interactive operator prompt on top of running session.
package console

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/topside/cmd/topside/run"
	"github.com/temoto/topside/cmd/topside/subcmd"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/helpers/cli"
	"github.com/temoto/topside/internal/state"
)

var Mod = subcmd.Mod{Name: "console", Short: "run session with interactive command prompt", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		return helpers.FoldErrors([]error{errors.Annotate(err, "init"), g.Close()})
	}
	stopSignals := g.HandleSignals()
	defer stopSignals()

	sessErr := make(chan error, 1)
	sessDone := make(chan struct{})
	go func() {
		sessErr <- g.Session.Run(ctx)
		close(sessDone)
	}()

	con := New(g.Session, g.Config.CommandTarget(), os.Stdout, g.Log)
	loopErr := cli.MainLoop("topside", con.Exec, con.Complete, sessDone)
	g.Run.Stop()
	err := <-sessErr
	run.Summary(os.Stdout, g)
	return helpers.FoldErrors([]error{err, errors.Annotate(loopErr, "console input"), g.Close()})
}
