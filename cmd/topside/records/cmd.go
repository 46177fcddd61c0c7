// Print flight record database summary and latest samples.
package records

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/temoto/topside/cmd/topside/subcmd"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/internal/sink/record"
	"github.com/temoto/topside/internal/state"
	"github.com/temoto/topside/telemetry"
)

var limit int

var Mod = subcmd.Mod{
	Name:  "records",
	Short: "show flight record summary and most recent samples",
	Flags: func(f *pflag.FlagSet) {
		f.IntVarP(&limit, "limit", "n", 20, "number of recent samples")
	},
	Main: Main,
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	store, err := record.Open(config.Sink.Record.Path, g.Log)
	if err != nil {
		return errors.Annotate(err, "records")
	}
	err = Print(ctx, os.Stdout, store, limit)
	return helpers.FoldErrors([]error{err, store.Close()})
}

func Print(ctx context.Context, w io.Writer, store *record.Store, limit int) error {
	s, err := store.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "sessions=%s samples=%s size=%s\n",
		humanize.Comma(s.Sessions), humanize.Comma(s.Samples), humanize.Bytes(s.FileBytes))
	if limit <= 0 {
		return nil
	}
	rs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range rs {
		fmt.Fprintln(w, formatRecord(r))
	}
	return nil
}

func formatRecord(r *telemetry.Record) string {
	head := fmt.Sprintf("%s sys=%d %s", r.Time().UTC().Format("2006-01-02T15:04:05.000"), r.SystemId, telemetry.Kind(r.Kind))
	if a, ok := r.GetAttitude(); ok {
		return fmt.Sprintf("%s roll=%.3f pitch=%.3f yaw=%.1f° rollspeed=%.3f pitchspeed=%.3f yawspeed=%.1f°/s",
			head, a.Roll, a.Pitch, a.Yaw, a.RollSpeed, a.PitchSpeed, a.YawSpeed)
	}
	if p, ok := r.GetPosition(); ok {
		return fmt.Sprintf("%s lat=%.7f lon=%.7f vx=%.0f vy=%.0f heading=%.2f°",
			head, p.Lat, p.Lon, p.Vx, p.Vy, p.Heading)
	}
	return head + " empty"
}
