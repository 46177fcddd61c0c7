package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/temoto/topside/cmd/topside/console"
	"github.com/temoto/topside/cmd/topside/records"
	"github.com/temoto/topside/cmd/topside/run"
	"github.com/temoto/topside/cmd/topside/subcmd"
	"github.com/temoto/topside/internal/state"
	"github.com/temoto/topside/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	records.Mod,
}

// command line overrides, applied only when set explicitly
type overrides struct {
	configPath      string
	endpoint        string
	budget          string
	targetSystem    int
	targetComponent int
	streamRate      int
	logLevel        string
	joystick        string
}

func main() {
	if subcmd.SdNotify("start") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	if err := newRoot().Execute(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func newRoot() *cobra.Command {
	o := &overrides{}
	root := &cobra.Command{
		Use:           "topside",
		Short:         "MAVLink ground station: arm, watch telemetry, disarm",
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := subcmd.Parse(run.Mod.Name, modules)
			if err != nil {
				return err
			}
			return runMod(cmd, o, mod)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "topside.hcl", "config file, missing file means defaults")
	pf.StringVarP(&o.endpoint, "endpoint", "e", "", "link endpoint, e.g. udpin:0.0.0.0:14550 udpout:10.0.0.5:14550 serial:/dev/ttyUSB0:57600")
	pf.StringVar(&o.budget, "budget", "", "session duration, 0s arms and disarms immediately")
	pf.IntVar(&o.targetSystem, "target-system", 1, "vehicle system id")
	pf.IntVar(&o.targetComponent, "target-component", 1, "vehicle component id")
	pf.IntVar(&o.streamRate, "stream-rate", 1, "telemetry stream rate Hz")
	pf.StringVar(&o.logLevel, "log-level", "info", "error|info|debug|all")
	pf.StringVar(&o.joystick, "joystick", "", "evdev device, enables manual control")

	for i := range modules {
		mod := &modules[i]
		cmd := &cobra.Command{
			Use:   mod.Name,
			Short: mod.Short,
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return runMod(cmd, o, mod) },
		}
		if mod.Flags != nil {
			mod.Flags(cmd.Flags())
		}
		root.AddCommand(cmd)
	}
	return root
}

func runMod(cmd *cobra.Command, o *overrides, mod *subcmd.Mod) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	config, err := loadConfig(o.configPath, changed["config"])
	if err != nil {
		return err
	}
	if err = o.apply(config, changed); err != nil {
		return err
	}

	lvl, _ := config.LogLevel()
	log.SetLevel(lvl)
	l := log
	if config.Log.File != "" {
		var closer io.Closer
		if l, closer, err = log2.NewRotating(config.LogRotate(), lvl); err != nil {
			return errors.Annotate(err, "log file")
		}
		defer closer.Close()
		l.SetFlags(log2.LInteractiveFlags)
	}

	ctx, _ := state.NewContext(l, getVersion())
	log.Debugf("command=%s", mod.Name)
	return mod.Main(ctx, config)
}

func loadConfig(path string, required bool) (*state.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && !required {
		log.Infof("config %s not found, using defaults", path)
		return state.NewDefault(), nil
	}
	fs, err := state.NewOsFullReader(".")
	if err != nil {
		return nil, err
	}
	return state.ReadConfig(log, fs, path)
}

func (o *overrides) apply(c *state.Config, changed map[string]bool) error {
	if changed["endpoint"] {
		c.Link.Endpoint = o.endpoint
	}
	if changed["budget"] {
		c.Session.Budget = o.budget
	}
	if changed["target-system"] {
		c.Target.System = o.targetSystem
	}
	if changed["target-component"] {
		c.Target.Component = o.targetComponent
	}
	if changed["stream-rate"] {
		c.Session.StreamRateHz = o.streamRate
	}
	if changed["log-level"] {
		c.Log.Level = o.logLevel
	}
	if changed["joystick"] {
		c.Joystick.Enable = o.joystick != ""
		c.Joystick.Device = o.joystick
	}
	return errors.Annotate(c.Validate(), "config after command line")
}

func getVersion() string {
	if BuildVersion != "unknown" {
		return BuildVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return BuildVersion
}
