package state

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		sources   map[string]string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", map[string]string{"main": ""}, func(t testing.TB, c *Config) {
			assert.Equal(t, DefaultEndpoint, c.Link.Endpoint)
			assert.Equal(t, command.Target{System: 1, Component: 1}, c.CommandTarget())
			sc, err := c.SessionConfig()
			require.NoError(t, err)
			assert.Equal(t, DefaultBudget, sc.Budget)
			assert.Equal(t, time.Second, sc.KeepaliveInterval)
			assert.Equal(t, 10*time.Millisecond, sc.RecvBackoff)
			assert.Equal(t, time.Duration(0), sc.ManualInterval)
			assert.Equal(t, uint8(255), c.TransportOptions(nil).SystemID)
		}, ""},

		{"session",
			map[string]string{"main": `
link { endpoint = "udpout:10.0.0.5:14550" version = "1" }
target { system = 7 component = 2 }
session { budget = "0s" stream_id = 6 stream_rate = 10 keepalive_interval = "500ms" }`},
			func(t testing.TB, c *Config) {
				sc, err := c.SessionConfig()
				require.NoError(t, err)
				assert.Equal(t, time.Duration(0), sc.Budget)
				assert.Equal(t, 500*time.Millisecond, sc.KeepaliveInterval)
				assert.Equal(t, uint8(6), sc.StreamID)
				assert.Equal(t, uint16(10), sc.StreamRateHz)
				assert.Equal(t, command.Target{System: 7, Component: 2}, sc.Target)
				opt := c.TransportOptions(nil)
				assert.Equal(t, "udpout:10.0.0.5:14550", opt.Endpoint)
				assert.Equal(t, "mavlink1", opt.OutVersion.String())
			},
			"",
		},

		{"include-override",
			map[string]string{
				"main":  `include "local" {} session { budget = "1s" } sink { log { enable = true every = 5 } }`,
				"local": `session { budget = "2m" } joystick { enable = true device = "/dev/input/event3" interval = "20ms" }`,
			},
			func(t testing.TB, c *Config) {
				sc, err := c.SessionConfig()
				require.NoError(t, err)
				assert.Equal(t, 2*time.Minute, sc.Budget)
				assert.Equal(t, 20*time.Millisecond, sc.ManualInterval)
				assert.True(t, c.Sink.Log.Enable)
				assert.Equal(t, 5, c.Sink.Log.Every)
				assert.Equal(t, 500*time.Millisecond, c.Joystick.StaleDuration())
			},
			"",
		},

		{"include-optional-missing",
			map[string]string{"main": `include "nope" { optional = true }`},
			func(t testing.TB, c *Config) {}, "",
		},
		{"include-required-missing",
			map[string]string{"main": `include "nope" {}`},
			nil, "config required name=nope",
		},
		{"include-loop",
			map[string]string{"main": `include "a" {}`, "a": `include "main" {}`},
			nil, "config include loop",
		},
		{"syntax", map[string]string{"main": `link {`}, nil, "config unmarshal source=main"},
		{"bad-endpoint", map[string]string{"main": `link { endpoint = "pigeon:coop" }`}, nil, "link.endpoint"},
		{"bad-duration", map[string]string{"main": `session { budget = "forever" }`}, nil, "session.budget"},
		{"bad-target", map[string]string{"main": `target { system = 300 }`}, nil, "target.system=300"},
		{"mqtt-no-broker", map[string]string{"main": `sink { mqtt { enable = true } }`}, nil, "sink.mqtt.broker"},
		{"joystick-no-device", map[string]string{"main": `joystick { enable = true }`}, nil, "joystick.device"},
		{"log-level", map[string]string{"main": `log { level = "loud" }`}, nil, "log.level=loud"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(c.sources)
			cfg, err := ReadConfig(log, fs, "main")
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err, errors.ErrorStack(err))
			c.check(t, cfg)
		})
	}
}

func TestReadConfigOs(t *testing.T) {
	t.Parallel()

	dir, err := ioutil.TempDir("", "topside-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "topside.hcl"), []byte(`include "extra.hcl" {}`), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "extra.hcl"), []byte(`persist { root = "/var/lib/topside" }`), 0644))

	fs, err := NewOsFullReader(".")
	require.NoError(t, err)
	cfg, err := ReadConfig(log2.NewTest(t, log2.LDebug), fs, filepath.Join(dir, "topside.hcl"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/topside", cfg.Persist.Root)
	assert.Equal(t, "/var/lib/topside/record.sqlite", cfg.Sink.Record.Path)
}

func TestNewDefault(t *testing.T) {
	t.Parallel()
	c := NewDefault()
	assert.NoError(t, c.Validate())
	lvl, err := c.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, log2.LInfo, lvl)
}

func TestArmState(t *testing.T) {
	t.Parallel()

	dir, err := ioutil.TempDir("", "topside-armstate")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	log := log2.NewTest(t, log2.LDebug)

	s, err := OpenArmState(dir, log)
	require.NoError(t, err)
	assert.False(t, s.PreviousArmed)
	require.NoError(t, s.Armed())

	// crash here, next process must notice
	s2, err := OpenArmState(dir, log)
	require.NoError(t, err)
	assert.True(t, s2.PreviousArmed)
	require.NoError(t, s2.Disarmed())

	s3, err := OpenArmState(dir, log)
	require.NoError(t, err)
	assert.False(t, s3.PreviousArmed)

	_, err = OpenArmState("", log)
	assert.Error(t, err)
}
