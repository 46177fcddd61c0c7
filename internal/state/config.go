package state

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/topside/command"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/internal/session"
	"github.com/temoto/topside/log2"
	"github.com/temoto/topside/transport"
)

const (
	DefaultEndpoint = "udpin:0.0.0.0:14550"
	DefaultBudget   = 5 * time.Second
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Link struct {
		Endpoint    string `hcl:"endpoint"`
		Version     string `hcl:"version"`
		SystemID    int    `hcl:"system_id"`
		ComponentID int    `hcl:"component_id"`
		RecvBuffer  int    `hcl:"recv_buffer"`
	}
	Target struct {
		System    int `hcl:"system"`
		Component int `hcl:"component"`
	}
	Session struct {
		// Go duration string, "0s" runs handshake and disarm only
		Budget            string `hcl:"budget"`
		KeepaliveInterval string `hcl:"keepalive_interval"`
		RecvBackoff       string `hcl:"recv_backoff"`
		DisarmTimeout     string `hcl:"disarm_timeout"`
		StreamID          int    `hcl:"stream_id"`
		StreamRateHz      int    `hcl:"stream_rate"`
	}
	Joystick JoystickConfig `hcl:"joystick"`
	Sink     struct {
		Log struct {
			Enable bool `hcl:"enable"`
			// log every Nth record of each kind
			Every int `hcl:"every"`
		} `hcl:"log"`
		Record struct {
			Enable bool   `hcl:"enable"`
			Path   string `hcl:"path"`
		} `hcl:"record"`
		Mqtt MqttConfig `hcl:"mqtt"`
	}
	Log struct {
		Level      string `hcl:"level"`
		File       string `hcl:"file"`
		MaxSizeMB  int    `hcl:"max_size_mb"`
		MaxBackups int    `hcl:"max_backups"`
		MaxAgeDays int    `hcl:"max_age_days"`
	}
	Persist struct {
		Root string `hcl:"root"`
	}

	_copy_guard sync.Mutex //nolint:unused
}

type JoystickConfig struct {
	Enable bool   `hcl:"enable"`
	Device string `hcl:"device"`
	// manual control send period
	Interval string `hcl:"interval"`
	// input older than this is not sent
	Stale  string `hcl:"stale"`
	AxisX  int    `hcl:"axis_x"`
	AxisY  int    `hcl:"axis_y"`
	AxisZ  int    `hcl:"axis_z"`
	AxisR  int    `hcl:"axis_r"`
	RawMin int    `hcl:"raw_min"`
	RawMax int    `hcl:"raw_max"`
}

type MqttConfig struct {
	Enable       bool   `hcl:"enable"`
	Broker       string `hcl:"broker"`
	ClientID     string `hcl:"client_id"`
	Username     string `hcl:"username"`
	Password     string `hcl:"password"`
	Topic        string `hcl:"topic"`
	QoS          int    `hcl:"qos"`
	KeepaliveSec int    `hcl:"keepalive_sec"`
	RetryMaxSec  int    `hcl:"retry_max_sec"`
	QueuePath    string `hcl:"queue_path"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values override earlier.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		errs = append(errs, c.Validate())
	}
	return c, helpers.FoldErrors(errs)
}

// NewDefault is config without any source.
func NewDefault() *Config {
	c := &Config{includeSeen: make(map[string]struct{})}
	_ = c.Validate()
	return c
}

// Validate fills defaults and checks values.
func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Link.Endpoint == "" {
		c.Link.Endpoint = DefaultEndpoint
	}
	if _, err := transport.ParseEndpoint(c.Link.Endpoint); err != nil {
		errs = append(errs, errors.Annotate(err, "link.endpoint"))
	}
	if _, err := transport.ParseVersion(c.Link.Version); err != nil {
		errs = append(errs, errors.Annotate(err, "link.version"))
	}
	if c.Link.SystemID == 0 {
		c.Link.SystemID = 255
	}
	if c.Link.ComponentID == 0 {
		c.Link.ComponentID = 190 // MAV_COMP_ID_MISSIONPLANNER
	}
	if c.Target.System == 0 {
		c.Target.System = 1
	}
	if c.Target.Component == 0 {
		c.Target.Component = 1
	}
	for _, x := range []struct {
		name string
		v    int
	}{
		{"link.system_id", c.Link.SystemID},
		{"link.component_id", c.Link.ComponentID},
		{"target.system", c.Target.System},
		{"target.component", c.Target.Component},
		{"session.stream_id", c.Session.StreamID},
	} {
		if x.v < 0 || x.v > 255 {
			errs = append(errs, errors.NotValidf("%s=%d", x.name, x.v))
		}
	}
	if c.Session.Budget == "" {
		c.Session.Budget = DefaultBudget.String()
	}
	if c.Session.StreamRateHz == 0 {
		c.Session.StreamRateHz = 1
	}
	if c.Session.StreamRateHz < 0 || c.Session.StreamRateHz > 0xffff {
		errs = append(errs, errors.NotValidf("session.stream_rate=%d", c.Session.StreamRateHz))
	}
	for _, d := range []struct{ name, v string }{
		{"session.budget", c.Session.Budget},
		{"session.keepalive_interval", c.Session.KeepaliveInterval},
		{"session.recv_backoff", c.Session.RecvBackoff},
		{"session.disarm_timeout", c.Session.DisarmTimeout},
		{"joystick.interval", c.Joystick.Interval},
		{"joystick.stale", c.Joystick.Stale},
	} {
		if _, err := parseDuration(d.v, 0); err != nil {
			errs = append(errs, errors.Annotate(err, d.name))
		}
	}
	if c.Joystick.RawMin == 0 && c.Joystick.RawMax == 0 {
		c.Joystick.RawMin, c.Joystick.RawMax = -32768, 32767
	}
	if c.Joystick.Enable && c.Joystick.Device == "" {
		errs = append(errs, errors.NotValidf("joystick.device empty"))
	}
	if c.Joystick.RawMin >= c.Joystick.RawMax {
		errs = append(errs, errors.NotValidf("joystick raw_min=%d raw_max=%d", c.Joystick.RawMin, c.Joystick.RawMax))
	}
	if c.Sink.Log.Every <= 0 {
		c.Sink.Log.Every = 1
	}
	if c.Sink.Mqtt.Topic == "" {
		c.Sink.Mqtt.Topic = "topside/telemetry"
	}
	if c.Sink.Mqtt.Enable && c.Sink.Mqtt.Broker == "" {
		errs = append(errs, errors.NotValidf("sink.mqtt.broker empty"))
	}
	if c.Sink.Mqtt.QoS < 0 || c.Sink.Mqtt.QoS > 2 {
		errs = append(errs, errors.NotValidf("sink.mqtt.qos=%d", c.Sink.Mqtt.QoS))
	}
	if c.Persist.Root == "" {
		c.Persist.Root = "./tmp-topside"
	}
	if c.Sink.Record.Path == "" {
		c.Sink.Record.Path = filepath.Join(c.Persist.Root, "record.sqlite")
	}
	if c.Sink.Mqtt.QueuePath == "" {
		c.Sink.Mqtt.QueuePath = filepath.Join(c.Persist.Root, "mqtt-queue")
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) LogLevel() (log2.Level, error) {
	switch c.Log.Level {
	case "", "info":
		return log2.LInfo, nil
	case "error":
		return log2.LError, nil
	case "debug":
		return log2.LDebug, nil
	case "all":
		return log2.LAll, nil
	}
	return log2.LInfo, errors.NotValidf("log.level=%s", c.Log.Level)
}

func (c *Config) TransportOptions(log *log2.Log) transport.Options {
	v, _ := transport.ParseVersion(c.Link.Version)
	return transport.Options{
		Endpoint:    c.Link.Endpoint,
		SystemID:    uint8(c.Link.SystemID),
		ComponentID: uint8(c.Link.ComponentID),
		OutVersion:  v,
		RecvBuffer:  c.Link.RecvBuffer,
		Log:         log,
	}
}

func (c *Config) SessionConfig() (session.Config, error) {
	sc := session.Config{
		Target:       c.CommandTarget(),
		StreamID:     uint8(c.Session.StreamID),
		StreamRateHz: uint16(c.Session.StreamRateHz),
	}
	var err error
	errs := make([]error, 0, 5)
	if sc.Budget, err = parseDuration(c.Session.Budget, DefaultBudget); err != nil {
		errs = append(errs, err)
	}
	if sc.KeepaliveInterval, err = parseDuration(c.Session.KeepaliveInterval, session.DefaultKeepaliveInterval); err != nil {
		errs = append(errs, err)
	}
	if sc.RecvBackoff, err = parseDuration(c.Session.RecvBackoff, session.DefaultRecvBackoff); err != nil {
		errs = append(errs, err)
	}
	if sc.DisarmTimeout, err = parseDuration(c.Session.DisarmTimeout, session.DefaultDisarmTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Joystick.Enable {
		if sc.ManualInterval, err = parseDuration(c.Joystick.Interval, 50*time.Millisecond); err != nil {
			errs = append(errs, err)
		}
	}
	return sc, helpers.FoldErrors(errs)
}

func (c *Config) CommandTarget() command.Target {
	return command.Target{System: uint8(c.Target.System), Component: uint8(c.Target.Component)}
}

func (c *Config) LogRotate() log2.RotateConfig {
	return log2.RotateConfig{
		Path:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.NotValidf("duration=%q", s)
	}
	if d < 0 {
		return 0, errors.NotValidf("negative duration=%q", s)
	}
	return d, nil
}

func (j *JoystickConfig) StaleDuration() time.Duration {
	d, err := parseDuration(j.Stale, 500*time.Millisecond)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
