package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/profilectl/internal/engine"
	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/exporter"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/metrics"
	"codeberg.org/mutker/profilectl/internal/pid"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/sensor"
	"codeberg.org/mutker/profilectl/internal/telemetry"
	"codeberg.org/mutker/profilectl/internal/thermal"
	"codeberg.org/mutker/profilectl/internal/zone"
)

type Config struct {
	Interval    time.Duration `mapstructure:"interval"`
	LogLevel    string        `mapstructure:"log_level"`
	LogEvery    int           `mapstructure:"log_every"`
	Monitor     bool          `mapstructure:"monitor"`
	ProfilePath string        `mapstructure:"profile_path"`
	HwmonPath   string        `mapstructure:"hwmon_path"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	NVML        bool          `mapstructure:"nvml"`
	PIDFile     string        `mapstructure:"pid_file"`

	InitialBoost      time.Duration `mapstructure:"initial_boost"`
	CriticalTemp      float64       `mapstructure:"critical_temp"`
	EmergencyDebounce int           `mapstructure:"emergency_debounce"`
	EmergencyGrace    int           `mapstructure:"emergency_grace"`
	SensorLossGrace   time.Duration `mapstructure:"sensor_loss_grace"`
	HistoryWindow     time.Duration `mapstructure:"history_window"`
	TrendSensitivity  float64       `mapstructure:"trend_sensitivity"`
	Aggregate         string        `mapstructure:"aggregate"`
	AggregateWindow   int           `mapstructure:"aggregate_window"`

	LockProfile  string        `mapstructure:"lock_profile"`
	LockDuration time.Duration `mapstructure:"lock_duration"`

	Cadence  Cadence         `mapstructure:"cadence"`
	Metrics  metrics.Config  `mapstructure:"metrics"`
	Exporter exporter.Config `mapstructure:"exporter"`
	Zones    []zone.Config   `mapstructure:"zones"`
}

type Cadence struct {
	Mode    string         `mapstructure:"mode"`
	RideOut bool           `mapstructure:"ride_out"`
	Min     time.Duration  `mapstructure:"min"`
	MaxOn   time.Duration  `mapstructure:"max_on"`
	MaxOff  time.Duration  `mapstructure:"max_off"`
	Cool    engine.Cadence `mapstructure:"cool"`
	Warm    engine.Cadence `mapstructure:"warm"`
	Hot     engine.Cadence `mapstructure:"hot"`
}

func setDefaults(v *viper.Viper) {
	policy := engine.DefaultPolicy()
	table := engine.DefaultTable()
	bounds := engine.DefaultBounds()
	mcfg := metrics.DefaultConfig()
	ecfg := exporter.DefaultConfig()

	v.SetDefault("interval", policy.Step)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_every", telemetry.DefaultEvery)
	v.SetDefault("monitor", false)
	v.SetDefault("profile_path", profile.DefaultPath)
	v.SetDefault("hwmon_path", sensor.DefaultHwmonPath)
	v.SetDefault("read_timeout", sensor.DefaultReadTimeout)
	v.SetDefault("nvml", false)
	v.SetDefault("pid_file", pid.DefaultPath)

	v.SetDefault("initial_boost", policy.InitialBoost)
	v.SetDefault("critical_temp", policy.CriticalTemp)
	v.SetDefault("emergency_debounce", policy.EmergencyDebounce)
	v.SetDefault("emergency_grace", policy.EmergencyGrace)
	v.SetDefault("sensor_loss_grace", policy.SensorLossGrace)
	v.SetDefault("history_window", policy.HistoryWindow)
	v.SetDefault("trend_sensitivity", 0.3)
	v.SetDefault("aggregate", string(policy.Aggregate))
	v.SetDefault("aggregate_window", policy.AggregateWindow)

	v.SetDefault("lock_profile", "")
	v.SetDefault("lock_duration", time.Duration(0))

	v.SetDefault("cadence.mode", string(engine.ModeAdaptive))
	v.SetDefault("cadence.ride_out", policy.RideOut)
	v.SetDefault("cadence.min", bounds.Min)
	v.SetDefault("cadence.max_on", bounds.MaxOn)
	v.SetDefault("cadence.max_off", bounds.MaxOff)
	v.SetDefault("cadence.cool.on", table.Cool.On)
	v.SetDefault("cadence.cool.off", table.Cool.Off)
	v.SetDefault("cadence.warm.on", table.Warm.On)
	v.SetDefault("cadence.warm.off", table.Warm.Off)
	v.SetDefault("cadence.hot.on", table.Hot.On)
	v.SetDefault("cadence.hot.off", table.Hot.Off)

	v.SetDefault("metrics.enabled", mcfg.Enabled)
	v.SetDefault("metrics.db_path", mcfg.DBPath)
	v.SetDefault("metrics.batch_size", mcfg.BatchSize)
	v.SetDefault("metrics.batch_timeout", mcfg.BatchTimeout)

	v.SetDefault("exporter.enabled", ecfg.Enabled)
	v.SetDefault("exporter.listen", ecfg.Listen)
}

// flags maps command line flags to configuration keys.
var flags = []struct {
	name, key string
}{
	{"interval", "interval"},
	{"log-level", "log_level"},
	{"monitor", "monitor"},
	{"profile-path", "profile_path"},
	{"pid-file", "pid_file"},
	{"critical-temp", "critical_temp"},
	{"lock-profile", "lock_profile"},
	{"lock-duration", "lock_duration"},
	{"cadence", "cadence.mode"},
	{"nvml", "nvml"},
	{"history", "metrics.enabled"},
	{"history-db", "metrics.db_path"},
	{"exporter", "exporter.enabled"},
	{"listen", "exporter.listen"},
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("profilectl", pflag.ContinueOnError)

	fs.String("config", "", "Path to the TOML configuration file")
	fs.Duration("interval", 0, "Time between control ticks")
	fs.String("log-level", "", "Log level: debug, info, warning, error")
	fs.Bool("monitor", false, "Observe and log without writing the profile")
	fs.String("profile-path", "", "Platform profile node")
	fs.String("pid-file", "", "PID file path")
	fs.Float64("critical-temp", 0, "Temperature that arms the emergency lock")
	fs.String("lock-profile", "", "Pin the profile (balanced or performance)")
	fs.Duration("lock-duration", 0, "How long --lock-profile holds, 0 for indefinitely")
	fs.String("cadence", "", "Cadence strategy: adaptive, fixed or binary")
	fs.Bool("nvml", false, "Read NVIDIA GPU temperatures through NVML")
	fs.Bool("history", false, "Record status history to sqlite")
	fs.String("history-db", "", "Status history database path")
	fs.Bool("exporter", false, "Serve /metrics, /status and /healthz")
	fs.String("listen", "", "Exporter listen address")

	return fs
}

// Load reads the configuration and validates it.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for _, f := range flags {
		if err := v.BindPFlag(f.key, fs.Lookup(f.name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, o, fs); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(secondsHook),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if len(cfg.Zones) == 0 {
		cfg.Zones = zone.DefaultConfigs()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook reads a bare number given for a duration key as seconds, so
// `interval = 2` means two seconds, not two nanoseconds. Strings with a unit
// fall through to the stock duration hook.
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}

	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(rv.Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(rv.Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(rv.Float() * float64(time.Second)), nil
	case reflect.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(rv.String()), 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
	}

	return data, nil
}

// readConfigFile reads the first of: the explicit option, --config,
// <PREFIX>_CONFIG, the default path. Only the default may be missing.
func readConfigFile(v *viper.Viper, o *options, fs *pflag.FlagSet) error {
	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err != nil {
			return nil
		}
		path = DefaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate rejects anything the daemon cannot run with. Errors name the
// offending field and value.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogEvery < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ LogEvery int }{c.LogEvery})
	}
	if c.ReadTimeout <= 0 || c.ReadTimeout >= c.Interval {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			ReadTimeout time.Duration
			Interval    time.Duration
		}{c.ReadTimeout, c.Interval})
	}
	if c.ProfilePath == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ ProfilePath string }{c.ProfilePath})
	}
	if c.LockProfile != "" && !profile.Profile(c.LockProfile).Valid() {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ LockProfile string }{c.LockProfile})
	}
	if c.LockDuration < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ LockDuration time.Duration }{c.LockDuration})
	}

	if _, err := zone.NewCatalog(c.Zones); err != nil {
		return err
	}
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}

	return c.Exporter.Validate()
}

// Policy returns the engine tunables.
func (c *Config) Policy() engine.Policy {
	return engine.Policy{
		Step:              c.Interval,
		InitialBoost:      c.InitialBoost,
		CriticalTemp:      c.CriticalTemp,
		EmergencyDebounce: c.EmergencyDebounce,
		EmergencyGrace:    c.EmergencyGrace,
		SensorLossGrace:   c.SensorLossGrace,
		HistoryWindow:     c.HistoryWindow,
		Aggregate:         thermal.Strategy(c.Aggregate),
		AggregateWindow:   c.AggregateWindow,
		RideOut:           c.Cadence.RideOut,
	}
}

// Strategy builds the configured cadence strategy.
func (c *Config) Strategy() (engine.Strategy, error) {
	table := engine.Table{Cool: c.Cadence.Cool, Warm: c.Cadence.Warm, Hot: c.Cadence.Hot}
	bounds := engine.Bounds{Min: c.Cadence.Min, MaxOn: c.Cadence.MaxOn, MaxOff: c.Cadence.MaxOff}

	return engine.NewStrategy(engine.Mode(c.Cadence.Mode), table, c.TrendSensitivity, bounds, c.Interval)
}
