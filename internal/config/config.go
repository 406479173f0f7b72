// Package config loads daemon settings and the thermal model from a TOML
// file, environment variables and command line flags.
package config

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigPath      = "/etc/thermalctl/thermalctl.toml"
	DefaultEnvPrefix       = "THERMALCTL"
	DefaultLogLevel        = string(LogLevelInfo)
	DefaultListen          = "127.0.0.1:9310"
	DefaultQueueSize       = 64
	DefaultPollDelayMs     = 2000
	DefaultHistoryDB       = "/var/lib/thermalctl/history.db"
	DefaultBatchSize       = 50
	DefaultBatchTimeout    = 10 * time.Second
	DefaultKafkaTopic      = "thermal.events"
	DefaultKafkaWrite      = 500 * time.Millisecond
	DefaultKafkaBatch      = 5 * time.Millisecond
	DefaultKafkaFailures   = 3
	DefaultKafkaReset      = 30 * time.Second
	DefaultShutdownCommand = "systemctl poweroff"
)

type Config struct {
	LogLevel           string         `mapstructure:"log_level"`
	Listen             string         `mapstructure:"listen"`
	QueueSize          int            `mapstructure:"queue_size"`
	DefaultProfile     string         `mapstructure:"default_profile"`
	DefaultPollDelayMs int            `mapstructure:"default_poll_delay_ms"`
	NVML               bool           `mapstructure:"nvml"`
	PIDFile            string         `mapstructure:"pid_file"`
	History            HistoryConfig  `mapstructure:"history"`
	Kafka              KafkaConfig    `mapstructure:"kafka"`
	Shutdown           ShutdownConfig `mapstructure:"shutdown"`

	Sensors  []SensorConfig  `mapstructure:"sensors"`
	Devices  []DeviceConfig  `mapstructure:"devices"`
	Profiles []ProfileConfig `mapstructure:"profiles"`
}

type HistoryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`
}

type ShutdownConfig struct {
	Command string `mapstructure:"command"`
}

// SensorConfig describes one temperature source. Path is a sysfs file or an
// "nvml:<index>" handle.
type SensorConfig struct {
	Name         string `mapstructure:"name"`
	Path         string `mapstructure:"path"`
	Offset       int    `mapstructure:"offset"`
	TripLowPath  string `mapstructure:"trip_low_path"`
	TripHighPath string `mapstructure:"trip_high_path"`
}

type DeviceConfig struct {
	ID             int    `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Driver         string `mapstructure:"driver"`
	Path           string `mapstructure:"path"`
	Handler        string `mapstructure:"handler"`
	ThrottleValues []int  `mapstructure:"throttle_values"`
}

type ProfileConfig struct {
	Name     string          `mapstructure:"name"`
	Zones    []ZoneConfig    `mapstructure:"zones"`
	Bindings []BindingConfig `mapstructure:"bindings"`
}

type ZoneConfig struct {
	ID                int                `mapstructure:"id"`
	Name              string             `mapstructure:"name"`
	Kind              string             `mapstructure:"kind"`
	Sensors           []ZoneSensorConfig `mapstructure:"sensors"`
	Thresholds        []int              `mapstructure:"thresholds"`
	PollDelaysMs      []int              `mapstructure:"poll_delays_ms"`
	WindowsMs         []int              `mapstructure:"windows_ms"`
	Debounce          int                `mapstructure:"debounce"`
	Offset            int                `mapstructure:"offset"`
	ErrorCorrection   int                `mapstructure:"error_correction"`
	Push              bool               `mapstructure:"push"`
	EmergencyShutdown bool               `mapstructure:"emergency_shutdown"`
}

type ZoneSensorConfig struct {
	Name    string    `mapstructure:"name"`
	Weights []float64 `mapstructure:"weights"`
	Orders  []float64 `mapstructure:"orders"`
}

type BindingConfig struct {
	Zone    int                 `mapstructure:"zone"`
	Devices []BoundDeviceConfig `mapstructure:"devices"`
}

type BoundDeviceConfig struct {
	Device         int    `mapstructure:"device"`
	States         int    `mapstructure:"states"`
	ThrottleMask   []bool `mapstructure:"throttle_mask"`
	DethrottleMask []bool `mapstructure:"dethrottle_mask"`
}

// DefaultPollDelay returns the scheduler fallback delay.
func (c *Config) DefaultPollDelay() time.Duration {
	return time.Duration(c.DefaultPollDelayMs) * time.Millisecond
}

// Profile returns the named profile, if configured.
func (c *Config) Profile(name string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("default_profile", "")
	v.SetDefault("pid_file", "")
	v.SetDefault("default_poll_delay_ms", DefaultPollDelayMs)
	v.SetDefault("nvml", false)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", DefaultHistoryDB)
	v.SetDefault("history.batch_size", DefaultBatchSize)
	v.SetDefault("history.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("kafka.write_timeout", DefaultKafkaWrite)
	v.SetDefault("kafka.batch_timeout", DefaultKafkaBatch)
	v.SetDefault("kafka.breaker_failures", DefaultKafkaFailures)
	v.SetDefault("kafka.breaker_reset", DefaultKafkaReset)
	v.SetDefault("shutdown.command", DefaultShutdownCommand)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("thermalctl", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("listen", DefaultListen, "HTTP control API address, empty to disable")
	fs.String("profile", "", "Thermal profile activated at startup")
	fs.Int("queue-size", DefaultQueueSize, "Event queue capacity")
	fs.Bool("nvml", false, "Enable NVIDIA GPU sensors and cooling drivers")
	return fs
}

var flagKeys = map[string]string{
	"log_level":       "log-level",
	"listen":          "listen",
	"default_profile": "profile",
	"queue_size":      "queue-size",
	"nvml":            "nvml",
}

// Load reads the configuration. The file is taken from --config, then from
// <PREFIX>_CONFIG, then DefaultConfigPath; a missing file is not an error.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix, args: os.Args[1:]}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path := configPath(fs, o)
	if err := readFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func configPath(fs *pflag.FlagSet, o *options) string {
	if p, _ := fs.GetString("config"); p != "" {
		return p
	}
	if o.configPath != "" {
		return o.configPath
	}
	if p := os.Getenv(o.envPrefix + "_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

func readFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks daemon settings. Defects in the thermal model are handled
// when the model is built, by deactivating the affected entry.
func (c *Config) Validate() error {
	var errs []error

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errors.New().WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.QueueSize <= 0 {
		errs = append(errs, ValidationError{"queue_size", c.QueueSize, "must be positive"})
	}
	if c.DefaultPollDelayMs < 0 {
		errs = append(errs, ValidationError{"default_poll_delay_ms", c.DefaultPollDelayMs, "must not be negative"})
	}
	if c.History.Enabled {
		if c.History.DBPath == "" {
			errs = append(errs, ValidationError{"history.db_path", c.History.DBPath, "required when history is enabled"})
		}
		if c.History.BatchSize <= 0 {
			errs = append(errs, ValidationError{"history.batch_size", c.History.BatchSize, "must be positive"})
		}
		if c.History.BatchTimeout <= 0 {
			errs = append(errs, ValidationError{"history.batch_timeout", c.History.BatchTimeout, "must be positive"})
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, ValidationError{"kafka.topic", c.Kafka.Topic, "required when brokers are set"})
	}
	if len(c.Kafka.Brokers) > 0 {
		if c.Kafka.WriteTimeout <= 0 {
			errs = append(errs, ValidationError{"kafka.write_timeout", c.Kafka.WriteTimeout, "must be positive"})
		}
		if c.Kafka.BreakerFailures <= 0 {
			errs = append(errs, ValidationError{"kafka.breaker_failures", c.Kafka.BreakerFailures, "must be positive"})
		}
	}

	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if p.Name == "" {
			errs = append(errs, ValidationError{"profiles.name", p.Name, "must not be empty"})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, ValidationError{"profiles.name", p.Name, "duplicate profile"})
		}
		seen[p.Name] = true
	}

	if len(errs) > 0 {
		return errors.New().Wrap(errors.ErrInvalidConfig, stderrors.Join(errs...))
	}

	return nil
}
