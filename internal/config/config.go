// Package config loads and validates ThreatLens' runtime configuration:
// the global queue/batching knobs, fan-out limits, tailing defaults and
// controller sampling settings from spec §6, reloadable at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/sysflow-telemetry/sf-apis/go/logger"
)

// Global holds the cross-cutting queue/batch settings of spec §6.
type Global struct {
	MaxQueueSize          int           `mapstructure:"max_queue_size" validate:"gt=0"`
	BatchSize             int           `mapstructure:"batch_size" validate:"gt=0"`
	BatchTimeout          time.Duration `mapstructure:"batch_timeout" validate:"gt=0"`
	MaxConcurrentBatches  int           `mapstructure:"max_concurrent_batches" validate:"gt=0"`
	BackpressureThreshold float64       `mapstructure:"backpressure_threshold" validate:"gt=0,lte=1"`
	StatsInterval         time.Duration `mapstructure:"stats_interval" validate:"gt=0"`
	MinBatchSize          int           `mapstructure:"min_batch_size" validate:"gt=0"`
	MaxBatchSize          int           `mapstructure:"max_batch_size" validate:"gt=0"`
	MaxConcurrentCap      int           `mapstructure:"max_concurrent_cap" validate:"gt=0"`
}

// Fanout holds the Event Fan-out Bus settings of spec §6.
type Fanout struct {
	MaxSubscribers          int           `mapstructure:"max_subscribers" validate:"gt=0"`
	PerSubscriberQueue      int           `mapstructure:"per_subscriber_queue" validate:"gt=0"`
	PingInterval            time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	PongTimeout             time.Duration `mapstructure:"pong_timeout" validate:"gt=0"`
	SlowSubscriberThreshold int           `mapstructure:"slow_subscriber_threshold" validate:"gt=0"`
}

// Tailing holds the File Tailing Engine defaults of spec §6.
type Tailing struct {
	PollingInterval   time.Duration `mapstructure:"polling_interval" validate:"gt=0"`
	MaxPartialLineHold time.Duration `mapstructure:"max_partial_line_hold" validate:"gt=0"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" validate:"gt=0"`
}

// Controller holds the Health & Adaptive Controller settings of spec §6.
type Controller struct {
	SampleInterval  time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	AdaptiveEnabled bool          `mapstructure:"adaptive_enabled"`
	CheckTimeout    time.Duration `mapstructure:"check_timeout" validate:"gt=0"`
	MetricsWindow   int           `mapstructure:"metrics_window" validate:"gt=0"`
}

// Config is the full ThreatLens configuration tree.
type Config struct {
	Global     Global     `mapstructure:"global"`
	Fanout     Fanout     `mapstructure:"fanout"`
	Tailing    Tailing    `mapstructure:"tailing"`
	Controller Controller `mapstructure:"controller"`
}

// Default returns the configuration with every default named in spec §6.
func Default() *Config {
	return &Config{
		Global: Global{
			MaxQueueSize:          10000,
			BatchSize:             100,
			BatchTimeout:          5 * time.Second,
			MaxConcurrentBatches:  5,
			BackpressureThreshold: 0.8,
			StatsInterval:         30 * time.Second,
			MinBatchSize:          1,
			MaxBatchSize:          1000,
			MaxConcurrentCap:      10,
		},
		Fanout: Fanout{
			MaxSubscribers:          100,
			PerSubscriberQueue:      256,
			PingInterval:            30 * time.Second,
			PongTimeout:             60 * time.Second,
			SlowSubscriberThreshold: 100,
		},
		Tailing: Tailing{
			PollingInterval:    1 * time.Second,
			MaxPartialLineHold: 5 * time.Second,
			CheckpointInterval: 10 * time.Second,
		},
		Controller: Controller{
			SampleInterval:  30 * time.Second,
			AdaptiveEnabled: true,
			CheckTimeout:    10 * time.Second,
			MetricsWindow:   100,
		},
	}
}

// Loader loads Config from an optional file, .env overrides and the
// process environment, the way the teacher's driver configures viper.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
}

// NewLoader builds a Loader with ThreatLens' defaults pre-seeded so a
// config file or environment only needs to override what differs.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("THREATLENS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	applyDefaults(v, Default())
	return &Loader{v: v, validate: validator.New()}
}

// LoadFile reads additional overrides from the given config file (any
// format viper supports: yaml, json, toml, ...). Missing files are not an
// error — the loader proceeds with defaults/env only.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			logger.Warn.Printf("config: %s not found, using defaults/env", path)
			return nil
		}
		return errorsWrap(err, "read config file")
	}
	return nil
}

// LoadDotEnv applies a .env file's variables as process environment
// overrides before viper's AutomaticEnv binding takes effect, mirroring
// the "loaded at start, reloadable at runtime" requirement of spec §6.
func (l *Loader) LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		logger.Warn.Printf("config: .env load skipped: %v", err)
	}
	return nil
}

// Build unmarshals, validates and returns the final Config.
func (l *Loader) Build() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errorsWrap(err, "unmarshal config")
	}
	if err := Validate(cfg, l.validate); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus the domain-specific checks
// that cross multiple fields (e.g. MinBatchSize <= MaxBatchSize), folding
// every failure into one *multierror.Error per spec §10.2's ambient error
// handling rule.
func Validate(cfg *Config, v *validator.Validate) error {
	if v == nil {
		v = validator.New()
	}
	var result *multierror.Error
	if err := v.Struct(cfg); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.Global.MinBatchSize > cfg.Global.MaxBatchSize {
		result = multierror.Append(result, fmt.Errorf("global.min_batch_size (%d) exceeds global.max_batch_size (%d)", cfg.Global.MinBatchSize, cfg.Global.MaxBatchSize))
	}
	if cfg.Global.BatchSize < cfg.Global.MinBatchSize || cfg.Global.BatchSize > cfg.Global.MaxBatchSize {
		result = multierror.Append(result, fmt.Errorf("global.batch_size (%d) must be within [%d,%d]", cfg.Global.BatchSize, cfg.Global.MinBatchSize, cfg.Global.MaxBatchSize))
	}
	return result.ErrorOrNil()
}

// ValidateSourcePath applies govalidator checks appropriate for a
// LogSource's Path/FilePattern (spec §4.1's AddSource validation).
func ValidateSourcePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if !govalidator.IsUnixFilePath(path) && !strings.HasPrefix(path, ".") {
		// Best-effort sanity check only; the tailer itself is the
		// authority on whether the path is actually usable.
		logger.Trace.Printf("config: path %q did not match a typical unix file path shape", path)
	}
	return nil
}

func applyDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("global.max_queue_size", cfg.Global.MaxQueueSize)
	v.SetDefault("global.batch_size", cfg.Global.BatchSize)
	v.SetDefault("global.batch_timeout", cfg.Global.BatchTimeout)
	v.SetDefault("global.max_concurrent_batches", cfg.Global.MaxConcurrentBatches)
	v.SetDefault("global.backpressure_threshold", cfg.Global.BackpressureThreshold)
	v.SetDefault("global.stats_interval", cfg.Global.StatsInterval)
	v.SetDefault("global.min_batch_size", cfg.Global.MinBatchSize)
	v.SetDefault("global.max_batch_size", cfg.Global.MaxBatchSize)
	v.SetDefault("global.max_concurrent_cap", cfg.Global.MaxConcurrentCap)

	v.SetDefault("fanout.max_subscribers", cfg.Fanout.MaxSubscribers)
	v.SetDefault("fanout.per_subscriber_queue", cfg.Fanout.PerSubscriberQueue)
	v.SetDefault("fanout.ping_interval", cfg.Fanout.PingInterval)
	v.SetDefault("fanout.pong_timeout", cfg.Fanout.PongTimeout)
	v.SetDefault("fanout.slow_subscriber_threshold", cfg.Fanout.SlowSubscriberThreshold)

	v.SetDefault("tailing.polling_interval", cfg.Tailing.PollingInterval)
	v.SetDefault("tailing.max_partial_line_hold", cfg.Tailing.MaxPartialLineHold)
	v.SetDefault("tailing.checkpoint_interval", cfg.Tailing.CheckpointInterval)

	v.SetDefault("controller.sample_interval", cfg.Controller.SampleInterval)
	v.SetDefault("controller.adaptive_enabled", cfg.Controller.AdaptiveEnabled)
	v.SetDefault("controller.check_timeout", cfg.Controller.CheckTimeout)
	v.SetDefault("controller.metrics_window", cfg.Controller.MetricsWindow)
}

func errorsWrap(err error, msg string) error {
	return fmt.Errorf("%s: %w", msg, err)
}
