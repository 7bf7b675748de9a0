package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds the airport simulation configuration
type Config struct {
	AppDir     string `mapstructure:"app_dir" json:"app_dir"`
	ConfigPath string `mapstructure:"-" json:"config_path"`

	Gates      GatesConfig      `mapstructure:"gates" json:"gates"`
	Runway     RunwayConfig     `mapstructure:"runway" json:"runway"`
	Fuel       FuelConfig       `mapstructure:"fuel" json:"fuel"`
	Passengers PassengersConfig `mapstructure:"passengers" json:"passengers"`
	Timing     Timing           `mapstructure:"timing" json:"timing"`
	Sim        SimConfig        `mapstructure:"sim" json:"sim"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
	History    HistoryConfig    `mapstructure:"history" json:"history"`
}

type GatesConfig struct {
	Count int `mapstructure:"count" json:"count"` // number of parallel gates available
}

type RunwayConfig struct {
	// PollInterval is how often a blocked request rechecks eligibility.
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
}

type FuelConfig struct {
	LowThreshold int           `mapstructure:"low_threshold" json:"low_threshold"`
	InitialMin   int           `mapstructure:"initial_min" json:"initial_min"`
	InitialMax   int           `mapstructure:"initial_max" json:"initial_max"`
	DecayMin     int           `mapstructure:"decay_min" json:"decay_min"`
	DecayMax     int           `mapstructure:"decay_max" json:"decay_max"`
	Tick         time.Duration `mapstructure:"tick" json:"tick"`
}

type PassengersConfig struct {
	Min int `mapstructure:"min" json:"min"`
	Max int `mapstructure:"max" json:"max"`
}

// Timing holds the simulated service durations.
type Timing struct {
	Landing   time.Duration `mapstructure:"landing" json:"landing"`
	Taxi      time.Duration `mapstructure:"taxi" json:"taxi"`
	Disembark time.Duration `mapstructure:"disembark" json:"disembark"`
	Clean     time.Duration `mapstructure:"clean" json:"clean"`
	Embark    time.Duration `mapstructure:"embark" json:"embark"`
	Refuel    time.Duration `mapstructure:"refuel" json:"refuel"`
	Prepare   time.Duration `mapstructure:"prepare" json:"prepare"`
	Takeoff   time.Duration `mapstructure:"takeoff" json:"takeoff"`
	// Jitter is the upper bound of random time added to each step.
	Jitter time.Duration `mapstructure:"jitter" json:"jitter"`
	// StartJitter staggers the three turnaround sub-tasks.
	StartJitter time.Duration `mapstructure:"start_jitter" json:"start_jitter"`
}

type SimConfig struct {
	TimeScale       float64       `mapstructure:"time_scale" json:"time_scale"`
	Seed            int64         `mapstructure:"seed" json:"seed"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	File        string `mapstructure:"file" json:"file"`
	Development bool   `mapstructure:"development" json:"development"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	DBPath  string `mapstructure:"db_path" json:"db_path"`
}

// GetAppDir returns the application directory for the current OS
func GetAppDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Airport")
	case "linux":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "airport")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Airport")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".airport")
	}
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults alone always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from configPath (if non-empty), the environment
// (AIRPORT_ prefix) and defaults, in decreasing order of precedence after env.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(GetAppDir())
		v.SetConfigName("airport")
	}

	v.SetEnvPrefix("AIRPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	appDir := GetAppDir()
	v.SetDefault("app_dir", appDir)

	v.SetDefault("gates.count", 3)
	v.SetDefault("runway.poll_interval", 300*time.Millisecond)

	v.SetDefault("fuel.low_threshold", 20)
	v.SetDefault("fuel.initial_min", 30)
	v.SetDefault("fuel.initial_max", 100)
	v.SetDefault("fuel.decay_min", 8)
	v.SetDefault("fuel.decay_max", 22)
	v.SetDefault("fuel.tick", time.Second)

	v.SetDefault("passengers.min", 20)
	v.SetDefault("passengers.max", 50)

	v.SetDefault("timing.landing", time.Second)
	v.SetDefault("timing.taxi", 100*time.Millisecond)
	v.SetDefault("timing.disembark", 2*time.Second)
	v.SetDefault("timing.clean", 2500*time.Millisecond)
	v.SetDefault("timing.embark", 2*time.Second)
	v.SetDefault("timing.refuel", 1500*time.Millisecond)
	v.SetDefault("timing.prepare", time.Second)
	v.SetDefault("timing.takeoff", time.Second)
	v.SetDefault("timing.jitter", 500*time.Millisecond)
	v.SetDefault("timing.start_jitter", 200*time.Millisecond)

	v.SetDefault("sim.time_scale", 1.0)
	v.SetDefault("sim.seed", 0)
	v.SetDefault("sim.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.development", false)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", filepath.Join(appDir, "airport-history.db"))
}

// Validate checks the invariants the simulation depends on.
func (c *Config) Validate() error {
	if c.Gates.Count < 1 {
		return fmt.Errorf("%w: gates.count must be positive, got %d", ErrInvalid, c.Gates.Count)
	}
	if c.Runway.PollInterval <= 0 {
		return fmt.Errorf("%w: runway.poll_interval must be positive", ErrInvalid)
	}
	if c.Fuel.Tick <= 0 {
		return fmt.Errorf("%w: fuel.tick must be positive", ErrInvalid)
	}
	if c.Fuel.InitialMin > c.Fuel.InitialMax {
		return fmt.Errorf("%w: fuel.initial_min > fuel.initial_max", ErrInvalid)
	}
	if c.Fuel.DecayMin < 0 || c.Fuel.DecayMin > c.Fuel.DecayMax {
		return fmt.Errorf("%w: fuel decay range [%d, %d]", ErrInvalid, c.Fuel.DecayMin, c.Fuel.DecayMax)
	}
	if c.Passengers.Min < 0 || c.Passengers.Min > c.Passengers.Max {
		return fmt.Errorf("%w: passengers range [%d, %d]", ErrInvalid, c.Passengers.Min, c.Passengers.Max)
	}
	if c.Sim.TimeScale <= 0 {
		return fmt.Errorf("%w: sim.time_scale must be positive", ErrInvalid)
	}
	// Tickers and timers need a positive period after scaling.
	if c.ScaleDuration(c.Fuel.Tick) <= 0 {
		return fmt.Errorf("%w: sim.time_scale %g scales fuel.tick to zero", ErrInvalid, c.Sim.TimeScale)
	}
	if c.ScaleDuration(c.Runway.PollInterval) <= 0 {
		return fmt.Errorf("%w: sim.time_scale %g scales runway.poll_interval to zero", ErrInvalid, c.Sim.TimeScale)
	}
	return nil
}

// Scaled returns a copy of t with every duration multiplied by f.
func (t Timing) Scaled(f float64) Timing {
	s := func(d time.Duration) time.Duration { return time.Duration(float64(d) * f) }
	return Timing{
		Landing:     s(t.Landing),
		Taxi:        s(t.Taxi),
		Disembark:   s(t.Disembark),
		Clean:       s(t.Clean),
		Embark:      s(t.Embark),
		Refuel:      s(t.Refuel),
		Prepare:     s(t.Prepare),
		Takeoff:     s(t.Takeoff),
		Jitter:      s(t.Jitter),
		StartJitter: s(t.StartJitter),
	}
}

// ScaleDuration applies sim.time_scale to d.
func (c *Config) ScaleDuration(d time.Duration) time.Duration {
	if c.Sim.TimeScale <= 0 {
		return d
	}
	return time.Duration(float64(d) * c.Sim.TimeScale)
}
