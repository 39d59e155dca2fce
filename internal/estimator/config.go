package estimator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/calibration"
	"github.com/TheCacophonyProject/flight-battery/telemetry"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/spf13/viper"
)

const (
	profileFileName      = "flight-battery.toml"
	defaultEstimateTopic = "flight-battery/estimate"

	minPublishInterval = 100 * time.Millisecond
)

// Settings are read from the [estimator] table of the profile file.
type Settings struct {
	WindowSize           int           `mapstructure:"window-size"`
	ConvergenceThreshold float64       `mapstructure:"convergence-threshold"`
	LowTimeSeconds       float64       `mapstructure:"low-time-seconds"`
	CriticalTimeSeconds  float64       `mapstructure:"critical-time-seconds"`
	PublishInterval      time.Duration `mapstructure:"publish-interval"`
	TelemetryTopic       string        `mapstructure:"telemetry-topic"`
	EstimateTopic        string        `mapstructure:"estimate-topic"`
}

func DefaultSettings() Settings {
	return Settings{
		WindowSize:          3,
		LowTimeSeconds:      120,
		CriticalTimeSeconds: 60,
		PublishInterval:     time.Second,
		TelemetryTopic:      telemetry.DefaultTopic,
		EstimateTopic:       defaultEstimateTopic,
	}
}

func (s Settings) Tuning() batterymodel.Tuning {
	return batterymodel.Tuning{
		WindowSize:           s.WindowSize,
		ConvergenceThreshold: s.ConvergenceThreshold,
	}
}

func (s Settings) validate() error {
	if s.PublishInterval < minPublishInterval {
		return fmt.Errorf("publish-interval must be at least %s, got %s (durations need a unit, e.g. \"1s\")",
			minPublishInterval, s.PublishInterval)
	}
	if s.CriticalTimeSeconds > s.LowTimeSeconds {
		return fmt.Errorf("critical-time-seconds (%v) can't be above low-time-seconds (%v)",
			s.CriticalTimeSeconds, s.LowTimeSeconds)
	}
	if s.EstimateTopic == "" || s.TelemetryTopic == "" {
		return errors.New("MQTT topics can't be empty")
	}
	return nil
}

type Config struct {
	Battery     goconfig.Battery
	Profile     calibration.Profile
	ProfilePath string // Empty when a preset is used
	Settings
}

// ParseConfig reads the battery section of the device config and the flight
// battery profile. profilePath defaults to flight-battery.toml in the config
// folder. A preset replaces the profile's coefficients.
func ParseConfig(configDir, profilePath, preset string) (*Config, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}
	battery := goconfig.DefaultBattery()
	if err := conf.Unmarshal(goconfig.BatteryKey, &battery); err != nil {
		return nil, err
	}

	if profilePath == "" {
		profilePath = filepath.Join(configDir, profileFileName)
	}
	c, err := loadProfileFile(profilePath, preset)
	if err != nil {
		return nil, err
	}
	c.Battery = battery
	return c, nil
}

// loadProfileFile reads the profile and estimator settings. A missing file
// gives the default profile and settings.
func loadProfileFile(path, preset string) (*Config, error) {
	c := &Config{
		Profile:  calibration.DefaultProfile(),
		Settings: DefaultSettings(),
	}

	if _, err := os.Stat(path); err == nil {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading '%s': %w", path, err)
		}
		if err := v.UnmarshalKey("estimator", &c.Settings); err != nil {
			return nil, fmt.Errorf("'%s' estimator settings: %w", path, err)
		}
		if hasProfile(v) {
			if c.Profile, err = calibration.ProfileFromViper(v); err != nil {
				return nil, fmt.Errorf("profile '%s': %w", path, err)
			}
			if c.Profile.Name == "" {
				c.Profile.Name = path
			}
			c.ProfilePath = path
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if preset != "" {
		p, err := calibration.Preset(preset)
		if err != nil {
			return nil, err
		}
		c.Profile = p
		c.ProfilePath = ""
	}
	if err := c.Settings.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// hasProfile reports whether the file has any calibration keys, it may only
// hold estimator settings.
func hasProfile(v *viper.Viper) bool {
	for _, key := range []string{"preset", "unit", "nominal-capacity", "x3", "x2", "x1", "x0", "y3", "y2", "y1", "y0"} {
		if v.IsSet(key) {
			return true
		}
	}
	return false
}
