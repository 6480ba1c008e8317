// Package config loads the controller settings from configs/config.yml and
// DISCHARGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "DISCHARGE"

// Link modes.
const (
	LinkSim    = "sim"
	LinkSerial = "serial"
)

type Config struct {
	Port   string
	DB     DBConfig
	Log    LogConfig
	Auth   AuthConfig
	Test   TestConfig
	Link   LinkConfig
	Export ExportConfig
	MQTT   MQTTConfig
}

type DBConfig struct {
	Path string
}

type LogConfig struct {
	Level string
	File  string // optional JSON log file
}

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

// TestConfig describes the simulated cells and the run timing.
type TestConfig struct {
	Cells         int
	MaxVoltage    float64
	MinVoltage    float64
	DischargeMinS float64
	DischargeMaxS float64
	SafeAfterS    float64
	MaxRuntimeS   float64
	GraceS        float64
	TickS         float64
	TickInterval  time.Duration // wall-clock pause between ticks, 0 runs flat out
	RelayFail     bool
	Seed          int64 // 0 picks a time based seed
}

type LinkConfig struct {
	Mode     string
	Port     string
	Baud     int
	Timeout  time.Duration
	RelayPin int
}

type ExportConfig struct {
	Dir string // CSV output directory, empty disables files
}

type MQTTConfig struct {
	Broker   string // empty disables publishing
	Topic    string
	ClientID string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db.path", "discharge.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("test.cells", 8)
	v.SetDefault("test.max_voltage", 3.3)
	v.SetDefault("test.min_voltage", 1.5)
	v.SetDefault("test.discharge_min_s", 3000.0)
	v.SetDefault("test.discharge_max_s", 3600.0)
	v.SetDefault("test.safe_after_s", 5.0)
	v.SetDefault("test.max_runtime_s", 3600.0)
	v.SetDefault("test.grace_s", 100.0)
	v.SetDefault("test.tick_s", 1.0)
	v.SetDefault("test.tick_interval", time.Duration(0))
	v.SetDefault("test.relay_fail", false)
	v.SetDefault("test.seed", int64(0))

	v.SetDefault("link.mode", LinkSim)
	v.SetDefault("link.port", "")
	v.SetDefault("link.baud", 9600)
	v.SetDefault("link.timeout", 2*time.Second)
	v.SetDefault("link.relay_pin", 17)

	v.SetDefault("export.dir", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "discharge/events")
	v.SetDefault("mqtt.client_id", "discharge-tester")
}

// Load reads config.yml from the given directories (first match wins).
// A missing file is not an error; defaults and environment still apply.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(paths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Port: v.GetString("port"),
		DB:   DBConfig{Path: v.GetString("db.path")},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		Test: TestConfig{
			Cells:         v.GetInt("test.cells"),
			MaxVoltage:    v.GetFloat64("test.max_voltage"),
			MinVoltage:    v.GetFloat64("test.min_voltage"),
			DischargeMinS: v.GetFloat64("test.discharge_min_s"),
			DischargeMaxS: v.GetFloat64("test.discharge_max_s"),
			SafeAfterS:    v.GetFloat64("test.safe_after_s"),
			MaxRuntimeS:   v.GetFloat64("test.max_runtime_s"),
			GraceS:        v.GetFloat64("test.grace_s"),
			TickS:         v.GetFloat64("test.tick_s"),
			TickInterval:  v.GetDuration("test.tick_interval"),
			RelayFail:     v.GetBool("test.relay_fail"),
			Seed:          v.GetInt64("test.seed"),
		},
		Link: LinkConfig{
			Mode:     strings.ToLower(strings.TrimSpace(v.GetString("link.mode"))),
			Port:     v.GetString("link.port"),
			Baud:     v.GetInt("link.baud"),
			Timeout:  v.GetDuration("link.timeout"),
			RelayPin: v.GetInt("link.relay_pin"),
		},
		Export: ExportConfig{Dir: v.GetString("export.dir")},
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt.broker"),
			Topic:    v.GetString("mqtt.topic"),
			ClientID: v.GetString("mqtt.client_id"),
		},
	}
}

// Validate rejects settings no run could start with.
func (c Config) Validate() error {
	t := c.Test
	switch {
	case t.Cells < 1:
		return fmt.Errorf("test.cells must be >= 1, got %d", t.Cells)
	case t.MinVoltage >= t.MaxVoltage:
		return fmt.Errorf("test.min_voltage %.3f must be below test.max_voltage %.3f", t.MinVoltage, t.MaxVoltage)
	case t.DischargeMinS <= 0 || t.DischargeMaxS < t.DischargeMinS:
		return fmt.Errorf("test.discharge_min_s/max_s must satisfy 0 < min <= max, got %.1f/%.1f", t.DischargeMinS, t.DischargeMaxS)
	case t.SafeAfterS < 0:
		return fmt.Errorf("test.safe_after_s must be >= 0, got %.1f", t.SafeAfterS)
	case t.MaxRuntimeS <= 0:
		return fmt.Errorf("test.max_runtime_s must be > 0, got %.1f", t.MaxRuntimeS)
	case t.GraceS < 0:
		return fmt.Errorf("test.grace_s must be >= 0, got %.1f", t.GraceS)
	case t.TickS <= 0:
		return fmt.Errorf("test.tick_s must be > 0, got %.3f", t.TickS)
	case t.TickInterval < 0:
		return fmt.Errorf("test.tick_interval must be >= 0, got %s", t.TickInterval)
	}

	switch c.Link.Mode {
	case LinkSim:
	case LinkSerial:
		if c.Link.Port == "" {
			return errors.New("link.port is required when link.mode is serial")
		}
	default:
		return fmt.Errorf("link.mode must be %q or %q, got %q", LinkSim, LinkSerial, c.Link.Mode)
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0, got %s", c.Auth.TokenTTL)
	}
	return nil
}
