package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fleet-fuel-monitor/internal/models"
)

// Telemetry source kinds
const (
	SourceLocal     = "local"
	SourceGPSAPI    = "gpsapi"
	SourceTimescale = "timescale"
)

// Config is the application configuration
type Config struct {
	DB          DBConfig          `mapstructure:"db"`
	Server      ServerConfig      `mapstructure:"server"`
	Report      ReportConfig      `mapstructure:"report"`
	Consumption ConsumptionConfig `mapstructure:"consumption"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	GPSAPI      GPSAPIConfig      `mapstructure:"gpsapi"`
	Timescale   TimescaleConfig   `mapstructure:"timescale"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

// DBConfig locates the SQLite database
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the REST API
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ReportConfig configures daily reports
type ReportConfig struct {
	Timezone    string `mapstructure:"timezone"`
	Concurrency int    `mapstructure:"concurrency"`
}

// ConsumptionConfig holds the classification policy and fuel price
type ConsumptionConfig struct {
	GreenBelow float64 `mapstructure:"green_below"`
	RedAbove   float64 `mapstructure:"red_above"`
	FuelPrice  float64 `mapstructure:"fuel_price"`
}

// TelemetryConfig selects where breadcrumb history comes from
type TelemetryConfig struct {
	Source string `mapstructure:"source"`
}

// GPSAPIConfig configures the hosted tracking API
type GPSAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TimescaleConfig configures the telemetry hypertable connection. Tank
// capacities convert the stored fuel percentage to liters.
type TimescaleConfig struct {
	DSN                 string             `mapstructure:"dsn"`
	TankLiters          float64            `mapstructure:"tank_liters"`
	TankLitersByVehicle map[string]float64 `mapstructure:"tank_liters_by_vehicle"`
}

// RedisConfig configures alert publishing
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads fleet.yaml (or configFile when set), a .env file and FLEET_*
// environment variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fleet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fleet-fuel-monitor")
	}

	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "fleet_fuel.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("report.timezone", "UTC")
	v.SetDefault("report.concurrency", 4)
	v.SetDefault("consumption.green_below", 0.25)
	v.SetDefault("consumption.red_above", 0.40)
	v.SetDefault("consumption.fuel_price", 0)
	v.SetDefault("telemetry.source", SourceLocal)
	v.SetDefault("gpsapi.base_url", "")
	v.SetDefault("gpsapi.api_key", "")
	v.SetDefault("gpsapi.timeout", "15s")
	v.SetDefault("timescale.dsn", "")
	v.SetDefault("timescale.tank_liters", 0)
	v.SetDefault("redis.url", "")
}

// Validate checks values that would otherwise fail later
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Consumption.GreenBelow > c.Consumption.RedAbove {
		return fmt.Errorf("consumption.green_below (%v) is above consumption.red_above (%v)",
			c.Consumption.GreenBelow, c.Consumption.RedAbove)
	}
	switch c.Telemetry.Source {
	case SourceLocal:
	case SourceGPSAPI:
		if c.GPSAPI.BaseURL == "" {
			return fmt.Errorf("gpsapi.base_url is required for telemetry source %q", SourceGPSAPI)
		}
	case SourceTimescale:
		if c.Timescale.DSN == "" {
			return fmt.Errorf("timescale.dsn is required for telemetry source %q", SourceTimescale)
		}
		if c.Timescale.TankLiters < 0 {
			return fmt.Errorf("timescale.tank_liters cannot be negative")
		}
	default:
		return fmt.Errorf("unknown telemetry source %q", c.Telemetry.Source)
	}
	return nil
}

// Location is the report timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid report.timezone %q: %w", c.Report.Timezone, err)
	}
	return loc, nil
}

// Thresholds returns the consumption classification cutoffs
func (c *Config) Thresholds() models.Thresholds {
	return models.Thresholds{GreenBelow: c.Consumption.GreenBelow, RedAbove: c.Consumption.RedAbove}
}
