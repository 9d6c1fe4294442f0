// Package config loads runtime settings from an optional YAML file with
// environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

var ErrMissingDatabaseURL = errors.New("config: database url is required")

type Config struct {
	HTTPAddr    string   `yaml:"http_addr"`
	DatabaseURL string   `yaml:"database_url"`
	MaxDBConns  int      `yaml:"max_db_conns"`
	TimeZone    string   `yaml:"time_zone"`
	CORSOrigins []string `yaml:"cors_origins"`

	JWTSecret     string `yaml:"jwt_secret"`
	TelegramToken string `yaml:"telegram_token"`

	Redis    Redis    `yaml:"redis"`
	S3       S3       `yaml:"s3"`
	Matching Matching `yaml:"matching"`
	Volume   Volume   `yaml:"volume"`
	Sweeper  Sweeper  `yaml:"sweeper"`
	Notify   Notify   `yaml:"notify"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type S3 struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	Prefix        string `yaml:"prefix"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Matching holds branch distance limits in kilometres.
type Matching struct {
	MaxDistanceKM    float64 `yaml:"max_distance_km"`
	NearbyDistanceKM float64 `yaml:"nearby_distance_km"`
}

// Volume is the accepted donation volume band in percent.
type Volume struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

type Sweeper struct {
	Interval        time.Duration `yaml:"interval"`
	ReminderHorizon time.Duration `yaml:"reminder_horizon"`
	DedupeReminders bool          `yaml:"dedupe_reminders"`
}

type Notify struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		MaxDBConns:  16,
		TimeZone:    "Asia/Ho_Chi_Minh",
		CORSOrigins: []string{"http://localhost:5173"},
		Matching: Matching{
			MaxDistanceKM:    30,
			NearbyDistanceKM: 10,
		},
		Volume: Volume{Min: 1, Max: 100},
		Sweeper: Sweeper{
			Interval:        10 * time.Minute,
			ReminderHorizon: 24 * time.Hour,
			DedupeReminders: true,
		},
		Notify: Notify{RatePerSecond: 20, Burst: 40},
		S3:     S3{Region: "us-east-1", Prefix: "requests"},
	}
}

// Load starts from Default, merges the YAML file at path when path is not
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)
	c.DatabaseURL = getenvDefault("DATABASE_URL", c.DatabaseURL)
	c.MaxDBConns = getenvIntDefault("MAX_DB_CONNS", c.MaxDBConns)
	c.TimeZone = getenvDefault("TIME_ZONE", c.TimeZone)
	c.JWTSecret = getenvDefault("JWT_SECRET", c.JWTSecret)
	c.TelegramToken = getenvDefault("TELEGRAM_TOKEN", c.TelegramToken)

	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvIntDefault("REDIS_DB", c.Redis.DB)

	c.S3.Bucket = getenvDefault("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = getenvDefault("S3_REGION", c.S3.Region)
	c.S3.Endpoint = getenvDefault("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Prefix = getenvDefault("S3_PREFIX", c.S3.Prefix)
	c.S3.PublicBaseURL = getenvDefault("S3_PUBLIC_BASE_URL", c.S3.PublicBaseURL)

	var err error
	if c.Matching.MaxDistanceKM, err = getenvFloatDefault("MATCHING_MAX_DISTANCE_KM", c.Matching.MaxDistanceKM); err != nil {
		return err
	}
	if c.Matching.NearbyDistanceKM, err = getenvFloatDefault("MATCHING_NEARBY_DISTANCE_KM", c.Matching.NearbyDistanceKM); err != nil {
		return err
	}
	if c.Sweeper.Interval, err = getenvDurationDefault("SWEEPER_INTERVAL", c.Sweeper.Interval); err != nil {
		return err
	}
	if c.Sweeper.ReminderHorizon, err = getenvDurationDefault("SWEEPER_REMINDER_HORIZON", c.Sweeper.ReminderHorizon); err != nil {
		return err
	}
	c.Volume.Min = int64(getenvIntDefault("VOLUME_MIN", int(c.Volume.Min)))
	c.Volume.Max = int64(getenvIntDefault("VOLUME_MAX", int(c.Volume.Max)))
	c.Notify.Burst = getenvIntDefault("NOTIFY_BURST", c.Notify.Burst)
	if c.Notify.RatePerSecond, err = getenvFloatDefault("NOTIFY_RATE_PER_SECOND", c.Notify.RatePerSecond); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.Matching.MaxDistanceKM <= 0 {
		return fmt.Errorf("config: matching.max_distance_km must be positive, got %v", c.Matching.MaxDistanceKM)
	}
	if c.Volume.Min < 0 || c.Volume.Max < c.Volume.Min {
		return fmt.Errorf("config: volume band [%d, %d] is invalid", c.Volume.Min, c.Volume.Max)
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("config: sweeper.interval must be positive, got %s", c.Sweeper.Interval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone. Schedule windows are wall-clock values in this
// zone.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Clock returns a now func in the configured zone.
func (c Config) Clock() (func() time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return func() time.Time { return time.Now().In(loc) }, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloatDefault(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getenvDurationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
