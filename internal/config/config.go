package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"family-planner/internal/model"
	"family-planner/internal/schedule"
)

// Config keeps runtime settings for the planner.
type Config struct {
	App struct {
		Env  string `mapstructure:"env"`
		Name string `mapstructure:"name"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Telegram struct {
		Token          string        `mapstructure:"token"`
		ReportInterval time.Duration `mapstructure:"report_interval"`
		// ReportAt is the HH:MM of the morning agenda; empty disables it.
		ReportAt string `mapstructure:"report_at"`
	} `mapstructure:"telegram"`
	HTTP struct {
		Addr      string  `mapstructure:"addr"`
		RateLimit float64 `mapstructure:"rate_limit"`
		Burst     int     `mapstructure:"burst"`
	} `mapstructure:"http"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Calendar struct {
		CacheDir     string        `mapstructure:"cache_dir"`
		FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	} `mapstructure:"calendar"`
	Holidays struct {
		File string `mapstructure:"file"`
	} `mapstructure:"holidays"`
	Planner struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"planner"`
	Schedule struct {
		Timezone       string        `mapstructure:"timezone"`
		WindowStart    string        `mapstructure:"window_start"`
		WindowEnd      string        `mapstructure:"window_end"`
		FixedTolerance time.Duration `mapstructure:"fixed_tolerance"`
	} `mapstructure:"schedule"`
	Plans struct {
		ExpirySweep         string `mapstructure:"expiry_sweep"`
		Generate            string `mapstructure:"generate"`
		RetrySweep          string `mapstructure:"retry_sweep"`
		EditResetsApprovals bool   `mapstructure:"edit_resets_approvals"`
	} `mapstructure:"plans"`
	Mirror struct {
		MaxRetries uint64 `mapstructure:"max_retries"`
	} `mapstructure:"mirror"`

	location *time.Location
	window   schedule.Window
}

// Location is the default zone for users without their own.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Window is the default personal window.
func (c Config) Window() schedule.Window {
	if c.window.Latest == 0 {
		return schedule.DefaultWindow
	}
	return c.window
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.name", "family-planner")
	v.SetDefault("database.dsn", "family_planner.db")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.report_interval", 5*time.Hour)
	v.SetDefault("telegram.report_at", "07:30")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.burst", 40)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("calendar.cache_dir", "cache/ics")
	v.SetDefault("calendar.fetch_timeout", 15*time.Second)
	v.SetDefault("holidays.file", "")
	v.SetDefault("planner.url", "")
	v.SetDefault("planner.timeout", 30*time.Second)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.window_start", "06:00")
	v.SetDefault("schedule.window_end", "22:00")
	v.SetDefault("schedule.fixed_tolerance", schedule.DefaultTolerance)
	v.SetDefault("plans.expiry_sweep", "@every 1h")
	v.SetDefault("plans.generate", "0 18 * * 0")
	v.SetDefault("plans.retry_sweep", "@every 15m")
	v.SetDefault("plans.edit_resets_approvals", true)
	v.SetDefault("mirror.max_retries", 3)
}

// Load reads path (optional, YAML) and FAMILYPLANNER_* environment
// variables on top of the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FAMILYPLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	c.location = loc

	start, err := model.ParseClock(c.Schedule.WindowStart)
	if err != nil {
		return fmt.Errorf("schedule.window_start: %w", err)
	}
	end, err := model.ParseClock(c.Schedule.WindowEnd)
	if err != nil {
		return fmt.Errorf("schedule.window_end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("schedule window %s-%s is empty", start, end)
	}
	c.window = schedule.Window{Earliest: start, Latest: end}

	if c.Schedule.FixedTolerance <= 0 {
		c.Schedule.FixedTolerance = schedule.DefaultTolerance
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.Burst <= 0 {
		return fmt.Errorf("http.rate_limit and http.burst must be positive")
	}
	if c.Telegram.ReportInterval <= 0 {
		c.Telegram.ReportInterval = 5 * time.Hour
	}
	return nil
}
