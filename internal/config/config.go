// Package config loads the service configuration from an optional TOML file,
// optional dotenv files and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/catalogd/internal/auth"
	"github.com/loykin/catalogd/internal/env"
	"github.com/loykin/catalogd/internal/logger"
	"github.com/loykin/catalogd/internal/scheduler"
	"github.com/loykin/catalogd/internal/store"
	tlsutil "github.com/loykin/catalogd/internal/tls"
)

const (
	AppName    = "B2B Fashion Extractor"
	AppVersion = "2.0.0"
	EnvPrefix  = "CATALOGD"
)

type Config struct {
	EnvFiles []string       `mapstructure:"env_files"`
	Server   ServerConfig   `mapstructure:"server"`
	Site     SiteConfig     `mapstructure:"site"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Store    StoreConfig    `mapstructure:"store"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Log      logger.Config  `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	History  HistoryConfig  `mapstructure:"history"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"` // host:port; overrides port when set
	Port     int    `mapstructure:"port"`
	BasePath string `mapstructure:"base_path"`

	TLS  tlsutil.Config `mapstructure:"tls"`
	Auth auth.Config    `mapstructure:"auth"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	if s.Listen != "" {
		return s.Listen
	}
	return fmt.Sprintf(":%d", s.Port)
}

type SiteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	LoginPath   string `mapstructure:"login_path"`
	CatalogPath string `mapstructure:"catalog_path"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// LoginURL resolves the login path against the base URL.
func (s SiteConfig) LoginURL() string { return s.resolve(s.LoginPath) }

// CatalogURL resolves the catalog path against the base URL.
func (s SiteConfig) CatalogURL() string { return s.resolve(s.CatalogPath) }

func (s SiteConfig) resolve(p string) string {
	base, err := url.Parse(s.BaseURL)
	if err != nil || p == "" {
		return s.BaseURL
	}
	ref, err := url.Parse(p)
	if err != nil {
		return s.BaseURL
	}
	return base.ResolveReference(ref).String()
}

type BrowserConfig struct {
	Headless            bool          `mapstructure:"headless"`
	Bin                 string        `mapstructure:"bin"`
	NoSandbox           bool          `mapstructure:"no_sandbox"`
	UserAgent           string        `mapstructure:"user_agent"`
	ViewportWidth       int           `mapstructure:"viewport_width"`
	ViewportHeight      int           `mapstructure:"viewport_height"`
	BlockedResources    []string      `mapstructure:"blocked_resources"`
	MaxSessions         int           `mapstructure:"max_sessions"`
	LaunchRetries       int           `mapstructure:"launch_retries"`
	LaunchRetryInterval time.Duration `mapstructure:"launch_retry_interval"`
	LivenessInterval    time.Duration `mapstructure:"liveness_interval"`
	CloseTimeout        time.Duration `mapstructure:"close_timeout"`
}

type ExtractConfig struct {
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	StepRetries int           `mapstructure:"step_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Concurrency int           `mapstructure:"concurrency"`
	RecentRuns  int           `mapstructure:"recent_runs"`
}

type StoreConfig struct {
	MergePolicy string `mapstructure:"merge_policy"`
	DSN         string `mapstructure:"dsn"` // empty keeps products in memory only
}

type ScheduleConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ExtractCron string        `mapstructure:"extract_cron"`
	HealthCron  string        `mapstructure:"health_cron"`
	Timezone    string        `mapstructure:"timezone"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type ShutdownConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`       // whole sequence; forced exit after
	DrainTimeout time.Duration `mapstructure:"drain_timeout"` // waiting for in-flight runs
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	DSNs        []string      `mapstructure:"dsns"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:     3000,
			BasePath: "/api",
			Auth:     auth.Config{TokenTTL: time.Hour},
		},
		Site: SiteConfig{
			BaseURL:     "https://b2bfashion.online",
			LoginPath:   "/login",
			CatalogPath: "/catalog",
		},
		Browser: BrowserConfig{
			Headless:            true,
			NoSandbox:           true,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			BlockedResources:    []string{"stylesheet", "font", "media"},
			MaxSessions:         1,
			LaunchRetries:       3,
			LaunchRetryInterval: 2 * time.Second,
			LivenessInterval:    5 * time.Second,
			CloseTimeout:        5 * time.Second,
		},
		Extract: ExtractConfig{
			StepTimeout: 30 * time.Second,
			WaitTimeout: 10 * time.Second,
			StepRetries: 2,
			RetryDelay:  2 * time.Second,
			Concurrency: 1,
			RecentRuns:  50,
		},
		Store: StoreConfig{MergePolicy: string(store.PolicyReplace)},
		Schedule: ScheduleConfig{
			Enabled:     true,
			ExtractCron: "0 2 * * *",
			HealthCron:  "*/5 * * * *",
			StopTimeout: 5 * time.Second,
		},
		Shutdown: ShutdownConfig{Timeout: 10 * time.Second, DrainTimeout: 5 * time.Second},
		Log: logger.Config{
			Level:      "info",
			Format:     "text",
			Color:      true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Metrics: MetricsConfig{Enabled: true},
		History: HistoryConfig{SendTimeout: 5 * time.Second},
	}
}

// envAliases are the variable names kept from earlier deployments. They take
// precedence over the prefixed names.
var envAliases = map[string]string{
	"site.username":    "B2B_USERNAME",
	"site.password":    "B2B_PASSWORD",
	"server.port":      "PORT",
	"browser.headless": "HEADLESS_MODE",
}

// Load reads path (optional), applies dotenv files listed under env_files
// and the environment, then validates. Precedence from highest: process
// environment, dotenv files, config file, defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, alias, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return Config{}, err
		}
	}

	vars := env.New()
	for _, f := range v.GetStringSlice("env_files") {
		pairs, err := loadEnvFile(f)
		if err != nil {
			return Config{}, fmt.Errorf("env file %s: %w", f, err)
		}
		applyDotenv(v, pairs)
		for k, val := range pairs {
			vars.Set(k, val)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.expand(vars)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// expand resolves ${VAR} in the values that usually carry secrets.
func (c *Config) expand(e *env.Env) {
	c.Store.DSN = e.Expand(c.Store.DSN)
	c.History.DSNs = append([]string(nil), c.History.DSNs...)
	e.ExpandAll(c.History.DSNs)
	c.Site.Username = e.Expand(c.Site.Username)
	c.Site.Password = e.Expand(c.Site.Password)
	c.Server.Auth.JWTSecret = e.Expand(c.Server.Auth.JWTSecret)
}

// applyDotenv sets keys whose variables are absent from the process
// environment.
func applyDotenv(v *viper.Viper, pairs map[string]string) {
	for _, key := range v.AllKeys() {
		names := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := envAliases[key]; ok {
			names = append([]string{alias}, names...)
		}
		for _, n := range names {
			if _, inEnv := os.LookupEnv(n); inEnv {
				break
			}
			if val, ok := pairs[n]; ok {
				v.Set(key, val)
				break
			}
		}
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("env_files", []string{})
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.dir", d.Server.TLS.Dir)
	v.SetDefault("server.tls.auto_generate", d.Server.TLS.AutoGenerate)
	v.SetDefault("server.tls.min_version", d.Server.TLS.MinVersion)
	v.SetDefault("server.auth.enabled", d.Server.Auth.Enabled)
	v.SetDefault("server.auth.jwt_secret", d.Server.Auth.JWTSecret)
	v.SetDefault("server.auth.token_ttl", d.Server.Auth.TokenTTL)
	v.SetDefault("site.base_url", d.Site.BaseURL)
	v.SetDefault("site.login_path", d.Site.LoginPath)
	v.SetDefault("site.catalog_path", d.Site.CatalogPath)
	v.SetDefault("site.username", d.Site.Username)
	v.SetDefault("site.password", d.Site.Password)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.no_sandbox", d.Browser.NoSandbox)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.blocked_resources", d.Browser.BlockedResources)
	v.SetDefault("browser.max_sessions", d.Browser.MaxSessions)
	v.SetDefault("browser.launch_retries", d.Browser.LaunchRetries)
	v.SetDefault("browser.launch_retry_interval", d.Browser.LaunchRetryInterval)
	v.SetDefault("browser.liveness_interval", d.Browser.LivenessInterval)
	v.SetDefault("browser.close_timeout", d.Browser.CloseTimeout)
	v.SetDefault("extract.step_timeout", d.Extract.StepTimeout)
	v.SetDefault("extract.wait_timeout", d.Extract.WaitTimeout)
	v.SetDefault("extract.step_retries", d.Extract.StepRetries)
	v.SetDefault("extract.retry_delay", d.Extract.RetryDelay)
	v.SetDefault("extract.concurrency", d.Extract.Concurrency)
	v.SetDefault("extract.recent_runs", d.Extract.RecentRuns)
	v.SetDefault("store.merge_policy", d.Store.MergePolicy)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("schedule.enabled", d.Schedule.Enabled)
	v.SetDefault("schedule.extract_cron", d.Schedule.ExtractCron)
	v.SetDefault("schedule.health_cron", d.Schedule.HealthCron)
	v.SetDefault("schedule.timezone", d.Schedule.Timezone)
	v.SetDefault("schedule.stop_timeout", d.Schedule.StopTimeout)
	v.SetDefault("shutdown.timeout", d.Shutdown.Timeout)
	v.SetDefault("shutdown.drain_timeout", d.Shutdown.DrainTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("history.dsns", d.History.DSNs)
	v.SetDefault("history.send_timeout", d.History.SendTimeout)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		add("site.base_url %q is not an absolute URL", c.Site.BaseURL)
	}
	if _, err := store.ParsePolicy(c.Store.MergePolicy); err != nil {
		add("store.merge_policy: %v", err)
	}
	if c.Server.Listen == "" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		add("server.base_path %q must start with /", c.Server.BasePath)
	}
	if err := c.Server.TLS.Validate(); err != nil {
		add("server.tls: %v", err)
	}
	if err := c.Server.Auth.Validate(); err != nil {
		add("server.auth: %v", err)
	}
	for name, d := range map[string]time.Duration{
		"extract.step_timeout":   c.Extract.StepTimeout,
		"extract.wait_timeout":   c.Extract.WaitTimeout,
		"shutdown.timeout":       c.Shutdown.Timeout,
		"shutdown.drain_timeout": c.Shutdown.DrainTimeout,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}
	if c.Extract.StepRetries < 0 {
		add("extract.step_retries must not be negative")
	}
	if c.Extract.Concurrency < 1 {
		add("extract.concurrency must be at least 1")
	}
	if c.Browser.MaxSessions < c.Extract.Concurrency {
		add("browser.max_sessions (%d) must be at least extract.concurrency (%d)", c.Browser.MaxSessions, c.Extract.Concurrency)
	}
	if c.Schedule.Enabled {
		if err := scheduler.ValidateSchedule(c.Schedule.ExtractCron); err != nil {
			add("schedule.extract_cron: %v", err)
		}
		if err := scheduler.ValidateSchedule(c.Schedule.HealthCron); err != nil {
			add("schedule.health_cron: %v", err)
		}
		if _, err := scheduler.LoadLocation(c.Schedule.Timezone); err != nil {
			add("schedule.timezone: %v", err)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	return errors.Join(errs...)
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export).
// Lines starting with # are ignored and surrounding quotes are stripped.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
				v = v[1 : len(v)-1]
			}
			m[k] = v
		}
	}
	return m, nil
}
