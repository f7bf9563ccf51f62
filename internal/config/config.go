package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// CohortConfig describes one cohort: its calendar feed, where its
// notifications go and which member roles belong to it.
type CohortConfig struct {
	// Name identifies the cohort in logs, commands and the API.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ChannelID overrides Discord.ChannelID for this cohort's broadcasts.
	ChannelID string `yaml:"channel_id,omitempty" json:"channel_id,omitempty"`
	// Mentions are prepended to reminders and broadcast digests, e.g. "<@&123>".
	Mentions []string `yaml:"mentions" json:"mentions"`
	// Roles are the member role names resolving to this cohort.
	Roles []string `yaml:"roles" json:"roles"`
}

// DiscordConfig holds the messaging transport settings.
type DiscordConfig struct {
	Token     string `yaml:"token" json:"-"`
	ChannelID string `yaml:"channel_id" json:"channel_id"`
	// Status is shown as the bot's "watching" activity.
	Status string `yaml:"status" json:"status"`
	// Prefix starts every text command, "!" by default.
	Prefix string `yaml:"prefix" json:"prefix"`
}

// SchedulesConfig holds cron specs, evaluated in Timezone.
type SchedulesConfig struct {
	Digest      string `yaml:"digest" json:"digest"`
	Refresh     string `yaml:"refresh" json:"refresh"`
	WeeklyReset string `yaml:"weekly_reset" json:"weekly_reset"`
	LedgerClear string `yaml:"ledger_clear" json:"ledger_clear"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all civil times are computed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// LeadTime is how long before an event its reminder fires ("20m").
	LeadTime string `yaml:"lead_time" json:"lead_time"`
	// Tick is the reminder scan interval ("30s").
	Tick string `yaml:"tick" json:"tick"`
	// FetchTimeout bounds a single calendar download ("15s").
	FetchTimeout string `yaml:"fetch_timeout" json:"fetch_timeout"`

	// HorizonDays is how far ahead recurring events are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// ShowAllDay keeps date-only events in the cache.
	ShowAllDay bool `yaml:"show_all_day" json:"show_all_day"`

	Schedules SchedulesConfig `yaml:"schedules" json:"schedules"`
	Discord   DiscordConfig   `yaml:"discord" json:"discord"`
	Cohorts   []CohortConfig  `yaml:"cohorts" json:"cohorts"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Europe/Paris",
		LogLevel:     "info",
		LeadTime:     "20m",
		Tick:         "30s",
		FetchTimeout: "15s",
		HorizonDays:  120,
		ShowAllDay:   true,
		Schedules: SchedulesConfig{
			Digest:      "0 19 * * *",
			Refresh:     "0 */2 * * *",
			WeeklyReset: "0 8 * * 1",
			LedgerClear: "30 3 * * *",
		},
		Discord: DiscordConfig{
			Status: "your classes",
			Prefix: "!",
		},
		Cohorts: []CohortConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LeadTime == "" {
		c.LeadTime = def.LeadTime
	}
	if c.Tick == "" {
		c.Tick = def.Tick
	}
	if c.FetchTimeout == "" {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.Schedules.Digest == "" {
		c.Schedules.Digest = def.Schedules.Digest
	}
	if c.Schedules.Refresh == "" {
		c.Schedules.Refresh = def.Schedules.Refresh
	}
	if c.Schedules.WeeklyReset == "" {
		c.Schedules.WeeklyReset = def.Schedules.WeeklyReset
	}
	if c.Schedules.LedgerClear == "" {
		c.Schedules.LedgerClear = def.Schedules.LedgerClear
	}
	if c.Discord.Status == "" {
		c.Discord.Status = def.Discord.Status
	}
	if c.Discord.Prefix == "" {
		c.Discord.Prefix = def.Discord.Prefix
	}
	if c.Cohorts == nil {
		c.Cohorts = []CohortConfig{}
	}
	for i := range c.Cohorts {
		c.Cohorts[i].Name = strings.TrimSpace(c.Cohorts[i].Name)
	}
}

// ApplyEnv overrides secrets and deployment values from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("CHANNEL_ID"); v != "" {
		c.Discord.ChannelID = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate reports configuration errors that would make the bot misbehave.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if d, err := c.LeadDuration(); err != nil {
		errs = append(errs, err)
	} else if d < time.Minute {
		errs = append(errs, fmt.Errorf("lead_time %q must be at least one minute", c.LeadTime))
	}
	if d, err := c.TickDuration(); err != nil {
		errs = append(errs, err)
	} else if d <= 0 || d > time.Minute {
		errs = append(errs, fmt.Errorf("tick %q must be within (0, 1m] or reminders get missed", c.Tick))
	}
	if _, err := c.FetchTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Cohorts))
	for i, co := range c.Cohorts {
		switch {
		case co.Name == "":
			errs = append(errs, fmt.Errorf("cohorts[%d]: name is empty", i))
		case seen[co.Name]:
			errs = append(errs, fmt.Errorf("cohorts[%d]: duplicate name %q", i, co.Name))
		}
		seen[co.Name] = true
		if co.URL == "" {
			errs = append(errs, fmt.Errorf("cohorts[%d]: url is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) LeadDuration() (time.Duration, error) {
	return parseDuration("lead_time", c.LeadTime)
}

func (c *Config) TickDuration() (time.Duration, error) {
	return parseDuration("tick", c.Tick)
}

func (c *Config) FetchTimeoutDuration() (time.Duration, error) {
	return parseDuration("fetch_timeout", c.FetchTimeout)
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := str2duration.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, v, err)
	}
	return d, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read over the defaults, normalized and
//     overridden from the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	// Keys missing from the file keep their default, booleans included.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".coursebot-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
