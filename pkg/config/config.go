package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/taskplan/pkg/model"
)

const (
	xdgAppName = "taskplan"
	configFile = "config.yaml"

	BackendGoogle = "google"
	BackendICS    = "ics"

	StoreSQLite      = "sqlite"
	StoreTaskwarrior = "taskwarrior"
)

type Config struct {
	// Backend selects the calendar: "google" or "ics".
	Backend string `yaml:"backend"`
	// Calendar is the Google calendar tasks are written to.
	Calendar string `yaml:"calendar"`
	// BusyCalendars are additional Google calendars whose events block time.
	BusyCalendars []string `yaml:"busy_calendars"`
	ICSPath       string   `yaml:"ics_path"`

	// Store selects the task store: "sqlite" or "taskwarrior".
	Store     string `yaml:"store"`
	DBPath    string `yaml:"db_path"`
	IndexPath string `yaml:"index_path"`

	Preferences model.Preference `yaml:"preferences"`

	PullMonths          int           `yaml:"pull_months"`
	ScheduleHorizonDays int           `yaml:"schedule_horizon_days"`
	AccessTimeout       time.Duration `yaml:"access_timeout"`

	// SyncCron drives `taskplan watch`.
	SyncCron string `yaml:"sync_cron"`
	LogLevel string `yaml:"log_level"`
}

// Dir is the directory holding the config file, credentials and state.
func Dir() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// DefaultConfig returns the configuration used when no file exists, with
// state files under dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Backend:             BackendGoogle,
		Calendar:            "Tasks",
		ICSPath:             filepath.Join(dir, "tasks.ics"),
		Store:               StoreSQLite,
		DBPath:              filepath.Join(dir, "tasks.db"),
		IndexPath:           filepath.Join(dir, "entries.json"),
		Preferences:         model.DefaultPreference(),
		PullMonths:          3,
		ScheduleHorizonDays: 14,
		AccessTimeout:       30 * time.Second,
		SyncCron:            "*/15 * * * *",
		LogLevel:            "info",
	}
}

// Normalize fills zero values from DefaultConfig(dir) and lowercases the
// selector fields.
func (c *Config) Normalize(dir string) {
	def := DefaultConfig(dir)

	c.Backend = strings.ToLower(c.Backend)
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	c.Store = strings.ToLower(c.Store)
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.Calendar == "" {
		c.Calendar = def.Calendar
	}
	if c.ICSPath == "" {
		c.ICSPath = def.ICSPath
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.IndexPath == "" {
		c.IndexPath = def.IndexPath
	}
	if c.Preferences.WorkEndHour <= c.Preferences.WorkStartHour {
		c.Preferences = def.Preferences
	}
	if c.PullMonths <= 0 {
		c.PullMonths = def.PullMonths
	}
	if c.ScheduleHorizonDays <= 0 {
		c.ScheduleHorizonDays = def.ScheduleHorizonDays
	}
	if c.AccessTimeout <= 0 {
		c.AccessTimeout = def.AccessTimeout
	}
	if c.SyncCron == "" {
		c.SyncCron = def.SyncCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate rejects selector values no component implements.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle, BackendICS:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendGoogle, BackendICS)
	}
	switch c.Store {
	case StoreSQLite, StoreTaskwarrior:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSQLite, StoreTaskwarrior)
	}
	p := c.Preferences
	if p.WorkStartHour < 0 || p.WorkEndHour > 24 {
		return fmt.Errorf("work hours %d-%d out of range", p.WorkStartHour, p.WorkEndHour)
	}
	return nil
}

// Load reads the YAML file at path. A missing file yields the defaults
// without creating it.
func Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(dir), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Normalize(dir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	dir := filepath.Dir(path)
	cfg.Normalize(dir)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskplan-config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
