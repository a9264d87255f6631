// Package config loads atlas runtime configuration.
//
// Values come, lowest precedence first, from built-in defaults, the config
// file (atlas.yaml in the home directory unless another file is given),
// ATLAS_* environment variables and whatever flags the caller bound to the
// viper instance. Nested keys map to environment variables with underscores:
// watch.debounce is ATLAS_WATCH_DEBOUNCE.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"atlas/internal/home"
	"atlas/internal/logging"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ATLAS"

// StylesConfig lists style directories. User directories are loaded after
// bundled ones, so a user style replaces a bundled style of the same name.
type StylesConfig struct {
	Bundled []string `mapstructure:"bundled"`
	User    []string `mapstructure:"user"`
}

// WatchConfig controls filesystem change notification.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Config holds all runtime configuration.
type Config struct {
	Roots        []string      `mapstructure:"roots"`
	Patterns     []string      `mapstructure:"patterns"`
	Sniff        bool          `mapstructure:"sniff"`
	Verify       bool          `mapstructure:"verify"`
	Concurrency  int           `mapstructure:"concurrency"`
	Styles       StylesConfig  `mapstructure:"styles"`
	Watch        WatchConfig   `mapstructure:"watch"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PollCron schedules polling with a six-field cron expression instead
	// of a fixed interval.
	PollCron string `mapstructure:"poll_cron"`
	LogLevel     string        `mapstructure:"log_level"`
	Mode         string        `mapstructure:"mode"`

	// File is the config file that was read, empty when none was.
	File string `mapstructure:"-"`
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper, h home.Dir) {
	v.SetDefault("roots", []string{h.MapsDir()})
	v.SetDefault("patterns", []string{"**/*.map"})
	v.SetDefault("sniff", false)
	v.SetDefault("verify", false)
	v.SetDefault("concurrency", 0)
	v.SetDefault("styles.bundled", []string{})
	v.SetDefault("styles.user", []string{h.StylesDir()})
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 250*time.Millisecond)
	v.SetDefault("poll_interval", time.Duration(0))
	v.SetDefault("poll_cron", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("mode", "free")
}

// Load reads configuration into a Config. When file is empty the home
// directory's atlas.yaml is used if it exists; an explicit file must exist.
func Load(v *viper.Viper, h home.Dir, file string) (Config, error) {
	SetDefaults(v, h)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	read := file
	if read == "" {
		if _, err := os.Stat(h.ConfigPath()); err == nil {
			read = h.ConfigPath()
		}
	}
	if read != "" {
		v.SetConfigFile(read)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", read, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = read
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that decode fine but cannot be used.
func (c Config) Validate() error {
	var errs []error
	if len(c.Patterns) == 0 && !c.Sniff {
		errs = append(errs, errors.New("patterns: empty and sniff disabled, nothing would be found"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency: %d is negative", c.Concurrency))
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll_interval: %s is negative", c.PollInterval))
	}
	if c.PollInterval > 0 && c.PollCron != "" {
		errs = append(errs, errors.New("poll_interval and poll_cron are mutually exclusive"))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: %s is negative", c.Watch.Debounce))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StyleDirs returns the style directories in load order.
func (c Config) StyleDirs() []string {
	dirs := make([]string, 0, len(c.Styles.Bundled)+len(c.Styles.User))
	dirs = append(dirs, c.Styles.Bundled...)
	return append(dirs, c.Styles.User...)
}

// LoadEnvFiles loads dotenv files into the process environment. Variables
// that are already set win. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
