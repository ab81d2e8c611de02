package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "ENVLOCK"
	FileName  = "config"
	FileType  = "yaml"
)

// Config holds the settings that influence how channels are
// located and how resolution behaves.
type Config struct {
	// ChannelAlias is prepended to bare channel names
	// (e.g. conda-forge).
	ChannelAlias string `mapstructure:"channel_alias"`
	// DefaultChannels replace the "defaults" channel.
	DefaultChannels []string `mapstructure:"default_channels"`
	// ImplicitDefaults appends DefaultChannels when the
	// manifest doesn't opt out with "nodefaults".
	ImplicitDefaults bool          `mapstructure:"implicit_defaults"`
	CacheDir         string        `mapstructure:"cache_dir"`
	RepodataTTL      time.Duration `mapstructure:"repodata_ttl"`
	PyPIURL          string        `mapstructure:"pypi_url"`
	Concurrency      int           `mapstructure:"concurrency"`
	MaxSolveSteps    int           `mapstructure:"max_solve_steps"`
	// Selectors controls whether "# [linux]" style comments
	// restrict dependencies to matching platforms.
	Selectors bool `mapstructure:"selectors"`
	// VirtualPackages overrides the virtual packages assumed
	// for each platform, e.g. linux-64: {__cuda: "12.1"}.
	VirtualPackages map[string]map[string]string `mapstructure:"virtual_packages"`
}

func Default() Config {
	return Config{
		ChannelAlias: "https://conda.anaconda.org",
		DefaultChannels: []string{
			"https://repo.anaconda.com/pkgs/main",
			"https://repo.anaconda.com/pkgs/r",
		},
		ImplicitDefaults: true,
		CacheDir:         defaultCacheDir(),
		RepodataTTL:      time.Hour,
		PyPIURL:          "https://pypi.org",
		Concurrency:      4,
		MaxSolveSteps:    250_000,
		Selectors:        true,
		VirtualPackages:  map[string]map[string]string{},
	}
}

func defaultCacheDir() string {
	d, err := os.UserCacheDir()
	if err != nil {
		d = os.TempDir()
	}
	return filepath.Join(d, "envlock")
}

// Dir returns the directory that holds the configuration file.
func Dir() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "envlock"), nil
}

// Load reads the configuration. If path is empty, the user
// configuration directory and then the working directory are
// searched; a missing file is not an error. Values may be
// overridden by ENVLOCK_* environment variables.
func Load(ctx context.Context, path string) (*Config, error) {
	log := logr.FromContextOrDiscard(ctx)

	v := viper.New()
	defaults := Default()
	v.SetDefault("channel_alias", defaults.ChannelAlias)
	v.SetDefault("default_channels", defaults.DefaultChannels)
	v.SetDefault("implicit_defaults", defaults.ImplicitDefaults)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("repodata_ttl", defaults.RepodataTTL)
	v.SetDefault("pypi_url", defaults.PyPIURL)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("max_solve_steps", defaults.MaxSolveSteps)
	v.SetDefault("selectors", defaults.Selectors)
	v.SetDefault("virtual_packages", defaults.VirtualPackages)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType(FileType)
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			log.Error(err, "failed to read configuration", "path", path)
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
		log.V(2).Info("no configuration file found, using defaults")
	} else {
		log.V(1).Info("loaded configuration", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxSolveSteps < 1 {
		return fmt.Errorf("max_solve_steps must be at least 1, got %d", c.MaxSolveSteps)
	}
	if c.ChannelAlias == "" {
		return errors.New("channel_alias must not be empty")
	}
	if c.RepodataTTL < 0 {
		return fmt.Errorf("repodata_ttl must not be negative, got %s", c.RepodataTTL)
	}
	return nil
}

type contextKey struct{}

// NewContext stores the configuration in the context.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext returns the configuration stored in the context
// or the defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(contextKey{}).(*Config); ok && cfg != nil {
		return cfg
	}
	cfg := Default()
	return &cfg
}
