// Package config loads configuration for the hosts generator.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"hostsgen/pkg/manifest"
	"hostsgen/pkg/version"
)

const (
	defaultConfigPath = "/etc/hostsgen/hostsgen.conf"
	configEnvVar      = "HOSTSGEN_CONFIG"
	envPrefix         = "HOSTSGEN"

	// DefaultManifestURL is the upstream list of blocklists.
	DefaultManifestURL = "https://raw.githubusercontent.com/ShadySquirrel/adblock_host_generator/master/adblock_list_domains.txt"
)

// Config contains all runtime options of the generator.
type Config struct {
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Output    OutputConfig    `mapstructure:"output"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	History   HistoryConfig   `mapstructure:"history"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Watch     WatchConfig     `mapstructure:"watch"`

	Sources map[string]manifest.ListConfig `mapstructure:"-"`
	// Path is the config file that was read, empty when none was found.
	Path string `mapstructure:"-"`
}

// ManifestConfig locates the list of sources.
type ManifestConfig struct {
	Location   string  `mapstructure:"location"`
	MaxAgeDays float64 `mapstructure:"max_age_days"`
}

// CacheConfig holds source cache settings.
type CacheConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Dir        string  `mapstructure:"dir"`
	MaxAgeDays float64 `mapstructure:"max_age_days"`
}

// FetchConfig holds download settings.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"-"`
	UserAgent string        `mapstructure:"user_agent"`
	Workers   int           `mapstructure:"workers"`
}

// OutputConfig holds settings of the generated file.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	Sinkhole    string `mapstructure:"sinkhole"`
	Incremental bool   `mapstructure:"incremental"`
}

// WhitelistConfig holds whitelist settings.
type WhitelistConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Path    string   `mapstructure:"path"`
	Entries []string `mapstructure:"entries"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	ErrorLimit int    `mapstructure:"error_limit"`
}

// MetricsConfig holds metrics output settings.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// PublishConfig holds git publishing settings.
type PublishConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Repo    string `mapstructure:"repo"`
	Remote  string `mapstructure:"remote"`
	Branch  string `mapstructure:"branch"`
	Message string `mapstructure:"message"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Interval time.Duration `mapstructure:"-"`
}

// ValidateLogLevel ensures the user-provided log level matches the supported set.
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateSinkhole confirms that the sinkhole address is an IP literal.
func ValidateSinkhole(addr string) error {
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("invalid sinkhole address: %s", addr)
	}
	return nil
}

// Load reads the TOML configuration into v and produces a Config. The file is
// taken from explicitPath, else from HOSTSGEN_CONFIG, else the default path.
// Only a missing default file is tolerated. Flags bound to v before the call
// override file values.
func Load(v *viper.Viper, explicitPath string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	configPath := strings.TrimSpace(explicitPath)
	required := configPath != ""
	if !required {
		if fromEnv := strings.TrimSpace(os.Getenv(configEnvVar)); fromEnv != "" {
			configPath = fromEnv
			required = true
		} else {
			configPath = defaultConfigPath
		}
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	readPath := configPath
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !required {
		readPath = ""
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Path = readPath

	sources, err := parseSourceTables(v)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources

	cfg.Fetch.Timeout, err = parseDuration(v.GetString("fetch.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid fetch.timeout: %w", err)
	}
	cfg.Watch.Interval, err = parseDuration(v.GetString("watch.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid watch.interval: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("manifest.location", DefaultManifestURL)
	v.SetDefault("manifest.max_age_days", 7)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "/var/cache/hostsgen")
	v.SetDefault("cache.max_age_days", 1)
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.user_agent", version.UserAgent())
	v.SetDefault("fetch.workers", 8)
	v.SetDefault("output.path", "generated_hosts.txt")
	v.SetDefault("output.sinkhole", "127.0.0.1")
	v.SetDefault("output.incremental", false)
	v.SetDefault("whitelist.enabled", true)
	v.SetDefault("whitelist.path", "")
	v.SetDefault("whitelist.entries", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stdout")
	v.SetDefault("logging.error_limit", 20)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("history.path", "")
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.repo", "")
	v.SetDefault("publish.remote", "origin")
	v.SetDefault("publish.branch", "")
	v.SetDefault("publish.message", "Update hosts file ({entries} entries)")
	v.SetDefault("watch.interval", "24h")
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func validateConfig(cfg *Config) error {
	if err := ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Logging.ErrorLimit < 0 {
		return errors.New("logging.error_limit must be >= 0")
	}

	if cfg.Manifest.Location == "" && len(cfg.Sources) == 0 {
		return errors.New("manifest.location or at least one [sources] table is required")
	}
	if cfg.Manifest.MaxAgeDays <= 0 {
		return errors.New("manifest.max_age_days must be > 0")
	}
	if cfg.Cache.MaxAgeDays <= 0 {
		return errors.New("cache.max_age_days must be > 0")
	}
	if cfg.Cache.Enabled && cfg.Cache.Dir == "" {
		return errors.New("cache.dir is required when the cache is enabled")
	}

	if cfg.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if cfg.Fetch.Workers < 1 {
		return errors.New("fetch.workers must be >= 1")
	}

	if cfg.Output.Path == "" {
		return errors.New("output.path is required")
	}
	if err := ValidateSinkhole(cfg.Output.Sinkhole); err != nil {
		return fmt.Errorf("invalid output.sinkhole: %w", err)
	}

	if wl := cfg.Whitelist.Path; cfg.Whitelist.Enabled && wl != "" {
		if _, err := os.Stat(wl); err != nil {
			return fmt.Errorf("whitelist.path not accessible: %w", err)
		}
	}

	if cfg.Watch.Interval < 0 {
		return errors.New("watch.interval must be >= 0")
	}

	return nil
}

// parseSourceTables decodes [sources.<label>] tables. A table without an
// explicit enabled key is enabled.
func parseSourceTables(v *viper.Viper) (map[string]manifest.ListConfig, error) {
	raw := v.GetStringMap("sources")
	if len(raw) == 0 {
		return map[string]manifest.ListConfig{}, nil
	}

	sources := make(map[string]manifest.ListConfig)
	for key, value := range raw {
		subMap, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("sources.%s must be a table", key)
		}
		cfg := manifest.ListConfig{Enabled: true}
		if err := mapstructure.Decode(subMap, &cfg); err != nil {
			return nil, fmt.Errorf("parse sources.%s: %w", key, err)
		}
		sources[strings.ToLower(key)] = cfg
	}

	return sources, nil
}
