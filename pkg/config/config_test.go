package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostsgen.conf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestValidateLogLevel(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"}
	for _, level := range validLevels {
		if err := ValidateLogLevel(level); err != nil {
			t.Errorf("ValidateLogLevel(%s) returned error: %v", level, err)
		}
	}

	invalidLevels := []string{"", "trace", "fatal", "invalid", "debugging"}
	for _, level := range invalidLevels {
		if err := ValidateLogLevel(level); err == nil {
			t.Errorf("ValidateLogLevel(%s) should return error", level)
		}
	}
}

func TestValidateSinkhole(t *testing.T) {
	for _, addr := range []string{"127.0.0.1", "0.0.0.0", "::1", "::"} {
		if err := ValidateSinkhole(addr); err != nil {
			t.Errorf("ValidateSinkhole(%s) returned error: %v", addr, err)
		}
	}
	for _, addr := range []string{"", "localhost", "256.0.0.1", "127.0.0.1:53"} {
		if err := ValidateSinkhole(addr); err == nil {
			t.Errorf("ValidateSinkhole(%s) should return error", addr)
		}
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv(configEnvVar, "")
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("default config file present on this host")
	}

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty", cfg.Path)
	}
	if cfg.Manifest.Location != DefaultManifestURL || cfg.Manifest.MaxAgeDays != 7 {
		t.Errorf("unexpected manifest defaults: %+v", cfg.Manifest)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MaxAgeDays != 1 {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Fetch.Timeout != 20*time.Second || cfg.Fetch.Workers != 8 {
		t.Errorf("unexpected fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.Output.Sinkhole != "127.0.0.1" || cfg.Output.Incremental {
		t.Errorf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.Watch.Interval != 24*time.Hour {
		t.Errorf("Watch.Interval = %s", cfg.Watch.Interval)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	whitelistPath := filepath.Join(dir, "whitelist.txt")
	if err := os.WriteFile(whitelistPath, []byte("google.com\n"), 0o600); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}

	path := writeConfig(t, `
[manifest]
location = "/srv/lists.csv"
max_age_days = 3.5

[cache]
dir = "/tmp/hostsgen-cache"
max_age_days = 0.5

[fetch]
timeout = "5s"
workers = 2

[output]
path = "/srv/hosts"
sinkhole = "0.0.0.0"
incremental = true

[whitelist]
path = "`+whitelistPath+`"
entries = ["example.org", "*.cdn.example.net"]

[watch]
interval = "30m"

[sources.extra]
url = "https://lists.example/extra.txt"

[sources.stevenblack]
enabled = false
`)
	t.Setenv(configEnvVar, "")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Manifest.Location != "/srv/lists.csv" || cfg.Manifest.MaxAgeDays != 3.5 {
		t.Errorf("unexpected manifest: %+v", cfg.Manifest)
	}
	if cfg.Cache.MaxAgeDays != 0.5 || cfg.Cache.Dir != "/tmp/hostsgen-cache" {
		t.Errorf("unexpected cache: %+v", cfg.Cache)
	}
	if cfg.Fetch.Timeout != 5*time.Second || cfg.Fetch.Workers != 2 {
		t.Errorf("unexpected fetch: %+v", cfg.Fetch)
	}
	if !cfg.Output.Incremental || cfg.Output.Sinkhole != "0.0.0.0" {
		t.Errorf("unexpected output: %+v", cfg.Output)
	}
	if strings.Join(cfg.Whitelist.Entries, ",") != "example.org,*.cdn.example.net" {
		t.Errorf("unexpected whitelist entries: %v", cfg.Whitelist.Entries)
	}
	if cfg.Watch.Interval != 30*time.Minute {
		t.Errorf("Watch.Interval = %s", cfg.Watch.Interval)
	}

	extra, ok := cfg.Sources["extra"]
	if !ok || !extra.Enabled || extra.URL != "https://lists.example/extra.txt" {
		t.Errorf("unexpected extra source: %+v", extra)
	}
	if cfg.Sources["stevenblack"].Enabled {
		t.Error("stevenblack should be disabled")
	}
}

func TestLoadFromEnvPath(t *testing.T) {
	path := writeConfig(t, "[output]\npath = \"/from/env\"\n")
	t.Setenv(configEnvVar, path)

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Output.Path != "/from/env" {
		t.Errorf("Output.Path = %q", cfg.Output.Path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "[output]\npath = \"/from/file\"\n")
	t.Setenv(configEnvVar, "")
	t.Setenv("HOSTSGEN_OUTPUT_PATH", "/from/env")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Output.Path != "/from/env" {
		t.Errorf("Output.Path = %q, want env override", cfg.Output.Path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(configEnvVar, "")
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv(configEnvVar, "")
	tests := map[string]string{
		"log level":    "[logging]\nlevel = \"trace\"\n",
		"error limit":  "[logging]\nerror_limit = -1\n",
		"sinkhole":     "[output]\nsinkhole = \"localhost\"\n",
		"workers":      "[fetch]\nworkers = 0\n",
		"timeout":      "[fetch]\ntimeout = \"soon\"\n",
		"cache age":    "[cache]\nmax_age_days = 0\n",
		"manifest age": "[manifest]\nmax_age_days = -1\n",
		"no sources":   "[manifest]\nlocation = \"\"\n",
		"whitelist":    "[whitelist]\npath = \"/nonexistent/whitelist.txt\"\n",
		"source table": "[sources]\nbroken = \"not a table\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(viper.New(), writeConfig(t, content)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}
