package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".scanpipe"
	DefaultConfigFile = "config.json"
	DefaultDataDir    = ".scanpipe/data"
	DefaultDBFile     = ".scanpipe/scanpipe.db"
)

// Load reads the config file and returns a populated Config. The
// configPath flag may override the default location; environment
// variables override file values (SCANPIPE_SERVER_PORT etc.).
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("scanpipe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			// Config file exists but is malformed.
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config yet; defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(configPath, data, 0o600)
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 6280)

	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.tool_timeout_seconds", 300)
	v.SetDefault("pipeline.retention_hours", 168)
	v.SetDefault("pipeline.janitor_schedule", "@hourly")

	v.SetDefault("analyzers.default", []string{"semgrep", "bandit", "depcheck"})
	v.SetDefault("analyzers.bin_dir", "")
	v.SetDefault("analyzers.profile_path", "")

	v.SetDefault("ingest.max_repo_kb", int64(512*1024))
	v.SetDefault("ingest.max_archive_bytes", int64(256*1024*1024))
	v.SetDefault("ingest.clone_timeout_seconds", 120)

	v.SetDefault("enhance.auto", false)
	v.SetDefault("enhance.workers", 2)
	v.SetDefault("enhance.min_severity", "low")
	v.SetDefault("enhance.timeout_seconds", 180)
	v.SetDefault("enhance.max_issues", 50)
	v.SetDefault("enhance.max_issues_per_file", 10)
	v.SetDefault("enhance.max_file_bytes", 32*1024)

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")

	v.SetDefault("storage.base_dir", filepath.Join(home, DefaultDataDir))

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Storage.BaseDir = expandHome(cfg.Storage.BaseDir, home)
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Analyzers.BinDir = expandHome(cfg.Analyzers.BinDir, home)
	cfg.Analyzers.ProfilePath = expandHome(cfg.Analyzers.ProfilePath, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
