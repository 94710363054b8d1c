// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and watches the application configuration. The
// config lives in a TOML file next to the database; every key can be
// overridden through KAPOWARR__ environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/naming"
)

// AppConfig wraps the parsed configuration and keeps it in sync with the
// config file on disk.
type AppConfig struct {
	viper *viper.Viper

	mu        sync.RWMutex
	config    *domain.Config
	configDir string
}

// New loads the configuration. configPath may be a config.toml path, a
// directory holding one, or empty to use the default config directory. A
// missing config file is created with the annotated defaults.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{viper: viper.New()}
	if err := c.load(configPath); err != nil {
		return nil, err
	}
	c.watch()
	return c, nil
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")
	c.setDefaults()
	c.bindEnv()

	dir := configPath
	switch {
	case configPath == "":
		dir = getDefaultConfigDir()
	case strings.HasSuffix(configPath, ".toml"):
		dir = filepath.Dir(configPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	c.configDir = dir

	file := filepath.Join(dir, "config.toml")
	c.viper.SetConfigFile(file)

	if _, err := os.Stat(file); os.IsNotExist(err) {
		if err := c.writeDefaultConfig(file); err != nil {
			return err
		}
		log.Info().Str("path", file).Msg("Generated default config file")
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := c.unmarshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	return nil
}

func (c *AppConfig) unmarshal() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = c.configDir
	}
	if cfg.Download.DownloadFolder == "" {
		cfg.Download.DownloadFolder = filepath.Join(cfg.DataDir, "downloads")
	}
	return cfg, nil
}

func (c *AppConfig) setDefaults() {
	c.viper.SetDefault("host", "0.0.0.0")
	c.viper.SetDefault("port", 5656)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("metricsEnabled", false)

	pref := make([]string, len(domain.SourceKinds))
	for i, kind := range domain.SourceKinds {
		pref[i] = string(kind)
	}
	c.viper.SetDefault("download.servicePreference", pref)
	c.viper.SetDefault("download.formatPreference", []string{})
	c.viper.SetDefault("download.convert", false)
	c.viper.SetDefault("download.extractIssueRanges", false)
	c.viper.SetDefault("download.renameDownloadedFiles", true)
	c.viper.SetDefault("download.seedingHandling", string(domain.SeedingComplete))
	c.viper.SetDefault("download.deleteCompletedTorrents", true)

	defaults := naming.Defaults()
	c.viper.SetDefault("naming.volumeFolderNaming", defaults.VolumeFolderNaming)
	c.viper.SetDefault("naming.fileNaming", defaults.FileNaming)
	c.viper.SetDefault("naming.fileNamingEmpty", defaults.FileNamingEmpty)
	c.viper.SetDefault("naming.fileNamingSpecialVersion", defaults.FileNamingSpecialVersion)
	c.viper.SetDefault("naming.fileNamingVai", defaults.FileNamingVAI)
	c.viper.SetDefault("naming.volumePadding", defaults.VolumePadding)
	c.viper.SetDefault("naming.issuePadding", defaults.IssuePadding)
	c.viper.SetDefault("naming.longSpecialVersion", defaults.LongSpecialVersion)
}

func (c *AppConfig) bindEnv() {
	c.viper.SetEnvPrefix("KAPOWARR_")
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	c.viper.AutomaticEnv()

	// Common keys keep their snake_case names from the Docker images.
	c.viper.BindEnv("databasePath", "KAPOWARR__DATABASE_PATH")
	c.viper.BindEnv("logPath", "KAPOWARR__LOG_PATH")
	c.viper.BindEnv("logLevel", "KAPOWARR__LOG_LEVEL")
	c.viper.BindEnv("dataDir", "KAPOWARR__DATA_DIR")
	c.viper.BindEnv("comicvineApiKey", "KAPOWARR__COMICVINE_API_KEY")
	c.viper.BindEnv("download.downloadFolder", "KAPOWARR__DOWNLOAD_FOLDER")
}

// getDefaultConfigDir honors XDG_CONFIG_HOME. The Docker images set it to
// /config, which is used as the config directory itself.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "kapowarr")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "kapowarr")
}

// GetDatabasePath returns the configured database path, defaulting to
// kapowarr.db next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if path := c.viper.GetString("databasePath"); path != "" {
		return path
	}
	return filepath.Join(c.configDir, "kapowarr.db")
}

// GetConfigDir returns the directory holding config.toml.
func (c *AppConfig) GetConfigDir() string {
	return c.configDir
}

// Snapshot returns a copy of the current configuration. Callers can hold
// onto it without racing with reloads.
func (c *AppConfig) Snapshot() *domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg := *c.config
	cfg.Download.ServicePreference = append([]domain.SourceKind(nil), c.config.Download.ServicePreference...)
	cfg.Download.FormatPreference = append([]string(nil), c.config.Download.FormatPreference...)
	return &cfg
}

// DownloadSettings returns the current download settings.
func (c *AppConfig) DownloadSettings() domain.DownloadSettings {
	return c.Snapshot().Download
}

// watch reloads the dynamic settings when the config file changes on disk.
// A reload that fails validation keeps the previous configuration.
func (c *AppConfig) watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := c.unmarshal()
		if err != nil {
			log.Error().Err(err).Msg("Config reload failed, keeping previous config")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Error().Err(err).Msg("Config reload invalid, keeping previous config")
			return
		}
		c.mu.Lock()
		c.config = cfg
		c.mu.Unlock()
		log.Info().Str("path", e.Name).Msg("Config reloaded")
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) writeDefaultConfig(file string) error {
	if err := os.WriteFile(file, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "0.0.0.0"
host = "0.0.0.0"

# Port
# Default: 5656
port = 5656

# Base url
# Set when serving behind a reverse proxy under a sub-path
# Default: "/"
#baseUrl = "/kapowarr/"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/kapowarr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Database file path
# If not defined, the database is created next to this file
# Optional
#databasePath = "/config/kapowarr.db"

# ComicVine API key
# Required for metadata lookups
#comicvineApiKey = ""

# Release aggregator base url
#aggregatorBaseUrl = "https://getcomics.org"

# FlareSolverr url
# Enables the challenge solver for the aggregator when set
# Optional
#flaresolverrUrl = "http://localhost:8191"

[download]
# Folder downloads land in before import
# Default: downloads/ next to this file
#downloadFolder = "/downloads"

# Order in which download services are tried for a release
#servicePreference = ["mega", "mega_folder", "mediafire", "mediafire_folder", "wetransfer", "pixeldrain", "pixeldrain_folder", "direct", "torrent", "usenet"]

# Convert downloaded files towards the first reachable format
#formatPreference = ["cbz"]
#convert = false

# Extract archives that span an issue range
#extractIssueRanges = false

# Rename files after import
#renameDownloadedFiles = true

# What to do while a torrent seeds: "complete" waits, "copy" imports a copy
#seedingHandling = "complete"

# Delete the torrent payload once seeding completed
#deleteCompletedTorrents = true

[naming]
#volumeFolderNaming = "{series_name}/Volume {volume_number} ({year})"
#fileNaming = "{series_name} ({year}) Volume {volume_number} Issue {issue_number}"
#volumePadding = 2
#issuePadding = 3
`
