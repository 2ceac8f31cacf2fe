package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains the server configuration
type Config struct {
	Port                int     `yaml:"port"`
	Verbose             bool    `yaml:"verbose"`
	SpotifyClientID     string  `yaml:"spotify_client_id"`
	SpotifyClientSecret string  `yaml:"spotify_client_secret"`
	FastPathURL         string  `yaml:"fast_path_url"`
	ScratchDir          string  `yaml:"scratch_dir"`
	RedisAddr           string  `yaml:"redis_addr"`
	RedisPassword       string  `yaml:"redis_password"`
	RedisDB             int     `yaml:"redis_db"`
	SearchLimit         int     `yaml:"search_limit"`
	RankThreshold       int     `yaml:"rank_threshold"`
	DownloadTimeout     int     `yaml:"download_timeout_seconds"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	RequestBurst        int     `yaml:"request_burst"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Port:              3001,
		Verbose:           false,
		ScratchDir:        filepath.Join(os.TempDir(), "tunepipe"),
		SearchLimit:       10,
		RankThreshold:     0,
		DownloadTimeout:   300,
		RequestsPerSecond: 10,
		RequestBurst:      20,
	}
}

// LoadConfigFile loads configuration from a YAML file, then applies
// environment variable overrides. If path is empty, searches standard
// locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

// applyEnv overrides config fields from environment variables.
// Deployment platforms inject secrets this way rather than via file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		cfg.SpotifyClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		cfg.SpotifyClientSecret = v
	}
	if v := os.Getenv("FASTPATH_URL"); v != "" {
		cfg.FastPathURL = v
	}
	if v := os.Getenv("SCRATCH_DIR"); v != "" {
		cfg.ScratchDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
}

// HasSpotifyCredentials reports whether the primary provider is configured.
func (c *Config) HasSpotifyCredentials() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

// DownloadDeadline returns the overall per-request extraction timeout.
func (c *Config) DownloadDeadline() time.Duration {
	return time.Duration(c.DownloadTimeout) * time.Second
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./tunepipe.yaml",
		"./tunepipe.yml",
		filepath.Join(home, ".config", "tunepipe", "config.yaml"),
		filepath.Join(home, ".config", "tunepipe", "config.yml"),
	}

	for _, path := range locations {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// GetDefaultLogPath returns the default log directory path
func GetDefaultLogPath() string {
	return filepath.Join(homeDir(), ".local", "share", "tunepipe", "logs")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.ScratchDir == "" {
		return fmt.Errorf("scratch_dir cannot be empty")
	}

	if c.SearchLimit < 1 || c.SearchLimit > 50 {
		return fmt.Errorf("search_limit must be between 1 and 50, got %d", c.SearchLimit)
	}

	if c.DownloadTimeout < 10 {
		return fmt.Errorf("download_timeout_seconds must be at least 10, got %d", c.DownloadTimeout)
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %.2f", c.RequestsPerSecond)
	}

	if c.RequestBurst < 1 {
		return fmt.Errorf("request_burst must be at least 1, got %d", c.RequestBurst)
	}

	if c.FastPathURL != "" &&
		!strings.HasPrefix(c.FastPathURL, "http://") && !strings.HasPrefix(c.FastPathURL, "https://") {
		return fmt.Errorf("fast_path_url must start with http:// or https://")
	}

	if (c.SpotifyClientID == "") != (c.SpotifyClientSecret == "") {
		return fmt.Errorf("spotify_client_id and spotify_client_secret must be set together")
	}

	return nil
}
