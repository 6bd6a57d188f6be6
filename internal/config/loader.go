package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/beacon/beacon.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "beacon", "beacon.yaml"))
	}

	paths = append(paths, "beacon.yaml")

	if envPath := os.Getenv("BEACON_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/beacon/beacon.yaml < ~/.config/beacon/beacon.yaml < ./beacon.yaml < $BEACON_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if secret := os.Getenv("BEACON_CLIENT_SECRET"); secret != "" {
		cfg.OpenProject.OAuth.ClientSecret = secret
	}
	if token := os.Getenv("BEACON_NTFY_TOKEN"); token != "" {
		cfg.Alerts.Ntfy.Token = token
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

var knownReasons = map[string]bool{
	"mentioned":   true,
	"assigned":    true,
	"responsible": true,
	"watched":     true,
	"commented":   true,
	"other":       true,
}

func validate(cfg *Config) error {
	if cfg.OpenProject.BaseURL == "" {
		return fmt.Errorf("openproject.base_url is required")
	}
	u, err := url.Parse(cfg.OpenProject.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("openproject.base_url must be an absolute URL, got %q", cfg.OpenProject.BaseURL)
	}

	if cfg.OpenProject.OAuth.ClientID == "" {
		return fmt.Errorf("openproject.oauth.client_id is required")
	}

	if cfg.Server.Enabled {
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host == "0.0.0.0" {
			return fmt.Errorf("server.host must not be 0.0.0.0, beacon exposes local session state and listens on localhost only")
		}
	}

	if cfg.Sync.ForegroundInterval <= 0 || cfg.Sync.BackgroundInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}

	if cfg.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}

	switch cfg.Sync.StartMode {
	case "foreground", "background":
	default:
		return fmt.Errorf("sync.start_mode must be foreground or background, got %q", cfg.Sync.StartMode)
	}

	for _, r := range cfg.Alerts.AlertableReasons {
		if !knownReasons[r] {
			return fmt.Errorf("alerts.alertable_reasons: unknown reason %q", r)
		}
	}

	if cfg.Alerts.Ntfy.Enabled && cfg.Alerts.Ntfy.Topic == "" {
		return fmt.Errorf("alerts.ntfy.topic is required when ntfy is enabled")
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Credentials.FileDir = ExpandHome(cfg.Credentials.FileDir)
	cfg.OpenProject.OAuth.Transport.CAFile = ExpandHome(cfg.OpenProject.OAuth.Transport.CAFile)

	return nil
}
