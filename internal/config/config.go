package config

import "time"

// Config is the root configuration for Beacon.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	OpenProject OpenProjectConfig `yaml:"openproject"`
	Sync        SyncConfig        `yaml:"sync"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Database    DatabaseConfig    `yaml:"database"`
}

type ServerConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	LogFile   string          `yaml:"log_file"`
	APITokens []APITokenEntry `yaml:"api_tokens"`
}

// APITokenEntry is a named bearer token accepted on /mcp, stored as a
// hex-encoded SHA-256 hash.
type APITokenEntry struct {
	Name      string `yaml:"name"`
	TokenHash string `yaml:"token_hash"`
}

type OpenProjectConfig struct {
	BaseURL string      `yaml:"base_url"`
	APIPath string      `yaml:"api_path"`
	OAuth   OAuthConfig `yaml:"oauth"`
}

// APIBase returns the absolute API root, e.g. https://op.example.com/api/v3.
func (c OpenProjectConfig) APIBase() string {
	return trimSlash(c.BaseURL) + "/" + trimLeadingSlash(c.APIPath)
}

// OAuthBase returns the OAuth root; the token endpoint is OAuthBase()+"/token".
func (c OpenProjectConfig) OAuthBase() string {
	if c.OAuth.BaseURL != "" {
		return trimSlash(c.OAuth.BaseURL)
	}
	return trimSlash(c.BaseURL) + "/oauth"
}

type OAuthConfig struct {
	BaseURL          string          `yaml:"base_url"`
	ClientID         string          `yaml:"client_id"`
	ClientSecret     string          `yaml:"client_secret"`
	RedirectURI      string          `yaml:"redirect_uri"`
	Scopes           []string        `yaml:"scopes"`
	RefreshThreshold time.Duration   `yaml:"refresh_threshold"`
	Transport        TransportConfig `yaml:"transport"`
}

// TransportConfig narrows TLS trust for the token endpoint only.
type TransportConfig struct {
	CAFile     string `yaml:"ca_file"`
	ServerName string `yaml:"server_name"`
}

type SyncConfig struct {
	ForegroundInterval time.Duration `yaml:"foreground_interval"`
	BackgroundInterval time.Duration `yaml:"background_interval"`
	BackgroundWindow   time.Duration `yaml:"background_window"`
	StartMode          string        `yaml:"start_mode"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	PageSize           int           `yaml:"page_size"`
}

type AlertsConfig struct {
	AlertableReasons []string   `yaml:"alertable_reasons"`
	WebURL           string     `yaml:"web_url"`
	Ntfy             NtfyConfig `yaml:"ntfy"`
}

type NtfyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Server  string `yaml:"server"`
	Topic   string `yaml:"topic"`
	Token   string `yaml:"token"`
}

type CredentialsConfig struct {
	Service  string   `yaml:"service"`
	Backends []string `yaml:"backends"`
	FileDir  string   `yaml:"file_dir"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     8421,
			LogLevel: "info",
		},
		OpenProject: OpenProjectConfig{
			APIPath: "/api/v3",
			OAuth: OAuthConfig{
				RedirectURI:      "urn:ietf:wg:oauth:2.0:oob",
				Scopes:           []string{"api_v3"},
				RefreshThreshold: 5 * time.Minute,
			},
		},
		Sync: SyncConfig{
			ForegroundInterval: 5 * time.Minute,
			BackgroundInterval: 30 * time.Second,
			BackgroundWindow:   30 * time.Second,
			StartMode:          "foreground",
			RequestTimeout:     30 * time.Second,
			PageSize:           100,
		},
		Alerts: AlertsConfig{
			AlertableReasons: []string{"mentioned", "watched"},
			Ntfy: NtfyConfig{
				Server: "https://ntfy.sh",
			},
		},
		Credentials: CredentialsConfig{
			Service: "beacon",
			FileDir: "~/.config/beacon/credentials",
		},
		Database: DatabaseConfig{
			Path:          "~/.config/beacon/beacon.db",
			RetentionDays: 30,
		},
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
