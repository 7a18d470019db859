// Package config handles loading, parsing, and validating the YAML
// configuration for the EventSub subscription manager, with environment
// variable overrides for secrets such as the bearer token.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tduva/eventsub-go/internal/constants"
)

// Config holds the tunables for one Manager instance: the transport
// endpoint, the per-session cost budget and session hard cap named as an
// open question in the design notes, and the session timing parameters.
type Config struct {
	Username string `yaml:"username"`

	// WebSocketURL is the EventSub endpoint new Sessions dial. A
	// session_reconnect frame overrides this for the replacement Session.
	WebSocketURL string `yaml:"websocket_url"`

	// SessionCostBudget is the per-session subscription cost budget (B).
	SessionCostBudget int `yaml:"session_cost_budget"`
	// MaxSessions is the hard cap on concurrently open Sessions.
	MaxSessions int `yaml:"max_sessions"`

	WelcomeTimeout time.Duration `yaml:"welcome_timeout"`
	KeepaliveGrace time.Duration `yaml:"keepalive_grace"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	ResolverCacheSize int `yaml:"resolver_cache_size"`

	// EnableUserMessageHeldTopic subscribes to the EventSub
	// chat.user_message_hold topic. Default off: IRC already delivers
	// held-message notices, and internal/ircfallback picks them up when
	// EnableIRCHeldMessageFallback is set (also off by default).
	EnableUserMessageHeldTopic bool `yaml:"enable_user_message_held_topic"`

	// EnableIRCHeldMessageFallback joins IRC to receive held-message
	// notices, as a substitute for EnableUserMessageHeldTopic.
	EnableIRCHeldMessageFallback bool `yaml:"enable_irc_held_message_fallback"`

	ClientID string `yaml:"client_id"`
	// AuthToken is overridable via EVENTSUB_AUTH_TOKEN_<USERNAME>; it is
	// not expected to live in the YAML file for real deployments.
	AuthToken string `yaml:"auth_token"`

	// Channels lists the broadcaster logins eventsubd subscribes a default
	// topic set for at startup.
	Channels []string `yaml:"channels"`

	LogDir string `yaml:"log_dir"`
	LogLevel string `yaml:"log_level"`

	Notifications NotificationsConfig `yaml:"notifications"`
}

// NotificationsConfig configures the optional outbound notification
// providers a Dispatcher fans Manager events out to. Each provider is
// independently enabled and independently event-filtered.
type NotificationsConfig struct {
	Telegram *TelegramConfig `yaml:"telegram"`
	Discord  *DiscordConfig  `yaml:"discord"`
	Webhook  *WebhookConfig  `yaml:"webhook"`
	Matrix   *MatrixConfig   `yaml:"matrix"`
	Pushover *PushoverConfig `yaml:"pushover"`
	Gotify   *GotifyConfig   `yaml:"gotify"`
}

type TelegramConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Events              []string `yaml:"events"`
	Token               string   `yaml:"token"`
	ChatID              string   `yaml:"chat_id"`
	DisableNotification bool     `yaml:"disable_notification"`
}

type DiscordConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Events     []string `yaml:"events"`
	WebhookURL string   `yaml:"webhook_url"`
}

type WebhookConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Events   []string `yaml:"events"`
	Endpoint string   `yaml:"endpoint"`
	Method   string   `yaml:"method"`
}

type MatrixConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Events      []string `yaml:"events"`
	Homeserver  string   `yaml:"homeserver"`
	AccessToken string   `yaml:"access_token"`
	RoomID      string   `yaml:"room_id"`
}

type PushoverConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Events   []string `yaml:"events"`
	APIToken string   `yaml:"api_token"`
	UserKey  string   `yaml:"user_key"`
}

type GotifyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Events  []string `yaml:"events"`
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
}

// Default returns a Config with sensible defaults applied.
func Default() Config {
	return Config{
		WebSocketURL:      constants.EventSubWebSocketURL,
		SessionCostBudget: constants.DefaultSessionCostBudget,
		MaxSessions:       constants.DefaultMaxSessions,
		WelcomeTimeout:    constants.DefaultWelcomeTimeout,
		KeepaliveGrace:    constants.DefaultKeepaliveGrace,
		BackoffInitial:    constants.DefaultBackoffInitial,
		BackoffMax:        constants.DefaultBackoffMax,
		ResolverCacheSize: constants.DefaultResolverCacheSize,
		ClientID:          constants.ClientID,
	}
}

// Load reads a YAML configuration file, applies defaults for any zero
// fields, then overlays environment variables for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = d.WebSocketURL
	}
	if cfg.SessionCostBudget <= 0 {
		cfg.SessionCostBudget = d.SessionCostBudget
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = d.MaxSessions
	}
	if cfg.WelcomeTimeout <= 0 {
		cfg.WelcomeTimeout = d.WelcomeTimeout
	}
	if cfg.KeepaliveGrace <= 0 {
		cfg.KeepaliveGrace = d.KeepaliveGrace
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = d.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = d.BackoffMax
	}
	if cfg.ResolverCacheSize <= 0 {
		cfg.ResolverCacheSize = d.ResolverCacheSize
	}
	if cfg.ClientID == "" {
		cfg.ClientID = d.ClientID
	}
}

// getEnv looks up an environment variable with a per-account suffix.
func getEnv(key, username string) string {
	if username == "" {
		return os.Getenv(key)
	}
	return os.Getenv(key + "_" + strings.ToUpper(username))
}

// applyEnvOverrides overlays environment variables for secrets. The auth
// token and client id may be supplied without a YAML file at all.
func applyEnvOverrides(cfg *Config) {
	if v := getEnv("EVENTSUB_AUTH_TOKEN", cfg.Username); v != "" {
		cfg.AuthToken = v
	}
	if v := getEnv("EVENTSUB_CLIENT_ID", cfg.Username); v != "" {
		cfg.ClientID = v
	}
}

// Validate checks the configuration for common errors.
func Validate(cfg *Config) error {
	if cfg.WebSocketURL == "" {
		return fmt.Errorf("websocket_url is required")
	}
	if cfg.SessionCostBudget <= 0 {
		return fmt.Errorf("session_cost_budget must be positive")
	}
	if cfg.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}
	if cfg.AuthToken == "" {
		return fmt.Errorf("auth token is required (set EVENTSUB_AUTH_TOKEN%s)",
			optionalUsernameSuffix(cfg.Username))
	}
	return nil
}

func optionalUsernameSuffix(username string) string {
	if username == "" {
		return ""
	}
	return "_" + strings.ToUpper(username)
}
