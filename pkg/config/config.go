package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid config")

// FlexibleStringSlice is a []string that also accepts JSON numbers and a
// single comma separated string.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = splitList(single)
		return nil
	}

	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Client    ClientConfig    `json:"client"`
	Reply     ReplyConfig     `json:"reply"`
	Providers ProvidersConfig `json:"providers"`
	Sessions  SessionsConfig  `json:"sessions"`
	Stats     StatsConfig     `json:"stats"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type ServerConfig struct {
	Host           string              `json:"host" env:"HEALTHMATE_SERVER_HOST"`
	Port           int                 `json:"port" env:"HEALTHMATE_SERVER_PORT"`
	Path           string              `json:"path" env:"HEALTHMATE_SERVER_PATH"`
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins" env:"HEALTHMATE_SERVER_ALLOWED_ORIGINS"`
	Greeting       string              `json:"greeting" env:"HEALTHMATE_SERVER_GREETING"`
	TypingDelayMS  int                 `json:"typing_delay_ms" env:"HEALTHMATE_SERVER_TYPING_DELAY_MS"`
	ReplyDelayMS   int                 `json:"reply_delay_ms" env:"HEALTHMATE_SERVER_REPLY_DELAY_MS"`
	CancelOnClose  bool                `json:"cancel_on_close" env:"HEALTHMATE_SERVER_CANCEL_ON_CLOSE"`
	WriteTimeoutMS int                 `json:"write_timeout_ms" env:"HEALTHMATE_SERVER_WRITE_TIMEOUT_MS"`
	ShutdownSecs   int                 `json:"shutdown_timeout_seconds" env:"HEALTHMATE_SERVER_SHUTDOWN_TIMEOUT_SECONDS"`
}

type ClientConfig struct {
	URL                  string `json:"url" env:"HEALTHMATE_CLIENT_URL"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" env:"HEALTHMATE_CLIENT_MAX_RECONNECT_ATTEMPTS"`
	ReconnectDelayMS     int    `json:"reconnect_delay_ms" env:"HEALTHMATE_CLIENT_RECONNECT_DELAY_MS"`
	FallbackDelayMS      int    `json:"fallback_delay_ms" env:"HEALTHMATE_CLIENT_FALLBACK_DELAY_MS"`
	HandshakeTimeoutMS   int    `json:"handshake_timeout_ms" env:"HEALTHMATE_CLIENT_HANDSHAKE_TIMEOUT_MS"`
}

type ReplyConfig struct {
	Provider       string  `json:"provider" env:"HEALTHMATE_REPLY_PROVIDER"` // canned|openai|anthropic|auto
	Model          string  `json:"model" env:"HEALTHMATE_REPLY_MODEL"`
	SystemPrompt   string  `json:"system_prompt" env:"HEALTHMATE_REPLY_SYSTEM_PROMPT"`
	MaxTokens      int     `json:"max_tokens" env:"HEALTHMATE_REPLY_MAX_TOKENS"`
	Temperature    float64 `json:"temperature" env:"HEALTHMATE_REPLY_TEMPERATURE"`
	HoldMinutes    int     `json:"failover_hold_minutes" env:"HEALTHMATE_REPLY_FAILOVER_HOLD_MINUTES"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"HEALTHMATE_REPLY_TIMEOUT_SECONDS"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai" envPrefix:"HEALTHMATE_PROVIDERS_OPENAI_"`
	Anthropic ProviderConfig `json:"anthropic" envPrefix:"HEALTHMATE_PROVIDERS_ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
}

type SessionsConfig struct {
	Backend    string `json:"backend" env:"HEALTHMATE_SESSIONS_BACKEND"` // memory|redis
	RedisURL   string `json:"redis_url" env:"HEALTHMATE_SESSIONS_REDIS_URL"`
	KeyPrefix  string `json:"key_prefix" env:"HEALTHMATE_SESSIONS_KEY_PREFIX"`
	TTLMinutes int    `json:"ttl_minutes" env:"HEALTHMATE_SESSIONS_TTL_MINUTES"`
}

type StatsConfig struct {
	Enabled  bool   `json:"enabled" env:"HEALTHMATE_STATS_ENABLED"`
	Schedule string `json:"schedule" env:"HEALTHMATE_STATS_SCHEDULE"`
	FilePath string `json:"file_path" env:"HEALTHMATE_STATS_FILE_PATH"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"HEALTHMATE_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"HEALTHMATE_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"HEALTHMATE_LOGGING_FILE_PATH"`
	Rotation    bool   `json:"rotation_enabled" env:"HEALTHMATE_LOGGING_ROTATION_ENABLED"`
	MaxSizeMB   int    `json:"max_size_mb" env:"HEALTHMATE_LOGGING_MAX_SIZE_MB"`
	MaxAgeDays  int    `json:"max_age_days" env:"HEALTHMATE_LOGGING_MAX_AGE_DAYS"`
}

const DefaultSystemPrompt = "You are a helpful AI health assistant. Provide evidence-based wellness advice and guidance. " +
	"Be supportive, informative, and professional. Keep responses concise but helpful."

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3001,
			Path:           "/",
			AllowedOrigins: FlexibleStringSlice{},
			Greeting:       "Connected to ZenHealth AI Chat Server",
			TypingDelayMS:  500,
			ReplyDelayMS:   1500,
			CancelOnClose:  true,
			WriteTimeoutMS: 10000,
			ShutdownSecs:   5,
		},
		Client: ClientConfig{
			URL:                  "ws://localhost:3001",
			MaxReconnectAttempts: 5,
			ReconnectDelayMS:     1000,
			FallbackDelayMS:      1000,
			HandshakeTimeoutMS:   10000,
		},
		Reply: ReplyConfig{
			Provider:       "canned",
			Model:          "gpt-3.5-turbo",
			SystemPrompt:   DefaultSystemPrompt,
			MaxTokens:      300,
			Temperature:    0.7,
			HoldMinutes:    5,
			TimeoutSeconds: 30,
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{},
			Anthropic: ProviderConfig{},
		},
		Sessions: SessionsConfig{
			Backend:    "memory",
			RedisURL:   "redis://localhost:6379",
			KeyPrefix:  "healthmate:",
			TTLMinutes: 24 * 60,
		},
		Stats: StatsConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: false,
			FilePath:    "~/.healthmate/server.log",
			Rotation:    true,
			MaxSizeMB:   10,
			MaxAgeDays:  7,
		},
	}
}

// LoadConfig layers the JSON file (if present) and the environment over the
// defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	resolveProviderEnvRefs(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveProviderEnvRefs(cfg *Config) {
	for _, p := range []*ProviderConfig{&cfg.Providers.OpenAI, &cfg.Providers.Anthropic} {
		p.APIKey = resolveEnvRef(p.APIKey)
		p.APIBase = resolveEnvRef(p.APIBase)
	}
	cfg.Sessions.RedisURL = resolveEnvRef(cfg.Sessions.RedisURL)
}

// resolveEnvRef expands a value of the form ${NAME} or $NAME. Unset
// variables leave the value unchanged.
func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	var key string
	switch {
	case strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}"):
		key = strings.TrimSpace(s[2 : len(s)-1])
	case strings.HasPrefix(s, "$") && len(s) > 1:
		key = strings.TrimSpace(s[1:])
	default:
		return v
	}
	if key == "" {
		return v
	}
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return v
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.TypingDelayMS < 0 || c.Server.ReplyDelayMS < 0 {
		errs = append(errs, errors.New("server delays must not be negative"))
	}
	if c.Client.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("client.max_reconnect_attempts must be positive"))
	}
	if c.Client.ReconnectDelayMS < 0 || c.Client.FallbackDelayMS < 0 {
		errs = append(errs, errors.New("client delays must not be negative"))
	}
	switch strings.ToLower(c.Reply.Provider) {
	case "", "canned", "openai", "anthropic", "auto":
	default:
		errs = append(errs, fmt.Errorf("unknown reply.provider %q", c.Reply.Provider))
	}
	switch strings.ToLower(c.Sessions.Backend) {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown sessions.backend %q", c.Sessions.Backend))
	}
	if c.Stats.Enabled && !gronx.New().IsValid(c.Stats.Schedule) {
		errs = append(errs, fmt.Errorf("invalid stats.schedule %q", c.Stats.Schedule))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Logging.FilePath)
}

// StatsFilePath is empty when usage records are kept in memory only.
func (c *Config) StatsFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Stats.FilePath == "" {
		return ""
	}
	return expandHome(c.Stats.FilePath)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ListenAddr joins host and port, bracketing IPv6 hosts.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServerConfig) TypingDelay() time.Duration  { return ms(s.TypingDelayMS) }
func (s ServerConfig) ReplyDelay() time.Duration   { return ms(s.ReplyDelayMS) }
func (s ServerConfig) WriteTimeout() time.Duration { return ms(s.WriteTimeoutMS) }
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownSecs) * time.Second
}

func (c ClientConfig) ReconnectDelay() time.Duration   { return ms(c.ReconnectDelayMS) }
func (c ClientConfig) FallbackDelay() time.Duration    { return ms(c.FallbackDelayMS) }
func (c ClientConfig) HandshakeTimeout() time.Duration { return ms(c.HandshakeTimeoutMS) }

func (r ReplyConfig) Hold() time.Duration    { return time.Duration(r.HoldMinutes) * time.Minute }
func (r ReplyConfig) Timeout() time.Duration { return time.Duration(r.TimeoutSeconds) * time.Second }

func (s SessionsConfig) TTL() time.Duration { return time.Duration(s.TTLMinutes) * time.Minute }

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
