package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModel              = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens          = 2048
	DefaultTickInterval       = "5s"
	DefaultMinCycleInterval   = "30s"
	DefaultMaxCyclesPerHour   = 20
	DefaultObservationSched   = "@every 15m"
	DefaultMaxActionsPerCycle = 3
	DefaultMessagesPerChannel = 200
	DefaultActionHistory      = 100
	DefaultMessageDepth       = 50
	DefaultActionDepth        = 20
	DefaultMaxRetries         = 3
	DefaultInitialBackoff     = "1s"
	DefaultActionTimeout      = "30s"
	DefaultGatewayTimeout     = "90s"
	DefaultSendsPerMinute     = 20
	DefaultStatusHost         = "127.0.0.1"
	DefaultStatusPort         = 18791
	DefaultBufSize            = 256
	DefaultRateLimitMaxAge    = "10m"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Platforms PlatformsConfig `json:"platforms"`
	Retention RetentionConfig `json:"retention"`
	Executor  ExecutorConfig  `json:"executor"`
	Status    StatusConfig    `json:"status"`
	Store     StoreConfig     `json:"store"`
}

// AgentConfig holds the orchestration loop knobs.
type AgentConfig struct {
	TickInterval         string `json:"tickInterval"`
	MinCycleInterval     string `json:"minCycleInterval"`
	MaxCyclesPerHour     int    `json:"maxCyclesPerHour"`
	ScheduledObservation string `json:"scheduledObservation"`
	MaxActionsPerCycle   int    `json:"maxActionsPerCycle"`
	MessageDepth         int    `json:"messageDepth"`
	ActionHistoryDepth   int    `json:"actionHistoryDepth"`
}

type ProviderConfig struct {
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl,omitempty"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"maxTokens"`
	GatewayTimeout string `json:"gatewayTimeout"`
}

type PlatformsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Matrix    MatrixConfig    `json:"matrix"`
	Farcaster FarcasterConfig `json:"farcaster"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type MatrixConfig struct {
	Enabled     bool     `json:"enabled"`
	Homeserver  string   `json:"homeserver"`
	AccessToken string   `json:"accessToken"`
	UserID      string   `json:"userId"`
	Rooms       []string `json:"rooms"`
}

type FarcasterConfig struct {
	Enabled      bool   `json:"enabled"`
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl,omitempty"`
	SignerUUID   string `json:"signerUuid"`
	FID          int64  `json:"fid"`
	PollInterval string `json:"pollInterval,omitempty"`
}

type RetentionConfig struct {
	MessagesPerChannel int `json:"messagesPerChannel"`
	ActionHistory      int `json:"actionHistory"`
}

type ExecutorConfig struct {
	MaxRetries      int    `json:"maxRetries"`
	InitialBackoff  string `json:"initialBackoff"`
	ActionTimeout   string `json:"actionTimeout"`
	SendsPerMinute  int    `json:"sendsPerMinute"`
	RateLimitMaxAge string `json:"rateLimitMaxAge"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			TickInterval:         DefaultTickInterval,
			MinCycleInterval:     DefaultMinCycleInterval,
			MaxCyclesPerHour:     DefaultMaxCyclesPerHour,
			ScheduledObservation: DefaultObservationSched,
			MaxActionsPerCycle:   DefaultMaxActionsPerCycle,
			MessageDepth:         DefaultMessageDepth,
			ActionHistoryDepth:   DefaultActionDepth,
		},
		Provider: ProviderConfig{
			Model:          DefaultModel,
			MaxTokens:      DefaultMaxTokens,
			GatewayTimeout: DefaultGatewayTimeout,
		},
		Retention: RetentionConfig{
			MessagesPerChannel: DefaultMessagesPerChannel,
			ActionHistory:      DefaultActionHistory,
		},
		Executor: ExecutorConfig{
			MaxRetries:      DefaultMaxRetries,
			InitialBackoff:  DefaultInitialBackoff,
			ActionTimeout:   DefaultActionTimeout,
			SendsPerMinute:  DefaultSendsPerMinute,
			RateLimitMaxAge: DefaultRateLimitMaxAge,
		},
		Status: StatusConfig{
			Enabled: true,
			Host:    DefaultStatusHost,
			Port:    DefaultStatusPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".vigil")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load reads the config file at path (ConfigPath() when empty), applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("VIGIL_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("VIGIL_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("VIGIL_TELEGRAM_TOKEN"); token != "" {
		cfg.Platforms.Telegram.Token = token
	}
	if token := os.Getenv("VIGIL_MATRIX_TOKEN"); token != "" {
		cfg.Platforms.Matrix.AccessToken = token
	}
	if key := os.Getenv("VIGIL_FARCASTER_API_KEY"); key != "" {
		cfg.Platforms.Farcaster.APIKey = key
	}
	if dbPath := os.Getenv("VIGIL_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if port := os.Getenv("VIGIL_STATUS_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Status.Port = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Agent.TickInterval == "" {
		cfg.Agent.TickInterval = def.Agent.TickInterval
	}
	if cfg.Agent.MinCycleInterval == "" {
		cfg.Agent.MinCycleInterval = def.Agent.MinCycleInterval
	}
	if cfg.Agent.MaxCyclesPerHour <= 0 {
		cfg.Agent.MaxCyclesPerHour = def.Agent.MaxCyclesPerHour
	}
	if cfg.Agent.ScheduledObservation == "" {
		cfg.Agent.ScheduledObservation = def.Agent.ScheduledObservation
	}
	if cfg.Agent.MaxActionsPerCycle <= 0 {
		cfg.Agent.MaxActionsPerCycle = def.Agent.MaxActionsPerCycle
	}
	if cfg.Agent.MessageDepth <= 0 {
		cfg.Agent.MessageDepth = def.Agent.MessageDepth
	}
	if cfg.Agent.ActionHistoryDepth <= 0 {
		cfg.Agent.ActionHistoryDepth = def.Agent.ActionHistoryDepth
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = def.Provider.MaxTokens
	}
	if cfg.Provider.GatewayTimeout == "" {
		cfg.Provider.GatewayTimeout = def.Provider.GatewayTimeout
	}
	if cfg.Retention.MessagesPerChannel <= 0 {
		cfg.Retention.MessagesPerChannel = def.Retention.MessagesPerChannel
	}
	if cfg.Retention.ActionHistory <= 0 {
		cfg.Retention.ActionHistory = def.Retention.ActionHistory
	}
	if cfg.Executor.MaxRetries < 0 {
		cfg.Executor.MaxRetries = def.Executor.MaxRetries
	}
	if cfg.Executor.InitialBackoff == "" {
		cfg.Executor.InitialBackoff = def.Executor.InitialBackoff
	}
	if cfg.Executor.ActionTimeout == "" {
		cfg.Executor.ActionTimeout = def.Executor.ActionTimeout
	}
	if cfg.Executor.SendsPerMinute <= 0 {
		cfg.Executor.SendsPerMinute = def.Executor.SendsPerMinute
	}
	if cfg.Executor.RateLimitMaxAge == "" {
		cfg.Executor.RateLimitMaxAge = def.Executor.RateLimitMaxAge
	}
	if cfg.Status.Host == "" {
		cfg.Status.Host = def.Status.Host
	}
	if cfg.Status.Port <= 0 {
		cfg.Status.Port = def.Status.Port
	}
}

// Validate rejects configurations the loop cannot safely run with. These
// are the only fatal startup errors.
func (c *Config) Validate() error {
	durations := map[string]string{
		"agent.tickInterval":       c.Agent.TickInterval,
		"agent.minCycleInterval":   c.Agent.MinCycleInterval,
		"provider.gatewayTimeout":  c.Provider.GatewayTimeout,
		"executor.initialBackoff":  c.Executor.InitialBackoff,
		"executor.actionTimeout":   c.Executor.ActionTimeout,
		"executor.rateLimitMaxAge": c.Executor.RateLimitMaxAge,
	}
	for name, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("config %s: must be positive, got %s", name, raw)
		}
	}
	if c.Agent.MaxCyclesPerHour <= 0 {
		return fmt.Errorf("config agent.maxCyclesPerHour: must be positive")
	}
	if c.Agent.MaxActionsPerCycle <= 0 {
		return fmt.Errorf("config agent.maxActionsPerCycle: must be positive")
	}
	return nil
}

// Duration returns a parsed duration field. Validate must have accepted the
// config first; a parse failure here falls back to the given default.
func Duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Save writes cfg as indented JSON to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
