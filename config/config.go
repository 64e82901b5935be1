package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BrokerConfig    BrokerConfig    `json:"broker"`
	QuoteConfig     QuoteConfig     `json:"quotes"`
	IndicatorConfig IndicatorConfig `json:"indicator"`
	EngineConfig    EngineConfig    `json:"engine"`
	MonitorConfig   MonitorConfig   `json:"monitor"`
	ServerConfig    ServerConfig    `json:"server"`
	AuthConfig      AuthConfig      `json:"auth"`
	VaultConfig     VaultConfig     `json:"vault"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`

	// Instruments maps logical names to tradable contracts
	Instruments map[string]InstrumentConfig `json:"instruments"`
}

// InstrumentConfig is one logical-name mapping. SymbolTemplate may
// contain "{strike}", resolved from the spot price at entry time.
type InstrumentConfig struct {
	SymbolTemplate string  `json:"symbol_template"`
	LotSize        int     `json:"lot_size"`
	TickSize       float64 `json:"tick_size"`
	StrikeStep     float64 `json:"strike_step,omitempty"`
}

// BrokerConfig holds order gateway connection settings
type BrokerConfig struct {
	BaseURL     string `json:"base_url"`
	StreamURL   string `json:"stream_url"`
	APIKey      string `json:"api_key"`
	SecretKey   string `json:"secret_key"`
	DryRun      bool   `json:"dry_run"`      // No real orders, mock gateway
	CallTimeout int    `json:"call_timeout"` // Seconds per trading-critical call
	BulkTimeout int    `json:"bulk_timeout"` // Seconds for history backfills
}

// QuoteConfig holds quote cache and rate governor settings
type QuoteConfig struct {
	Watchlist          []string `json:"watchlist"`            // Always-polled index symbols
	LiveTTLSeconds     int      `json:"live_ttl_seconds"`     // Live quote cache TTL
	SnapshotTTLSeconds int      `json:"snapshot_ttl_seconds"` // Index snapshot TTL
	HistoryTTLMinutes  int      `json:"history_ttl_minutes"`  // Daily/weekly candle TTL
	MaxPerSecond       int      `json:"max_per_second"`       // Upstream cap, rolling 1s window
	MaxPerMinute       int      `json:"max_per_minute"`       // Upstream cap, rolling 60s window
	RetryAttempts      int      `json:"retry_attempts"`       // Per-call retry cap
	RetryBaseMillis    int      `json:"retry_base_millis"`    // Backoff base delay
}

// IndicatorConfig holds Hull Moving Average settings
type IndicatorConfig struct {
	Period         int `json:"period"`          // HMA period over closes
	TrendLookback  int `json:"trend_lookback"`  // Bars for trend strength
	RefreshMinutes int `json:"refresh_minutes"` // Indicator refresh gate
	HistoryBars    int `json:"history_bars"`    // Candles fetched per refresh
}

// EngineConfig holds state machine thresholds
type EngineConfig struct {
	ModifyThresholdPoints float64 `json:"modify_threshold_points"` // Min HMA move before replacing an order
	ConfirmCycles         int     `json:"confirm_cycles"`          // Reversal confirmation cycles
	MaxDailyTrades        int     `json:"max_daily_trades"`        // Per-user daily entry cap
}

// MonitorConfig holds scheduler timings
type MonitorConfig struct {
	TickSeconds            int `json:"tick_seconds"`             // Main polling cadence
	StreamTickSeconds      int `json:"stream_tick_seconds"`      // Push connection supervisor cadence
	BreakerCooldownSeconds int `json:"breaker_cooldown_seconds"` // Pause after upstream rate limit
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type AuthConfig struct {
	Enabled       bool   `json:"enabled"`
	JWTSecret     string `json:"jwt_secret"`
	TokenMinutes  int    `json:"token_minutes"`
	AdminPassword string `json:"admin_password_hash"` // bcrypt hash
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON vs console output
}

// Load reads configuration from a JSON file, then applies environment
// variable overrides. A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		BrokerConfig: BrokerConfig{
			DryRun:      true,
			CallTimeout: 10,
			BulkTimeout: 120,
		},
		QuoteConfig: QuoteConfig{
			LiveTTLSeconds:     5,
			SnapshotTTLSeconds: 10,
			HistoryTTLMinutes:  240,
			MaxPerSecond:       10,
			MaxPerMinute:       200,
			RetryAttempts:      3,
			RetryBaseMillis:    250,
		},
		IndicatorConfig: IndicatorConfig{
			Period:         20,
			TrendLookback:  10,
			RefreshMinutes: 5,
			HistoryBars:    120,
		},
		EngineConfig: EngineConfig{
			ModifyThresholdPoints: 0.5,
			ConfirmCycles:         2,
			MaxDailyTrades:        20,
		},
		MonitorConfig: MonitorConfig{
			TickSeconds:            5,
			StreamTickSeconds:      15,
			BreakerCooldownSeconds: 30,
		},
		ServerConfig: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		AuthConfig: AuthConfig{
			TokenMinutes: 60,
		},
		VaultConfig: VaultConfig{
			MountPath:  "secret",
			SecretPath: "broker-keys",
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		RedisConfig: RedisConfig{
			Address: "localhost:6379",
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
	}
}

// applyEnvOverrides overlays environment variables onto the config
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.BrokerConfig.APIKey = v
	}
	if v := os.Getenv("BROKER_SECRET_KEY"); v != "" {
		c.BrokerConfig.SecretKey = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		c.BrokerConfig.BaseURL = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		c.BrokerConfig.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.DatabaseConfig.Host = v
		c.DatabaseConfig.Enabled = true
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.DatabaseConfig.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.DatabaseConfig.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DatabaseConfig.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DatabaseConfig.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisConfig.Address = v
		c.RedisConfig.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisConfig.Password = v
	}
	if v := os.Getenv("VAULT_ADDR"); v != "" {
		c.VaultConfig.Address = v
		c.VaultConfig.Enabled = true
	}
	if v := os.Getenv("VAULT_TOKEN"); v != "" {
		c.VaultConfig.Token = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.AuthConfig.JWTSecret = v
		c.AuthConfig.Enabled = true
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		c.AuthConfig.AdminPassword = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.ServerConfig.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LoggingConfig.Level = v
	}
}

// Validate checks the configuration for unusable values
func (c *Config) Validate() error {
	if c.QuoteConfig.MaxPerSecond <= 0 || c.QuoteConfig.MaxPerMinute <= 0 {
		return fmt.Errorf("quote rate caps must be positive")
	}
	if c.IndicatorConfig.Period < 2 {
		return fmt.Errorf("indicator period must be at least 2")
	}
	if c.EngineConfig.ModifyThresholdPoints <= 0 {
		return fmt.Errorf("modify threshold must be positive")
	}
	if c.EngineConfig.ConfirmCycles < 1 {
		return fmt.Errorf("confirm cycles must be at least 1")
	}
	if c.MonitorConfig.TickSeconds < 1 {
		return fmt.Errorf("monitor tick must be at least 1 second")
	}
	return nil
}

// TickInterval returns the scheduler cadence as a duration
func (c *MonitorConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// BreakerCooldown returns the polling pause after an upstream rate limit
func (c *MonitorConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// RefreshInterval returns the indicator refresh gate as a duration
func (c *IndicatorConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshMinutes) * time.Minute
}
