package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CORDAI"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Chat        ChatConfig                `mapstructure:"chat"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Solana      SolanaConfig              `mapstructure:"solana"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
}

type BasicConfig struct {
	ServerAddress string `mapstructure:"server_address"`
}

type ChatConfig struct {
	AgentName            string `mapstructure:"agent_name"`
	Mode                 string `mapstructure:"mode"`
	Provider             string `mapstructure:"provider"`
	Model                string `mapstructure:"model"`
	RequireUserID        bool   `mapstructure:"require_user_id"`
	StreamTimeoutSeconds int    `mapstructure:"stream_timeout_seconds"`
	GenerateTitles       bool   `mapstructure:"generate_titles"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

type SolanaConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	PriceURL          string `mapstructure:"price_url"`
	PriceCacheSeconds int    `mapstructure:"price_cache_seconds"`
	BalanceRateLimit  int    `mapstructure:"balance_rate_limit"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	MemoryTTLMinutes int    `mapstructure:"memory_ttl_minutes"`
}

// StreamTimeout is the wall-clock budget of one chat request.
func (c ChatConfig) StreamTimeout() time.Duration {
	if c.StreamTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

// PriceCacheTTL is how long a fetched quote is served from memory.
func (c SolanaConfig) PriceCacheTTL() time.Duration {
	if c.PriceCacheSeconds < 0 {
		return 0
	}
	return time.Duration(c.PriceCacheSeconds) * time.Second
}

// MemoryTTL is the lifetime of a thread history kept in redis.
func (c RedisConfig) MemoryTTL() time.Duration {
	if c.MemoryTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.MemoryTTLMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("chat.agent_name", "cordaiAgent")
	v.SetDefault("chat.mode", "agent")
	v.SetDefault("chat.provider", "openai")
	v.SetDefault("chat.model", "")
	v.SetDefault("chat.require_user_id", true)
	v.SetDefault("chat.stream_timeout_seconds", 120)
	v.SetDefault("chat.generate_titles", false)
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.price_url", "https://api.coingecko.com/api/v3/simple/price")
	v.SetDefault("solana.price_cache_seconds", 30)
	v.SetDefault("solana.balance_rate_limit", 10)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.memory_ttl_minutes", 30)
}

// Load reads configuration from the provided path (defaults to config.json).
// CORDAI_* environment variables override file values, e.g. CORDAI_CHAT_MODE.
// A missing default config.json is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if _, statErr := os.Stat(absPath); statErr == nil {
		v.SetConfigFile(absPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	} else if explicit || !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("open config %s: %w", absPath, statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyProviderEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for name, db := range cfg.Databases {
		if db.DSN != "" && name != "mysql" && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") && db.DSN != ":memory:" {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return &cfg, nil
}

// applyProviderEnv lets the usual provider key variables fill missing api keys.
func applyProviderEnv(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	envKeys := map[string]string{
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GEMINI_API_KEY",
	}
	for name, env := range envKeys {
		p := cfg.Providers[name]
		if p.APIKey == "" {
			p.APIKey = os.Getenv(env)
		}
		cfg.Providers[name] = p
	}
}

// Validate checks the values other packages rely on.
func (c *Config) Validate() error {
	switch c.Chat.Mode {
	case "agent", "model":
	default:
		return fmt.Errorf("chat.mode must be agent or model, got %q", c.Chat.Mode)
	}
	if strings.TrimSpace(c.Chat.AgentName) == "" {
		return errors.New("chat.agent_name must be configured")
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	return nil
}
