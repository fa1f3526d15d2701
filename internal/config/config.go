package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Summary SummaryConfig `mapstructure:"summary"`
	Persona PersonaConfig `mapstructure:"persona"`
	Emoji   EmojiConfig   `mapstructure:"emoji"`
	Log     LogConfig     `mapstructure:"log"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Configured reports whether enough is set to reach a completion endpoint.
func (c LLMConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.Model) != ""
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// StoreConfig selects the key-value backend: "sqlite", "redis" or "memory".
type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ChatConfig tunes turn aggregation and playback.
type ChatConfig struct {
	DebounceWindow  time.Duration `mapstructure:"debounce_window"`
	ContextMessages int           `mapstructure:"context_messages"`
	TypingDelayMin  time.Duration `mapstructure:"typing_delay_min"`
	TypingDelayMax  time.Duration `mapstructure:"typing_delay_max"`
	EmojiWindow     int           `mapstructure:"emoji_window"`
}

// SummaryConfig holds the auto-summary defaults. Runtime changes go through the
// settings key in the store; these values seed it.
type SummaryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Interval     int  `mapstructure:"interval"`
	MaxSnapshots int  `mapstructure:"max_snapshots"`
	TailMessages int  `mapstructure:"tail_messages"`
}

// PersonaConfig is the static stand-in for the persona/world editor.
type PersonaConfig struct {
	DefaultPrompt string            `mapstructure:"default_prompt"`
	Conversations map[string]string `mapstructure:"conversations"`
}

// EmojiConfig maps catalog keys to a human-readable tag.
type EmojiConfig struct {
	Catalog map[string]string `mapstructure:"catalog"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.9)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "phonechat.db")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.prefix", "phonechat:")

	v.SetDefault("chat.debounce_window", "3m")
	v.SetDefault("chat.context_messages", 20)
	v.SetDefault("chat.typing_delay_min", "600ms")
	v.SetDefault("chat.typing_delay_max", "2s")
	v.SetDefault("chat.emoji_window", 6)

	v.SetDefault("summary.enabled", true)
	v.SetDefault("summary.interval", 3)
	v.SetDefault("summary.max_snapshots", 20)
	v.SetDefault("summary.tail_messages", 20)

	v.SetDefault("persona.default_prompt", "You are a friend chatting with the user on their phone. Keep messages short and casual.")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads the configuration. The file is CONFIG_PATH when set, otherwise
// config.yaml in the working directory; a missing file leaves the defaults in
// place. PHONECHAT_* environment variables (also read from .env) override both.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("phonechat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.normalize()

	return &config, nil
}

func (c *Config) normalize() {
	if c.Summary.Interval < 1 {
		c.Summary.Interval = 1
	}
	if c.Summary.Interval > 20 {
		c.Summary.Interval = 20
	}
	if c.Chat.TypingDelayMax < c.Chat.TypingDelayMin {
		c.Chat.TypingDelayMax = c.Chat.TypingDelayMin
	}
}
