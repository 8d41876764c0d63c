// Package config loads and validates bot service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Sender  SenderConfig  `mapstructure:"sender"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Bot     Bot           `mapstructure:"bot"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for lifecycle event publishing. An empty
// project selects the in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WebhookConfig configures webhook verification.
type WebhookConfig struct {
	VerifyToken string `mapstructure:"verify_token"`
}

// SenderConfig configures the outbound provider channels.
type SenderConfig struct {
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	RatePerSecond  float64        `mapstructure:"rate_per_second"`
	Burst          int            `mapstructure:"burst"`
	GreenAPI       GreenAPIConfig `mapstructure:"greenapi"`
	CloudAPI       CloudAPIConfig `mapstructure:"cloudapi"`
}

// GreenAPIConfig configures the Green API channel.
type GreenAPIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	InstanceID string `mapstructure:"instance_id"`
	Token      string `mapstructure:"token"`
}

// CloudAPIConfig configures the WhatsApp Business Cloud API channel.
type CloudAPIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIVersion string `mapstructure:"api_version"`
	PhoneID    string `mapstructure:"phone_id"`
	Token      string `mapstructure:"token"`
}

// TasksConfig governs the task executor.
type TasksConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// Bot holds the default runtime behavior knobs. Each of these can be
// overridden at runtime through the persisted settings map.
type Bot struct {
	MinGroupSize       int  `mapstructure:"min_group_size"`
	MaxGroupSize       int  `mapstructure:"max_group_size"`
	MessageCooldown    int  `mapstructure:"message_cooldown"`
	UserCooldown       int  `mapstructure:"user_cooldown"`
	RateLimitWindow    int  `mapstructure:"rate_limit_window"`
	RateLimitMax       int  `mapstructure:"rate_limit_max"`
	BarProgressionTime int  `mapstructure:"bar_progression_time"`
	WaitBetweenBars    int  `mapstructure:"wait_between_bars"`
	JoinDeadline       int  `mapstructure:"join_deadline"`
	AutoGroupCreation  bool `mapstructure:"auto_group_creation"`
	SmartMatching      bool `mapstructure:"smart_matching"`
	AutoProgression    bool `mapstructure:"auto_progression"`
	DebugMode          bool `mapstructure:"debug_mode"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("sender.timeout_seconds", 10)
	v.SetDefault("sender.rate_per_second", 10)
	v.SetDefault("sender.burst", 5)
	v.SetDefault("sender.cloudapi.base_url", "https://graph.facebook.com")
	v.SetDefault("sender.cloudapi.api_version", "v17.0")
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.queue_depth", 256)
	v.SetDefault("bot.min_group_size", 3)
	v.SetDefault("bot.max_group_size", 5)
	v.SetDefault("bot.message_cooldown", 30)
	v.SetDefault("bot.user_cooldown", 10)
	v.SetDefault("bot.rate_limit_window", 300)
	v.SetDefault("bot.rate_limit_max", 5)
	v.SetDefault("bot.bar_progression_time", 3600)
	v.SetDefault("bot.wait_between_bars", 900)
	v.SetDefault("bot.join_deadline", 1800)
	v.SetDefault("bot.auto_group_creation", true)
	v.SetDefault("bot.smart_matching", false)
	v.SetDefault("bot.auto_progression", true)
	v.SetDefault("bot.debug_mode", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0")
	}
	if c.Bot.MinGroupSize <= 0 {
		return fmt.Errorf("bot.min_group_size must be > 0")
	}
	if c.Bot.MaxGroupSize < c.Bot.MinGroupSize {
		return fmt.Errorf("bot.max_group_size must be >= bot.min_group_size")
	}
	if c.Bot.RateLimitMax <= 0 {
		return fmt.Errorf("bot.rate_limit_max must be > 0")
	}
	if c.Sender.TimeoutSeconds <= 0 {
		return fmt.Errorf("sender.timeout_seconds must be > 0")
	}
	return nil
}

// SenderTimeout converts the sender timeout into a duration.
func (c Config) SenderTimeout() time.Duration {
	return time.Duration(c.Sender.TimeoutSeconds) * time.Second
}
