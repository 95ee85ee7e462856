// Package config loads the bot configuration from a YAML or JSON file and
// BDK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/symphony-datafeed/internal/datafeed"
	"github.com/dgnsrekt/symphony-datafeed/internal/notify"
	"github.com/dgnsrekt/symphony-datafeed/internal/retry"
)

// Service names a platform endpoint with its own optional overrides.
type Service string

const (
	ServicePod         Service = "pod"
	ServiceAgent       Service = "agent"
	ServiceSessionAuth Service = "sessionAuth"
	ServiceKeyManager  Service = "keyManager"
)

type Config struct {
	ClientConfig `mapstructure:",squash"`

	Pod         ClientConfig `mapstructure:"pod"`
	Agent       ClientConfig `mapstructure:"agent"`
	SessionAuth ClientConfig `mapstructure:"sessionAuth"`
	KeyManager  ClientConfig `mapstructure:"keyManager"`

	Bot       BotConfig       `mapstructure:"bot"`
	App       AppConfig       `mapstructure:"app"`
	Datafeed  DatafeedConfig  `mapstructure:"datafeed"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Notify    notify.Config   `mapstructure:"notify"`
}

// ClientConfig locates one service. Zero fields of a per-service block
// inherit the global value.
type ClientConfig struct {
	Scheme         string            `mapstructure:"scheme"`
	Host           string            `mapstructure:"host"`
	Port           int               `mapstructure:"port"`
	Context        string            `mapstructure:"context"`
	Proxy          string            `mapstructure:"proxy"`
	DefaultHeaders map[string]string `mapstructure:"defaultHeaders"`
}

type KeyConfig struct {
	Path    string `mapstructure:"path"`
	Content string `mapstructure:"content"`
}

func (k KeyConfig) IsSet() bool {
	return k.Path != "" || k.Content != ""
}

type CertificateConfig struct {
	Path     string `mapstructure:"path"`
	Password string `mapstructure:"password"`
}

type BotConfig struct {
	Username    string            `mapstructure:"username"`
	PrivateKey  KeyConfig         `mapstructure:"privateKey"`
	Certificate CertificateConfig `mapstructure:"certificate"`
}

// AppConfig holds the extension app credentials used for OBO sessions.
type AppConfig struct {
	AppID      string    `mapstructure:"appId"`
	PrivateKey KeyConfig `mapstructure:"privateKey"`
}

type DatafeedConfig struct {
	Version    string       `mapstructure:"version"`
	IDFilePath string       `mapstructure:"idFilePath"`
	Retry      retry.Policy `mapstructure:"retry"`
	Tag        string       `mapstructure:"tag"`
	Dispatch   string       `mapstructure:"dispatch"`
}

// ParsedVersion falls back to v1 for anything but "v2".
func (d DatafeedConfig) ParsedVersion() datafeed.Version {
	return datafeed.ParseVersion(d.Version)
}

type AuthConfig struct {
	Retry retry.Policy `mapstructure:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("scheme", "https")
	v.SetDefault("port", 443)
	v.SetDefault("datafeed.version", "v1")
	v.SetDefault("datafeed.dispatch", "sequential")
	v.SetDefault("datafeed.retry.maxAttempts", 0)
	v.SetDefault("datafeed.retry.initialInterval", retry.DefaultInitialInterval)
	v.SetDefault("datafeed.retry.multiplier", retry.DefaultMultiplier)
	v.SetDefault("datafeed.retry.maxInterval", retry.DefaultMaxInterval)
	v.SetDefault("auth.retry.maxAttempts", 5)
	v.SetDefault("auth.retry.initialInterval", retry.DefaultInitialInterval)
	v.SetDefault("auth.retry.multiplier", retry.DefaultMultiplier)
	v.SetDefault("auth.retry.maxInterval", 10*time.Second)
	v.SetDefault("rateLimit.requestsPerSecond", 0)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "robot")

	// Environment variable support
	v.SetEnvPrefix("BDK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Keys without a default are only seen by AutomaticEnv once bound
	for _, key := range []string{
		"host",
		"proxy",
		"bot.username",
		"bot.privateKey.path",
		"bot.privateKey.content",
		"bot.certificate.path",
		"bot.certificate.password",
		"app.appId",
		"app.privateKey.path",
		"app.privateKey.content",
		"datafeed.idFilePath",
		"datafeed.tag",
		"notify.topic",
		"notify.token",
	} {
		_ = v.BindEnv(key)
	}

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bot")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Service returns the effective settings of one service.
func (c *Config) Service(name Service) ClientConfig {
	var override ClientConfig
	switch name {
	case ServicePod:
		override = c.Pod
	case ServiceAgent:
		override = c.Agent
	case ServiceSessionAuth:
		override = c.SessionAuth
	case ServiceKeyManager:
		override = c.KeyManager
	}
	return c.ClientConfig.merge(override)
}

func (c *Config) ServiceURL(name Service) string {
	return c.Service(name).BaseURL()
}

func (c ClientConfig) merge(o ClientConfig) ClientConfig {
	out := c
	if o.Scheme != "" {
		out.Scheme = o.Scheme
	}
	if o.Host != "" {
		out.Host = o.Host
	}
	if o.Port != 0 {
		out.Port = o.Port
	}
	if o.Context != "" {
		out.Context = o.Context
	}
	if o.Proxy != "" {
		out.Proxy = o.Proxy
	}
	if len(o.DefaultHeaders) > 0 {
		headers := make(map[string]string, len(c.DefaultHeaders)+len(o.DefaultHeaders))
		for k, v := range c.DefaultHeaders {
			headers[k] = v
		}
		for k, v := range o.DefaultHeaders {
			headers[k] = v
		}
		out.DefaultHeaders = headers
	}
	return out
}

// BaseURL renders scheme://host[:port][/context].
func (c ClientConfig) BaseURL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(c.Host)
	if c.Port != 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(c.Port))
	}
	if ctx := strings.Trim(c.Context, "/"); ctx != "" {
		sb.WriteString("/")
		sb.WriteString(ctx)
	}
	return sb.String()
}
