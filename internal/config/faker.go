package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FakerConfig configures the fake pod server. Every field comes from a
// PODFAKER_* environment variable; command-line flags override them.
type FakerConfig struct {
	Addr        string
	SeedFile    string
	ReadTimeout time.Duration
	BotUsername string
	BotUserID   int64
	// PublicKeyFile, when set, is registered for BotUsername so JWTs are
	// verified instead of trusted.
	PublicKeyFile string
}

func LoadFakerConfig() (*FakerConfig, error) {
	// Parse read timeout
	readTimeout, err := time.ParseDuration(getEnvOrDefault("PODFAKER_READ_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PODFAKER_READ_TIMEOUT: %w", err)
	}

	botUserID, err := strconv.ParseInt(getEnvOrDefault("PODFAKER_BOT_USER_ID", "456"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PODFAKER_BOT_USER_ID: %w", err)
	}

	cfg := &FakerConfig{
		Addr:          getEnvOrDefault("PODFAKER_ADDR", ":8443"),
		SeedFile:      getEnvOrDefault("PODFAKER_SEED", ""),
		ReadTimeout:   readTimeout,
		BotUsername:   getEnvOrDefault("PODFAKER_BOT_USERNAME", "bot"),
		BotUserID:     botUserID,
		PublicKeyFile: getEnvOrDefault("PODFAKER_PUBLIC_KEY", ""),
	}

	return cfg, cfg.Validate()
}

func (c *FakerConfig) Validate() error {
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout %s: must be positive", c.ReadTimeout)
	}
	if c.BotUserID <= 0 {
		return fmt.Errorf("invalid bot user id %d: must be positive", c.BotUserID)
	}
	if c.BotUsername == "" {
		return fmt.Errorf("bot username is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
