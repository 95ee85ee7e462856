package notify

import (
	"errors"
	"fmt"
)

// Config is the notify section of the bot configuration.
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`   // ntfy server URL
	Topic    string `mapstructure:"topic"`    // required when enabled
	Priority string `mapstructure:"priority"` // min, low, default, high, urgent
	Tags     string `mapstructure:"tags"`     // comma-separated emoji tags
	Token    string `mapstructure:"token"`    // access token for private topics
}

var validPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Topic == "" {
		return errors.New("notify.topic is required when notify.enabled is true")
	}
	if c.Server == "" {
		return errors.New("notify.server is required when notify.enabled is true")
	}
	if !validPriorities[c.Priority] {
		return fmt.Errorf("invalid notify.priority: %s (valid: min, low, default, high, urgent)", c.Priority)
	}

	return nil
}
