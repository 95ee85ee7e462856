package config

import (
	"testing"
	"time"
)

func TestLoadFakerConfig_Defaults(t *testing.T) {
	cfg, err := LoadFakerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8443" {
		t.Errorf("expected :8443, got %s", cfg.Addr)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("expected 30s read timeout, got %s", cfg.ReadTimeout)
	}
	if cfg.BotUsername != "bot" || cfg.BotUserID != 456 {
		t.Errorf("unexpected bot identity %s/%d", cfg.BotUsername, cfg.BotUserID)
	}
}

func TestLoadFakerConfig_Env(t *testing.T) {
	t.Setenv("PODFAKER_ADDR", "127.0.0.1:9000")
	t.Setenv("PODFAKER_READ_TIMEOUT", "2s")
	t.Setenv("PODFAKER_BOT_USER_ID", "789")

	cfg, err := LoadFakerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.ReadTimeout != 2*time.Second || cfg.BotUserID != 789 {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestLoadFakerConfig_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PODFAKER_READ_TIMEOUT", "soon"},
		{"PODFAKER_READ_TIMEOUT", "-1s"},
		{"PODFAKER_BOT_USER_ID", "abc"},
		{"PODFAKER_BOT_USER_ID", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFakerConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
