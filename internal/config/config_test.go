package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "support-desk" {
		t.Errorf("app name = %q", cfg.App.Name)
	}
	if cfg.App.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %q", cfg.App.Addr())
	}
	if cfg.Chat.DefaultMaxChats != 3 {
		t.Errorf("default max chats = %d", cfg.Chat.DefaultMaxChats)
	}
	if cfg.SLA.SweepInterval() != 2*time.Minute {
		t.Errorf("sweep interval = %v", cfg.SLA.SweepInterval())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("SLA_SWEEP_INTERVAL_SECONDS", "30")
	t.Setenv("CHAT_DEFAULT_MAX_CHATS", "5")
	t.Setenv("WS_PONG_WAIT_SECONDS", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != "9090" {
		t.Errorf("port = %q", cfg.App.Port)
	}
	if cfg.SLA.SweepInterval() != 30*time.Second {
		t.Errorf("sweep interval = %v", cfg.SLA.SweepInterval())
	}
	if cfg.Chat.DefaultMaxChats != 5 {
		t.Errorf("max chats = %d", cfg.Chat.DefaultMaxChats)
	}
	if cfg.Websocket.PongWait() != 40*time.Second {
		t.Errorf("pong wait = %v", cfg.Websocket.PongWait())
	}
	if cfg.Websocket.PingPeriod() >= cfg.Websocket.PongWait() {
		t.Error("ping period must be shorter than pong wait")
	}
}

func TestInvalidIntsFallBack(t *testing.T) {
	t.Setenv("CHAT_DEFAULT_MAX_CHATS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.DefaultMaxChats != 3 {
		t.Errorf("max chats = %d, want default", cfg.Chat.DefaultMaxChats)
	}
}
