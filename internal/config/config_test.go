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
	if cfg.Address != ":3003" {
		t.Errorf("Address = %q, want :3003", cfg.Address)
	}
	if cfg.DBPath != "gateway.db" {
		t.Errorf("DBPath = %q, want gateway.db", cfg.DBPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.HeartbeatInterval != 0 {
		t.Errorf("HeartbeatInterval = %v, want 0", cfg.HeartbeatInterval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_ADDRESS", "127.0.0.1:9999")
	t.Setenv("GATEWAY_DB_PATH", "/tmp/test.db")
	t.Setenv("GATEWAY_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("GATEWAY_RESUME_WINDOW", "5m")
	t.Setenv("GATEWAY_INBOX_CAPACITY", "512")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "127.0.0.1:9999" {
		t.Errorf("Address = %q, want 127.0.0.1:9999", cfg.Address)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ResumeWindow != 5*time.Minute {
		t.Errorf("ResumeWindow = %v, want 5m", cfg.ResumeWindow)
	}
	if cfg.InboxCapacity != 512 {
		t.Errorf("InboxCapacity = %d, want 512", cfg.InboxCapacity)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("GATEWAY_HEARTBEAT_INTERVAL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a malformed duration")
	}
}
