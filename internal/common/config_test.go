package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	if d := ParseDuration("30s", time.Minute); d != 30*time.Second {
		t.Errorf("Expected 30s, got %s", d)
	}
	if d := ParseDuration("", time.Minute); d != time.Minute {
		t.Errorf("Expected fallback, got %s", d)
	}
	if d := ParseDuration("0", time.Minute); d != 0 {
		t.Errorf("Explicit zero means disabled, got %s", d)
	}
	if d := ParseDuration("garbage", time.Minute); d != time.Minute {
		t.Errorf("Expected fallback on parse error, got %s", d)
	}
}

func TestParseInt(t *testing.T) {
	if n := ParseInt("10", 5); n != 10 {
		t.Errorf("Expected 10, got %d", n)
	}
	if n := ParseInt("", 5); n != 5 {
		t.Errorf("Expected fallback, got %d", n)
	}
	if n := ParseInt("x", 5); n != 5 {
		t.Errorf("Expected fallback on parse error, got %d", n)
	}
}

func TestLoadFromFilesOverrides(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	if err := os.WriteFile(base, []byte("[server]\nport = 9000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	override := filepath.Join(dir, "override.toml")
	if err := os.WriteFile(override, []byte("[server]\nport = 9001\n\n[queue]\nconcurrency = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatal(err)
	}

	if config.Server.Port != 9001 {
		t.Errorf("Later file should win, got port %d", config.Server.Port)
	}
	if config.Queue.Concurrency != 2 {
		t.Errorf("Expected concurrency 2, got %d", config.Queue.Concurrency)
	}
	// Untouched values keep their defaults
	if config.Queue.QueueName != "relay_jobs" {
		t.Errorf("Expected default queue name, got %s", config.Queue.QueueName)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "7070")
	t.Setenv("RELAY_QUEUE_MAX_RECEIVE", "9")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatal(err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("Env should override default port, got %d", config.Server.Port)
	}
	if config.Queue.MaxReceive != 9 {
		t.Errorf("Env should override max receive, got %d", config.Queue.MaxReceive)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 8443, "0.0.0.0")
	if config.Server.Port != 8443 || config.Server.Host != "0.0.0.0" {
		t.Errorf("Flags should override: %+v", config.Server)
	}

	ApplyFlagOverrides(config, 0, "")
	if config.Server.Port != 8443 {
		t.Error("Zero values must not clobber existing config")
	}
}
