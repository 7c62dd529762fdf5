package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recording.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Recording.SampleRate)
	}
	if cfg.Gateway.MaxReconnects != 8 || cfg.Gateway.MaxPairingAttempts != 60 {
		t.Fatalf("unexpected reconnect defaults: %+v", cfg.Gateway)
	}
	if !cfg.Speech.Enabled {
		t.Fatal("expected speech enabled by default")
	}
	if cfg.Telemetry.TraceSampleRatio != 1.0 {
		t.Fatalf("expected full trace sampling by default, got %f", cfg.Telemetry.TraceSampleRatio)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_GATEWAY_URL", "wss://agent.example.com/ws")
	t.Setenv("MURMUR_GATEWAY_TOKEN", "tok-123")
	t.Setenv("MURMUR_GATEWAY_SCOPES", "chat, history")
	t.Setenv("MURMUR_RECORDING_MIN_LEVEL_DBFS", "-48.5")
	t.Setenv("MURMUR_SPEECH_ENABLED", "false")
	t.Setenv("MURMUR_HISTORY_MAX_ENTRIES", "42")
	t.Setenv("MURMUR_TELEMETRY_TRACE_SAMPLE_RATIO", "0.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.URL != "wss://agent.example.com/ws" {
		t.Fatalf("expected gateway url override, got %s", cfg.Gateway.URL)
	}
	if cfg.Gateway.Token != "tok-123" {
		t.Fatal("expected token override")
	}
	if len(cfg.Gateway.Scopes) != 2 || cfg.Gateway.Scopes[1] != "history" {
		t.Fatalf("expected scopes override, got %v", cfg.Gateway.Scopes)
	}
	if cfg.Recording.MinLevelDBFS != -48.5 {
		t.Fatalf("expected level override, got %f", cfg.Recording.MinLevelDBFS)
	}
	if cfg.Speech.Enabled {
		t.Fatal("expected speech disabled")
	}
	if cfg.History.MaxEntries != 42 {
		t.Fatalf("expected max entries override, got %d", cfg.History.MaxEntries)
	}
	if cfg.Telemetry.TraceSampleRatio != 0.25 {
		t.Fatalf("expected sample ratio override, got %f", cfg.Telemetry.TraceSampleRatio)
	}
}

func TestValidateRejectsBadSampleRatio(t *testing.T) {
	t.Setenv("MURMUR_TELEMETRY_TRACE_SAMPLE_RATIO", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for out-of-range sample ratio")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.yaml")
	data := []byte("gateway:\n  url: wss://remote/ws\nrecording:\n  min_duration_ms: 450\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.URL != "wss://remote/ws" {
		t.Fatalf("expected file override, got %s", cfg.Gateway.URL)
	}
	if cfg.Recording.MinDurationMS != 450 {
		t.Fatalf("expected min duration override, got %d", cfg.Recording.MinDurationMS)
	}
}

func TestValidateRejectsBadGatewayURL(t *testing.T) {
	t.Setenv("MURMUR_GATEWAY_URL", "http://not-a-socket")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for non-ws url")
	}
}
