package cfg

import (
	"os"
	"testing"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}
}

func TestLoadDefaults(t *testing.T) {
	oldArgs := os.Args
	os.Args = []string{"feedloop"}
	defer func() { os.Args = oldArgs }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected configuration, got nil")
	}

	if cfg.FetchConcurrency != 3 {
		t.Errorf("Expected default fetch concurrency 3, got: %d", cfg.FetchConcurrency)
	}
	if cfg.BackoffMultiplier != 2 {
		t.Errorf("Expected default backoff multiplier 2, got: %f", cfg.BackoffMultiplier)
	}
	if cfg.HeartbeatInterval != 30 {
		t.Errorf("Expected default heartbeat interval 30, got: %d", cfg.HeartbeatInterval)
	}

	if Get() != cfg {
		t.Error("Get should return the loaded configuration")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	oldArgs := os.Args
	os.Args = []string{"feedloop"}
	defer func() { os.Args = oldArgs }()

	t.Setenv("FETCH_CONCURRENCY", "7")
	t.Setenv("BACKOFF_CEILING", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.FetchConcurrency != 7 {
		t.Errorf("Expected fetch concurrency 7, got: %d", cfg.FetchConcurrency)
	}
	if cfg.BackoffCeiling != 60 {
		t.Errorf("Expected backoff ceiling 60, got: %d", cfg.BackoffCeiling)
	}
}
