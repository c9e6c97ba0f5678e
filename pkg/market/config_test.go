package market_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	market "marketspine/pkg/market"
	_ "marketspine/pkg/market/mock"
	_ "marketspine/pkg/market/rest"
)

func TestLoadMarketConfig(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
default: gateway
providers:
  gateway:
    type: rest
    base_url: https://gateway.example.com/api
    timeout: 6s
    http_timeout: 12s
    max_retries: 4
  offline:
    type: mock
`
	path := filepath.Join(dir, "market.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := market.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Default != "gateway" {
		t.Fatalf("unexpected default: %s", cfg.Default)
	}

	providers, err := cfg.BuildProviders()
	if err != nil {
		t.Fatalf("BuildProviders error: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if _, ok := providers["gateway"]; !ok {
		t.Fatalf("provider map missing gateway")
	}
	if _, ok := providers["offline"]; !ok {
		t.Fatalf("provider map missing offline")
	}
}

func TestMarketConfigInvalidType(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
providers:
  demo:
    type: foobar
`
	path := filepath.Join(dir, "market.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := market.LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}

func TestMarketConfigUnknownDefault(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
default: missing
providers:
  offline:
    type: mock
`
	path := filepath.Join(dir, "market.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := market.LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "not defined") {
		t.Fatalf("expected unknown default error, got %v", err)
	}
}
