package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
chain:
  rpc_urls:
    - https://rpc.example.org
    - https://fallback.example.org
  pool_address: "0x794a61358D6845594F94dc1DB02A252b5b4814aD"
  oracle_address: "0xb56c2F0B653B2e0b10C9b928C8580Ac5Df02C7C7"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Chain.RPCURLs) != 2 {
		t.Fatalf("rpc_urls = %d, want 2", len(cfg.Chain.RPCURLs))
	}
	if cfg.Engine.ScanInterval != 5*time.Second {
		t.Errorf("scan_interval = %v, want 5s", cfg.Engine.ScanInterval)
	}
	if cfg.Engine.Cooldown != time.Hour {
		t.Errorf("cooldown = %v, want 1h", cfg.Engine.Cooldown)
	}
	if cfg.Risk.ActionThreshold != 1.02 {
		t.Errorf("action_threshold = %v, want 1.02", cfg.Risk.ActionThreshold)
	}
	if cfg.Discovery.LowWatermark != 500 || cfg.Discovery.HighWatermark != 2000 {
		t.Errorf("watermarks = %d/%d, want 500/2000", cfg.Discovery.LowWatermark, cfg.Discovery.HighWatermark)
	}
	if cfg.Chain.DispatchGasLimit != 1_000_000 {
		t.Errorf("dispatch_gas_limit = %d, want 1000000", cfg.Chain.DispatchGasLimit)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KEEPER_ENGINE_BATCH_SIZE", "7")
	t.Setenv("KEEPER_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.BatchSize != 7 {
		t.Errorf("batch_size = %d, want env override 7", cfg.Engine.BatchSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsMissingEndpoints(t *testing.T) {
	_, err := Load(writeConfig(t, `
chain:
  pool_address: "0x01"
  oracle_address: "0x02"
`))
	if err == nil || !strings.Contains(err.Error(), "rpc_urls") {
		t.Fatalf("expected rpc_urls error, got %v", err)
	}
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}

	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled telegram without credentials must fail validation")
	}

	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = "42"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateWatermarkOrdering(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}

	cfg.Discovery.LowWatermark = 3000
	if err := cfg.Validate(); err == nil {
		t.Fatal("low watermark above high must fail validation")
	}
}
