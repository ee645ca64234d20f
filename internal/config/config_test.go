package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
wallets:
  - address: "0xWHALE"
    name: "Whale"
    mirror_ratio: 0.2
    max_budget: 500
budget:
  global_cap: 2000
risk:
  check_interval: 45s
execution:
  cooldown: 250ms
exchange:
  dry_run: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ParsesDurationsAndAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Risk.CheckInterval.Std() != 45*time.Second {
		t.Errorf("check_interval = %s, want 45s", cfg.Risk.CheckInterval.Std())
	}
	if cfg.Execution.Cooldown.Std() != 250*time.Millisecond {
		t.Errorf("cooldown = %s, want 250ms", cfg.Execution.Cooldown.Std())
	}

	// Unset fields fall back to defaults.
	if cfg.Risk.StopLossPct != 0.20 {
		t.Errorf("stop_loss_pct default = %v, want 0.20", cfg.Risk.StopLossPct)
	}
	if cfg.Watcher.PollInterval.Std() != 3*time.Second {
		t.Errorf("poll_interval default = %s, want 3s", cfg.Watcher.PollInterval.Std())
	}
	if cfg.Execution.MaxStallRetries != 10 {
		t.Errorf("max_stall_retries default = %d, want 10", cfg.Execution.MaxStallRetries)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config should validate: %v", err)
	}
}

func TestLoad_BadDurationFails(t *testing.T) {
	if _, err := Load(writeConfig(t, "risk:\n  check_interval: soon\n")); err == nil {
		t.Fatal("expected a parse error for a malformed duration")
	}
}

func TestValidate_RequiresWalletsAndKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, "exchange:\n  dry_run: true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure without wallets")
	}

	cfg, err = Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Exchange.DryRun = false
	cfg.Exchange.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("live trading without an api key must not validate")
	}
}
