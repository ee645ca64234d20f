package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration lets YAML carry humane values like "60s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WalletConfig describes one tracked wallet.
type WalletConfig struct {
	Address     string  `yaml:"address"`
	Name        string  `yaml:"name"`
	MirrorRatio float64 `yaml:"mirror_ratio"`
	MaxBudget   float64 `yaml:"max_budget"`
}

// Config holds all application configuration.
type Config struct {
	Wallets []WalletConfig `yaml:"wallets"`
	Budget  struct {
		GlobalCap      float64 `yaml:"global_cap"`
		DailyCap       float64 `yaml:"daily_cap"`
		DailyResetCron string  `yaml:"daily_reset_cron"`
	} `yaml:"budget"`
	Risk struct {
		StopLossPct   float64  `yaml:"stop_loss_pct"`
		TakeProfitPct float64  `yaml:"take_profit_pct"`
		CheckInterval Duration `yaml:"check_interval"`
	} `yaml:"risk"`
	Execution struct {
		LiquidityFraction float64  `yaml:"liquidity_fraction"`
		DepthLevels       int      `yaml:"depth_levels"`
		Cooldown          Duration `yaml:"cooldown"`
		MaxChunkAttempts  int      `yaml:"max_chunk_attempts"`
		BackoffBase       Duration `yaml:"backoff_base"`
		MaxStallRetries   int      `yaml:"max_stall_retries"`
	} `yaml:"execution"`
	Exchange struct {
		BaseURL        string  `yaml:"base_url"`
		WsURL          string  `yaml:"ws_url"`
		APIKey         string  `yaml:"api_key"`
		DryRun         bool    `yaml:"dry_run"`
		InitialBalance float64 `yaml:"initial_balance"` // simulated balance for dry runs
	} `yaml:"exchange"`
	Watcher struct {
		ActivityURL  string   `yaml:"activity_url"`
		PollInterval Duration `yaml:"poll_interval"`
	} `yaml:"watcher"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_WS_URL"); v != "" {
		cfg.Exchange.WsURL = v
	}
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.Exchange.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("ACTIVITY_URL"); v != "" {
		cfg.Watcher.ActivityURL = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("GLOBAL_BUDGET_CAP"); v != "" {
		var amount float64
		if _, err := fmt.Sscanf(v, "%f", &amount); err == nil {
			cfg.Budget.GlobalCap = amount
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	// Defaults
	if cfg.Budget.GlobalCap == 0 {
		cfg.Budget.GlobalCap = 1000
	}
	if cfg.Budget.DailyResetCron == "" {
		cfg.Budget.DailyResetCron = "0 0 0 * * *"
	}
	if cfg.Risk.StopLossPct == 0 {
		cfg.Risk.StopLossPct = 0.20
	}
	if cfg.Risk.TakeProfitPct == 0 {
		cfg.Risk.TakeProfitPct = 0.90
	}
	if cfg.Risk.CheckInterval == 0 {
		cfg.Risk.CheckInterval = Duration(60 * time.Second)
	}
	if cfg.Execution.LiquidityFraction == 0 {
		cfg.Execution.LiquidityFraction = 0.25
	}
	if cfg.Execution.DepthLevels == 0 {
		cfg.Execution.DepthLevels = 5
	}
	if cfg.Execution.Cooldown == 0 {
		cfg.Execution.Cooldown = Duration(3 * time.Second)
	}
	if cfg.Execution.MaxChunkAttempts == 0 {
		cfg.Execution.MaxChunkAttempts = 5
	}
	if cfg.Execution.BackoffBase == 0 {
		cfg.Execution.BackoffBase = Duration(500 * time.Millisecond)
	}
	if cfg.Execution.MaxStallRetries == 0 {
		cfg.Execution.MaxStallRetries = 10
	}
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://clob.polymarket.com"
	}
	if cfg.Exchange.WsURL == "" {
		cfg.Exchange.WsURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Exchange.InitialBalance == 0 {
		cfg.Exchange.InitialBalance = 10000
	}
	if cfg.Watcher.ActivityURL == "" {
		cfg.Watcher.ActivityURL = "https://data-api.polymarket.com/activity"
	}
	if cfg.Watcher.PollInterval == 0 {
		cfg.Watcher.PollInterval = Duration(3 * time.Second)
	}
	for i := range cfg.Wallets {
		if cfg.Wallets[i].Name == "" {
			cfg.Wallets[i].Name = "Unknown"
		}
		if cfg.Wallets[i].MirrorRatio == 0 {
			cfg.Wallets[i].MirrorRatio = 0.1
		}
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if len(c.Wallets) == 0 {
		return fmt.Errorf("at least one wallet is required")
	}
	for _, w := range c.Wallets {
		if w.Address == "" {
			return fmt.Errorf("wallet address is required")
		}
		if w.MirrorRatio < 0 || w.MirrorRatio > 1 {
			return fmt.Errorf("wallet %s: mirror_ratio must be in (0, 1]", w.Address)
		}
	}
	if c.Budget.GlobalCap <= 0 {
		return fmt.Errorf("budget.global_cap must be positive")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0, 1)")
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be positive")
	}
	if c.Execution.LiquidityFraction <= 0 || c.Execution.LiquidityFraction > 1 {
		return fmt.Errorf("execution.liquidity_fraction must be in (0, 1]")
	}
	if !c.Exchange.DryRun && c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required unless dry_run is set")
	}
	return nil
}
