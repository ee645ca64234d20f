package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"WhaleMirror/internal/config"
	"WhaleMirror/internal/engine"
	"WhaleMirror/internal/exchange"
	"WhaleMirror/internal/executor"
	"WhaleMirror/internal/ledger"
	"WhaleMirror/internal/model"
	"WhaleMirror/internal/scheduler"
	"WhaleMirror/internal/watcher"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] WhaleMirror starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	targets := make([]model.WalletTarget, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		targets = append(targets, model.WalletTarget{
			Address:     w.Address,
			Name:        w.Name,
			MirrorRatio: w.MirrorRatio,
			MaxBudget:   w.MaxBudget,
		})
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init exchange port
	var ex exchange.Exchange
	if cfg.Exchange.DryRun {
		log.Printf("[INFO] dry run: simulated exchange with $%.2f balance", cfg.Exchange.InitialBalance)
		ex = exchange.NewSim(cfg.Exchange.InitialBalance)
	} else {
		clob := exchange.NewClob(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Proxy)
		if cfg.Exchange.WsURL != "" {
			stream := exchange.NewStream(cfg.Exchange.WsURL, nil, 30*time.Second)
			go stream.Run(ctx)
			clob.AttachStream(stream)
		}
		ex = clob
	}
	if bal, err := ex.GetBalance(ctx); err != nil {
		log.Printf("[WARN] fetch balance: %v", err)
	} else {
		log.Printf("[INFO] exchange balance: $%.2f", bal)
	}

	// Init position store
	var store ledger.Store
	if cfg.Database.SQLitePath != "" {
		ss, err := ledger.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite store failed, positions held in memory: %v", err)
			store = ledger.NewMemoryStore()
		} else {
			store = ss
			defer ss.Close()
		}
	} else {
		store = ledger.NewMemoryStore()
	}

	led, err := ledger.New(store)
	if err != nil {
		log.Fatalf("[FATAL] load position ledger: %v", err)
	}

	// Init decision engine
	eng := engine.New(engine.Config{
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfitPct:   cfg.Risk.TakeProfitPct,
		GlobalBudgetCap: cfg.Budget.GlobalCap,
		DailyBudgetCap:  cfg.Budget.DailyCap,
		DryRun:          cfg.Exchange.DryRun,
	}, targets, led, ex, executor.Config{
		LiquidityFraction: cfg.Execution.LiquidityFraction,
		DepthLevels:       cfg.Execution.DepthLevels,
		Cooldown:          cfg.Execution.Cooldown.Std(),
		MaxChunkAttempts:  cfg.Execution.MaxChunkAttempts,
		BackoffBase:       cfg.Execution.BackoffBase.Std(),
		MaxStallRetries:   cfg.Execution.MaxStallRetries,
	})

	// Init wallet watcher
	w := watcher.New(targets, cfg.Watcher.ActivityURL, cfg.Proxy, cfg.Watcher.PollInterval.Std())
	go w.Run(ctx)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx, w.Events())
	}()

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, eng)
	if err := sched.RegisterAll(cfg.Risk.CheckInterval.Std(), cfg.Budget.DailyResetCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Optional: run a risk pass immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, executing risk pass now")
		go sched.RunRiskNow()
	}

	log.Printf("[INFO] WhaleMirror is running, tracking %d wallet(s). Press Ctrl+C to stop.", len(targets))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	<-engineDone
	log.Println("[INFO] WhaleMirror stopped")
}
