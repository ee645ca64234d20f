package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"WhaleMirror/internal/engine"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the recurring engine tasks: the risk pass at a fixed
// interval and the daily budget reset.
type Scheduler struct {
	Cron   *cron.Cron
	Engine *engine.Engine
	Ctx    context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, eng *engine.Engine) *Scheduler {
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Engine: eng,
		Ctx:    ctx,
	}
}

// RegisterAll registers the risk pass and the daily budget reset.
func (s *Scheduler) RegisterAll(riskInterval time.Duration, budgetResetCron string) error {
	if riskInterval <= 0 {
		riskInterval = time.Minute
	}
	if _, err := s.Cron.AddFunc(fmt.Sprintf("@every %s", riskInterval), s.riskTask); err != nil {
		return fmt.Errorf("register risk task: %w", err)
	}
	if _, err := s.Cron.AddFunc(budgetResetCron, s.Engine.ResetDailySpend); err != nil {
		return fmt.Errorf("register budget reset: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// RunRiskNow executes the risk pass immediately (manual trigger / RUN_ON_START).
func (s *Scheduler) RunRiskNow() {
	s.riskTask()
}

func (s *Scheduler) riskTask() {
	if s.Ctx.Err() != nil {
		return
	}
	for _, d := range s.Engine.RunRiskPass(s.Ctx) {
		log.Printf("[INFO] exit directive: %s on %s, roi %.1f%%, plan %s", d.Cause, d.MarketID, d.ROI*100, d.PlanID)
	}
}
