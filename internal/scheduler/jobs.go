package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"tradeloop/internal/config"
	"tradeloop/internal/core"
)

// Jobs wires the orchestrator's run kinds onto cron triggers.
type Jobs struct {
	cron   *cron.Cron
	logger core.ILogger
}

// NewJobs registers the four recurring triggers. Errors from a run are
// logged by the orchestrator; the cron wrapper only keeps the process alive.
func NewJobs(cfg config.SchedulerConfig, orch *Orchestrator, logger core.ILogger) (*Jobs, error) {
	c := cron.New()
	log := logger.WithField("component", "cron")

	entries := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"plan", cfg.PlanSpec, orch.RunPlan},
		{"order", cfg.OrderSpec, orch.RunOrder},
		{"monitor", cfg.MonitorSpec, orch.RunMonitor},
		{"pnl", cfg.PnLSpec, orch.RunPnL},
	}
	for _, entry := range entries {
		entry := entry
		_, err := c.AddFunc(entry.spec, func() {
			if err := entry.run(context.Background()); err != nil {
				log.Error("Scheduled run failed", "job", entry.name, "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register %s job (%q): %w", entry.name, entry.spec, err)
		}
		log.Info("Registered job", "job", entry.name, "spec", entry.spec)
	}

	return &Jobs{cron: c, logger: log}, nil
}

// Start begins firing triggers in the background.
func (j *Jobs) Start() {
	j.cron.Start()
	j.logger.Info("Cron scheduler started")
}

// Stop halts new triggers and waits for in-flight jobs.
func (j *Jobs) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("Cron scheduler stopped")
}
