package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"introspect/internal/services"
)

// SynthesisScheduler runs the nightly insight synthesis sweep on a cron
// schedule. Per-user synthesis is also triggered inline every batch of
// turns; the nightly sweep covers users who stopped mid-batch.
type SynthesisScheduler struct {
	scheduler gocron.Scheduler
	insights  *services.InsightService
	cronExpr  string
}

// NewSynthesisScheduler creates the nightly synthesis scheduler. The cron
// expression uses the standard 5-field format.
func NewSynthesisScheduler(insights *services.InsightService, cronExpr string) (*SynthesisScheduler, error) {
	// Validate before handing the expression to the scheduler so a bad
	// config fails at startup, not at 3am.
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid synthesis cron expression %q: %w", cronExpr, err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &SynthesisScheduler{
		scheduler: scheduler,
		insights:  insights,
		cronExpr:  cronExpr,
	}, nil
}

// Start registers the cron job and begins the schedule.
func (s *SynthesisScheduler) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.CronJob(s.cronExpr, false),
		gocron.NewTask(s.runSweep),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule synthesis sweep: %w", err)
	}

	s.scheduler.Start()
	log.Printf("⏰ [SYNTHESIS] Nightly sweep scheduled: %s", s.cronExpr)
	return nil
}

func (s *SynthesisScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	log.Println("🌙 [SYNTHESIS] Starting nightly synthesis sweep")
	users, created, err := s.insights.SynthesizeAll(ctx)
	if err != nil {
		log.Printf("❌ [SYNTHESIS] Nightly sweep failed: %v", err)
		return
	}
	log.Printf("✅ [SYNTHESIS] Nightly sweep done: %d users, %d new insights", users, created)
}

// Stop shuts the schedule down, waiting for a running sweep to finish.
func (s *SynthesisScheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️  [SYNTHESIS] Scheduler shutdown error: %v", err)
	}
}
