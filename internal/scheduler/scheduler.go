package scheduler

import (
	"context"
	"log"
	"time"

	"medsync-backend/config"
	"medsync-backend/internal/adherence"
	"medsync-backend/internal/store"
)

// Service drives periodic adherence evaluation. Within one process a single
// pass is in flight at a time (the timer is reset only after a pass returns);
// multiple processes may run the loop concurrently because per-occurrence
// arbitration lives in the store's conditional transitions, not here.
type Service struct {
	cfg       *config.Config
	store     store.Store
	evaluator *adherence.Evaluator

	// now is injected so passes can be driven with a fixed clock in tests.
	now func() time.Time
}

// NewService creates and initializes a new scheduler service.
func NewService(cfg *config.Config, s store.Store) *Service {
	evaluator := adherence.NewEvaluator(s, cfg.WorkerPool.Size, cfg.Evaluator.StoreTimeout)
	return &Service{
		cfg:       cfg,
		store:     s,
		evaluator: evaluator,
		now:       time.Now,
	}
}

// Run starts the evaluation loop and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Evaluator.Enabled {
		log.Println("Adherence evaluator is disabled. Not starting.")
		return
	}
	log.Println("Starting adherence scheduler...")

	s.EvaluateOnce(ctx)

	timer := time.NewTimer(s.cfg.Evaluator.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Adherence scheduler shutting down.")
			return
		case <-timer.C:
			s.EvaluateOnce(ctx)
			timer.Reset(s.cfg.Evaluator.Interval)
		}
	}
}

// EvaluateOnce performs a single evaluation pass: scan due occurrences, then
// hand the batch to the evaluator. Failures wait for the next tick rather
// than busy-retrying.
func (s *Service) EvaluateOnce(ctx context.Context) {
	now := s.now().UTC()

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.Evaluator.StoreTimeout)
	batch, err := s.store.FindDueUnresolved(scanCtx, now, s.cfg.Evaluator.GracePeriod, s.cfg.Evaluator.BatchSize)
	cancel()
	if err != nil {
		log.Printf("Error scanning due occurrences, waiting for next tick: %v", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	log.Printf("Evaluating %d due occurrences...", len(batch))
	result := s.evaluator.EvaluateBatch(ctx, now, batch, s.cfg.Evaluator.MaxConsecutiveErrs)
	log.Printf("Evaluation pass finished: %d missed, %d skipped, %d errors", result.Missed, result.Skipped, result.Errors)
}
