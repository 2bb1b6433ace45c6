package adherence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"medsync-backend/internal/model"
	"medsync-backend/internal/store"
)

// Evaluator decides and enacts the missed-dose transition plus its event for
// due occurrences. It holds no state between passes; every decision is
// arbitrated by the store's conditional transitions, so any number of
// evaluators (in this process or others) can run against the same occurrences.
type Evaluator struct {
	store         store.Store
	workers       int
	storeTimeout  time.Duration
	appendRetries int
}

// NewEvaluator creates an evaluator with the given worker pool size and
// per-storage-call timeout.
func NewEvaluator(s store.Store, workers int, storeTimeout time.Duration) *Evaluator {
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		store:         s,
		workers:       workers,
		storeTimeout:  storeTimeout,
		appendRetries: 3,
	}
}

// BatchResult summarizes one evaluation batch.
type BatchResult struct {
	Missed  int // transitions won by this batch, one event appended each
	Skipped int // occurrences another caller resolved first
	Errors  int // occurrences aborted by storage errors, retried next tick
}

// EvaluateBatch runs the per-occurrence algorithm over the batch with bounded
// parallelism. Occurrences are independent units; a storage error on one never
// aborts the others. abortAfter consecutive storage errors stop the batch
// early so an unavailable store is not hammered.
func (e *Evaluator) EvaluateBatch(ctx context.Context, now time.Time, batch []model.DoseOccurrence, abortAfter int) BatchResult {
	if len(batch) == 0 {
		return BatchResult{}
	}

	var (
		missed      atomic.Int64
		skipped     atomic.Int64
		failed      atomic.Int64
		consecutive atomic.Int64
	)

	jobs := make(chan model.DoseOccurrence)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for occurrence := range jobs {
				if abortAfter > 0 && consecutive.Load() >= int64(abortAfter) {
					failed.Add(1)
					continue
				}
				won, err := e.EvaluateOne(ctx, now, occurrence)
				switch {
				case err != nil:
					failed.Add(1)
					consecutive.Add(1)
					log.Printf("Error evaluating occurrence %d (retried next tick): %v", occurrence.ID, err)
				case won:
					missed.Add(1)
					consecutive.Store(0)
				default:
					skipped.Add(1)
					consecutive.Store(0)
				}
			}
		}()
	}

	for _, occurrence := range batch {
		jobs <- occurrence
	}
	close(jobs)
	wg.Wait()

	return BatchResult{
		Missed:  int(missed.Load()),
		Skipped: int(skipped.Load()),
		Errors:  int(failed.Load()),
	}
}

// EvaluateOne attempts the missed-dose transition for a single occurrence and,
// if this caller won it, appends exactly one adherence event. The transition
// is the gate: the event is written strictly after a won compare-and-swap, so
// the at-most-one event guarantee follows from the store, not from any lock
// held here.
func (e *Evaluator) EvaluateOne(ctx context.Context, now time.Time, occurrence model.DoseOccurrence) (bool, error) {
	transitionCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	won, err := e.store.TryTransitionToMissed(transitionCtx, occurrence.ID)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		// The occurrence vanished between the scan and the transition. Nothing
		// to retry; it cannot become missed.
		log.Printf("Warning: occurrence %d not found during evaluation, skipping", occurrence.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !won {
		// Another caller resolved it first (user marked it taken, or a
		// concurrent evaluator missed it). Expected race outcome.
		return false, nil
	}

	payload, err := json.Marshal(model.MissedDosePayload{
		OccurrenceID: occurrence.ID,
		UserID:       occurrence.UserID,
		MedicationID: occurrence.MedicationID,
		ScheduledAt:  occurrence.ScheduledAt,
		DetectedAt:   now,
	})
	if err != nil {
		return true, fmt.Errorf("failed to marshal payload for occurrence %d: %w", occurrence.ID, err)
	}

	if err := e.appendEvent(ctx, occurrence.ID, string(payload)); err != nil {
		return true, err
	}
	return true, nil
}

// appendEvent records the missed-dose event. The transition has already been
// won at this point, so a failed append is retried in place: the next tick
// will not see the occurrence again (it is no longer PENDING) and the
// idempotent key makes repeated attempts safe.
func (e *Evaluator) appendEvent(ctx context.Context, occurrenceID int64, payload string) error {
	key := model.MissedEventKey(occurrenceID)

	var lastErr error
	for attempt := 0; attempt < e.appendRetries; attempt++ {
		appendCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
		inserted, err := e.store.AppendEventIfAbsent(appendCtx, key, model.EventTypeMissedMedication, payload)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if !inserted {
			// A prior attempt (possibly before a crash) already wrote the
			// event. The key absorbs the replay; warn because the transition
			// was won by this call.
			log.Printf("Warning: event %s already present, skipping duplicate append", key)
		}
		return nil
	}
	return fmt.Errorf("failed to append event %s after %d attempts: %w", key, e.appendRetries, lastErr)
}
