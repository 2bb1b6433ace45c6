package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medsync-backend/internal/model"
)

// Store defines the interface for all database operations of the adherence
// engine. All status mutation goes through the conditional transitions below;
// nothing ever writes an occurrence status with a plain save.
type Store interface {
	DB() *gorm.DB

	// FindDueUnresolved returns PENDING occurrences whose scheduled time is at
	// or before asOf minus grace, oldest first, at most limit rows. Re-querying
	// is always safe; no cursor state is kept between calls.
	FindDueUnresolved(ctx context.Context, asOf time.Time, grace time.Duration, limit int) ([]model.DoseOccurrence, error)

	// TryTransitionToMissed conditionally moves the occurrence from PENDING to
	// MISSED. It reports whether this call applied the transition; a false
	// result with a nil error means another caller resolved the occurrence
	// first, which is an expected race outcome.
	TryTransitionToMissed(ctx context.Context, occurrenceID int64) (bool, error)

	// MarkTaken conditionally moves the occurrence from PENDING to TAKEN.
	// Returns ErrAlreadyResolved if the occurrence already left PENDING
	// (taken or missed), ErrNotFound if it does not exist.
	MarkTaken(ctx context.Context, occurrenceID int64) error

	// AppendEventIfAbsent inserts an adherence event unless one with the same
	// key already exists. It reports whether this call performed the insert.
	AppendEventIfAbsent(ctx context.Context, eventKey, eventType, payload string) (bool, error)

	// CreateOccurrences persists newly defined dose occurrences as PENDING.
	CreateOccurrences(ctx context.Context, occurrences []model.DoseOccurrence) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) FindDueUnresolved(ctx context.Context, asOf time.Time, grace time.Duration, limit int) ([]model.DoseOccurrence, error) {
	deadline := asOf.Add(-grace)

	var due []model.DoseOccurrence
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", model.StatusPending, deadline).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query due occurrences: %w", err)
	}
	return due, nil
}

// TryTransitionToMissed is the concurrency-control primitive: a conditional
// UPDATE guarded by the expected PENDING status. At most one of any number of
// concurrent callers observes RowsAffected == 1.
func (s *gormStore) TryTransitionToMissed(ctx context.Context, occurrenceID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.DoseOccurrence{}).
		Where("id = ? AND status = ?", occurrenceID, model.StatusPending).
		Update("status", model.StatusMissed)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition occurrence %d to missed: %w", occurrenceID, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// Lost the race, or the occurrence never existed. Distinguish the two so
	// a dangling reference does not look like a benign race.
	exists, err := s.occurrenceExists(ctx, occurrenceID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *gormStore) MarkTaken(ctx context.Context, occurrenceID int64) error {
	res := s.db.WithContext(ctx).
		Model(&model.DoseOccurrence{}).
		Where("id = ? AND status = ?", occurrenceID, model.StatusPending).
		Update("status", model.StatusTaken)
	if res.Error != nil {
		return fmt.Errorf("failed to mark occurrence %d taken: %w", occurrenceID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	exists, err := s.occurrenceExists(ctx, occurrenceID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyResolved
}

func (s *gormStore) AppendEventIfAbsent(ctx context.Context, eventKey, eventType, payload string) (bool, error) {
	event := model.AdherenceEvent{
		EventKey:  eventKey,
		EventType: eventType,
		Payload:   payload,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_key"}},
			DoNothing: true,
		}).
		Create(&event)
	if res.Error != nil {
		return false, fmt.Errorf("failed to append event %q: %w", eventKey, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) CreateOccurrences(ctx context.Context, occurrences []model.DoseOccurrence) error {
	for i := range occurrences {
		occurrences[i].Status = model.StatusPending
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&occurrences).Error; err != nil {
			return fmt.Errorf("failed to create occurrences: %w", err)
		}
		return nil
	})
}

func (s *gormStore) occurrenceExists(ctx context.Context, occurrenceID int64) (bool, error) {
	var occurrence model.DoseOccurrence
	err := s.db.WithContext(ctx).Select("id").First(&occurrence, occurrenceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up occurrence %d: %w", occurrenceID, err)
	}
	return true, nil
}
