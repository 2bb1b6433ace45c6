package model

import (
	"fmt"
	"time"
)

// EventTypeMissedMedication is the event type recorded when an occurrence is
// detected missed.
const EventTypeMissedMedication = "MISSED_MEDICATION_ALERT"

// AdherenceEvent is an immutable, append-only domain event. EventKey is
// derived deterministically from the event type and the occurrence id, so a
// retried insert for the same occurrence collides instead of duplicating.
type AdherenceEvent struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	EventKey  string    `gorm:"uniqueIndex;size:128;not null" json:"eventKey"`
	EventType string    `gorm:"size:64;not null;index" json:"eventType"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// TableName keeps the event_logs table name of the original schema.
func (AdherenceEvent) TableName() string {
	return "event_logs"
}

// MissedEventKey derives the idempotency key for the missed-dose event of an
// occurrence. The derivation is deterministic so a redelivered transition maps
// to the same key.
func MissedEventKey(occurrenceID int64) string {
	return fmt.Sprintf("%s:%d", EventTypeMissedMedication, occurrenceID)
}

// MissedDosePayload is the structured payload of a MISSED_MEDICATION_ALERT
// event, consumed by downstream alerting.
type MissedDosePayload struct {
	OccurrenceID int64     `json:"occurrenceId"`
	UserID       int64     `json:"userId"`
	MedicationID int64     `json:"medicationId"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	DetectedAt   time.Time `json:"detectedAt"`
}
