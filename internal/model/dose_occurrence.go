package model

import "time"

// DoseStatus is the tri-state lifecycle of a dose occurrence. PENDING is the
// only non-terminal state: once an occurrence is TAKEN or MISSED it never
// changes again.
type DoseStatus string

const (
	StatusPending DoseStatus = "PENDING"
	StatusTaken   DoseStatus = "TAKEN"
	StatusMissed  DoseStatus = "MISSED"
)

// DoseOccurrence represents one scheduled administration of one medication
// for one user. It is only ever resolved through the store's conditional
// transitions, never by a plain save.
type DoseOccurrence struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	UserID       int64      `gorm:"index;not null" json:"userId"`
	MedicationID int64      `gorm:"index;not null" json:"medicationId"`
	ScheduledAt  time.Time  `gorm:"index;not null" json:"scheduledAt"`
	Status       DoseStatus `gorm:"size:16;not null;index;default:PENDING" json:"status"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Associations
	User       User       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Medication Medication `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName keeps the table name of the schedule the occurrence belongs to.
func (DoseOccurrence) TableName() string {
	return "medication_schedules"
}
