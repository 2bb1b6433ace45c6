package model

import "time"

// Medication represents one entry of the medication catalog.
type Medication struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:256;not null;index" json:"name"`
	Dosage    string `gorm:"size:128" json:"dosage"`
	Frequency string `gorm:"size:128" json:"frequency"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
