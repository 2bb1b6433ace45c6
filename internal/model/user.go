package model

import "time"

// Role classifies what a user account is allowed to do.
type Role string

const (
	RolePatient   Role = "PATIENT"
	RoleCaregiver Role = "CAREGIVER"
	RoleAdmin     Role = "ADMIN"
)

// User represents a registered account.
type User struct {
	ID           int64  `gorm:"primaryKey" json:"id"`
	Email        string `gorm:"uniqueIndex;size:256;not null" json:"email"`
	PasswordHash string `gorm:"size:256;not null" json:"-"`
	FullName     string `gorm:"size:256;not null" json:"fullName"`
	Role         Role   `gorm:"size:32;not null" json:"role"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Associations
	Doses []DoseOccurrence `gorm:"foreignKey:UserID"`
}
