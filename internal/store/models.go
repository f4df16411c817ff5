package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SurveyRecord is the listing row for a survey. The full aggregate lives
// in the payload column and is loaded separately.
type SurveyRecord struct {
	ID         string
	Reference  string
	SiteName   string
	ClientName string
	Status     string
	Surveyor   string
	SurveyDate string
	CreatedBy  string
	UpdatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ExportRecord struct {
	ID        string
	SurveyID  string
	Format    string
	ObjectKey string
	Size      int64
	CreatedBy string
	CreatedAt time.Time
}
