package models

import "time"

// Applicant is the read-side feature snapshot for one applicant. Scores and
// probabilities come from upstream models; nil columns mean "not supplied".
type Applicant struct {
	ID                     string `gorm:"primaryKey;size:64"`
	Name                   string `gorm:"size:128;not null"`
	Email                  string `gorm:"size:128"`
	Phone                  string `gorm:"size:32"`
	Board                  string `gorm:"size:64;index"`
	OwnerUserID            string `gorm:"size:64;index"`
	Stage                  string `gorm:"size:32;index"`
	ConversionProbability  *float64
	ProgressionProbability *float64
	LeadScore              *float64
	EngagementScore        *float64
	ActivityCount          *int
	LastEngagedAt          *time.Time
	UrgencyTags            string `gorm:"type:json"` // JSON array of tag names
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
