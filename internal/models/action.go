package models

import "time"

// Action statuses.
const (
	ActionPending    = "pending"
	ActionInProgress = "in_progress"
	ActionCompleted  = "completed"
)

// Action is a persisted follow-up work item against an application.
type Action struct {
	ID              uint    `gorm:"primaryKey;autoIncrement"`
	ApplicationID   string  `gorm:"size:64;not null;index:idx_app_type"`
	ActionType      string  `gorm:"size:16;not null;index:idx_app_type"` // call, email, flag
	Priority        float64 `gorm:"default:0"`
	PriorityLabel   string  `gorm:"size:8;default:medium"`
	Description     string  `gorm:"type:text;not null"`
	Deadline        time.Time
	Status          string  `gorm:"size:16;default:pending;index"`
	CreatedBySystem bool    `gorm:"default:false"`
	Artifacts       string  `gorm:"type:json"` // script, context, expected_outcome
	OwnerUserID     *string `gorm:"size:64;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time

	Executions []ActionExecution `gorm:"foreignKey:ActionID"`
}

// ActionExecution records the outcome of completing an Action.
type ActionExecution struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	ActionID        uint      `gorm:"not null;index"`
	ExecutedAt      time.Time `gorm:"not null"`
	Result          string    `gorm:"size:16"` // "success" or "failure"
	OutcomeNotes    string    `gorm:"type:text"`
	Success         bool
	FollowUpMessage string `gorm:"type:text"`
}
