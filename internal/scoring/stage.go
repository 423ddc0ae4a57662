package scoring

import "strings"

// Stage is a position in the admissions pipeline.
type Stage string

// Pipeline stages, in order.
const (
	StageInquiry              Stage = "inquiry"
	StageApplicationStarted   Stage = "application_started"
	StageApplicationSubmitted Stage = "application_submitted"
	StageInterviewScheduled   Stage = "interview_scheduled"
	StageInterviewCompleted   Stage = "interview_completed"
	StageOfferMade            Stage = "offer_made"
	StageOfferNoResponse      Stage = "offer_no_response"
	StageDepositPaid          Stage = "deposit_paid"
	StageEnrolled             Stage = "enrolled"

	// StageUnknown is the sentinel for any unrecognised stage name.
	StageUnknown Stage = "unknown"
)

// Action types recommended for a candidate.
const (
	ActionCall  = "call"
	ActionEmail = "email"
	ActionFlag  = "flag"
)

var pipeline = []Stage{
	StageInquiry,
	StageApplicationStarted,
	StageApplicationSubmitted,
	StageInterviewScheduled,
	StageInterviewCompleted,
	StageOfferMade,
	StageOfferNoResponse,
	StageDepositPaid,
	StageEnrolled,
}

var stageActions = map[Stage]string{
	StageInquiry:              ActionEmail,
	StageApplicationStarted:   ActionEmail,
	StageApplicationSubmitted: ActionEmail,
	StageInterviewScheduled:   ActionCall,
	StageInterviewCompleted:   ActionEmail,
	StageOfferMade:            ActionCall,
	StageOfferNoResponse:      ActionCall,
	StageDepositPaid:          ActionEmail,
	StageEnrolled:             ActionFlag,
}

// ParseStage normalises a stage name. Unrecognised names resolve to
// StageUnknown rather than an error so ranking degrades instead of failing.
func ParseStage(s string) Stage {
	key := normalizeKey(s)
	for _, st := range pipeline {
		if string(st) == key {
			return st
		}
	}
	return StageUnknown
}

// Index returns the stage position in the pipeline, or -1 for StageUnknown.
func (s Stage) Index() int {
	for i, st := range pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

// ActionType returns the default outreach channel for the stage.
func (s Stage) ActionType() string {
	if a, ok := stageActions[s]; ok {
		return a
	}
	return ActionEmail
}

// Stages returns the known pipeline stages in order.
func Stages() []Stage {
	out := make([]Stage, len(pipeline))
	copy(out, pipeline)
	return out
}

// normalizeKey lowercases and maps spaces and hyphens to underscores, so
// "Offer-Expires-Today" and "offer expires today" compare equal.
func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}
