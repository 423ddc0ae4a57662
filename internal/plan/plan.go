// Package plan generates per-applicant intervention plans through the
// content generator and drives the plan confirmation state machine.
package plan

import (
	"time"

	"github.com/zulandar/admitdesk/internal/scoring"
)

// Priority labels attached to intervention actions.
const (
	LabelHigh   = "high"
	LabelMedium = "medium"
	LabelLow    = "low"
)

// Action is one step of an intervention plan.
type Action struct {
	Type            string // scoring.ActionCall, ActionEmail, ActionFlag
	Description     string
	Deadline        time.Time
	PriorityLabel   string
	Script          string
	Context         string
	ExpectedOutcome string
}

// Plan is the ordered list of actions proposed for one applicant. Plans are
// transient: they live only until they are turned into persisted actions.
type Plan struct {
	ApplicantID   string
	ApplicantName string
	Actions       []Action
}

// ApplicantContext is what the generator is told about one applicant.
type ApplicantContext struct {
	ID          string
	Name        string
	Stage       string
	ActionType  string
	Priority    float64
	UrgencyTags []string
	RiskFactors []string
}

// HistoryTurn is a prior conversation message forwarded into the prompt.
type HistoryTurn struct {
	Role    string
	Content string
}

// ContextFor builds an ApplicantContext from a ranked candidate.
func ContextFor(r scoring.Ranked) ApplicantContext {
	return ApplicantContext{
		ID:          r.Candidate.ID,
		Name:        r.Candidate.Name,
		Stage:       string(r.Candidate.Stage),
		ActionType:  r.Score.ActionType,
		Priority:    r.Score.Priority,
		UrgencyTags: r.Candidate.UrgencyTags,
		RiskFactors: r.Score.Reasons,
	}
}

// Result is the outcome of a generation attempt: exactly one of Parsed,
// Unparseable or Unavailable.
type Result interface {
	isResult()
}

// Parsed carries validated plans, at least one action in total.
type Parsed struct {
	Plans    []Plan
	Warnings []string
}

// Unparseable means the generator answered but nothing usable survived
// validation.
type Unparseable struct {
	Reason string
	Raw    string
}

// Unavailable means the generator failed or timed out.
type Unavailable struct {
	Err error
}

func (Parsed) isResult()      {}
func (Unparseable) isResult() {}
func (Unavailable) isResult() {}

// ActionCount returns the total number of actions across plans.
func ActionCount(plans []Plan) int {
	n := 0
	for _, p := range plans {
		n += len(p.Actions)
	}
	return n
}
