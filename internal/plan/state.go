package plan

import (
	"regexp"

	"github.com/zulandar/admitdesk/internal/intent"
)

// State is the conversation state, recovered from the text of the last
// assistant message rather than stored separately.
type State int

const (
	StateIdle State = iota
	StateAwaitingPlanConfirm
	StateAwaitingActionConfirm
)

func (s State) String() string {
	switch s {
	case StateAwaitingPlanConfirm:
		return "awaiting_plan_confirm"
	case StateAwaitingActionConfirm:
		return "awaiting_action_confirm"
	default:
		return "idle"
	}
}

// Step is the next thing the orchestrator should do.
type Step int

const (
	StepTriage Step = iota
	StepGeneratePlans
	StepCreateActions
	StepElaborate
	StepAnswer
)

func (s Step) String() string {
	switch s {
	case StepGeneratePlans:
		return "generate_plans"
	case StepCreateActions:
		return "create_actions"
	case StepElaborate:
		return "elaborate"
	case StepAnswer:
		return "answer"
	default:
		return "triage"
	}
}

// Proposal phrases written by the assistant. DetectState recognises them,
// so they must keep matching the patterns below.
const (
	ProposePlans   = "Would you like me to create personalised intervention plans for them?"
	ConfirmActions = "Shall I create these actions?"
)

var (
	actionConfirmRe = regexp.MustCompile(`(?i)create\s+(?:these|those|the)\s+actions?`)
	planConfirmRe   = regexp.MustCompile(`(?i)create\s+(?:personali[sz]ed\s+)?intervention\s+plans?`)
)

// DetectState infers the state from the last assistant text. An action
// confirmation prompt takes precedence over a plan proposal.
func DetectState(lastAssistant string) State {
	switch {
	case actionConfirmRe.MatchString(lastAssistant):
		return StateAwaitingActionConfirm
	case planConfirmRe.MatchString(lastAssistant):
		return StateAwaitingPlanConfirm
	default:
		return StateIdle
	}
}

// Decide maps a state and a classified utterance to the next step. Anything
// that is not a recognised follow-up resets to triage.
func Decide(state State, r intent.Result) Step {
	switch r.Tag {
	case intent.TagAffirmative:
		switch state {
		case StateAwaitingPlanConfirm:
			return StepGeneratePlans
		case StateAwaitingActionConfirm:
			return StepCreateActions
		}
		return StepTriage
	case intent.TagElaboration:
		return StepElaborate
	case intent.TagQuestion:
		return StepAnswer
	default:
		return StepTriage
	}
}
