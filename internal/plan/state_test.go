package plan

import (
	"testing"

	"github.com/zulandar/admitdesk/internal/intent"
)

func TestDetectState(t *testing.T) {
	tests := []struct {
		text string
		want State
	}{
		{"", StateIdle},
		{"Priya Shah is your top priority today.", StateIdle},
		{"Call Priya first. " + ProposePlans, StateAwaitingPlanConfirm},
		{"Shall I create personalized intervention plans?", StateAwaitingPlanConfirm},
		{"Want me to create intervention plan drafts?", StateAwaitingPlanConfirm},
		{FormatPlans(nil), StateAwaitingActionConfirm},
		{"Should I CREATE THOSE ACTIONS now?", StateAwaitingActionConfirm},
		// An action prompt wins when both phrases appear.
		{"I can create intervention plans. Shall I create these actions?", StateAwaitingActionConfirm},
	}
	for _, tt := range tests {
		if got := DetectState(tt.text); got != tt.want {
			t.Errorf("DetectState(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	affirm := intent.Result{IsFollowUp: true, Tag: intent.TagAffirmative}
	elab := intent.Result{IsFollowUp: true, Tag: intent.TagElaboration}
	question := intent.Result{IsFollowUp: true, Tag: intent.TagQuestion}
	none := intent.Result{Tag: intent.TagNone}

	tests := []struct {
		name  string
		state State
		r     intent.Result
		want  Step
	}{
		{"plan confirm yes", StateAwaitingPlanConfirm, affirm, StepGeneratePlans},
		{"action confirm yes", StateAwaitingActionConfirm, affirm, StepCreateActions},
		{"idle yes", StateIdle, affirm, StepTriage},
		{"elaborate", StateAwaitingPlanConfirm, elab, StepElaborate},
		{"question", StateAwaitingActionConfirm, question, StepAnswer},
		{"unrelated resets", StateAwaitingActionConfirm, none, StepTriage},
		{"idle unrelated", StateIdle, none, StepTriage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.state, tt.r); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateAndStepStrings(t *testing.T) {
	if StateAwaitingPlanConfirm.String() != "awaiting_plan_confirm" {
		t.Errorf("State string = %q", StateAwaitingPlanConfirm.String())
	}
	if StepCreateActions.String() != "create_actions" {
		t.Errorf("Step string = %q", StepCreateActions.String())
	}
	if Step(99).String() != "triage" {
		t.Errorf("unknown step string = %q", Step(99).String())
	}
}
