package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/admitdesk/internal/models"
	"github.com/zulandar/admitdesk/internal/plan"
	"gorm.io/gorm"
)

// Execution results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

const maxSuggestions = 3

// Suggestion is a proposed next action returned by the feedback loop.
type Suggestion struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Feedback is the analysis returned after completing a system-created
// action. Fallback is set when the generator could not supply it.
type Feedback struct {
	Analysis    string
	Suggestions []Suggestion
	Fallback    bool
}

// Completion is the outcome of Complete or Record.
type Completion struct {
	Action    models.Action
	Execution models.ActionExecution
	Feedback  *Feedback // nil for manually created actions
}

// Outcome describes how an action went.
type Outcome struct {
	Notes   string
	Success bool
}

// Complete records an execution and marks the action completed. For
// system-created actions it asks the generator for an analysis and one to
// three next steps; when that fails, rule-based suggestions are returned so
// the caller always gets feedback.
func (m *Manager) Complete(ctx context.Context, id uint, out Outcome) (*Completion, error) {
	var c Completion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c.Action, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if c.Action.Status == models.ActionCompleted {
			return ErrAlreadyCompleted
		}
		return m.completeTx(tx, &c, out)
	})
	if err != nil {
		return nil, fmt.Errorf("actions: complete %d: %w", id, err)
	}
	m.attachFeedback(ctx, &c, out)
	return &c, nil
}

// Recommendation is a triage recommendation acted on directly.
type Recommendation struct {
	ApplicationID string
	ActionType    string
	Priority      float64
	Description   string
	OwnerUserID   *string
}

// Record persists a recommendation that was acted on without going through
// a plan, completing it in the same step.
func (m *Manager) Record(ctx context.Context, rec Recommendation, out Outcome) (*Completion, error) {
	if strings.TrimSpace(rec.ApplicationID) == "" {
		return nil, fmt.Errorf("actions: record: %w: application id is required", ErrInvalidRecommendation)
	}
	typ, ok := plan.NormalizeType(rec.ActionType)
	if !ok || !validActionType(typ) {
		return nil, fmt.Errorf("actions: record: %w: action type %q", ErrInvalidRecommendation, rec.ActionType)
	}
	desc := strings.TrimSpace(rec.Description)
	if desc == "" {
		desc = fmt.Sprintf("%s %s", typ, rec.ApplicationID)
	}
	now := m.now().UTC()

	var c Completion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.Action = models.Action{
			ApplicationID:   rec.ApplicationID,
			ActionType:      typ,
			Priority:        rec.Priority,
			PriorityLabel:   labelFor(rec.Priority),
			Description:     desc,
			Deadline:        now,
			Status:          models.ActionInProgress,
			CreatedBySystem: true,
			Artifacts:       "{}",
			OwnerUserID:     rec.OwnerUserID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(&c.Action).Error; err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return m.completeTx(tx, &c, out)
	})
	if err != nil {
		return nil, fmt.Errorf("actions: record: %w", err)
	}
	m.attachFeedback(ctx, &c, out)
	return &c, nil
}

// completeTx flips the action to completed and writes its execution. The
// status update is conditional so two concurrent completions cannot both
// write an execution row.
func (m *Manager) completeTx(tx *gorm.DB, c *Completion, out Outcome) error {
	now := m.now().UTC()
	res := tx.Model(&models.Action{}).
		Where("id = ? AND status <> ?", c.Action.ID, models.ActionCompleted).
		Updates(map[string]interface{}{
			"status":       models.ActionCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark completed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyCompleted
	}

	result := ResultFailure
	if out.Success {
		result = ResultSuccess
	}
	c.Execution = models.ActionExecution{
		ActionID:     c.Action.ID,
		ExecutedAt:   now,
		Result:       result,
		OutcomeNotes: out.Notes,
		Success:      out.Success,
	}
	if err := tx.Create(&c.Execution).Error; err != nil {
		return fmt.Errorf("write execution: %w", err)
	}
	c.Action.Status = models.ActionCompleted
	c.Action.CompletedAt = &now
	c.Action.UpdatedAt = now
	return nil
}

// attachFeedback runs the feedback loop after the completion is committed.
// Failing to store the follow-up message is logged, not returned.
func (m *Manager) attachFeedback(ctx context.Context, c *Completion, out Outcome) {
	if !c.Action.CreatedBySystem {
		return
	}
	fb := m.feedback(ctx, c.Action, out)
	c.Feedback = fb
	c.Execution.FollowUpMessage = fb.Analysis
	if err := m.db.WithContext(ctx).Model(&models.ActionExecution{}).
		Where("id = ?", c.Execution.ID).
		Update("follow_up_message", fb.Analysis).Error; err != nil {
		m.logger.Warn("store follow-up message failed", "action_id", c.Action.ID, "error", err)
	}
}

const feedbackSystemPrompt = `You review the outcome of an admissions follow-up action and suggest what to do next.
Respond with JSON only:
{"analysis":"one or two sentences","suggestions":[{"type":"call|email|flag","description":"..."}]}
Give between one and three suggestions.`

func (m *Manager) feedback(ctx context.Context, a models.Action, out Outcome) *Feedback {
	prompt := feedbackPrompt(a, out)
	text, err := plan.Call(ctx, m.gen, m.feedbackTimeout, feedbackSystemPrompt, prompt)
	if err != nil {
		m.logger.Warn("completion feedback unavailable", "action_id", a.ID, "error", err)
		return RuleFeedback(a, out)
	}
	fb, err := parseFeedback(text)
	if err != nil {
		m.logger.Warn("completion feedback unparseable", "action_id", a.ID, "error", err)
		return RuleFeedback(a, out)
	}
	return fb
}

func feedbackPrompt(a models.Action, out Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applicant: %s\n", a.ApplicationID)
	fmt.Fprintf(&b, "Action: %s (%s priority)\n", a.ActionType, a.PriorityLabel)
	fmt.Fprintf(&b, "Description: %s\n", a.Description)
	if art := DecodeArtifacts(a); art.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n", art.ExpectedOutcome)
	}
	if out.Success {
		b.WriteString("Result: success\n")
	} else {
		b.WriteString("Result: not successful\n")
	}
	if out.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", out.Notes)
	}
	return b.String()
}

func parseFeedback(text string) (*Feedback, error) {
	payload, err := plan.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Analysis    string       `json:"analysis"`
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode feedback: %w", err)
	}
	fb := &Feedback{Analysis: strings.TrimSpace(raw.Analysis)}
	for _, s := range raw.Suggestions {
		typ, ok := plan.NormalizeType(s.Type)
		desc := strings.TrimSpace(s.Description)
		if !ok || desc == "" {
			continue
		}
		fb.Suggestions = append(fb.Suggestions, Suggestion{Type: typ, Description: desc})
		if len(fb.Suggestions) == maxSuggestions {
			break
		}
	}
	if fb.Analysis == "" || len(fb.Suggestions) == 0 {
		return nil, fmt.Errorf("feedback missing analysis or suggestions")
	}
	return fb, nil
}

// RuleFeedback returns deterministic follow-up suggestions for an outcome.
func RuleFeedback(a models.Action, out Outcome) *Feedback {
	var s []Suggestion
	switch {
	case out.Success && a.ActionType == "call":
		s = []Suggestion{{"email", "Send a written recap of the call to " + a.ApplicationID}}
	case out.Success && a.ActionType == "email":
		s = []Suggestion{{"call", "Call " + a.ApplicationID + " in two days if there is no reply"}}
	case out.Success:
		s = []Suggestion{{"email", "Confirm the resolution with " + a.ApplicationID}}
	case a.ActionType == "call":
		s = []Suggestion{
			{"email", "Email " + a.ApplicationID + " to follow up on the missed call"},
			{"call", "Retry the call at a different time of day"},
		}
	case a.ActionType == "email":
		s = []Suggestion{{"call", "Call " + a.ApplicationID + " to check the email was received"}}
	default:
		s = []Suggestion{{"flag", "Escalate " + a.ApplicationID + " to the admissions lead"}}
	}
	analysis := "Outcome recorded as successful."
	if !out.Success {
		analysis = "Outcome recorded as unsuccessful."
	}
	return &Feedback{
		Analysis:    analysis + " Suggested next steps follow the standard follow-up rules.",
		Suggestions: s,
		Fallback:    true,
	}
}

// labelFor maps a normalised priority to a label.
func labelFor(p float64) string {
	switch {
	case p >= 0.7:
		return plan.LabelHigh
	case p >= 0.4:
		return plan.LabelMedium
	default:
		return plan.LabelLow
	}
}
