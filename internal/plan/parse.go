package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zulandar/admitdesk/internal/scoring"
)

// ErrNoJSON is returned when generator output contains no JSON payload.
var ErrNoJSON = errors.New("plan: no JSON found in output")

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSON returns the first JSON object or array in s, looking inside a
// fenced code block first and falling back to the outermost braces.
func ExtractJSON(s string) (string, error) {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			s = body
		}
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type rawAction struct {
	Type            flexString `json:"type"`
	Description     flexString `json:"description"`
	Deadline        flexString `json:"deadline"`
	PriorityLabel   flexString `json:"priority_label"`
	Priority        flexString `json:"priority"`
	Script          flexString `json:"script"`
	Context         flexString `json:"context"`
	ExpectedOutcome flexString `json:"expected_outcome"`
}

type rawPlan struct {
	ApplicantID flexString  `json:"applicant_id"`
	Actions     []rawAction `json:"actions"`
}

// decodePlans accepts {"plans":[...]} or a bare array of plans.
func decodePlans(payload string) ([]rawPlan, error) {
	var plans []rawPlan
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &plans); err != nil {
			return nil, fmt.Errorf("plan: decode array: %w", err)
		}
		return plans, nil
	}
	var wrapper struct {
		Plans []rawPlan `json:"plans"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapper); err != nil {
		return nil, fmt.Errorf("plan: decode object: %w", err)
	}
	return wrapper.Plans, nil
}

var typeSynonyms = map[string]string{
	"call":       scoring.ActionCall,
	"phone":      scoring.ActionCall,
	"phone call": scoring.ActionCall,
	"phone_call": scoring.ActionCall,
	"ring":       scoring.ActionCall,
	"email":      scoring.ActionEmail,
	"e-mail":     scoring.ActionEmail,
	"mail":       scoring.ActionEmail,
	"message":    scoring.ActionEmail,
	"flag":       scoring.ActionFlag,
	"escalate":   scoring.ActionFlag,
	"escalation": scoring.ActionFlag,
	"review":     scoring.ActionFlag,
}

// NormalizeType maps an action type or one of its synonyms to a canonical
// type. ok is false for unknown types.
func NormalizeType(t string) (string, bool) {
	canon, ok := typeSynonyms[strings.ToLower(strings.TrimSpace(t))]
	return canon, ok
}

// NormalizeLabel maps a priority label to high, medium or low, defaulting
// to medium.
func NormalizeLabel(l string) string {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "high", "urgent", "critical", "p0", "p1":
		return LabelHigh
	case "low", "p3", "p4":
		return LabelLow
	default:
		return LabelMedium
	}
}

// DefaultDeadline returns the deadline used when the generator omits one.
func DefaultDeadline(label string, now time.Time) time.Time {
	switch label {
	case LabelHigh:
		return endOfDay(now.AddDate(0, 0, 1))
	case LabelLow:
		return endOfDay(now.AddDate(0, 0, 7))
	default:
		return endOfDay(now.AddDate(0, 0, 3))
	}
}

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDeadline(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range deadlineLayouts {
		t, err := time.ParseInLocation(layout, s, now.Location())
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			t = endOfDay(t)
		}
		if t.Before(now) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 0, 0, t.Location())
}

// ValidatePlans repairs decoded plans against the requested applicants.
// Unknown applicants, actions with an unknown type and actions without a
// description are dropped; missing labels and deadlines are filled in.
// Returns the surviving plans in request order and one warning per repair.
func ValidatePlans(raw []rawPlan, requested []ApplicantContext, now time.Time) ([]Plan, []string) {
	var warnings []string
	index := make(map[string]int, len(requested))
	for i, a := range requested {
		index[a.ID] = i
	}
	byApplicant := make(map[string]*Plan)

	for i, rp := range raw {
		id := strings.TrimSpace(string(rp.ApplicantID))
		pos, ok := index[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("plans[%d]: unknown applicant %q dropped", i, id))
			continue
		}
		p := byApplicant[id]
		if p == nil {
			p = &Plan{ApplicantID: id, ApplicantName: requested[pos].Name}
			byApplicant[id] = p
		}
		for j, ra := range rp.Actions {
			typ, ok := NormalizeType(string(ra.Type))
			if !ok {
				warnings = append(warnings, fmt.Sprintf("plans[%d].actions[%d]: invalid type %q dropped", i, j, ra.Type))
				continue
			}
			desc := strings.TrimSpace(string(ra.Description))
			if desc == "" {
				warnings = append(warnings, fmt.Sprintf("plans[%d].actions[%d]: missing description dropped", i, j))
				continue
			}
			labelSrc := string(ra.PriorityLabel)
			if labelSrc == "" {
				labelSrc = string(ra.Priority)
			}
			label := NormalizeLabel(labelSrc)
			deadline, ok := parseDeadline(string(ra.Deadline), now)
			if !ok {
				deadline = DefaultDeadline(label, now)
				warnings = append(warnings, fmt.Sprintf("plans[%d].actions[%d]: deadline %q replaced", i, j, ra.Deadline))
			}
			p.Actions = append(p.Actions, Action{
				Type:            typ,
				Description:     desc,
				Deadline:        deadline,
				PriorityLabel:   label,
				Script:          strings.TrimSpace(string(ra.Script)),
				Context:         strings.TrimSpace(string(ra.Context)),
				ExpectedOutcome: strings.TrimSpace(string(ra.ExpectedOutcome)),
			})
		}
	}

	var plans []Plan
	for _, a := range requested {
		if p, ok := byApplicant[a.ID]; ok && len(p.Actions) > 0 {
			plans = append(plans, *p)
		}
	}
	return plans, warnings
}

// Parse turns raw generator output into a Result. It never returns
// Unavailable.
func Parse(output string, requested []ApplicantContext, now time.Time) Result {
	payload, err := ExtractJSON(output)
	if err != nil {
		return Unparseable{Reason: err.Error(), Raw: output}
	}
	raw, err := decodePlans(payload)
	if err != nil {
		return Unparseable{Reason: err.Error(), Raw: output}
	}
	plans, warnings := ValidatePlans(raw, requested, now)
	if ActionCount(plans) == 0 {
		reason := "no valid actions"
		if len(warnings) > 0 {
			reason += ": " + strings.Join(warnings, "; ")
		}
		return Unparseable{Reason: reason, Raw: output}
	}
	return Parsed{Plans: plans, Warnings: warnings}
}
