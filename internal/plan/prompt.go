package plan

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"
)

// SystemPrompt instructs the generator to answer with plan JSON only.
const SystemPrompt = `You are an admissions follow-up planner. For each applicant you are given, propose one to three concrete intervention actions.

Respond with JSON only, no prose, in exactly this shape:
{"plans":[{"applicant_id":"<id>","actions":[{"type":"call|email|flag","description":"...","deadline":"YYYY-MM-DD","priority_label":"high|medium|low","script":"...","context":"...","expected_outcome":"..."}]}]}

Rules:
- Only use applicant ids from the list you are given.
- "type" must be call, email or flag. Use flag for anything that needs a manager.
- Every action needs a description and a deadline.
- Keep scripts short enough to read aloud in under a minute.`

const userTemplate = `Today is {{ .Today }}.

## Applicants
{{ range .Applicants }}
### {{ .Name }} (id: {{ .ID }})
- Stage: {{ .Stage }}
- Suggested channel: {{ .ActionType }}
- Priority: {{ printf "%.2f" .Priority }}
{{ if .UrgencyTags }}- Urgency: {{ join .UrgencyTags ", " }}
{{ end }}{{ if .RiskFactors }}- Risk factors: {{ join .RiskFactors "; " }}
{{ end }}{{ end }}
{{ if .History }}## Recent conversation
{{ range .History }}{{ .Role }}: {{ truncate .Content 400 }}
{{ end }}{{ end }}
Produce the plans now.`

var userTmpl = template.Must(template.New("plan").Funcs(template.FuncMap{
	"join":     strings.Join,
	"truncate": truncate,
}).Parse(userTemplate))

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

type promptData struct {
	Today      string
	Applicants []ApplicantContext
	History    []HistoryTurn
}

// RenderPrompt renders the user prompt for a plan request.
func RenderPrompt(applicants []ApplicantContext, history []HistoryTurn, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := userTmpl.Execute(&buf, promptData{
		Today:      now.Format("2006-01-02 (Monday)"),
		Applicants: applicants,
		History:    history,
	})
	if err != nil {
		return "", fmt.Errorf("plan: execute template: %w", err)
	}
	return buf.String(), nil
}
