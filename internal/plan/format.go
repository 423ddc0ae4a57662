package plan

import (
	"fmt"
	"strings"
)

// Canned replies for degraded generation.
const (
	UnavailableMessage = "I couldn't generate intervention plans right now. The recommendations above still stand; ask again in a moment."
	UnparseableMessage = "I couldn't put together usable intervention plans this time. Try asking again, or work from the recommendations above."
)

var typeVerbs = map[string]string{
	"call":  "Call",
	"email": "Email",
	"flag":  "Flag",
}

// FormatPlans renders plans for display, ending with the prompt that asks
// for confirmation to create the actions.
func FormatPlans(plans []Plan) string {
	var b strings.Builder
	b.WriteString("Here are personalised intervention plans:\n")
	for i, p := range plans {
		name := p.ApplicantName
		if name == "" {
			name = p.ApplicantID
		}
		fmt.Fprintf(&b, "\n%d. %s (%s)\n", i+1, name, p.ApplicantID)
		for _, a := range p.Actions {
			verb := typeVerbs[a.Type]
			if verb == "" {
				verb = a.Type
			}
			fmt.Fprintf(&b, "   - [%s] %s: %s (due %s)\n", a.PriorityLabel, verb, a.Description, a.Deadline.Format("Mon Jan 2"))
			if a.Script != "" {
				fmt.Fprintf(&b, "     Script: %s\n", a.Script)
			}
			if a.ExpectedOutcome != "" {
				fmt.Fprintf(&b, "     Expected outcome: %s\n", a.ExpectedOutcome)
			}
		}
	}
	b.WriteString("\n")
	b.WriteString(ConfirmActions)
	return b.String()
}

// ApplicantIDs returns the applicant IDs of plans in order.
func ApplicantIDs(plans []Plan) []string {
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.ApplicantID)
	}
	return ids
}
