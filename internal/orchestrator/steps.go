package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/admitdesk/internal/actions"
	"github.com/zulandar/admitdesk/internal/intent"
	"github.com/zulandar/admitdesk/internal/plan"
	"github.com/zulandar/admitdesk/internal/scoring"
	"github.com/zulandar/admitdesk/internal/session"
)

const clarifyMessage = "I'm not sure which applicants you mean. Ask me who needs attention first, or name the applicants you'd like plans for."

var actionVerbs = map[string]string{
	scoring.ActionCall:  "call",
	scoring.ActionEmail: "email",
	scoring.ActionFlag:  "flag for review",
}

func (o *Orchestrator) triage(ranked []scoring.Ranked) turnOutcome {
	top := ranked
	if len(top) > o.triageLimit {
		top = top[:o.triageLimit]
	}
	if len(top) == 0 {
		return turnOutcome{
			answer:  "There are no applicants matching these filters right now.",
			summary: "No applicants to triage.",
		}
	}

	var b strings.Builder
	b.WriteString("Here's who needs attention first:\n")
	ids := make([]string, 0, len(top))
	for i, r := range top {
		ids = append(ids, r.Candidate.ID)
		fmt.Fprintf(&b, "\n%d. %s: %s (priority %.2f)", i+1, displayName(r), actionVerbs[r.Score.ActionType], o.scorer.Normalize(r.Score.Priority))
		if len(r.Score.Reasons) > 0 {
			fmt.Fprintf(&b, ". %s", strings.Join(r.Score.Reasons, "; "))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(plan.ProposePlans)

	return turnOutcome{
		answer:     b.String(),
		summary:    fmt.Sprintf("%d applicants need attention; start with %s.", len(top), displayName(top[0])),
		referenced: ids,
	}
}

// targets resolves which applicants a confirmation applies to: IDs carried
// by the classifier first, then names found in the assistant text.
func (o *Orchestrator) targets(res intent.Result, last *session.Entry, ranked []scoring.Ranked, byID map[string]scoring.Ranked) []string {
	ids := res.ReferencedIDs
	if len(ids) == 0 && last != nil {
		ids = MatchNames(last.Content, ranked)
	}
	var out []string
	for _, id := range ids {
		if _, ok := byID[id]; ok {
			out = append(out, id)
		}
		if len(out) == o.maxTargets {
			break
		}
	}
	return out
}

func (o *Orchestrator) historyTurns(history []session.Entry) []plan.HistoryTurn {
	if len(history) > o.promptWindow {
		history = history[len(history)-o.promptWindow:]
	}
	out := make([]plan.HistoryTurn, 0, len(history))
	for _, e := range history {
		out = append(out, plan.HistoryTurn{Role: e.Role, Content: e.Content})
	}
	return out
}

func (o *Orchestrator) contexts(ids []string, byID map[string]scoring.Ranked) []plan.ApplicantContext {
	out := make([]plan.ApplicantContext, 0, len(ids))
	for _, id := range ids {
		out = append(out, plan.ContextFor(byID[id]))
	}
	return out
}

func (o *Orchestrator) generatePlans(ctx context.Context, sessionID string, res intent.Result, last *session.Entry, ranked []scoring.Ranked, byID map[string]scoring.Ranked, history []session.Entry) turnOutcome {
	ids := o.targets(res, last, ranked, byID)
	if len(ids) == 0 {
		return turnOutcome{answer: clarifyMessage, summary: "Need to know which applicants to plan for."}
	}

	switch r := o.planner.Generate(ctx, o.contexts(ids, byID), o.historyTurns(history)).(type) {
	case plan.Parsed:
		o.cache.Put(sessionID, r.Plans)
		return turnOutcome{
			answer:     plan.FormatPlans(r.Plans),
			summary:    fmt.Sprintf("Drafted %d actions for %d applicants.", plan.ActionCount(r.Plans), len(r.Plans)),
			referenced: plan.ApplicantIDs(r.Plans),
		}
	case plan.Unparseable:
		return turnOutcome{
			answer:     plan.UnparseableMessage + "\n\n" + plan.ProposePlans,
			summary:    "Plan generation returned nothing usable.",
			referenced: ids,
		}
	default:
		return turnOutcome{
			answer:     plan.UnavailableMessage + "\n\n" + plan.ProposePlans,
			summary:    "Plan generation unavailable.",
			referenced: ids,
		}
	}
}

func (o *Orchestrator) createActions(ctx context.Context, userID, sessionID string, res intent.Result, last *session.Entry, ranked []scoring.Ranked, byID map[string]scoring.Ranked, history []session.Entry) turnOutcome {
	plans, ok := o.cache.Get(sessionID)
	if !ok {
		ids := o.targets(res, last, ranked, byID)
		if len(ids) == 0 {
			return turnOutcome{answer: clarifyMessage, summary: "Need to know which applicants to create actions for."}
		}
		parsed, isParsed := o.planner.Generate(ctx, o.contexts(ids, byID), o.historyTurns(history)).(plan.Parsed)
		if !isParsed {
			return turnOutcome{
				answer:     "I couldn't rebuild those plans, so no actions were created. " + plan.UnavailableMessage,
				summary:    "No actions created.",
				referenced: ids,
			}
		}
		plans = parsed.Plans
	}

	priorities := make(map[string]float64, len(plans))
	for _, p := range plans {
		if r, ok := byID[p.ApplicantID]; ok {
			priorities[p.ApplicantID] = o.scorer.Normalize(r.Score.Priority)
		}
	}
	var owner *string
	if userID != "" {
		owner = &userID
	}
	created, err := o.actions.CreateFromPlans(ctx, plans, actions.CreateOpts{OwnerUserID: owner, Priorities: priorities})
	if err != nil {
		o.logger.Warn("create actions failed", "session_id", sessionID, "error", err)
		return turnOutcome{
			answer:     "I couldn't save those actions right now. Please try again.",
			summary:    "No actions created.",
			referenced: plan.ApplicantIDs(plans),
		}
	}
	o.cache.Delete(sessionID)

	ids := make([]uint, 0, len(created.Created))
	for _, a := range created.Created {
		ids = append(ids, a.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Created %d actions for %d applicants. They're in your queue for today.", len(created.Created), len(plans))
	if n := len(created.Skipped); n > 0 {
		fmt.Fprintf(&b, " Skipped %d that were already pending or duplicated.", n)
	}
	return turnOutcome{
		answer:     b.String(),
		summary:    fmt.Sprintf("%d actions created.", len(created.Created)),
		referenced: plan.ApplicantIDs(plans),
		actionIDs:  ids,
	}
}

func (o *Orchestrator) elaborate(ids []string, byID map[string]scoring.Ranked) turnOutcome {
	var known []string
	var b strings.Builder
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		if len(known) > 0 {
			b.WriteString("\n\n")
		}
		known = append(known, id)
		b.WriteString(o.describe(r))
	}
	if len(known) == 0 {
		return turnOutcome{
			answer:  "I don't have anyone in focus to expand on. Ask me who needs attention and I'll start there.",
			summary: "Nothing to elaborate on.",
		}
	}
	b.WriteString("\n\n")
	b.WriteString(plan.ProposePlans)
	return turnOutcome{
		answer:     b.String(),
		summary:    fmt.Sprintf("Details for %d applicants.", len(known)),
		referenced: known,
	}
}

func (o *Orchestrator) answer(res intent.Result, ranked []scoring.Ranked, byID map[string]scoring.Ranked) turnOutcome {
	ids := res.ReferencedIDs
	if len(ids) == 0 && res.Entity != "" {
		mentions := make([]intent.Mention, 0, len(ranked))
		for _, r := range ranked {
			mentions = append(mentions, intent.Mention{ID: r.Candidate.ID, Name: r.Candidate.Name})
		}
		ids = intent.Resolve(res.Entity, mentions)
	}
	if len(ids) == 0 {
		return turnOutcome{
			answer:  fmt.Sprintf("I couldn't find anyone called %q among the current applicants.", res.Entity),
			summary: "No matching applicant.",
		}
	}
	return o.elaborate(ids, byID)
}

func (o *Orchestrator) describe(r scoring.Ranked) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) is at stage %s. ", displayName(r), r.Candidate.ID, strings.ReplaceAll(string(r.Candidate.Stage), "_", " "))
	fmt.Fprintf(&b, "Recommended action: %s. ", actionVerbs[r.Score.ActionType])
	fmt.Fprintf(&b, "Priority %.2f (impact %.2f, urgency %.2f, freshness %.2f), confidence %.0f%%.",
		o.scorer.Normalize(r.Score.Priority), r.Score.Impact, r.Score.Urgency, r.Score.Freshness, r.Score.Confidence*100)
	if len(r.Score.Reasons) > 0 {
		fmt.Fprintf(&b, " Why: %s.", strings.Join(r.Score.Reasons, "; "))
	}
	return b.String()
}

func displayName(r scoring.Ranked) string {
	if r.Candidate.Name != "" {
		return r.Candidate.Name
	}
	return r.Candidate.ID
}
