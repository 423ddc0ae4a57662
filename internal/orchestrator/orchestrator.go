// Package orchestrator is the entry point for staff queries. Each Ask loads
// or starts a session, classifies the utterance against the last assistant
// turn, and runs triage, plan generation, action creation or an
// explanation before recording the exchange.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zulandar/admitdesk/internal/actions"
	"github.com/zulandar/admitdesk/internal/applicants"
	"github.com/zulandar/admitdesk/internal/intent"
	"github.com/zulandar/admitdesk/internal/models"
	"github.com/zulandar/admitdesk/internal/plan"
	"github.com/zulandar/admitdesk/internal/scoring"
	"github.com/zulandar/admitdesk/internal/session"
	"golang.org/x/sync/errgroup"
)

// Default limits.
const (
	DefaultTriageLimit = 5
	DefaultMaxTargets  = 5
)

// Orchestrator wires the scoring, session, intent, plan and action
// components together per request.
type Orchestrator struct {
	sessions     *session.Store
	provider     applicants.Provider
	scorer       *scoring.Scorer
	planner      *plan.Planner
	cache        *plan.Cache
	actions      *actions.Manager
	triageLimit  int
	maxTargets   int
	historyLimit int
	promptWindow int
	logger       *slog.Logger
}

// Opts holds the collaborators of an Orchestrator.
type Opts struct {
	Sessions     *session.Store
	Provider     applicants.Provider
	Scorer       *scoring.Scorer // defaults to scoring.New(scoring.DefaultWeights())
	Planner      *plan.Planner
	Cache        *plan.Cache // defaults to plan.NewCache(0, nil)
	Actions      *actions.Manager
	TriageLimit  int
	MaxTargets   int
	HistoryLimit int
	PromptWindow int
	Logger       *slog.Logger
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("orchestrator: session store is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("orchestrator: applicant provider is required")
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("orchestrator: planner is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("orchestrator: action manager is required")
	}
	o := &Orchestrator{
		sessions:     opts.Sessions,
		provider:     opts.Provider,
		scorer:       opts.Scorer,
		planner:      opts.Planner,
		cache:        opts.Cache,
		actions:      opts.Actions,
		triageLimit:  opts.TriageLimit,
		maxTargets:   opts.MaxTargets,
		historyLimit: opts.HistoryLimit,
		promptWindow: opts.PromptWindow,
		logger:       opts.Logger,
	}
	if o.scorer == nil {
		o.scorer = scoring.New(scoring.DefaultWeights())
	}
	if o.cache == nil {
		o.cache = plan.NewCache(0, nil)
	}
	if o.triageLimit <= 0 {
		o.triageLimit = DefaultTriageLimit
	}
	if o.maxTargets <= 0 {
		o.maxTargets = DefaultMaxTargets
	}
	if o.historyLimit <= 0 {
		o.historyLimit = session.DefaultHistoryLimit
	}
	if o.promptWindow <= 0 {
		o.promptWindow = session.DefaultPromptWindow
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Request is one staff query. The owner is always explicit.
type Request struct {
	UserID    string
	Query     string
	Filters   applicants.Filters
	SessionID string
}

// Recommendation is a ranked candidate as shown to staff.
type Recommendation struct {
	ApplicationID string   `json:"application_id"`
	Name          string   `json:"name"`
	Stage         string   `json:"stage"`
	ActionType    string   `json:"action_type"`
	Priority      float64  `json:"priority"`
	RawPriority   float64  `json:"raw_priority"`
	Impact        float64  `json:"impact"`
	Urgency       float64  `json:"urgency"`
	Freshness     float64  `json:"freshness"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons"`
}

// Response is the reply to Ask.
type Response struct {
	Answer     string           `json:"answer"`
	Summary    string           `json:"summary"`
	Candidates []Recommendation `json:"candidates"`
	SessionID  string           `json:"session_id"`
	Intent     string           `json:"intent"`
	Step       string           `json:"step"`
	ActionIDs  []uint           `json:"action_ids,omitempty"`
}

// turnOutcome is what a step produces before the exchange is recorded.
type turnOutcome struct {
	answer     string
	summary    string
	referenced []string
	actionIDs  []uint
}

// Ask answers one query. Collaborator failures degrade the answer rather
// than failing the request; only an empty query is rejected.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("orchestrator: ask: query is required")
	}
	scope := scopeFor(req.UserID, req.Filters)

	sessionID := ""
	sess, resumed, err := o.sessions.Resume(ctx, scope, req.SessionID)
	if err != nil {
		o.logger.Warn("session unavailable, continuing without one", "user", req.UserID, "error", err)
	} else {
		sessionID = sess.ID
	}

	var history []session.Entry
	var pool []scoring.Candidate
	g, gctx := errgroup.WithContext(ctx)
	if resumed {
		g.Go(func() error {
			h, err := o.sessions.RecentHistory(gctx, sessionID, o.historyLimit)
			if err != nil {
				o.logger.Warn("load session history failed", "session_id", sessionID, "error", err)
				return nil
			}
			history = h
			return nil
		})
	}
	g.Go(func() error {
		c, err := o.provider.Candidates(gctx, req.Filters)
		if err != nil {
			return err
		}
		pool = c
		return nil
	})
	poolErr := g.Wait()

	ranked := o.scorer.Rank(pool)
	byID := indexRanked(ranked)

	last := session.LastAssistant(history)
	prior := priorTurn(last, byID, ranked)
	res := intent.Classify(query, prior)
	state := plan.StateIdle
	if last != nil {
		state = plan.DetectState(last.Content)
	}
	step := plan.Decide(state, res)

	var out turnOutcome
	if poolErr != nil {
		o.logger.Warn("load applicants failed", "user", req.UserID, "error", poolErr)
		out = turnOutcome{answer: "I couldn't load the applicant list right now. Please try again in a moment."}
		step = plan.StepTriage
	} else {
		switch step {
		case plan.StepGeneratePlans:
			out = o.generatePlans(ctx, sessionID, res, last, ranked, byID, history)
		case plan.StepCreateActions:
			out = o.createActions(ctx, req.UserID, sessionID, res, last, ranked, byID, history)
		case plan.StepElaborate:
			out = o.elaborate(res.ReferencedIDs, byID)
		case plan.StepAnswer:
			out = o.answer(res, ranked, byID)
		default:
			out = o.triage(ranked)
		}
	}

	o.record(ctx, sessionID, query, res, out)

	return &Response{
		Answer:     out.answer,
		Summary:    out.summary,
		Candidates: o.recommendationsFor(out.referenced, byID),
		SessionID:  sessionID,
		Intent:     string(res.Tag),
		Step:       step.String(),
		ActionIDs:  out.actionIDs,
	}, nil
}

// Triage ranks the candidate pool and returns the top recommendations
// without touching any session.
func (o *Orchestrator) Triage(ctx context.Context, f applicants.Filters, limit int) ([]Recommendation, error) {
	pool, err := o.provider.Candidates(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: triage: %w", err)
	}
	ranked := o.scorer.Rank(pool)
	if limit <= 0 {
		limit = o.triageLimit
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Recommendation, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, o.toRecommendation(r))
	}
	return out, nil
}

// Scorer returns the scorer used for ranking.
func (o *Orchestrator) Scorer() *scoring.Scorer { return o.scorer }

// record appends the user and assistant turns. Failures are logged only.
func (o *Orchestrator) record(ctx context.Context, sessionID, query string, res intent.Result, out turnOutcome) {
	if sessionID == "" {
		return
	}
	if _, err := o.sessions.Append(ctx, sessionID, session.Message{
		Role:          models.RoleUser,
		Content:       query,
		ReferencedIDs: res.ReferencedIDs,
		IntentTag:     string(res.Tag),
	}); err != nil {
		o.logger.Warn("append user message failed", "session_id", sessionID, "error", err)
		return
	}
	if _, err := o.sessions.Append(ctx, sessionID, session.Message{
		Role:          models.RoleAssistant,
		Content:       out.answer,
		ReferencedIDs: out.referenced,
	}); err != nil {
		o.logger.Warn("append assistant message failed", "session_id", sessionID, "error", err)
	}
}

func scopeFor(userID string, f applicants.Filters) session.Scope {
	filters := f.Map()
	delete(filters, "board")
	return session.Scope{UserID: userID, Board: f.Board, Filters: filters}
}

func indexRanked(ranked []scoring.Ranked) map[string]scoring.Ranked {
	m := make(map[string]scoring.Ranked, len(ranked))
	for _, r := range ranked {
		m[r.Candidate.ID] = r
	}
	return m
}

// priorTurn builds the classifier input from the last assistant entry.
// Referenced IDs are authoritative; when there are none, candidates whose
// names appear in the assistant text stand in for them.
func priorTurn(last *session.Entry, byID map[string]scoring.Ranked, ranked []scoring.Ranked) *intent.Turn {
	if last == nil {
		return nil
	}
	t := &intent.Turn{Content: last.Content, ReferencedIDs: last.ReferencedIDs}
	if len(t.ReferencedIDs) == 0 {
		t.ReferencedIDs = MatchNames(last.Content, ranked)
	}
	for _, id := range t.ReferencedIDs {
		name := id
		if r, ok := byID[id]; ok && r.Candidate.Name != "" {
			name = r.Candidate.Name
		}
		t.Mentions = append(t.Mentions, intent.Mention{ID: id, Name: name})
	}
	return t
}

// MatchNames returns the IDs of candidates whose full name appears in
// text, ordered by first appearance.
func MatchNames(text string, ranked []scoring.Ranked) []string {
	lower := strings.ToLower(text)
	type hit struct {
		id  string
		pos int
	}
	var hits []hit
	for _, r := range ranked {
		name := strings.ToLower(strings.TrimSpace(r.Candidate.Name))
		if name == "" {
			continue
		}
		if pos := strings.Index(lower, name); pos >= 0 {
			hits = append(hits, hit{r.Candidate.ID, pos})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

func (o *Orchestrator) toRecommendation(r scoring.Ranked) Recommendation {
	return Recommendation{
		ApplicationID: r.Candidate.ID,
		Name:          r.Candidate.Name,
		Stage:         string(r.Candidate.Stage),
		ActionType:    r.Score.ActionType,
		Priority:      o.scorer.Normalize(r.Score.Priority),
		RawPriority:   r.Score.Priority,
		Impact:        r.Score.Impact,
		Urgency:       r.Score.Urgency,
		Freshness:     r.Score.Freshness,
		Confidence:    r.Score.Confidence,
		Reasons:       r.Score.Reasons,
	}
}

func (o *Orchestrator) recommendationsFor(ids []string, byID map[string]scoring.Ranked) []Recommendation {
	out := make([]Recommendation, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, o.toRecommendation(r))
		}
	}
	return out
}
