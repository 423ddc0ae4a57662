// Package actions owns the follow-up action queue: creation from plans,
// the pending → in_progress → completed lifecycle, execution records and
// the completion feedback loop.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/admitdesk/internal/llm"
	"github.com/zulandar/admitdesk/internal/models"
	"github.com/zulandar/admitdesk/internal/plan"
	"github.com/zulandar/admitdesk/internal/scoring"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("actions: not found")
	ErrAlreadyCompleted  = errors.New("actions: already completed")
	ErrInvalidTransition = errors.New("actions: invalid status transition")

	ErrInvalidRecommendation = errors.New("actions: invalid recommendation")
)

// DefaultFeedbackTimeout bounds the completion feedback request.
const DefaultFeedbackTimeout = 2500 * time.Millisecond

// ValidTransitions maps each status to its valid next statuses.
var ValidTransitions = map[string][]string{
	models.ActionPending:    {models.ActionInProgress, models.ActionCompleted},
	models.ActionInProgress: {models.ActionCompleted},
}

// labelPriority is the stored priority for plan actions whose applicant has
// no scored priority.
var labelPriority = map[string]float64{
	plan.LabelHigh:   0.9,
	plan.LabelMedium: 0.6,
	plan.LabelLow:    0.3,
}

// Artifacts is the free-form material attached to an action.
type Artifacts struct {
	Script          string `json:"script,omitempty"`
	Context         string `json:"context,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// Manager handles persistence of actions and their executions.
type Manager struct {
	db              *gorm.DB
	gen             llm.Generator
	feedbackTimeout time.Duration
	now             func() time.Time
	loc             *time.Location
	logger          *slog.Logger
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	DB              *gorm.DB
	Generator       llm.Generator    // nil disables generated feedback
	FeedbackTimeout time.Duration    // defaults to DefaultFeedbackTimeout
	Clock           func() time.Time // defaults to time.Now
	Location        *time.Location   // operational day boundary; defaults to time.Local
	Logger          *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("actions: db is required")
	}
	gen := opts.Generator
	if gen == nil {
		gen = llm.Disabled{}
	}
	timeout := opts.FeedbackTimeout
	if timeout <= 0 {
		timeout = DefaultFeedbackTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:              opts.DB,
		gen:             gen,
		feedbackTimeout: timeout,
		now:             clock,
		loc:             loc,
		logger:          logger,
	}, nil
}

// CreateOpts controls how plans become actions.
type CreateOpts struct {
	OwnerUserID *string
	// Priorities holds normalised scored priorities by applicant ID. Plans
	// for applicants without an entry fall back to their priority label.
	Priorities map[string]float64
}

// Skip records a plan action that was not inserted.
type Skip struct {
	ApplicationID string
	ActionType    string
	Reason        string
}

// CreateResult is the outcome of CreateFromPlans.
type CreateResult struct {
	Created []models.Action
	Skipped []Skip
}

// Skip reasons.
const (
	SkipDuplicateInBatch = "duplicate in batch"
	SkipAlreadyPending   = "already pending"
)

// CreateFromPlan inserts one pending action per plan action.
func (m *Manager) CreateFromPlan(ctx context.Context, p plan.Plan, opts CreateOpts) (*CreateResult, error) {
	return m.CreateFromPlans(ctx, []plan.Plan{p}, opts)
}

// CreateFromPlans inserts pending, system-created actions for every plan
// action in one transaction. At most one action per (application, type) is
// created per batch, and pairs that already have a pending action are
// skipped.
func (m *Manager) CreateFromPlans(ctx context.Context, plans []plan.Plan, opts CreateOpts) (*CreateResult, error) {
	res := &CreateResult{}
	if plan.ActionCount(plans) == 0 {
		return res, nil
	}
	now := m.now().UTC()

	appIDs := make([]string, 0, len(plans))
	for _, p := range plans {
		appIDs = append(appIDs, p.ApplicantID)
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.Action
		if err := tx.Select("application_id", "action_type").
			Where("status = ? AND application_id IN ?", models.ActionPending, appIDs).
			Find(&pending).Error; err != nil {
			return fmt.Errorf("load pending: %w", err)
		}
		existing := make(map[string]bool, len(pending))
		for _, a := range pending {
			existing[dedupeKey(a.ApplicationID, a.ActionType)] = true
		}

		seen := make(map[string]bool)
		for _, p := range plans {
			for _, pa := range p.Actions {
				key := dedupeKey(p.ApplicantID, pa.Type)
				switch {
				case seen[key]:
					res.Skipped = append(res.Skipped, Skip{p.ApplicantID, pa.Type, SkipDuplicateInBatch})
					continue
				case existing[key]:
					res.Skipped = append(res.Skipped, Skip{p.ApplicantID, pa.Type, SkipAlreadyPending})
					continue
				}
				seen[key] = true

				artifacts, err := encodeArtifacts(Artifacts{
					Script:          pa.Script,
					Context:         pa.Context,
					ExpectedOutcome: pa.ExpectedOutcome,
				})
				if err != nil {
					return err
				}
				priority, ok := opts.Priorities[p.ApplicantID]
				if !ok {
					priority = labelPriority[pa.PriorityLabel]
				}
				row := models.Action{
					ApplicationID:   p.ApplicantID,
					ActionType:      pa.Type,
					Priority:        priority,
					PriorityLabel:   pa.PriorityLabel,
					Description:     pa.Description,
					Deadline:        pa.Deadline.UTC(),
					Status:          models.ActionPending,
					CreatedBySystem: true,
					Artifacts:       artifacts,
					OwnerUserID:     opts.OwnerUserID,
					CreatedAt:       now,
					UpdatedAt:       now,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("insert action for %s: %w", p.ApplicantID, err)
				}
				res.Created = append(res.Created, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("actions: create from plans: %w", err)
	}
	m.logger.Info("actions created", "created", len(res.Created), "skipped", len(res.Skipped))
	return res, nil
}

// Get returns an action by ID.
func (m *Manager) Get(ctx context.Context, id uint) (*models.Action, error) {
	var a models.Action
	err := m.db.WithContext(ctx).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("actions: get %d: %w", id, err)
	}
	return &a, nil
}

// Start moves a pending action to in_progress.
func (m *Manager) Start(ctx context.Context, id uint) (*models.Action, error) {
	var out models.Action
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if out.Status == models.ActionCompleted {
			return ErrAlreadyCompleted
		}
		if !isValidTransition(out.Status, models.ActionInProgress) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, out.Status, models.ActionInProgress)
		}
		out.Status = models.ActionInProgress
		out.UpdatedAt = m.now().UTC()
		return tx.Model(&models.Action{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":     out.Status,
			"updated_at": out.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("actions: start %d: %w", id, err)
	}
	return &out, nil
}

// isValidTransition checks whether a status transition is allowed.
func isValidTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// QueueFilter narrows Queue results. Empty fields match everything; an
// empty Status lists all open (pending and in_progress) actions.
type QueueFilter struct {
	OwnerUserID   string
	ApplicationID string
	Status        string
	Limit         int
}

// Queue lists actions ordered by priority (desc) then deadline.
func (m *Manager) Queue(ctx context.Context, f QueueFilter) ([]models.Action, error) {
	q := m.db.WithContext(ctx).Model(&models.Action{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	} else {
		q = q.Where("status IN ?", []string{models.ActionPending, models.ActionInProgress})
	}
	if f.OwnerUserID != "" {
		q = q.Where("owner_user_id = ?", f.OwnerUserID)
	}
	if f.ApplicationID != "" {
		q = q.Where("application_id = ?", f.ApplicationID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Action
	if err := q.Order("priority DESC").Order("deadline ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("actions: queue: %w", err)
	}
	return out, nil
}

// Summary counts open actions.
type Summary struct {
	Pending    int64
	InProgress int64
	Overdue    int64
}

// Summarize counts open actions and those past their deadline.
func (m *Manager) Summarize(ctx context.Context) (Summary, error) {
	var s Summary
	db := m.db.WithContext(ctx).Model(&models.Action{})
	if err := db.Where("status = ?", models.ActionPending).Count(&s.Pending).Error; err != nil {
		return s, fmt.Errorf("actions: summarize: %w", err)
	}
	db = m.db.WithContext(ctx).Model(&models.Action{})
	if err := db.Where("status = ?", models.ActionInProgress).Count(&s.InProgress).Error; err != nil {
		return s, fmt.Errorf("actions: summarize: %w", err)
	}
	db = m.db.WithContext(ctx).Model(&models.Action{})
	if err := db.Where("status IN ? AND deadline < ?",
		[]string{models.ActionPending, models.ActionInProgress}, m.now().UTC()).
		Count(&s.Overdue).Error; err != nil {
		return s, fmt.Errorf("actions: summarize: %w", err)
	}
	return s, nil
}

// PurgeExpired deletes actions still pending from before the start of
// now's operational day. Callers re-triage instead of acting on them.
func (m *Manager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := StartOfDay(now, m.loc).UTC()
	res := m.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.ActionPending, cutoff).
		Delete(&models.Action{})
	if res.Error != nil {
		return 0, fmt.Errorf("actions: purge expired: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		m.logger.Info("purged stale pending actions", "count", res.RowsAffected, "cutoff", cutoff)
	}
	return res.RowsAffected, nil
}

// StartOfDay returns midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}

// DecodeArtifacts parses an action's artifacts column.
func DecodeArtifacts(a models.Action) Artifacts {
	var out Artifacts
	if a.Artifacts == "" {
		return out
	}
	_ = json.Unmarshal([]byte(a.Artifacts), &out)
	return out
}

func encodeArtifacts(a Artifacts) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode artifacts: %w", err)
	}
	return string(data), nil
}

func dedupeKey(appID, actionType string) string {
	return appID + "\x00" + actionType
}

// validActionType reports whether t is a canonical action type.
func validActionType(t string) bool {
	switch t {
	case scoring.ActionCall, scoring.ActionEmail, scoring.ActionFlag:
		return true
	}
	return false
}
