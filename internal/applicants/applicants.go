// Package applicants supplies the feature snapshots that triage ranks.
package applicants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/admitdesk/internal/models"
	"github.com/zulandar/admitdesk/internal/scoring"
	"gorm.io/gorm"
)

// Filters narrows the candidate pool. Empty fields match everything.
type Filters struct {
	Board       string
	Stage       string
	OwnerUserID string
	IDs         []string
	Limit       int
}

// Map returns the non-empty string filters, used to build a session scope.
func (f Filters) Map() map[string]string {
	m := make(map[string]string)
	if f.Board != "" {
		m["board"] = f.Board
	}
	if f.Stage != "" {
		m["stage"] = f.Stage
	}
	if f.OwnerUserID != "" {
		m["owner"] = f.OwnerUserID
	}
	return m
}

// Provider returns candidates for ranking. Implementations must tolerate
// missing feature fields.
type Provider interface {
	Candidates(ctx context.Context, f Filters) ([]scoring.Candidate, error)
}

// Store is a Provider backed by the applicants table.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store. A nil clock uses time.Now.
func NewStore(db *gorm.DB, clock func() time.Time) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("applicants: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, now: clock}, nil
}

// Candidates implements Provider.
func (s *Store) Candidates(ctx context.Context, f Filters) ([]scoring.Candidate, error) {
	q := s.db.WithContext(ctx).Model(&models.Applicant{})
	if f.Board != "" {
		q = q.Where("board = ?", f.Board)
	}
	if f.Stage != "" {
		q = q.Where("stage = ?", f.Stage)
	}
	if f.OwnerUserID != "" {
		q = q.Where("owner_user_id = ?", f.OwnerUserID)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []models.Applicant
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("applicants: list: %w", err)
	}
	now := s.now()
	out := make([]scoring.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, ToCandidate(r, now))
	}
	return out, nil
}

// Get returns one applicant row.
func (s *Store) Get(ctx context.Context, id string) (*models.Applicant, error) {
	var a models.Applicant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, fmt.Errorf("applicants: get %s: %w", id, err)
	}
	return &a, nil
}

// ToCandidate converts a stored applicant into a scoring candidate. Null
// columns stay nil so scoring can apply its neutral defaults.
func ToCandidate(a models.Applicant, now time.Time) scoring.Candidate {
	c := scoring.Candidate{
		ID:                     a.ID,
		Name:                   a.Name,
		Stage:                  scoring.ParseStage(a.Stage),
		UrgencyTags:            decodeTags(a.UrgencyTags),
		ConversionProbability:  a.ConversionProbability,
		ProgressionProbability: a.ProgressionProbability,
		LeadScore:              a.LeadScore,
		EngagementScore:        a.EngagementScore,
		ActivityCount:          a.ActivityCount,
		HasEmail:               a.Email != "",
		HasPhone:               a.Phone != "",
	}
	if a.LastEngagedAt != nil {
		days := now.Sub(*a.LastEngagedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		c.DaysSinceEngagement = &days
	}
	return c
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// Static is an in-memory Provider.
type Static []scoring.Candidate

// Candidates implements Provider. Only IDs and Limit are applied.
func (s Static) Candidates(_ context.Context, f Filters) ([]scoring.Candidate, error) {
	want := make(map[string]bool, len(f.IDs))
	for _, id := range f.IDs {
		want[id] = true
	}
	var out []scoring.Candidate
	for _, c := range s {
		if len(want) > 0 && !want[c.ID] {
			continue
		}
		out = append(out, c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
